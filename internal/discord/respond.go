package discord

import "github.com/bwmarrin/discordgo"

// Respond sends an immediate public reply to an interaction.
func Respond(s *discordgo.Session, i *discordgo.InteractionCreate, r Reply) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:    r.Content,
			Components: r.Components,
		},
	})
}

// RespondDeferred acknowledges an interaction so the reply can be sent later
// with EditResponse.
func RespondDeferred(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

// EditResponse fills in a deferred response.
func EditResponse(s *discordgo.Session, i *discordgo.InteractionCreate, r Reply) error {
	edit := &discordgo.WebhookEdit{Content: &r.Content}
	if r.Components != nil {
		edit.Components = &r.Components
	}
	_, err := s.InteractionResponseEdit(i.Interaction, edit)
	return err
}

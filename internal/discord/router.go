package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

var ErrGuildOnly = errors.New("command used outside a guild")

// ParseInteraction validates an interaction into a Request. Slash commands
// and control-row buttons are the only accepted kinds; everything else is
// ErrUnknownCommand. The voice channel is filled in by the caller.
func ParseInteraction(i *discordgo.InteractionCreate) (Request, error) {
	if i == nil || i.Interaction == nil {
		return Request{}, ErrUnknownCommand
	}
	if i.GuildID == "" {
		return Request{}, ErrGuildOnly
	}

	req := Request{GuildID: i.GuildID, UserID: interactionUserID(i)}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		cmd, err := ParseSlash(data.Name)
		if err != nil {
			return Request{Query: data.Name}, err
		}
		req.Command = cmd
		for _, opt := range data.Options {
			switch opt.Type {
			case discordgo.ApplicationCommandOptionString:
				req.Query = opt.StringValue()
			case discordgo.ApplicationCommandOptionInteger:
				v := float64(opt.IntValue())
				req.Number = &v
			case discordgo.ApplicationCommandOptionNumber:
				v := opt.FloatValue()
				req.Number = &v
			}
		}

	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		cmd, err := ParseButton(customID)
		if err != nil {
			return Request{Query: customID}, err
		}
		req.Command = cmd
		req.Button = true

	default:
		return Request{}, fmt.Errorf("%w: interaction type %d", ErrUnknownCommand, i.Type)
	}
	return req, nil
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// rejectReply is the answer to an interaction that did not parse.
func rejectReply(req Request, err error) Reply {
	if errors.Is(err, ErrGuildOnly) {
		return Reply{Content: "Commands only work inside a server"}
	}
	return Reply{Content: fmt.Sprintf("No command with the name %s. Try the help command for the list of available commands", req.Query)}
}

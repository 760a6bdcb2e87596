package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Command is the closed set of things a user can ask the bot to do.
type Command int

const (
	CmdPlay Command = iota + 1
	CmdQueue
	CmdVolume
	CmdJoin
	CmdFastForward
	CmdPlaylist
	CmdHelp
	CmdSkip
	CmdStop
	CmdTogglePause
	CmdJam
	CmdDeleteAndSkip
)

var ErrUnknownCommand = errors.New("unknown command")

var commandNames = map[Command]string{
	CmdPlay:          "play",
	CmdQueue:         "que",
	CmdVolume:        "vol",
	CmdJoin:          "join",
	CmdFastForward:   "ff",
	CmdPlaylist:      "playlist",
	CmdHelp:          "help",
	CmdSkip:          "skip",
	CmdStop:          "stop",
	CmdTogglePause:   "pause",
	CmdJam:           "jam",
	CmdDeleteAndSkip: "delete_and_skip",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("command(%d)", int(c))
}

// slash command names, "j" being the short form of play
var slashCommands = map[string]Command{
	"play":     CmdPlay,
	"j":        CmdPlay,
	"que":      CmdQueue,
	"vol":      CmdVolume,
	"join":     CmdJoin,
	"ff":       CmdFastForward,
	"playlist": CmdPlaylist,
	"help":     CmdHelp,
	"skip":     CmdSkip,
	"stop":     CmdStop,
	"pause":    CmdTogglePause,
	"jam":      CmdJam,
}

// Button custom ids of the now-playing control row.
const (
	ButtonPlay          = "play"
	ButtonNext          = "next"
	ButtonStop          = "stop"
	ButtonFastForward   = "ff"
	ButtonJamIt         = "jam_it"
	ButtonDeleteAndSkip = "delete_and_skip"
)

var buttonCommands = map[string]Command{
	ButtonPlay:          CmdTogglePause,
	ButtonNext:          CmdSkip,
	ButtonStop:          CmdStop,
	ButtonFastForward:   CmdFastForward,
	ButtonJamIt:         CmdJam,
	ButtonDeleteAndSkip: CmdDeleteAndSkip,
}

// ParseSlash maps a slash command name to its Command.
func ParseSlash(name string) (Command, error) {
	if c, ok := slashCommands[strings.ToLower(name)]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}

// ParseButton maps a component custom id to its Command.
func ParseButton(customID string) (Command, error) {
	if c, ok := buttonCommands[customID]; ok {
		return c, nil
	}
	return 0, fmt.Errorf("%w: button %q", ErrUnknownCommand, customID)
}

// commandHelp lines, in display order.
var commandHelp = []struct {
	usage string
	desc  string
}{
	{"/play <query|link>, /j", "play a link or the first search result"},
	{"/playlist <link>", "queue every entry of a playlist"},
	{"/jam", "play a random track from this server's catalog"},
	{"/que", "show the queue"},
	{"/vol [percent]", "show or set the volume (0-200)"},
	{"/ff <seconds>", "skip ahead in the current track"},
	{"/pause", "pause or resume"},
	{"/skip", "skip the current track"},
	{"/stop", "stop and clear the queue"},
	{"/join", "join your voice channel"},
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Commands\n")
	for _, h := range commandHelp {
		fmt.Fprintf(&b, "`%s` %s\n", h.usage, h.desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func queryOption(name, desc string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: desc,
		Required:    true,
	}
}

func ptr[T any](v T) *T { return &v }

// commandDefinitions returns the slash commands registered with Discord.
func commandDefinitions() []*discordgo.ApplicationCommand {
	play := func(name string) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{
			Name:        name,
			Description: "Play a link or search query",
			Options:     []*discordgo.ApplicationCommandOption{queryOption("query", "link or search text")},
		}
	}
	simple := func(name, desc string) *discordgo.ApplicationCommand {
		return &discordgo.ApplicationCommand{Name: name, Description: desc}
	}

	return []*discordgo.ApplicationCommand{
		play("play"),
		play("j"),
		{
			Name:        "playlist",
			Description: "Queue every entry of a playlist",
			Options:     []*discordgo.ApplicationCommandOption{queryOption("link", "playlist link")},
		},
		{
			Name:        "vol",
			Description: "Show or set the volume",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        "percent",
				Description: "0 to 200",
				MinValue:    ptr(0.0),
				MaxValue:    200,
			}},
		},
		{
			Name:        "ff",
			Description: "Skip ahead in the current track",
			Options: []*discordgo.ApplicationCommandOption{{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "seconds",
				Description: "how far to skip",
				Required:    true,
				MinValue:    ptr(0.0),
				MaxValue:    maxSeekStep.Seconds(),
			}},
		},
		simple("que", "Show the queue"),
		simple("join", "Join your voice channel"),
		simple("help", "List commands"),
		simple("skip", "Skip the current track"),
		simple("stop", "Stop and clear the queue"),
		simple("pause", "Pause or resume"),
		simple("jam", "Play a random track from the catalog"),
	}
}

// controlRow is the button row attached to now-playing messages.
func controlRow() []discordgo.MessageComponent {
	button := func(id, label string, style discordgo.ButtonStyle) discordgo.Button {
		return discordgo.Button{CustomID: id, Label: label, Style: style}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button(ButtonPlay, "Play/Pause", discordgo.PrimaryButton),
			button(ButtonNext, "Next", discordgo.SecondaryButton),
			button(ButtonStop, "Stop", discordgo.DangerButton),
			button(ButtonFastForward, "+15s", discordgo.SecondaryButton),
			button(ButtonJamIt, "Jam it", discordgo.SuccessButton),
		}},
		discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			button(ButtonDeleteAndSkip, "Delete and skip", discordgo.DangerButton),
		}},
	}
}

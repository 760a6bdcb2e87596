// Package discord connects the session core to the Discord gateway: slash
// commands, control buttons and voice-state teardown.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const interactionTimeout = 5 * time.Minute

type Options struct {
	// CommandsGuildID registers commands to one guild, which applies
	// instantly; empty registers them globally.
	CommandsGuildID string
	// CacheDir holds the registered command hashes. Empty disables the cache.
	CacheDir string
	// BeforeClose runs after ctx is cancelled while the gateway is still
	// open, so voice connections can leave cleanly.
	BeforeClose func()
	Logger      zerolog.Logger
}

// Bot routes gateway events to the handler.
type Bot struct {
	dg      *discordgo.Session
	handler *Handler
	opts    Options
	cache   commandCache
	log     zerolog.Logger
}

func New(dg *discordgo.Session, h *Handler, opts Options) *Bot {
	return &Bot{
		dg:      dg,
		handler: h,
		opts:    opts,
		cache:   commandCache{dir: opts.CacheDir},
		log:     opts.Logger.With().Str("component", "discord").Logger(),
	}
}

// Run opens the gateway and blocks until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	b.dg.AddHandler(b.onReady)
	b.dg.AddHandler(b.onInteractionCreate)
	b.dg.AddHandler(b.onVoiceStateUpdate)

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	defer b.dg.Close()

	<-ctx.Done()
	b.log.Info().Msg("shutdown signal received")
	if b.opts.BeforeClose != nil {
		b.opts.BeforeClose()
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	if err := b.registerCommands(r.User.ID); err != nil {
		b.log.Error().Err(err).Msg("cannot register commands")
	}
	b.log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("bot is running")
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	reqID := uuid.NewString()
	log := b.log.With().Str("request_id", reqID).Str("guild_id", i.GuildID).Logger()

	req, err := ParseInteraction(i)
	if err != nil {
		log.Warn().Err(err).Msg("rejected interaction")
		if err := Respond(s, i, rejectReply(req, err)); err != nil {
			log.Error().Err(err).Msg("cannot respond")
		}
		return
	}
	req.RequestID = reqID
	req.VoiceChannelID = b.userVoiceChannel(req.GuildID, req.UserID)

	if err := RespondDeferred(s, i); err != nil {
		log.Error().Err(err).Msg("cannot acknowledge interaction")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	start := time.Now()
	reply := b.handler.Handle(ctx, req)
	log.Debug().Stringer("command", req.Command).Dur("took", time.Since(start)).Msg("command handled")

	if err := EditResponse(s, i, reply); err != nil {
		log.Error().Err(err).Msg("cannot send reply")
	}
}

// onVoiceStateUpdate tears the session down when the bot itself leaves or is
// kicked from voice.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || s.State == nil || s.State.User == nil {
		return
	}
	if v.UserID != s.State.User.ID || v.ChannelID != "" {
		return
	}
	b.log.Info().Str("guild_id", v.GuildID).Msg("bot left voice, removing session")
	if err := b.handler.Sessions.Remove(v.GuildID); err != nil {
		b.log.Error().Err(err).Str("guild_id", v.GuildID).Msg("cannot remove session")
	}
}

// userVoiceChannel looks the user up in the cached guild voice states.
func (b *Bot) userVoiceChannel(guildID, userID string) string {
	guild, err := b.dg.State.Guild(guildID)
	if err != nil {
		return ""
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID {
			return vs.ChannelID
		}
	}
	return ""
}

// registerCommands uploads the command set when it differs from what is
// registered. The whole set is written in one bulk overwrite, which also
// drops commands that no longer exist.
func (b *Bot) registerCommands(appID string) error {
	if appID == "" {
		return errors.New("missing application id")
	}
	scope := b.opts.CommandsGuildID
	wanted := commandDefinitions()
	hashes := hashCommands(wanted)

	registered, err := b.dg.ApplicationCommands(appID, scope)
	if err != nil {
		return fmt.Errorf("list commands: %w", err)
	}
	if !needsSync(b.cache.load(scope), hashes, registered) {
		b.log.Info().Str("scope", scopeName(scope)).Msg("commands unchanged")
		return nil
	}

	if _, err := b.dg.ApplicationCommandBulkOverwrite(appID, scope, wanted); err != nil {
		return fmt.Errorf("overwrite commands: %w", err)
	}
	if err := b.cache.save(scope, hashes); err != nil {
		b.log.Warn().Err(err).Msg("cannot save command cache")
	}
	b.log.Info().Str("scope", scopeName(scope)).Int("commands", len(wanted)).Msg("commands registered")
	return nil
}

func scopeName(guildID string) string {
	if guildID == "" {
		return "global"
	}
	return guildID
}

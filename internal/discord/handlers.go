package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"jambot/internal/music/resolver"
	"jambot/internal/music/session"
)

// Sessions is the registry surface the handlers use.
type Sessions interface {
	GetOrCreate(ctx context.Context, guildID, channelID string) (*session.Session, error)
	Get(guildID string) (*session.Session, bool)
	Remove(guildID string) error
}

type Resolver interface {
	Resolve(ctx context.Context, raw string) (resolver.Resolved, error)
	ResolvePlaylist(ctx context.Context, raw string) ([]resolver.Resolved, error)
}

type Persister interface {
	Submit(guildID string, info resolver.PersistInfo) bool
}

// Request is a validated user action.
type Request struct {
	RequestID string
	Command   Command
	GuildID   string
	UserID    string
	// VoiceChannelID is the issuing user's current voice channel, empty when
	// they are not in one.
	VoiceChannelID string
	Query          string
	Number         *float64
	Button         bool
}

// Reply is what gets sent back for a request.
type Reply struct {
	Content    string
	Components []discordgo.MessageComponent
}

var errNeedQuery = errors.New("empty query")
var errNegative = errors.New("negative number")

type Handler struct {
	Sessions  Sessions
	Resolver  Resolver
	Persister Persister
	// Catalog lets jam refuse an empty catalog before joining voice.
	Catalog  session.Catalog
	SeekStep time.Duration
	Log      zerolog.Logger
}

// Handle runs req and always produces a reply. Expected conditions become
// short messages; anything else is logged and answered generically.
func (h *Handler) Handle(ctx context.Context, req Request) Reply {
	log := h.Log.With().
		Str("request_id", req.RequestID).
		Str("guild_id", req.GuildID).
		Stringer("command", req.Command).
		Logger()

	reply, err := h.dispatch(ctx, req)
	if err == nil {
		return reply
	}

	switch {
	case errors.Is(err, errNeedQuery):
		return Reply{Content: "Provide a string"}
	case errors.Is(err, errNegative):
		return Reply{Content: "Provide a positive number"}
	case session.IsUserError(err):
		log.Debug().Err(err).Msg("command refused")
	default:
		log.Error().Err(err).Msg("command failed")
	}
	return Reply{Content: session.UserMessage(err)}
}

func (h *Handler) dispatch(ctx context.Context, req Request) (Reply, error) {
	switch req.Command {
	case CmdPlay:
		return h.play(ctx, req)
	case CmdPlaylist:
		return h.playlist(ctx, req)
	case CmdJoin:
		return h.join(ctx, req)
	case CmdJam:
		return h.jam(ctx, req)
	case CmdQueue:
		return h.queue(req)
	case CmdVolume:
		return h.volume(req)
	case CmdHelp:
		return Reply{Content: helpText()}, nil
	case CmdSkip:
		return h.withSession(req, func(s *session.Session) (Reply, error) {
			return Reply{Content: "song skipped"}, s.Skip()
		})
	case CmdStop:
		return h.withSession(req, func(s *session.Session) (Reply, error) {
			return Reply{Content: "Song stopped and queue cleared"}, s.Stop()
		})
	case CmdTogglePause:
		return h.withSession(req, func(s *session.Session) (Reply, error) {
			state, err := s.TogglePause()
			if err != nil {
				return Reply{}, err
			}
			if state == session.StatePaused {
				return Reply{Content: "Paused"}, nil
			}
			return Reply{Content: "Resumed"}, nil
		})
	case CmdFastForward:
		return h.fastForward(req)
	case CmdDeleteAndSkip:
		return h.withSession(req, func(s *session.Session) (Reply, error) {
			t, err := s.DeleteAndSkip(ctx)
			if err != nil {
				return Reply{}, err
			}
			return Reply{Content: fmt.Sprintf("Deleted %s and skipped", t.Title)}, nil
		})
	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownCommand, req.Command)
	}
}

func (h *Handler) withSession(req Request, fn func(*session.Session) (Reply, error)) (Reply, error) {
	s, ok := h.Sessions.Get(req.GuildID)
	if !ok {
		return Reply{}, session.ErrNoActiveSession
	}
	return fn(s)
}

func (h *Handler) join(ctx context.Context, req Request) (Reply, error) {
	if req.VoiceChannelID == "" {
		return Reply{}, session.ErrNotInVoiceChannel
	}
	if _, err := h.Sessions.GetOrCreate(ctx, req.GuildID, req.VoiceChannelID); err != nil {
		return Reply{}, err
	}
	return Reply{Content: "joined"}, nil
}

func (h *Handler) play(ctx context.Context, req Request) (Reply, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return Reply{}, errNeedQuery
	}
	if req.VoiceChannelID == "" {
		return Reply{}, session.ErrNotInVoiceChannel
	}

	// resolve before joining so a bad request never pulls the bot into voice
	res, err := h.Resolver.Resolve(ctx, query)
	if err != nil {
		return Reply{}, err
	}
	s, err := h.Sessions.GetOrCreate(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return Reply{}, err
	}
	n, err := s.Enqueue(res.Track)
	if err != nil {
		return Reply{}, err
	}
	if h.Persister != nil {
		h.Persister.Submit(req.GuildID, res.Persist)
	}

	if n == 1 {
		return Reply{Content: "Playing a jammer: " + res.Track.Title, Components: controlRow()}, nil
	}
	return Reply{Content: fmt.Sprintf("Queued %s (%d ahead)", res.Track.Title, n-1), Components: controlRow()}, nil
}

func (h *Handler) playlist(ctx context.Context, req Request) (Reply, error) {
	link := strings.TrimSpace(req.Query)
	if link == "" {
		return Reply{}, errNeedQuery
	}
	if req.VoiceChannelID == "" {
		return Reply{}, session.ErrNotInVoiceChannel
	}

	entries, err := h.Resolver.ResolvePlaylist(ctx, link)
	if err != nil {
		return Reply{}, err
	}
	s, err := h.Sessions.GetOrCreate(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return Reply{}, err
	}
	tracks := make([]session.Track, len(entries))
	for i, e := range entries {
		tracks[i] = e.Track
	}
	if _, err := s.EnqueueMany(tracks); err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("added %d songs to the queue", len(tracks)), Components: controlRow()}, nil
}

func (h *Handler) jam(ctx context.Context, req Request) (Reply, error) {
	if req.VoiceChannelID == "" {
		return Reply{}, session.ErrNotInVoiceChannel
	}
	if _, ok := h.Sessions.Get(req.GuildID); !ok && h.Catalog != nil {
		_, found, err := h.Catalog.RandomPick(ctx, req.GuildID)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: random pick: %w", session.ErrPersistenceFailure, err)
		}
		if !found {
			return Reply{}, session.ErrCatalogEmpty
		}
	}
	s, err := h.Sessions.GetOrCreate(ctx, req.GuildID, req.VoiceChannelID)
	if err != nil {
		return Reply{}, err
	}
	t, err := s.Jam(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: "Giga Jamming: " + t.Title, Components: controlRow()}, nil
}

func (h *Handler) queue(req Request) (Reply, error) {
	s, ok := h.Sessions.Get(req.GuildID)
	if !ok {
		return Reply{}, session.ErrEmptyQueue
	}
	entries := s.QueueSnapshot()
	if len(entries) == 0 {
		return Reply{}, session.ErrEmptyQueue
	}
	return Reply{Content: formatQueue(entries)}, nil
}

func formatQueue(entries []session.QueueEntry) string {
	var b strings.Builder
	b.WriteString("Currently queued tracks\n")
	for i, e := range entries {
		title, artist := e.Title, e.Artist
		if title == "" {
			title = "Unknown title"
		}
		if artist == "" {
			artist = "Unknown artist"
		}
		fmt.Fprintf(&b, "%d) %s - %s\n", i+1, title, artist)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) volume(req Request) (Reply, error) {
	s, ok := h.Sessions.Get(req.GuildID)
	if !ok {
		return Reply{}, session.ErrNoActiveSession
	}
	if req.Number == nil {
		return Reply{Content: fmt.Sprintf("volume is set to: %d%%", s.Volume())}, nil
	}
	v := *req.Number
	if math.IsNaN(v) || v < session.MinVolume || v > session.MaxVolume {
		return Reply{}, session.ErrOutOfRange
	}
	percent := int(math.Round(v))
	if err := s.SetVolume(percent); err != nil {
		return Reply{}, err
	}
	return Reply{Content: fmt.Sprintf("Volume changed to: %d%%", percent)}, nil
}

// maxSeekStep bounds one ff request. Anything that far ahead is past the end
// of any track, so the engine finishes it.
const maxSeekStep = 24 * time.Hour

func (h *Handler) fastForward(req Request) (Reply, error) {
	step := h.SeekStep
	if !req.Button {
		if req.Number == nil || math.IsNaN(*req.Number) || *req.Number < 0 {
			return Reply{}, errNegative
		}
		seconds := min(*req.Number, maxSeekStep.Seconds())
		step = time.Duration(seconds * float64(time.Second))
	}
	return h.withSession(req, func(s *session.Session) (Reply, error) {
		pos, err := s.SeekRelative(step)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Content: "ff to " + pos.Truncate(time.Second).String()}, nil
	})
}

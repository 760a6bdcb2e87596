package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// slot is the registry entry for a guild. ready is closed once the join that
// created the slot has finished, successfully or not.
type slot struct {
	ready   chan struct{}
	session *Session
	err     error
}

func (sl *slot) done() bool {
	select {
	case <-sl.ready:
		return true
	default:
		return false
	}
}

// Registry maps guild ids to sessions. Creation uses LoadOrStore on a pending
// slot, so concurrent callers for one guild trigger a single join while other
// guilds proceed without contention.
type Registry struct {
	slots  sync.Map // guild id -> *slot
	joiner Joiner
	opts   Options
	log    zerolog.Logger
}

func NewRegistry(joiner Joiner, opts Options) *Registry {
	return &Registry{
		joiner: joiner,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "registry").Logger(),
	}
}

// GetOrCreate returns the guild's session, joining channelID when none exists.
// Callers that lose the race wait for the winner's join and share its result.
func (r *Registry) GetOrCreate(ctx context.Context, guildID, channelID string) (*Session, error) {
	for {
		if s, ok := r.Get(guildID); ok {
			return s, nil
		}
		if channelID == "" {
			return nil, ErrNotInVoiceChannel
		}

		fresh := &slot{ready: make(chan struct{})}
		v, loaded := r.slots.LoadOrStore(guildID, fresh)
		sl := v.(*slot)
		if !loaded {
			return r.join(ctx, guildID, channelID, sl)
		}

		select {
		case <-sl.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if sl.err != nil {
			return nil, sl.err
		}
		if !sl.session.Closed() {
			return sl.session, nil
		}
		// removed after we loaded it; drop the dead slot and try again
		r.slots.CompareAndDelete(guildID, sl)
	}
}

func (r *Registry) join(ctx context.Context, guildID, channelID string, sl *slot) (*Session, error) {
	s := newSession(guildID, channelID, r.opts)

	engine, err := r.joiner.Join(ctx, guildID, channelID, s.Deliver)
	if err != nil {
		_ = s.Close()
		sl.err = fmt.Errorf("%w: join voice channel: %w", ErrEngineFailure, err)
		r.slots.CompareAndDelete(guildID, sl)
		close(sl.ready)
		r.log.Error().Err(err).Str("guild_id", guildID).Str("channel_id", channelID).Msg("cannot join voice channel")
		return nil, sl.err
	}

	s.attach(engine)
	sl.session = s
	close(sl.ready)
	r.log.Info().Str("guild_id", guildID).Str("channel_id", channelID).Int("volume", s.Volume()).Msg("joined voice channel")
	return s, nil
}

// Get is a non-blocking lookup. A join still in progress reports false.
func (r *Registry) Get(guildID string) (*Session, bool) {
	v, ok := r.slots.Load(guildID)
	if !ok {
		return nil, false
	}
	sl := v.(*slot)
	if !sl.done() || sl.session == nil || sl.session.Closed() {
		return nil, false
	}
	return sl.session, true
}

// Remove tears down the guild's session. Removing an absent guild is a no-op.
// A join in progress is waited for and then closed.
func (r *Registry) Remove(guildID string) error {
	v, ok := r.slots.LoadAndDelete(guildID)
	if !ok {
		return nil
	}
	sl := v.(*slot)
	<-sl.ready
	if sl.session == nil {
		return nil
	}
	r.log.Info().Str("guild_id", guildID).Msg("removing session")
	return sl.session.Close()
}

// CloseAll removes every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.slots.Range(func(key, _ any) bool {
		if err := r.Remove(key.(string)); err != nil {
			r.log.Warn().Err(err).Str("guild_id", key.(string)).Msg("close session")
		}
		return true
	})
}

// Len counts registered guilds, pending joins included.
func (r *Registry) Len() int {
	n := 0
	r.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

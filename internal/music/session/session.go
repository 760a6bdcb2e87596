// Package session coordinates playback for one guild: the queue, the current
// track, the volume and the engine that streams audio into the voice channel.
//
// All mutations of a Session happen under its mutex. Engine notifications are
// pushed into a mailbox and applied by a single goroutine that takes the same
// mutex, so user commands and track events are totally ordered per guild.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"jambot/internal/catalog"
)

const (
	MinVolume     = 0
	MaxVolume     = 200
	DefaultVolume = 50
)

// Options configures every session created by a Registry.
type Options struct {
	Catalog       Catalog
	FileTrack     func(catalog.Entry) Track // builds a playable track from a catalog entry
	DefaultVolume int
	Logger        zerolog.Logger
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.DefaultVolume < MinVolume || o.DefaultVolume > MaxVolume {
		o.DefaultVolume = DefaultVolume
	}
	return o
}

type Session struct {
	guildID   string
	channelID string
	opts      Options
	log       zerolog.Logger

	mu           sync.Mutex
	engine       Engine
	queue        []Track
	current      *Track
	playID       uint64 // id of the current play, 0 when idle
	lastPlayID   uint64
	volume       int
	lastActivity time.Time
	closed       bool

	inbox   *mailbox
	handled atomic.Uint64 // events applied by run
	done    chan struct{}
	wg      sync.WaitGroup
}

func newSession(guildID, channelID string, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		guildID:      guildID,
		channelID:    channelID,
		opts:         opts,
		log:          opts.Logger.With().Str("component", "session").Str("guild_id", guildID).Logger(),
		volume:       opts.DefaultVolume,
		lastActivity: opts.Now(),
		inbox:        newMailbox(),
		done:         make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *Session) attach(engine Engine) {
	s.mu.Lock()
	s.engine = engine
	s.mu.Unlock()
}

// Deliver queues an engine event for the session's handler. It never blocks.
func (s *Session) Deliver(ev Event) {
	s.inbox.push(ev)
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.inbox.signal:
			for _, ev := range s.inbox.drain() {
				s.handleEvent(ev)
				s.handled.Add(1)
			}
		}
	}
}

func (s *Session) handleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.playID == 0 || ev.PlayID != s.playID {
		s.log.Debug().Stringer("event", ev.Type).Uint64("play_id", ev.PlayID).Msg("stale engine event ignored")
		return
	}

	switch ev.Type {
	case TrackStarted:
		s.touch()
		if err := s.engine.SetVolume(s.volume); err != nil {
			s.log.Warn().Err(err).Int("volume", s.volume).Msg("cannot apply volume to new track")
		}
		s.log.Info().Str("title", s.current.Title).Int("queue_len", len(s.queue)).Msg("track started")
	case TrackEnded:
		if ev.Err != nil {
			s.log.Error().Err(ev.Err).Str("title", s.current.Title).Msg("track ended with error")
		} else {
			s.log.Info().Str("title", s.current.Title).Int("queue_len", len(s.queue)).Msg("track ended")
		}
		s.current = nil
		s.playID = 0
		if err := s.playNextLocked(); err != nil {
			s.log.Error().Err(err).Msg("cannot advance queue")
		}
	}
}

// playNextLocked pops tracks until the engine accepts one. Tracks the engine
// rejects are dropped. With nothing left the session becomes idle.
func (s *Session) playNextLocked() error {
	var lastErr error
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]

		s.lastPlayID++
		id := s.lastPlayID
		if err := s.engine.Play(id, next, s.volume); err != nil {
			lastErr = fmt.Errorf("%w: play %q: %w", ErrEngineFailure, next.Title, err)
			s.log.Error().Err(err).Str("title", next.Title).Msg("engine rejected track, skipping")
			continue
		}

		s.current = &next
		s.playID = id
		return nil
	}

	s.current = nil
	s.playID = 0
	return lastErr
}

func (s *Session) touch() {
	s.lastActivity = s.opts.Now()
}

func (s *Session) lockActive() error {
	s.mu.Lock()
	if s.closed || s.engine == nil {
		s.mu.Unlock()
		return ErrNoActiveSession
	}
	s.touch()
	return nil
}

// Enqueue appends a resolved track and starts it when nothing is playing.
// It returns the number of tracks held, the current one included.
func (s *Session) Enqueue(track Track) (int, error) {
	return s.EnqueueMany([]Track{track})
}

// EnqueueMany appends tracks in order under a single lock acquisition.
func (s *Session) EnqueueMany(tracks []Track) (int, error) {
	if err := s.lockActive(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	s.queue = append(s.queue, tracks...)
	var err error
	if s.current == nil {
		err = s.playNextLocked()
	}
	return s.lenLocked(), err
}

func (s *Session) lenLocked() int {
	n := len(s.queue)
	if s.current != nil {
		n++
	}
	return n
}

// Skip stops the current track. The queue advances when the engine reports
// the track as ended.
func (s *Session) Skip() error {
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.current == nil {
		return ErrEmptyQueue
	}
	return s.stopCurrentLocked()
}

// skipPlay skips the track started as play id. It does nothing when that
// play has already ended.
func (s *Session) skipPlay(id uint64) error {
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.current == nil || s.playID != id {
		s.log.Debug().Uint64("play_id", id).Msg("skip target already ended")
		return nil
	}
	return s.stopCurrentLocked()
}

func (s *Session) stopCurrentLocked() error {
	if err := s.engine.Stop(); err != nil {
		return fmt.Errorf("%w: stop: %w", ErrEngineFailure, err)
	}
	s.log.Debug().Str("title", s.current.Title).Msg("skip requested")
	return nil
}

func (s *Session) Pause() error {
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.pauseLocked()
}

func (s *Session) Resume() error {
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()
	return s.resumeLocked()
}

// TogglePause pauses a playing track or resumes a paused one and returns the new state.
func (s *Session) TogglePause() (State, error) {
	if err := s.lockActive(); err != nil {
		return StateIdle, err
	}
	defer s.mu.Unlock()

	if s.current == nil {
		return StateIdle, ErrEmptyQueue
	}
	if s.engine.Paused() {
		if err := s.resumeLocked(); err != nil {
			return StatePaused, err
		}
		return StatePlaying, nil
	}
	if err := s.pauseLocked(); err != nil {
		return StatePlaying, err
	}
	return StatePaused, nil
}

func (s *Session) pauseLocked() error {
	if s.current == nil {
		return ErrEmptyQueue
	}
	if s.engine.Paused() {
		return ErrInvalidStateTransition
	}
	if err := s.engine.Pause(); err != nil {
		return fmt.Errorf("%w: pause: %w", ErrEngineFailure, err)
	}
	return nil
}

func (s *Session) resumeLocked() error {
	if s.current == nil {
		return ErrEmptyQueue
	}
	if !s.engine.Paused() {
		return ErrInvalidStateTransition
	}
	if err := s.engine.Resume(); err != nil {
		return fmt.Errorf("%w: resume: %w", ErrEngineFailure, err)
	}
	return nil
}

// SeekRelative moves the playback position by delta, clamped at zero, and
// returns the requested position. Positions past the end are left to the
// engine, which treats them as the track finishing.
func (s *Session) SeekRelative(delta time.Duration) (time.Duration, error) {
	if err := s.lockActive(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if s.current == nil {
		return 0, ErrEmptyQueue
	}
	pos := max(s.engine.Position()+delta, 0)
	if err := s.engine.Seek(pos); err != nil {
		return 0, fmt.Errorf("%w: seek: %w", ErrEngineFailure, err)
	}
	return pos, nil
}

// Stop clears the queue and the current track. The voice connection stays open.
func (s *Session) Stop() error {
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	hadCurrent := s.current != nil
	s.queue = nil
	s.current = nil
	s.playID = 0
	if hadCurrent {
		if err := s.engine.Stop(); err != nil {
			return fmt.Errorf("%w: stop: %w", ErrEngineFailure, err)
		}
	}
	return nil
}

// SetVolume updates the live volume and the default inherited by later tracks.
func (s *Session) SetVolume(percent int) error {
	if percent < MinVolume || percent > MaxVolume {
		return ErrOutOfRange
	}
	if err := s.lockActive(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if err := s.engine.SetVolume(percent); err != nil {
		return fmt.Errorf("%w: set volume: %w", ErrEngineFailure, err)
	}
	s.volume = percent
	return nil
}

func (s *Session) Volume() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// QueueSnapshot lists the current track first, followed by the queue in order.
func (s *Session) QueueSnapshot() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]QueueEntry, 0, s.lenLocked())
	if s.current != nil {
		out = append(out, QueueEntry{Title: s.current.Title, Artist: s.current.Artist, Current: true})
	}
	for _, t := range s.queue {
		out = append(out, QueueEntry{Title: t.Title, Artist: t.Artist})
	}
	return out
}

// Current returns the track being played or paused.
func (s *Session) Current() (Track, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Track{}, false
	}
	return *s.current, true
}

// Pending returns a copy of the tracks waiting behind the current one.
func (s *Session) Pending() []Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.queue)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.current == nil:
		return StateIdle
	case s.engine != nil && s.engine.Paused():
		return StatePaused
	default:
		return StatePlaying
	}
}

// Position reports the engine playback position of the current track.
func (s *Session) Position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil || s.engine == nil {
		return 0
	}
	return s.engine.Position()
}

func (s *Session) GuildID() string   { return s.guildID }
func (s *Session) ChannelID() string { return s.channelID }

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Jam draws a random catalog entry for this guild and enqueues it. The
// catalog is queried without holding the session lock.
func (s *Session) Jam(ctx context.Context) (Track, error) {
	if s.opts.Catalog == nil || s.opts.FileTrack == nil {
		return Track{}, ErrCatalogEmpty
	}
	if s.Closed() {
		return Track{}, ErrNoActiveSession
	}

	entry, ok, err := s.opts.Catalog.RandomPick(ctx, s.guildID)
	if err != nil {
		return Track{}, fmt.Errorf("%w: random pick: %w", ErrPersistenceFailure, err)
	}
	if !ok {
		return Track{}, ErrCatalogEmpty
	}

	track := s.opts.FileTrack(entry)
	track.CatalogName = entry.AudioName
	if _, err := s.Enqueue(track); err != nil {
		return track, err
	}
	return track, nil
}

// DeleteAndSkip removes the current track from this guild's catalog and then
// skips it. A failed delete is logged and does not prevent the skip. If the
// track ends on its own meanwhile, the track after it keeps playing.
func (s *Session) DeleteAndSkip(ctx context.Context) (Track, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Track{}, ErrNoActiveSession
	}
	if s.current == nil {
		s.mu.Unlock()
		return Track{}, ErrEmptyQueue
	}
	cur, id := *s.current, s.playID
	s.mu.Unlock()

	name := cur.CatalogName
	if name == "" {
		name = cur.Title
	}
	if s.opts.Catalog != nil {
		if err := s.opts.Catalog.Delete(ctx, s.guildID, name); err != nil {
			s.log.Error().Err(fmt.Errorf("%w: %w", ErrPersistenceFailure, err)).Str("audio_name", name).Msg("cannot delete catalog entry")
		} else {
			s.log.Info().Str("audio_name", name).Msg("catalog entry deleted")
		}
	}
	return cur, s.skipPlay(id)
}

// Close stops playback, disconnects the engine and stops the event handler.
// Calling it more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.queue = nil
	s.current = nil
	s.playID = 0
	engine := s.engine
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()

	if engine == nil {
		return nil
	}
	if err := engine.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrEngineFailure, err)
	}
	s.log.Info().Msg("session closed")
	return nil
}

// mailbox is an unbounded FIFO of engine events. push never blocks, so an
// engine goroutine can report while a command holds the session lock.
type mailbox struct {
	mu     sync.Mutex
	items  []Event
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(ev Event) {
	m.mu.Lock()
	m.items = append(m.items, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

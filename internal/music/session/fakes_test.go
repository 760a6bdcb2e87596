package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"jambot/internal/catalog"
)

type fakeEngine struct {
	mu      sync.Mutex
	sink    EventSink
	cur     uint64
	paused  bool
	pos     time.Duration
	volume  int
	plays   []Track
	playErr error
	closed  bool

	stops   atomic.Int32
	seeks   atomic.Int32
	emitted atomic.Uint64
}

func (e *fakeEngine) emit(ev Event) {
	e.emitted.Add(1)
	e.sink(ev)
}

func (e *fakeEngine) Play(id uint64, t Track, volume int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.playErr != nil {
		err := e.playErr
		e.playErr = nil
		return err
	}
	e.plays = append(e.plays, t)
	e.cur = id
	e.paused = false
	e.pos = 0
	e.volume = volume
	e.emit(Event{Type: TrackStarted, PlayID: id})
	return nil
}

func (e *fakeEngine) Stop() error {
	e.stops.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endLocked()
	return nil
}

func (e *fakeEngine) endLocked() {
	if e.cur == 0 {
		return
	}
	id := e.cur
	e.cur = 0
	e.paused = false
	e.emit(Event{Type: TrackEnded, PlayID: id})
}

// finish simulates the track reaching its natural end.
func (e *fakeEngine) finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.endLocked()
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	return nil
}

func (e *fakeEngine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	return nil
}

func (e *fakeEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeEngine) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *fakeEngine) setPosition(p time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = p
}

func (e *fakeEngine) Seek(p time.Duration) error {
	e.seeks.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pos = p
	return nil
}

func (e *fakeEngine) SetVolume(p int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = p
	return nil
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.endLocked()
	return nil
}

func (e *fakeEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.plays)
}

func (e *fakeEngine) playedTitles() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.plays))
	for _, t := range e.plays {
		out = append(out, t.Title)
	}
	return out
}

func (e *fakeEngine) currentVolume() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fakeEngine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

type fakeJoiner struct {
	joins   atomic.Int32
	delay   time.Duration
	failN   atomic.Int32 // number of upcoming joins to fail
	mu      sync.Mutex
	engines map[string]*fakeEngine
}

func newFakeJoiner() *fakeJoiner {
	return &fakeJoiner{engines: make(map[string]*fakeEngine)}
}

func (j *fakeJoiner) Join(_ context.Context, guildID, _ string, sink EventSink) (Engine, error) {
	j.joins.Add(1)
	if j.delay > 0 {
		time.Sleep(j.delay)
	}
	if j.failN.Load() > 0 {
		j.failN.Add(-1)
		return nil, errors.New("voice gateway timeout")
	}
	e := &fakeEngine{sink: sink, volume: -1}
	j.mu.Lock()
	j.engines[guildID] = e
	j.mu.Unlock()
	return e, nil
}

func (j *fakeJoiner) engine(guildID string) *fakeEngine {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.engines[guildID]
}

func fileTrack(e catalog.Entry) Track {
	return Track{
		Title:     e.AudioName,
		SourceRef: filepath.Join("files", e.FileName()),
		Kind:      SourceFile,
	}
}

func newTestCatalog(t *testing.T) *catalog.JSONStore {
	t.Helper()
	cfg := catalog.DefaultJSONConfig(filepath.Join(t.TempDir(), "jam.json"))
	cfg.AutoSaveInterval = 0
	c, err := catalog.OpenJSON(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type harness struct {
	registry *Registry
	joiner   *fakeJoiner
	catalog  *catalog.JSONStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{joiner: newFakeJoiner(), catalog: newTestCatalog(t)}
	h.registry = NewRegistry(h.joiner, Options{
		Catalog:       h.catalog,
		FileTrack:     fileTrack,
		DefaultVolume: DefaultVolume,
		Logger:        zerolog.Nop(),
	})
	t.Cleanup(h.registry.CloseAll)
	return h
}

func (h *harness) session(t *testing.T, guildID string) (*Session, *fakeEngine) {
	t.Helper()
	s, err := h.registry.GetOrCreate(context.Background(), guildID, "voice-"+guildID)
	require.NoError(t, err)
	return s, h.joiner.engine(guildID)
}

// settle waits until every event the engine emitted has been applied.
func settle(t *testing.T, s *Session, e *fakeEngine) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.handled.Load() >= e.emitted.Load()
	}, 2*time.Second, time.Millisecond)
}

func track(title string) Track {
	return Track{Title: title, Artist: "artist " + title, SourceRef: "https://www.youtube.com/watch?v=" + title}
}

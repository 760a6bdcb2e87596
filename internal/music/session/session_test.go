package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"jambot/internal/catalog"
)

func TestEnqueuePreservesFIFO(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	for i, title := range []string{"A", "B", "C"} {
		n, err := s.Enqueue(track(title))
		require.NoError(t, err)
		require.Equal(t, i+1, n)
	}

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "A", cur.Title)
	require.Equal(t, []Track{track("B"), track("C")}, s.Pending())
	require.Equal(t, []string{"A"}, e.playedTitles())

	snap := s.QueueSnapshot()
	require.Len(t, snap, 3)
	require.True(t, snap[0].Current)
	require.Equal(t, "A", snap[0].Title)
	require.Equal(t, "C", snap[2].Title)

	e.finish()
	settle(t, s, e)
	require.Equal(t, []string{"A", "B"}, e.playedTitles())
	require.Equal(t, []Track{track("C")}, s.Pending())
}

func TestSkipLastTrackGoesIdle(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	_, err := s.Enqueue(track("A"))
	require.NoError(t, err)
	require.Equal(t, StatePlaying, s.State())

	require.NoError(t, s.Skip())
	settle(t, s, e)

	_, ok := s.Current()
	require.False(t, ok)
	require.Equal(t, StateIdle, s.State())
	require.ErrorIs(t, s.Skip(), ErrEmptyQueue)

	// idle sessions stay connected and usable
	require.False(t, e.isClosed())
	_, err = s.Enqueue(track("B"))
	require.NoError(t, err)
	require.Equal(t, StatePlaying, s.State())
}

func TestSkipAdvancesToNext(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	_, err := s.EnqueueMany([]Track{track("A"), track("B")})
	require.NoError(t, err)
	require.NoError(t, s.Skip())
	settle(t, s, e)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "B", cur.Title)
	require.Empty(t, s.Pending())
}

func TestVolumeBounds(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")
	require.Equal(t, DefaultVolume, s.Volume())

	require.ErrorIs(t, s.SetVolume(250), ErrOutOfRange)
	require.ErrorIs(t, s.SetVolume(-1), ErrOutOfRange)
	require.Equal(t, DefaultVolume, s.Volume())

	require.NoError(t, s.SetVolume(0))
	require.Equal(t, 0, s.Volume())
	require.NoError(t, s.SetVolume(200))
	require.Equal(t, 200, s.Volume())
	require.Equal(t, 200, e.currentVolume())
}

func TestNewTrackInheritsStoredVolume(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	require.NoError(t, s.SetVolume(80))
	_, err := s.Enqueue(track("A"))
	require.NoError(t, err)
	settle(t, s, e)
	require.Equal(t, 80, e.currentVolume())
}

func TestSeekRelative(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	_, err := s.SeekRelative(15 * time.Second)
	require.ErrorIs(t, err, ErrEmptyQueue)
	require.Zero(t, e.seeks.Load())

	_, err = s.Enqueue(track("A"))
	require.NoError(t, err)
	e.setPosition(50 * time.Second)

	pos, err := s.SeekRelative(15 * time.Second)
	require.NoError(t, err)
	require.Equal(t, 65*time.Second, pos)
	require.Equal(t, 65*time.Second, s.Position())

	pos, err = s.SeekRelative(-2 * time.Minute)
	require.NoError(t, err)
	require.Zero(t, pos)
	require.EqualValues(t, 2, e.seeks.Load())
}

func TestPauseResumeTransitions(t *testing.T) {
	h := newHarness(t)
	s, _ := h.session(t, "g1")

	require.ErrorIs(t, s.Pause(), ErrEmptyQueue)

	_, err := s.Enqueue(track("A"))
	require.NoError(t, err)

	require.ErrorIs(t, s.Resume(), ErrInvalidStateTransition)
	require.NoError(t, s.Pause())
	require.Equal(t, StatePaused, s.State())
	require.ErrorIs(t, s.Pause(), ErrInvalidStateTransition)
	require.NoError(t, s.Resume())
	require.Equal(t, StatePlaying, s.State())

	state, err := s.TogglePause()
	require.NoError(t, err)
	require.Equal(t, StatePaused, state)
	state, err = s.TogglePause()
	require.NoError(t, err)
	require.Equal(t, StatePlaying, state)
}

func TestStopClearsQueueAndIgnoresStaleEnd(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	_, err := s.EnqueueMany([]Track{track("A"), track("B"), track("C")})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.Empty(t, s.QueueSnapshot())
	require.Equal(t, StateIdle, s.State())

	// the end event for A is still in flight and must not touch D
	_, err = s.Enqueue(track("D"))
	require.NoError(t, err)
	settle(t, s, e)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "D", cur.Title)
	require.Equal(t, []string{"A", "D"}, e.playedTitles())
}

func TestEngineFailureKeepsSessionUsable(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	e.mu.Lock()
	e.playErr = errors.New("ffmpeg missing")
	e.mu.Unlock()

	_, err := s.Enqueue(track("A"))
	require.ErrorIs(t, err, ErrEngineFailure)
	require.Equal(t, StateIdle, s.State())

	_, err = s.Enqueue(track("B"))
	require.NoError(t, err)
	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "B", cur.Title)
}

func TestJamEmptyCatalog(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")

	_, err := s.Jam(context.Background())
	require.ErrorIs(t, err, ErrCatalogEmpty)
	require.Zero(t, e.playCount())
}

func TestJamSingleEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.catalog.Add(ctx, "g1", "only", "webm"))
	s, e := h.session(t, "g1")

	for i := 0; i < 5; i++ {
		tr, err := s.Jam(ctx)
		require.NoError(t, err)
		require.Equal(t, "only", tr.Title)
		require.Equal(t, "only", tr.CatalogName)
		require.True(t, tr.FromCatalog())
		require.Equal(t, SourceFile, tr.Kind)
	}
	require.Equal(t, 1, e.playCount())
	require.Len(t, s.QueueSnapshot(), 5)
}

func TestJamDistributionIsUniform(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		require.NoError(t, h.catalog.Add(ctx, "g1", n, "webm"))
	}
	s, _ := h.session(t, "g1")

	counts := map[string]int{}
	const trials = 800
	for i := 0; i < trials; i++ {
		tr, err := s.Jam(ctx)
		require.NoError(t, err)
		counts[tr.CatalogName]++
		require.NoError(t, s.Stop())
	}
	for _, n := range names {
		require.Greater(t, counts[n], 100, "picks for %s", n)
		require.Less(t, counts[n], 300, "picks for %s", n)
	}
}

func TestDeleteAndSkipIsGuildScoped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.catalog.Add(ctx, "g1", "shared", "webm"))
	require.NoError(t, h.catalog.Add(ctx, "g2", "shared", "webm"))
	require.NoError(t, h.catalog.Add(ctx, "g1", "keep", "webm"))

	s, e := h.session(t, "g1")
	require.NoError(t, s.Stop())

	// jam until the shared entry is current
	found := false
	for i := 0; i < 500 && !found; i++ {
		tr, err := s.Jam(ctx)
		require.NoError(t, err)
		if tr.CatalogName == "shared" {
			found = true
			break
		}
		require.NoError(t, s.Stop())
	}
	require.True(t, found)

	stopsBefore := e.stops.Load()
	deleted, err := s.DeleteAndSkip(ctx)
	require.NoError(t, err)
	require.Equal(t, "shared", deleted.CatalogName)
	require.Equal(t, stopsBefore+1, e.stops.Load())
	settle(t, s, e)
	require.Equal(t, StateIdle, s.State())

	g1, err := h.catalog.List(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, g1, 1)
	require.Equal(t, "keep", g1[0].AudioName)

	g2, err := h.catalog.List(ctx, "g2")
	require.NoError(t, err)
	require.Len(t, g2, 1)
}

// endingCatalog finishes the playing track while a delete is in flight.
type endingCatalog struct {
	*catalog.JSONStore
	onDelete func()
}

func (c *endingCatalog) Delete(ctx context.Context, guildID, audioName string) error {
	if c.onDelete != nil {
		c.onDelete()
	}
	return c.JSONStore.Delete(ctx, guildID, audioName)
}

func TestDeleteAndSkipDoesNotSkipFollowingTrack(t *testing.T) {
	ctx := context.Background()
	store := &endingCatalog{JSONStore: newTestCatalog(t)}
	require.NoError(t, store.Add(ctx, "g1", "A", "webm"))

	joiner := newFakeJoiner()
	registry := NewRegistry(joiner, Options{
		Catalog:   store,
		FileTrack: fileTrack,
		Logger:    zerolog.Nop(),
	})
	t.Cleanup(registry.CloseAll)

	s, err := registry.GetOrCreate(ctx, "g1", "voice-g1")
	require.NoError(t, err)
	e := joiner.engine("g1")

	a := track("A")
	a.CatalogName = "A"
	_, err = s.EnqueueMany([]Track{a, track("B"), track("C")})
	require.NoError(t, err)
	settle(t, s, e)

	store.onDelete = func() {
		e.finish()
		settle(t, s, e)
	}
	deleted, err := s.DeleteAndSkip(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", deleted.Title)
	settle(t, s, e)

	cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, "B", cur.Title)
	require.Equal(t, []string{"A", "B"}, e.playedTitles())

	left, err := store.List(ctx, "g1")
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestDeleteAndSkipWithoutCurrent(t *testing.T) {
	h := newHarness(t)
	s, _ := h.session(t, "g1")

	_, err := s.DeleteAndSkip(context.Background())
	require.ErrorIs(t, err, ErrEmptyQueue)
}

func TestClosedSessionRejectsCommands(t *testing.T) {
	h := newHarness(t)
	s, e := h.session(t, "g1")
	_, err := s.Enqueue(track("A"))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, e.isClosed())

	_, err = s.Enqueue(track("B"))
	require.ErrorIs(t, err, ErrNoActiveSession)
	require.ErrorIs(t, s.Skip(), ErrNoActiveSession)
	require.ErrorIs(t, s.SetVolume(10), ErrNoActiveSession)
	_, err = s.Jam(context.Background())
	require.ErrorIs(t, err, ErrNoActiveSession)
}

func TestUserMessage(t *testing.T) {
	require.Equal(t, "Not in a voice channel", UserMessage(ErrNotInVoiceChannel))
	require.Equal(t, "No audio queued", UserMessage(ErrEmptyQueue))
	require.Equal(t, "No tracks present to jam", UserMessage(ErrCatalogEmpty))
	require.Equal(t, "Not working yet", UserMessage(ErrNotImplemented))
	require.Equal(t, genericFailure, UserMessage(errors.New("boom")))
	require.Equal(t, genericFailure, UserMessage(ErrEngineFailure))

	require.True(t, IsUserError(ErrOutOfRange))
	require.False(t, IsUserError(ErrResolutionFailure))
}

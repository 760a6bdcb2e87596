package player

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"jambot/internal/music/session"
	"jambot/internal/music/stream"
)

const pcmFrame = stream.FrameSize * stream.Channels * 2

type fakeVoice struct {
	opus         chan []byte
	mu           sync.Mutex
	speaking     bool
	disconnected int
}

func newFakeVoice(buffer int) *fakeVoice {
	return &fakeVoice{opus: make(chan []byte, buffer)}
}

func (v *fakeVoice) Speaking(b bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = b
	return nil
}

func (v *fakeVoice) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.disconnected++
	return nil
}

func (v *fakeVoice) Opus() chan<- []byte { return v.opus }

type silence struct {
	frames int
	fail   bool

	mu    sync.Mutex
	seeks []time.Duration
}

func (s *silence) Name() string                     { return "file" }
func (s *silence) Supports(session.SourceKind) bool { return true }

func (s *silence) Open(_ context.Context, _ session.Track, seek time.Duration) (io.ReadCloser, func(), error) {
	s.mu.Lock()
	s.seeks = append(s.seeks, seek)
	s.mu.Unlock()
	if s.fail {
		return nil, nil, errors.New("gone")
	}
	return io.NopCloser(bytes.NewReader(make([]byte, s.frames*pcmFrame))), func() {}, nil
}

type recorder struct {
	events chan session.Event
}

func newRecorder() *recorder { return &recorder{events: make(chan session.Event, 16)} }

func (r *recorder) sink(ev session.Event) { r.events <- ev }

func (r *recorder) next(t *testing.T) session.Event {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no engine event")
		return session.Event{}
	}
}

func newPlayer(vc *fakeVoice, s *silence, rec *recorder) *Player {
	return New("g1", vc, stream.NewOpener(zerolog.Nop(), s), rec.sink, zerolog.Nop())
}

func TestPlayToCompletion(t *testing.T) {
	vc := newFakeVoice(64)
	rec := newRecorder()
	p := newPlayer(vc, &silence{frames: 10}, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.Event{Type: session.TrackStarted, PlayID: 1}, rec.next(t))
	require.Equal(t, session.Event{Type: session.TrackEnded, PlayID: 1}, rec.next(t))
	require.Len(t, vc.opus, 10)
	require.Zero(t, p.Position())
}

func TestOpenFailureOnlyEnds(t *testing.T) {
	rec := newRecorder()
	p := newPlayer(newFakeVoice(1), &silence{fail: true}, rec)

	require.NoError(t, p.Play(7, session.Track{Title: "broken"}, 50))
	ev := rec.next(t)
	require.Equal(t, session.TrackEnded, ev.Type)
	require.Equal(t, uint64(7), ev.PlayID)
	require.Error(t, ev.Err)
}

func TestStopEndsWithoutError(t *testing.T) {
	vc := newFakeVoice(0) // nobody reads, Pump blocks on send
	rec := newRecorder()
	p := newPlayer(vc, &silence{frames: 100}, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	require.NoError(t, p.Stop())
	require.Equal(t, session.Event{Type: session.TrackEnded, PlayID: 1}, rec.next(t))
}

func TestPlayReplacesCurrent(t *testing.T) {
	vc := newFakeVoice(0)
	rec := newRecorder()
	p := newPlayer(vc, &silence{frames: 100}, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	require.NoError(t, p.Play(2, session.Track{Title: "b"}, 50))
	require.Equal(t, session.Event{Type: session.TrackEnded, PlayID: 1}, rec.next(t))
	require.Equal(t, session.Event{Type: session.TrackStarted, PlayID: 2}, rec.next(t))
	require.NoError(t, p.Close())
}

func TestSeekReopensAtPosition(t *testing.T) {
	vc := newFakeVoice(0)
	rec := newRecorder()
	s := &silence{frames: 100}
	p := newPlayer(vc, s, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	require.NoError(t, p.Seek(65*time.Second))
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.seeks) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return p.Position() >= 65*time.Second
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Close())
}

func TestPositionReportsPendingSeek(t *testing.T) {
	vc := newFakeVoice(0)
	rec := newRecorder()
	s := &silence{frames: 100}
	p := newPlayer(vc, s, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	// two presses in a row both count
	require.NoError(t, p.Seek(p.Position()+15*time.Second))
	require.Equal(t, 15*time.Second, p.Position())
	require.NoError(t, p.Seek(p.Position()+15*time.Second))
	require.Equal(t, 30*time.Second, p.Position())

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.seeks[len(s.seeks)-1] == 30*time.Second
	}, 2*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, p.Position(), 30*time.Second)
	require.NoError(t, p.Close())
}

func TestPauseAndVolume(t *testing.T) {
	vc := newFakeVoice(0)
	rec := newRecorder()
	p := newPlayer(vc, &silence{frames: 100}, rec)

	require.Error(t, p.Pause())
	require.False(t, p.Paused())
	require.Error(t, p.SetVolume(201))

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	require.NoError(t, p.Pause())
	require.True(t, p.Paused())
	require.NoError(t, p.Resume())
	require.False(t, p.Paused())
	require.NoError(t, p.SetVolume(120))
	require.NoError(t, p.Close())
}

func TestCloseDisconnectsOnce(t *testing.T) {
	vc := newFakeVoice(0)
	rec := newRecorder()
	p := newPlayer(vc, &silence{frames: 100}, rec)

	require.NoError(t, p.Play(1, session.Track{Title: "a"}, 50))
	require.Equal(t, session.TrackStarted, rec.next(t).Type)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Equal(t, session.Event{Type: session.TrackEnded, PlayID: 1}, rec.next(t))
	require.Equal(t, 1, vc.disconnected)
	require.ErrorIs(t, p.Play(2, session.Track{}, 50), ErrClosed)
}

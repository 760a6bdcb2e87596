package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"jambot/internal/music/session"
)

const (
	maxRecoveryAttempts = 3

	// an EOF closer than this to the known duration is the natural end of the track
	recoveryMargin = 3 * time.Second
)

// Opener picks the streamers able to play a track and opens a RecoveryStream.
type Opener struct {
	streamers []Streamer
	log       zerolog.Logger
}

// NewOpener keeps streamers in the given order; earlier ones are preferred.
func NewOpener(log zerolog.Logger, streamers ...Streamer) *Opener {
	return &Opener{streamers: streamers, log: log}
}

// Open returns a stream positioned at seek, or an error once every candidate
// streamer failed.
func (o *Opener) Open(ctx context.Context, track session.Track, seek time.Duration) (*RecoveryStream, error) {
	var candidates []Streamer
	for _, s := range o.streamers {
		if s.Supports(track.Kind) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no streamer for %s source %q", track.Kind, track.SourceRef)
	}

	rs := &RecoveryStream{
		ctx:        ctx,
		track:      track,
		candidates: candidates,
		retries:    make(map[string]int),
		log:        o.log.With().Str("title", track.Title).Logger(),
	}
	if err := rs.open(seek); err != nil {
		return nil, err
	}
	return rs, nil
}

// RecoveryStream reads PCM from one streamer and, when a remote stream ends
// well before the track's duration, reopens it at the current position.
type RecoveryStream struct {
	ctx        context.Context
	track      session.Track
	candidates []Streamer
	index      int
	reader     io.ReadCloser
	cleanup    func()
	base       time.Duration // position the current reader started at
	read       int64         // bytes read from the current reader
	retries    map[string]int
	log        zerolog.Logger
}

func (rs *RecoveryStream) open(seek time.Duration) error {
	var errs []error
	for i := rs.index; i < len(rs.candidates); i++ {
		s := rs.candidates[i]
		if rs.retries[s.Name()] >= maxRecoveryAttempts {
			continue
		}

		reader, cleanup, err := s.Open(rs.ctx, rs.track, seek)
		if err != nil {
			rs.retries[s.Name()]++
			errs = append(errs, fmt.Errorf("streamer %s: %w", s.Name(), err))
			rs.log.Warn().Err(err).Str("streamer", s.Name()).Msg("cannot open stream, trying next")
			continue
		}

		rs.index = i
		rs.reader = reader
		rs.cleanup = cleanup
		rs.base = seek
		rs.read = 0
		rs.log.Debug().Str("streamer", s.Name()).Dur("seek", seek).Msg("stream opened")
		return nil
	}
	return fmt.Errorf("all streamers failed: %w", errors.Join(errs...))
}

// Position is the playback offset of the next byte returned by Read.
func (rs *RecoveryStream) Position() time.Duration {
	return rs.base + time.Duration(rs.read/bytesPerFrame)*frameDuration
}

// Streamer names the streamer currently in use.
func (rs *RecoveryStream) Streamer() string {
	if rs.reader == nil {
		return ""
	}
	return rs.candidates[rs.index].Name()
}

func (rs *RecoveryStream) Read(p []byte) (int, error) {
	if rs.reader == nil {
		return 0, errors.New("stream not opened")
	}

	n, err := rs.reader.Read(p)
	rs.read += int64(n)
	if err != nil && n == 0 && rs.shouldRecover() {
		return rs.recover(p, err)
	}
	return n, err
}

func (rs *RecoveryStream) shouldRecover() bool {
	if rs.ctx.Err() != nil || rs.track.Kind != session.SourceLink {
		return false
	}
	return rs.track.Duration > 0 && rs.Position() < rs.track.Duration-recoveryMargin
}

func (rs *RecoveryStream) recover(p []byte, cause error) (int, error) {
	name := rs.Streamer()
	rs.retries[name]++
	rs.log.Warn().Err(cause).Str("streamer", name).Int("attempt", rs.retries[name]).
		Dur("position", rs.Position()).Msg("stream ended early, recovering")

	pos := rs.Position()
	rs.closeReader()
	if err := rs.open(pos); err != nil {
		rs.log.Error().Err(err).Msg("stream recovery failed")
		return 0, io.EOF
	}
	return rs.Read(p)
}

// Reopen restarts decoding at pos with the current streamer.
func (rs *RecoveryStream) Reopen(pos time.Duration) error {
	rs.closeReader()
	return rs.open(pos)
}

func (rs *RecoveryStream) closeReader() {
	if rs.reader != nil {
		_ = rs.reader.Close()
	}
	if rs.cleanup != nil {
		rs.cleanup()
	}
	rs.reader = nil
	rs.cleanup = nil
}

func (rs *RecoveryStream) Close() error {
	rs.closeReader()
	return nil
}

// Package player is the discordgo playback engine: one Player per guild owns
// the voice connection and at most one playback goroutine.
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"jambot/internal/music/session"
	"jambot/internal/music/stream"
)

var ErrClosed = errors.New("player is closed")

// VoiceConn is the part of a discordgo voice connection the player uses.
type VoiceConn interface {
	Speaking(b bool) error
	Disconnect() error
	Opus() chan<- []byte
}

type discordVoice struct {
	vc *discordgo.VoiceConnection
}

func (d discordVoice) Speaking(b bool) error { return d.vc.Speaking(b) }
func (d discordVoice) Disconnect() error     { return d.vc.Disconnect() }
func (d discordVoice) Opus() chan<- []byte   { return d.vc.OpusSend }

// StreamOpener opens PCM for a track at an offset.
type StreamOpener interface {
	Open(ctx context.Context, track session.Track, seek time.Duration) (*stream.RecoveryStream, error)
}

// Joiner joins voice channels with discordgo and hands out Players.
type Joiner struct {
	DG     *discordgo.Session
	Opener StreamOpener
	Log    zerolog.Logger
}

// Join implements session.Joiner.
func (j *Joiner) Join(ctx context.Context, guildID, channelID string, sink session.EventSink) (session.Engine, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vc, err := j.DG.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- result{vc, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to join voice channel: %w", r.err)
		}
		j.Log.Info().Str("guild_id", guildID).Str("channel_id", channelID).Msg("joined voice channel")
		return New(guildID, discordVoice{r.vc}, j.Opener, sink, j.Log), nil
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

type playback struct {
	id     uint64
	track  session.Track
	ctx    context.Context
	cancel context.CancelFunc
	seek   chan time.Duration
	done   chan struct{}
	ctl    *stream.Control

	mu      sync.Mutex
	offset  time.Duration // position the current stream started at
	pending time.Duration // seek target not yet applied
	seeking bool
}

// position reports a requested seek target until the loop has applied it.
func (pb *playback) position() time.Duration {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	if pb.seeking {
		return pb.pending
	}
	return pb.offset + pb.ctl.Elapsed()
}

// Player implements session.Engine on a discordgo voice connection.
type Player struct {
	guildID string
	vc      VoiceConn
	opener  StreamOpener
	sink    session.EventSink
	log     zerolog.Logger

	mu     sync.Mutex
	cur    *playback
	volume int
	closed bool
}

func New(guildID string, vc VoiceConn, opener StreamOpener, sink session.EventSink, log zerolog.Logger) *Player {
	return &Player{
		guildID: guildID,
		vc:      vc,
		opener:  opener,
		sink:    sink,
		log:     log.With().Str("component", "player").Str("guild_id", guildID).Logger(),
		volume:  session.DefaultVolume,
	}
}

// Play stops whatever is playing and starts track in the background.
func (p *Player) Play(playID uint64, track session.Track, volume int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	prev := p.cur
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{
		id:     playID,
		track:  track,
		ctx:    ctx,
		cancel: cancel,
		seek:   make(chan time.Duration, 1),
		done:   make(chan struct{}),
		ctl:    stream.NewControl(volume),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cancel()
		return ErrClosed
	}
	p.cur = pb
	p.volume = volume
	p.mu.Unlock()

	p.log.Debug().Uint64("play_id", playID).Str("title", track.Title).Str("source", track.Kind.String()).Msg("preparing playback")
	go p.run(pb)
	return nil
}

func (p *Player) run(pb *playback) {
	defer close(pb.done)
	defer pb.cancel()

	err := p.runPlayback(pb)

	p.mu.Lock()
	if p.cur == pb {
		p.cur = nil
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Error().Err(err).Str("title", pb.track.Title).Msg("playback finished with error")
	} else {
		p.log.Debug().Str("title", pb.track.Title).Msg("playback finished")
	}
	p.sink(session.Event{Type: session.TrackEnded, PlayID: pb.id, Err: err})
}

func (p *Player) runPlayback(pb *playback) error {
	rs, err := p.opener.Open(pb.ctx, pb.track, 0)
	if err != nil {
		return fmt.Errorf("failed to create PCM stream for track: %w", err)
	}
	defer rs.Close()

	if err := p.vc.Speaking(true); err != nil {
		p.log.Warn().Err(err).Msg("cannot set speaking")
	}
	defer func() { _ = p.vc.Speaking(false) }()

	p.log.Info().Str("title", pb.track.Title).Str("streamer", rs.Streamer()).Msg("streaming to voice channel")
	p.sink(session.Event{Type: session.TrackStarted, PlayID: pb.id})

	for {
		interrupt := make(chan struct{})
		stopWatch := make(chan struct{})
		woke := make(chan wake, 1)
		go func() {
			select {
			case pos := <-pb.seek:
				woke <- wake{seek: pos, seeked: true}
				close(interrupt)
			case <-pb.ctx.Done():
				woke <- wake{}
				close(interrupt)
			case <-stopWatch:
				woke <- wake{}
			}
		}()

		pumpErr := stream.Pump(rs, p.vc.Opus(), interrupt, pb.ctl)
		close(stopWatch)
		w := <-woke

		if pb.ctx.Err() != nil {
			return nil
		}
		if !w.seeked {
			return pumpErr
		}

		p.log.Debug().Dur("position", w.seek).Msg("seeking")
		if err := rs.Reopen(w.seek); err != nil {
			return fmt.Errorf("seek to %s: %w", w.seek, err)
		}
		pb.mu.Lock()
		pb.offset = w.seek
		pb.ctl.ResetFrames()
		if pb.seeking && pb.pending == w.seek {
			pb.seeking = false
		}
		pb.mu.Unlock()
	}
}

// wake tells the playback loop why Pump returned.
type wake struct {
	seek   time.Duration
	seeked bool
}

func (p *Player) current() *playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur
}

// Stop ends the current track. TrackEnded follows asynchronously.
func (p *Player) Stop() error {
	if pb := p.current(); pb != nil {
		pb.cancel()
	}
	return nil
}

func (p *Player) Pause() error {
	pb := p.current()
	if pb == nil {
		return errors.New("no track is currently playing")
	}
	pb.ctl.Pause()
	_ = p.vc.Speaking(false)
	return nil
}

func (p *Player) Resume() error {
	pb := p.current()
	if pb == nil {
		return errors.New("no track is currently playing")
	}
	pb.ctl.Resume()
	_ = p.vc.Speaking(true)
	return nil
}

func (p *Player) Paused() bool {
	pb := p.current()
	return pb != nil && pb.ctl.Paused()
}

func (p *Player) Position() time.Duration {
	pb := p.current()
	if pb == nil {
		return 0
	}
	return pb.position()
}

// Seek restarts decoding at pos. A position past the end finishes the track.
func (p *Player) Seek(pos time.Duration) error {
	pb := p.current()
	if pb == nil {
		return errors.New("no track is currently playing")
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.pending = pos
	pb.seeking = true
	// a newer request replaces one not yet picked up
	select {
	case <-pb.seek:
	default:
	}
	pb.seek <- pos
	return nil
}

func (p *Player) SetVolume(percent int) error {
	if percent < session.MinVolume || percent > session.MaxVolume {
		return fmt.Errorf("volume %d out of range", percent)
	}
	p.mu.Lock()
	p.volume = percent
	pb := p.cur
	p.mu.Unlock()
	if pb != nil {
		pb.ctl.SetVolume(percent)
	}
	return nil
}

// Close stops playback and leaves the voice channel.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pb := p.cur
	p.mu.Unlock()

	if pb != nil {
		pb.cancel()
		<-pb.done
	}

	p.log.Info().Msg("leaving voice channel")
	if err := p.vc.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"layeh.com/gopus"
)

// ErrInterrupted is returned by Pump when the interrupt channel fires.
var ErrInterrupted = errors.New("stream interrupted")

// Control carries live playback settings shared between the player and Pump.
type Control struct {
	volume atomic.Int32 // percent
	frames atomic.Int64 // frames sent since the last ResetFrames

	mu     sync.Mutex
	paused bool
	resume chan struct{} // closed on Resume
}

func NewControl(volume int) *Control {
	c := &Control{}
	c.volume.Store(int32(volume))
	return c
}

func (c *Control) SetVolume(percent int) { c.volume.Store(int32(percent)) }
func (c *Control) Volume() int           { return int(c.volume.Load()) }

// Elapsed is the audio time sent since the last ResetFrames.
func (c *Control) Elapsed() time.Duration {
	return time.Duration(c.frames.Load()) * frameDuration
}

func (c *Control) ResetFrames() { c.frames.Store(0) }

func (c *Control) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

func (c *Control) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

func (c *Control) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// wait blocks while paused. It returns false when interrupted.
func (c *Control) wait(interrupt <-chan struct{}) bool {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return true
	}
	resume := c.resume
	c.mu.Unlock()

	select {
	case <-resume:
		return true
	case <-interrupt:
		return false
	}
}

// applyGain scales samples by percent/100 with clipping.
func applyGain(samples []int16, percent int) {
	if percent == 100 {
		return
	}
	gain := float64(percent) / 100
	for i, s := range samples {
		v := math.Round(float64(s) * gain)
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		samples[i] = int16(v)
	}
}

// Pump reads PCM frames from pcm, applies the control volume, encodes them
// with opus and sends them to out until the stream ends or interrupt fires.
// A clean end of stream returns nil.
func Pump(pcm io.Reader, out chan<- []byte, interrupt <-chan struct{}, ctl *Control) error {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return fmt.Errorf("encoder error: %w", err)
	}

	pcmBuf := make([]byte, bytesPerFrame)
	intBuf := make([]int16, FrameSize*Channels)

	for {
		if !ctl.wait(interrupt) {
			return ErrInterrupted
		}
		select {
		case <-interrupt:
			return ErrInterrupted
		default:
		}

		if _, err := io.ReadFull(pcm, pcmBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}

		for i := range intBuf {
			intBuf[i] = int16(binary.LittleEndian.Uint16(pcmBuf[i*2 : i*2+2]))
		}
		applyGain(intBuf, ctl.Volume())

		opus, err := encoder.Encode(intBuf, FrameSize, len(pcmBuf))
		if err != nil {
			return fmt.Errorf("encode error: %w", err)
		}

		select {
		case out <- opus:
			ctl.frames.Add(1)
		case <-interrupt:
			return ErrInterrupted
		}
	}
}

// Package stream turns tracks into 48kHz stereo PCM and pumps it, opus
// encoded, into a voice connection.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	youtube "github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"

	"jambot/internal/music/session"
)

const (
	Channels   = 2
	SampleRate = 48000
	FrameSize  = 960 // 20ms at 48kHz

	frameDuration = 20 * time.Millisecond
	bytesPerFrame = FrameSize * Channels * 2
)

// Streamer opens a PCM stream for a track starting at seek.
type Streamer interface {
	Name() string
	Supports(kind session.SourceKind) bool
	Open(ctx context.Context, track session.Track, seek time.Duration) (io.ReadCloser, func(), error)
}

// KKDAIStreamer resolves the audio stream URL with the youtube client and
// decodes it with ffmpeg.
type KKDAIStreamer struct {
	Client *youtube.Client
	FFmpeg string
}

func (s *KKDAIStreamer) Name() string { return "kkdai-link" }

func (s *KKDAIStreamer) Supports(kind session.SourceKind) bool { return kind == session.SourceLink }

func (s *KKDAIStreamer) Open(ctx context.Context, track session.Track, seek time.Duration) (io.ReadCloser, func(), error) {
	client := s.Client
	if client == nil {
		client = &youtube.Client{}
	}

	video, err := client.GetVideoContext(ctx, track.SourceRef)
	if err != nil {
		return nil, nil, fmt.Errorf("[kkdai-link] youtube client error: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	if len(formats) == 0 {
		return nil, nil, errors.New("[kkdai-link] no audio formats found for video")
	}

	link, err := client.GetStreamURLContext(ctx, video, &formats[0])
	if err != nil {
		return nil, nil, fmt.Errorf("[kkdai-link] get stream URL error: %w", err)
	}
	return ffmpegPCM(ctx, s.FFmpeg, link, seek, true)
}

// YTDLPStreamer asks yt-dlp for the best audio URL and decodes it with ffmpeg.
type YTDLPStreamer struct {
	Binary string
	FFmpeg string
	Proxy  string
}

func (s *YTDLPStreamer) Name() string { return "ytdlp-link" }

func (s *YTDLPStreamer) Supports(kind session.SourceKind) bool { return kind == session.SourceLink }

func (s *YTDLPStreamer) Open(ctx context.Context, track session.Track, seek time.Duration) (io.ReadCloser, func(), error) {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		Print("%(url)s")
	if s.Binary != "" {
		cmd.SetExecutable(s.Binary)
	}
	if s.Proxy != "" {
		cmd.Proxy(s.Proxy)
	}

	res, err := cmd.Run(ctx, "-f", "bestaudio/best", "--no-playlist", track.SourceRef)
	if err != nil {
		return nil, nil, fmt.Errorf("[ytdlp-link] get-url error: %w", err)
	}

	link := firstLine(res.Stdout)
	if link == "" || link == "NA" {
		return nil, nil, errors.New("[ytdlp-link] empty URL returned from yt-dlp")
	}
	return ffmpegPCM(ctx, s.FFmpeg, link, seek, true)
}

// FileStreamer decodes a downloaded catalog file.
type FileStreamer struct {
	FFmpeg string
}

func (s *FileStreamer) Name() string { return "file" }

func (s *FileStreamer) Supports(kind session.SourceKind) bool { return kind == session.SourceFile }

func (s *FileStreamer) Open(ctx context.Context, track session.Track, seek time.Duration) (io.ReadCloser, func(), error) {
	if _, err := os.Stat(track.SourceRef); err != nil {
		return nil, nil, fmt.Errorf("[file] %w", err)
	}
	return ffmpegPCM(ctx, s.FFmpeg, track.SourceRef, seek, false)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

package stream

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"time"
)

// ffmpegPCM starts ffmpeg decoding input into raw s16le PCM on stdout.
// cleanup kills the process and reaps it.
func ffmpegPCM(ctx context.Context, bin, input string, seek time.Duration, remote bool) (io.ReadCloser, func(), error) {
	if bin == "" {
		bin = "ffmpeg"
	}

	var args []string
	if seek > 0 {
		args = append(args, "-ss", fmt.Sprintf("%.3f", seek.Seconds()))
	}
	if remote {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	args = append(args,
		"-i", input,
		"-f", "s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)

	cmd := exec.CommandContext(ctx, bin, args...)
	reader, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe error: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg start error: %w", err)
	}

	cleanup := func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
	}
	return reader, cleanup, nil
}

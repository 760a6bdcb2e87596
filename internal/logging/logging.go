// Package logging builds the root zerolog logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"jambot/internal/config"
)

// New returns the root logger and a closer for the log file, if any. Console
// output goes to stderr; a configured file always receives JSON lines.
func New(cfg config.Log) (zerolog.Logger, io.Closer, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.Log, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.Nop(), nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}

	var out io.Writer = stderr
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.DateTime}
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, file)
		closer = file
	}

	log := zerolog.New(out).Level(level).With().Timestamp().Str("service", "jambot").Logger()
	return log, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Quiet raises cfg to warn level at least and drops file output, for short
// CLI runs that print their own results.
func Quiet(cfg config.Log) config.Log {
	cfg.File = ""
	if level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err != nil || level == zerolog.NoLevel || level < zerolog.WarnLevel {
		cfg.Level = zerolog.WarnLevel.String()
	}
	return cfg
}

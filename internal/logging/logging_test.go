package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"jambot/internal/config"
)

func TestJSONOutputAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log, closer, err := newLogger(config.Log{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Info().Msg("hidden")
	log.Warn().Str("component", "session").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "session", line["component"])
	require.Equal(t, "jambot", line["service"])
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jambot.log")
	var buf bytes.Buffer
	log, closer, err := newLogger(config.Log{Level: "info", Format: "console", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	log.Info().Msg("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"message":"to file"`)
	require.Contains(t, buf.String(), "to file")
}

func TestInvalidLevel(t *testing.T) {
	_, _, err := newLogger(config.Log{Level: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

func TestQuiet(t *testing.T) {
	q := Quiet(config.Log{Level: "debug", File: "jambot.log", Format: "json"})
	require.Equal(t, "warn", q.Level)
	require.Empty(t, q.File)
	require.Equal(t, "json", q.Format)

	require.Equal(t, "error", Quiet(config.Log{Level: "error"}).Level)
}

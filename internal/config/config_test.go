package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jambot.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func chdirTemp(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir()) // keeps a developer .env out of the test
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv(PathEnv, "")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "sqlite", cfg.CatalogDriver)
	require.Equal(t, "jambot.db", cfg.CatalogPath)
	require.Equal(t, 50, cfg.DefaultVolume)
	require.Equal(t, 15*time.Second, cfg.SeekStep.Std())
	require.Equal(t, []string{"patrykstyla.com"}, cfg.UnsupportedDomains)
	require.Equal(t, "console", cfg.Log.Format)
}

func TestEnvOverridesFile(t *testing.T) {
	chdirTemp(t)
	path := writeConfig(t, `
discord_token = "from-file"
catalog_driver = "json"
catalog_path = "catalog.json"
default_volume = 80
seek_step = "30s"
unsupported_domains = ["a.example", "b.example"]

[log]
level = "debug"
format = "json"
`)
	t.Setenv("DISCORD_TOKEN", "from-env")
	t.Setenv("DEFAULT_VOLUME", "120")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.DiscordToken)
	require.Equal(t, "json", cfg.CatalogDriver)
	require.Equal(t, "catalog.json", cfg.CatalogPath)
	require.Equal(t, 120, cfg.DefaultVolume)
	require.Equal(t, 30*time.Second, cfg.SeekStep.Std())
	require.Equal(t, []string{"a.example", "b.example"}, cfg.UnsupportedDomains)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "files", cfg.FilesDir)
}

func TestEnvSeekStepAndDomains(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("SEEK_STEP", "5s")
	t.Setenv("UNSUPPORTED_DOMAINS", "x.example,y.example")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.SeekStep.Std())
	require.Equal(t, []string{"x.example", "y.example"}, cfg.UnsupportedDomains)
}

func TestExplicitMissingFileFails(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DISCORD_TOKEN", "token")
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.DiscordToken = "token"
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing token":  func(c *Config) { c.DiscordToken = " " },
		"unknown driver": func(c *Config) { c.CatalogDriver = "postgres" },
		"volume high":    func(c *Config) { c.DefaultVolume = 201 },
		"volume low":     func(c *Config) { c.DefaultVolume = -1 },
		"seek step":      func(c *Config) { c.SeekStep = 0 },
		"log format":     func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestReadSkipsValidation(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv(PathEnv, "")

	cfg, err := Read("")
	require.NoError(t, err)
	require.Equal(t, "jambot.db", cfg.CatalogPath)

	_, err = Load("")
	require.Error(t, err)
}

// Package config loads bot settings from an optional TOML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// PathEnv names the variable holding the TOML config path.
const PathEnv = "JAMBOT_CONFIG"

// Duration is a time.Duration read from text such as "15s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Log struct {
	Level      string `toml:"level" env:"LEVEL"`
	Format     string `toml:"format" env:"FORMAT"`
	File       string `toml:"file" env:"FILE"`
	MaxSizeMB  int    `toml:"max_size_mb" env:"MAX_SIZE_MB"`
	MaxBackups int    `toml:"max_backups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `toml:"max_age_days" env:"MAX_AGE_DAYS"`
}

type Config struct {
	DiscordToken string `toml:"discord_token" env:"DISCORD_TOKEN"`
	// CommandsGuildID registers slash commands to one guild instead of globally.
	CommandsGuildID string `toml:"commands_guild_id" env:"COMMANDS_GUILD_ID"`

	CatalogDriver string `toml:"catalog_driver" env:"CATALOG_DRIVER"`
	CatalogPath   string `toml:"catalog_path" env:"CATALOG_PATH"`
	FilesDir      string `toml:"files_dir" env:"FILES_DIR"`

	DefaultVolume int      `toml:"default_volume" env:"DEFAULT_VOLUME"`
	SeekStep      Duration `toml:"seek_step" env:"SEEK_STEP"`

	YTDLPPath          string   `toml:"ytdlp_path" env:"YTDLP_PATH"`
	FFmpegPath         string   `toml:"ffmpeg_path" env:"FFMPEG_PATH"`
	Proxy              string   `toml:"proxy" env:"PROXY"`
	UnsupportedDomains []string `toml:"unsupported_domains" env:"UNSUPPORTED_DOMAINS" envSeparator:","`
	PersistRate        int      `toml:"persist_rate" env:"PERSIST_RATE"`

	LockFile string `toml:"lock_file" env:"LOCK_FILE"`
	Log      Log    `toml:"log" envPrefix:"LOG_"`
}

func Default() Config {
	return Config{
		CatalogDriver:      "sqlite",
		CatalogPath:        "jambot.db",
		FilesDir:           "files",
		DefaultVolume:      50,
		SeekStep:           Duration(15 * time.Second),
		YTDLPPath:          "yt-dlp",
		FFmpegPath:         "ffmpeg",
		UnsupportedDomains: []string{"patrykstyla.com"},
		PersistRate:        6,
		LockFile:           "jambot.lock",
		Log: Log{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds and validates the config. path may be empty, in which case
// JAMBOT_CONFIG is consulted; a missing default file is not an error but an
// explicit one is.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that never connect to Discord.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(PathEnv)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DiscordToken) == "" {
		return errors.New("DISCORD_TOKEN is not set")
	}
	switch c.CatalogDriver {
	case "sqlite", "json":
	default:
		return fmt.Errorf("unknown catalog driver %q (want sqlite or json)", c.CatalogDriver)
	}
	if c.CatalogPath == "" {
		return errors.New("CATALOG_PATH must be set")
	}
	if c.DefaultVolume < 0 || c.DefaultVolume > 200 {
		return fmt.Errorf("DEFAULT_VOLUME must be between 0 and 200, got %d", c.DefaultVolume)
	}
	if c.SeekStep <= 0 {
		return errors.New("SEEK_STEP must be positive")
	}
	if c.PersistRate < 0 {
		return errors.New("PERSIST_RATE must not be negative")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q (want console or json)", c.Log.Format)
	}
	return nil
}

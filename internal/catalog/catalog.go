// Package catalog persists the per-guild list of downloaded tracks used for jam playback.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Entry identifies a downloaded asset by name and extension within a guild.
type Entry struct {
	GuildID   string    `json:"guild_id"`
	AudioName string    `json:"audio_name"`
	Ext       string    `json:"ext"`
	CreatedAt time.Time `json:"created_at"`
}

// FileName is the on-disk name of the asset.
func (e Entry) FileName() string {
	return e.AudioName + "." + e.Ext
}

// Catalog is implemented by every backend.
//
// Add is an idempotent upsert on (guild, name, ext). Delete removes every
// extension stored under the name for that guild and is a no-op when nothing
// matches. RandomPick reports ok=false for an empty guild.
type Catalog interface {
	Add(ctx context.Context, guildID, audioName, ext string) error
	RandomPick(ctx context.Context, guildID string) (Entry, bool, error)
	Delete(ctx context.Context, guildID, audioName string) error
	List(ctx context.Context, guildID string) ([]Entry, error)
	Close() error
}

// Open builds the backend named by driver.
func Open(driver, path string, log zerolog.Logger) (Catalog, error) {
	log = log.With().Str("component", "catalog").Str("driver", driver).Logger()

	switch driver {
	case DriverSQLite, "":
		return OpenSQLite(path, log)
	case DriverJSON:
		return OpenJSON(DefaultJSONConfig(path), log)
	default:
		return nil, fmt.Errorf("unknown catalog driver %q", driver)
	}
}

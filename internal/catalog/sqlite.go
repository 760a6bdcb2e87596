package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteStore keeps the catalog in a single jam_it table.
type SQLiteStore struct {
	db   *sql.DB
	path string
	log  zerolog.Logger
}

// OpenSQLite opens or creates the database at path and applies migrations.
func OpenSQLite(path string, log zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create catalog dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &SQLiteStore{db: db, path: path, log: log}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("catalog opened")
	return store, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add records an asset; duplicates are ignored.
func (s *SQLiteStore) Add(ctx context.Context, guildID, audioName, ext string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO jam_it (guild_id, audio_name, ext, created_at) VALUES (?, ?, ?, ?)`,
		guildID, audioName, ext, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert jam entry: %w", err)
	}
	return nil
}

// RandomPick draws one entry uniformly from the guild's rows.
func (s *SQLiteStore) RandomPick(ctx context.Context, guildID string) (Entry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT guild_id, audio_name, ext, created_at FROM jam_it WHERE guild_id = ? ORDER BY RANDOM() LIMIT 1`,
		guildID,
	)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("pick jam entry: %w", err)
	}
	return entry, true, nil
}

// Delete removes the named asset for one guild only.
func (s *SQLiteStore) Delete(ctx context.Context, guildID, audioName string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jam_it WHERE guild_id = ? AND audio_name = ?`,
		guildID, audioName,
	)
	if err != nil {
		return fmt.Errorf("delete jam entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.Debug().Str("guild_id", guildID).Str("audio_name", audioName).Int64("rows", n).Msg("catalog entry deleted")
	}
	return nil
}

// List returns the guild's entries ordered by name. An empty guildID lists every guild.
func (s *SQLiteStore) List(ctx context.Context, guildID string) ([]Entry, error) {
	query := `SELECT guild_id, audio_name, ext, created_at FROM jam_it`
	var args []any
	if guildID != "" {
		query += ` WHERE guild_id = ?`
		args = append(args, guildID)
	}
	query += ` ORDER BY guild_id, audio_name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jam entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan jam entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		entry   Entry
		created string
	)
	if err := row.Scan(&entry.GuildID, &entry.AudioName, &entry.Ext, &created); err != nil {
		return Entry{}, err
	}
	if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
		entry.CreatedAt = ts
	}
	return entry, nil
}

func (s *SQLiteStore) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Catalog {
	t.Helper()
	dir := t.TempDir()

	sqliteStore, err := Open(DriverSQLite, filepath.Join(dir, "jam.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	cfg := DefaultJSONConfig(filepath.Join(dir, "jam.json"))
	cfg.AutoSaveInterval = 0
	jsonStore, err := OpenJSON(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = jsonStore.Close() })

	return map[string]Catalog{
		DriverSQLite: sqliteStore,
		DriverJSON:   jsonStore,
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Add(ctx, "g1", "song", "webm"))
			require.NoError(t, c.Add(ctx, "g1", "song", "webm"))
			require.NoError(t, c.Add(ctx, "g1", "song", "m4a"))

			entries, err := c.List(ctx, "g1")
			require.NoError(t, err)
			require.Len(t, entries, 2)
		})
	}
}

func TestRandomPickEmptyAndSingle(t *testing.T) {
	ctx := context.Background()
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := c.RandomPick(ctx, "g1")
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, c.Add(ctx, "g1", "only", "webm"))
			for i := 0; i < 10; i++ {
				entry, ok, err := c.RandomPick(ctx, "g1")
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "only", entry.AudioName)
				require.Equal(t, "webm", entry.Ext)
				require.Equal(t, "only.webm", entry.FileName())
			}
		})
	}
}

func TestRandomPickCoversAllEntries(t *testing.T) {
	ctx := context.Background()
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			names := []string{"a", "b", "c", "d"}
			for _, n := range names {
				require.NoError(t, c.Add(ctx, "g1", n, "webm"))
			}
			require.NoError(t, c.Add(ctx, "g2", "other", "webm"))

			counts := map[string]int{}
			const trials = 800
			for i := 0; i < trials; i++ {
				entry, ok, err := c.RandomPick(ctx, "g1")
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "g1", entry.GuildID)
				counts[entry.AudioName]++
			}
			for _, n := range names {
				// expected 200 each; generous bounds keep the test stable
				require.Greater(t, counts[n], 100, "pick count for %s", n)
				require.Less(t, counts[n], 300, "pick count for %s", n)
			}
		})
	}
}

func TestDeleteIsGuildScoped(t *testing.T) {
	ctx := context.Background()
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, c.Add(ctx, "g1", "shared", "webm"))
			require.NoError(t, c.Add(ctx, "g2", "shared", "webm"))

			require.NoError(t, c.Delete(ctx, "g1", "shared"))
			require.NoError(t, c.Delete(ctx, "g1", "missing"))

			g1, err := c.List(ctx, "g1")
			require.NoError(t, err)
			require.Empty(t, g1)

			g2, err := c.List(ctx, "g2")
			require.NoError(t, err)
			require.Len(t, g2, 1)
		})
	}
}

func TestJSONStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jam.json")
	cfg := DefaultJSONConfig(path)
	cfg.AutoSaveInterval = 0

	store, err := OpenJSON(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, "g1", "song", "webm"))
	require.NoError(t, store.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reopened, err := OpenJSON(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer reopened.Close()

	entry, ok, err := reopened.RandomPick(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "song", entry.AudioName)

	require.ErrorIs(t, store.Add(ctx, "g1", "late", "webm"), ErrClosed)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("postgres", filepath.Join(t.TempDir(), "x"), zerolog.Nop())
	require.Error(t, err)
}

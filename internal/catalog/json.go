package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("catalog is closed")

// JSONConfig holds options for the file-backed catalog.
type JSONConfig struct {
	FilePath         string
	AutoSaveInterval time.Duration
	BackupCount      int // number of backup files to keep
}

// DefaultJSONConfig returns the default file catalog configuration.
func DefaultJSONConfig(filePath string) JSONConfig {
	return JSONConfig{
		FilePath:         filePath,
		AutoSaveInterval: 10 * time.Second,
		BackupCount:      3,
	}
}

// JSONStore keeps the catalog in memory and flushes it to a single JSON file.
type JSONStore struct {
	mu           sync.RWMutex
	saveMu       sync.Mutex
	data         map[string][]Entry // guild id -> entries
	cfg          JSONConfig
	log          zerolog.Logger
	lastChecksum string
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// OpenJSON loads the file at cfg.FilePath, creating it when missing, and
// starts the autosave loop.
func OpenJSON(cfg JSONConfig, log zerolog.Logger) (*JSONStore, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	store := &JSONStore{
		data:   make(map[string][]Entry),
		cfg:    cfg,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := os.Stat(cfg.FilePath); errors.Is(err, os.ErrNotExist) {
		if err := store.writeFileAtomic([]byte("{}")); err != nil {
			cancel()
			return nil, fmt.Errorf("create empty catalog file: %w", err)
		}
	} else if err == nil {
		if err := store.load(); err != nil {
			cancel()
			return nil, fmt.Errorf("load catalog file: %w", err)
		}
	} else {
		cancel()
		return nil, fmt.Errorf("stat catalog file: %w", err)
	}

	if cfg.AutoSaveInterval > 0 {
		store.wg.Add(1)
		go store.autoSave()
	}
	return store, nil
}

func (s *JSONStore) Add(_ context.Context, guildID, audioName, ext string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	entries := s.data[guildID]
	for _, e := range entries {
		if e.AudioName == audioName && e.Ext == ext {
			return nil
		}
	}
	s.data[guildID] = append(entries, Entry{
		GuildID:   guildID,
		AudioName: audioName,
		Ext:       ext,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *JSONStore) RandomPick(_ context.Context, guildID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Entry{}, false, ErrClosed
	}

	entries := s.data[guildID]
	if len(entries) == 0 {
		return Entry{}, false, nil
	}
	return entries[rand.IntN(len(entries))], true, nil
}

func (s *JSONStore) Delete(_ context.Context, guildID, audioName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	entries := slices.DeleteFunc(s.data[guildID], func(e Entry) bool {
		return e.AudioName == audioName
	})
	if len(entries) == 0 {
		delete(s.data, guildID)
	} else {
		s.data[guildID] = entries
	}
	return nil
}

func (s *JSONStore) List(_ context.Context, guildID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []Entry
	for gid, entries := range s.data {
		if guildID != "" && gid != guildID {
			continue
		}
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GuildID != out[j].GuildID {
			return out[i].GuildID < out[j].GuildID
		}
		return out[i].AudioName < out[j].AudioName
	})
	return out, nil
}

// Close stops autosave and flushes pending changes.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	return s.save()
}

// Save forces an immediate flush to disk.
func (s *JSONStore) Save() error {
	return s.save()
}

func (s *JSONStore) save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}

	checksum := checksumOf(data)
	if checksum == s.lastChecksum {
		return nil
	}

	if s.cfg.BackupCount > 0 {
		if err := s.createBackup(); err != nil {
			s.log.Warn().Err(err).Msg("catalog backup failed")
		}
	}
	if err := s.writeFileAtomic(data); err != nil {
		return err
	}
	s.lastChecksum = checksum
	return nil
}

func (s *JSONStore) load() error {
	data, err := os.ReadFile(s.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var parsed map[string][]Entry
	if err := json.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("invalid JSON format: %w", err)
	}
	if parsed == nil {
		parsed = make(map[string][]Entry)
	}

	s.mu.Lock()
	s.data = parsed
	s.mu.Unlock()
	s.lastChecksum = checksumOf(data)
	return nil
}

// writeFileAtomic writes to a temp file, syncs it and renames it over the target.
func (s *JSONStore) writeFileAtomic(data []byte) error {
	tmpFile := s.cfg.FilePath + ".tmp"

	f, err := os.OpenFile(tmpFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpFile)
		return fmt.Errorf("sync temp file: %w", err)
	}
	f.Close()

	if err := os.Rename(tmpFile, s.cfg.FilePath); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *JSONStore) createBackup() error {
	src, err := os.Open(s.cfg.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer src.Close()

	backupFile := fmt.Sprintf("%s.backup.%s", s.cfg.FilePath, time.Now().Format("20060102_150405.000"))
	dst, err := os.Create(backupFile)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	s.cleanupOldBackups()
	return nil
}

// cleanupOldBackups keeps the newest BackupCount files. Backup names sort by timestamp.
func (s *JSONStore) cleanupOldBackups() {
	matches, err := filepath.Glob(s.cfg.FilePath + ".backup.*")
	if err != nil || len(matches) <= s.cfg.BackupCount {
		return
	}
	sort.Strings(matches)
	for _, path := range matches[:len(matches)-s.cfg.BackupCount] {
		os.Remove(path)
	}
}

func (s *JSONStore) autoSave() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AutoSaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.save(); err != nil {
				s.log.Error().Err(err).Msg("catalog autosave failed")
			}
		}
	}
}

func checksumOf(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

package signalcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// FileStore keeps one JSON file per cache name under a base directory.
// Writes go to a temp file in the same directory followed by a rename, so
// a crash never leaves a half-written cache file.
type FileStore struct {
	dir    string
	ttl    time.Duration
	logger *logrus.Logger
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string, ttl time.Duration, logger *logrus.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileStore{dir: dir, ttl: ttl, logger: logger}, nil
}

// Get reads and validates the entry for name.
func (s *FileStore) Get(_ context.Context, name string) (*models.CacheEntry, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entry: treat as a miss so the caller recomputes and
		// overwrites it.
		s.logger.WithFields(logrus.Fields{
			"cache": name,
			"error": err.Error(),
		}).Warn("Discarding corrupt cache entry")
		return nil, ErrCacheMiss
	}

	if !entry.Fresh(time.Now(), s.ttl) {
		s.logger.WithFields(logrus.Fields{
			"cache":       name,
			"computed_at": entry.ComputedAt,
		}).Debug("Cache entry expired")
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Put atomically replaces the entry for name.
func (s *FileStore) Put(_ context.Context, name string, entry *models.CacheEntry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp cache file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path(name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace cache file: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"cache":   name,
		"symbols": len(entry.Signals),
	}).Debug("Cache entry written")

	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

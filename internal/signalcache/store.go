// Package signalcache persists computed signal maps across cycles and
// process restarts. An entry is usable only while its age is under the
// configured TTL; stale or corrupt entries are reported as misses so the
// caller recomputes and overwrites, never reads a partial result.
package signalcache

import (
	"context"
	"errors"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

// ErrCacheMiss is returned when no usable entry exists for a cache name,
// whether because it is absent, expired, or unreadable.
var ErrCacheMiss = errors.New("signal cache miss")

// Store persists one CacheEntry per cache name.
type Store interface {
	// Get returns the entry for name, or ErrCacheMiss when no fresh entry
	// exists.
	Get(ctx context.Context, name string) (*models.CacheEntry, error)
	// Put overwrites the entry for name.
	Put(ctx context.Context, name string, entry *models.CacheEntry) error
}

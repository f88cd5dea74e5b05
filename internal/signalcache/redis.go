package signalcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/CasualCodersProjects/autostonks/internal/models"
)

const redisKeyPrefix = "signal_cache:"

// RedisStore keeps cache entries in Redis with a server-side TTL. The
// computed_at timestamp is still validated at read time, so an entry that
// outlives its TTL through clock drift is discarded rather than served.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

// Get reads and validates the entry for name.
func (s *RedisStore) Get(ctx context.Context, name string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+name).Result()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		s.logger.WithFields(logrus.Fields{
			"cache": name,
			"error": err.Error(),
		}).Warn("Discarding corrupt cache entry")
		return nil, ErrCacheMiss
	}

	if !entry.Fresh(time.Now(), s.ttl) {
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Put overwrites the entry for name with a server-side expiry.
func (s *RedisStore) Put(ctx context.Context, name string, entry *models.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+name, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"cache":   name,
		"symbols": len(entry.Signals),
		"ttl":     s.ttl,
	}).Debug("Cache entry written")

	return nil
}

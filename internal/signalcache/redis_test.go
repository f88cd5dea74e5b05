package signalcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, ttl, quietLogger()), mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, _ := newTestRedisStore(t, 12*time.Hour)
	ctx := context.Background()

	put := sampleEntry(0)
	require.NoError(t, store.Put(ctx, "signals", put))

	got, err := store.Get(ctx, "signals")
	require.NoError(t, err)
	require.Len(t, got.Signals, 2)
	assert.True(t, got.Signals["AAPL"].Equal(decimal.RequireFromString("1.25")))
}

func TestRedisStoreMissingEntry(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)

	_, err := store.Get(context.Background(), "signals")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreServerSideExpiry(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "signals", sampleEntry(0)))
	assert.Greater(t, mr.TTL(redisKeyPrefix+"signals"), time.Duration(0))

	mr.FastForward(2 * time.Hour)

	_, err := store.Get(ctx, "signals")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreStaleTimestampDiscarded(t *testing.T) {
	store, _ := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	// The server-side TTL starts at write time, but the entry itself was
	// computed hours ago. The read-time check catches it.
	require.NoError(t, store.Put(ctx, "signals", sampleEntry(3*time.Hour)))

	_, err := store.Get(ctx, "signals")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStoreCorruptEntry(t *testing.T) {
	store, mr := newTestRedisStore(t, time.Hour)

	require.NoError(t, mr.Set(redisKeyPrefix+"signals", "{not json"))

	_, err := store.Get(context.Background(), "signals")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/env"
)

const isolatedCacheTestRedisDB = 13

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")
	c := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       isolatedCacheTestRedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	err := c.Ping(ctx).Err()
	cancel()
	if err != nil {
		_ = c.Close()
		t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", err)
	}
	require.NoError(t, c.FlushDB(context.Background()).Err())
	t.Cleanup(func() {
		_ = c.FlushDB(context.Background()).Err()
		_ = c.Close()
	})
	return c
}

func TestLocker_TryLockAndUnlock(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	l := NewLocker(c)

	token, ok, err := l.TryLock(ctx, "plusledger:webhook:stripe:evt_1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.TryLock(ctx, "plusledger:webhook:stripe:evt_1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second caller must not get the lock")

	// A stale token does not release someone else's lock.
	require.NoError(t, l.Unlock(ctx, "plusledger:webhook:stripe:evt_1", "not-the-owner"))
	assert.Equal(t, int64(1), c.Exists(ctx, "plusledger:webhook:stripe:evt_1").Val())

	require.NoError(t, l.Unlock(ctx, "plusledger:webhook:stripe:evt_1", token))
	assert.Zero(t, c.Exists(ctx, "plusledger:webhook:stripe:evt_1").Val())
}

func TestLease_SingleHolder(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()

	a := NewLease(c, "plusledger:lease:sweepers", 2*time.Second)
	b := NewLease(c, "plusledger:lease:sweepers", 2*time.Second)
	require.NotEqual(t, a.Owner(), b.Owner())

	ok, err := a.Hold(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Hold(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// Holding again renews.
	ok, err = a.Hold(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx), "releasing a lease you do not own is a no-op")
	assert.Equal(t, a.Owner(), c.Get(ctx, "plusledger:lease:sweepers").Val())

	require.NoError(t, a.Release(ctx))
	ok, err = b.Hold(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

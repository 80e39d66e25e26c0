package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLockExclusive(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir, time.Minute)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Tiktok Metrics")
	require.NoError(t, err)
	assert.FileExists(t, lock.path("Tiktok Metrics"))

	waitCtx, cancel := context.WithTimeout(ctx, 150*time.Millisecond)
	_, err = lock.Acquire(waitCtx, "Tiktok Metrics")
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := lock.Acquire(ctx, "Instagram Metrics")
	require.NoError(t, err, "locks are per sheet")
	require.NoError(t, other())

	require.NoError(t, release())
	assert.NoFileExists(t, lock.path("Tiktok Metrics"))

	again, err := lock.Acquire(ctx, "Tiktok Metrics")
	require.NoError(t, err)
	require.NoError(t, again())
}

func TestFileLockTakesOverStaleLock(t *testing.T) {
	dir := t.TempDir()
	lock := NewFileLock(dir, 50*time.Millisecond)

	path := lock.path("Tiktok Metrics")
	require.NoError(t, os.WriteFile(path, []byte("999\n"), 0644))
	old := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(path, old, old))

	release, err := lock.Acquire(context.Background(), "Tiktok Metrics")
	require.NoError(t, err)
	require.NoError(t, release())
}

func newRedisLock(t *testing.T, ttl time.Duration) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	lock := NewRedisLock(rdb, ttl)
	t.Cleanup(func() { _ = lock.Close() })
	return lock, mr
}

func TestRedisLockExclusive(t *testing.T) {
	lock, mr := newRedisLock(t, 200*time.Millisecond)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, "Tiktok Metrics")
	require.NoError(t, err)
	assert.True(t, mr.Exists("clipmetrics:lock:tiktok_metrics"))

	_, err = lock.Acquire(ctx, "Tiktok Metrics")
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, release())
	assert.False(t, mr.Exists("clipmetrics:lock:tiktok_metrics"))
}

func TestRedisLockReleaseKeepsForeignToken(t *testing.T) {
	lock, mr := newRedisLock(t, time.Second)

	release, err := lock.Acquire(context.Background(), "Tiktok Metrics")
	require.NoError(t, err)

	// The key expired and another run took it over.
	require.NoError(t, mr.Set("clipmetrics:lock:tiktok_metrics", "someone-else"))

	require.NoError(t, release())
	got, err := mr.Get("clipmetrics:lock:tiktok_metrics")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedisLockExpires(t *testing.T) {
	lock, mr := newRedisLock(t, time.Second)
	ctx := context.Background()

	_, err := lock.Acquire(ctx, "Tiktok Metrics")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := lock.Acquire(ctx, "Tiktok Metrics")
	require.NoError(t, err)
	require.NoError(t, release())
}

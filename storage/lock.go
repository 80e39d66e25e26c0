package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another run keeps a sheet locked past the wait limit.
var ErrLockHeld = errors.New("lock held by another run")

const lockPoll = 100 * time.Millisecond

// NopLocker does no locking. The caller guarantees a single writer.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string) (func() error, error) {
	return func() error { return nil }, nil
}

// FileLock holds a per-sheet lock file created with O_EXCL. A lock file
// older than ttl is considered abandoned and taken over.
type FileLock struct {
	dir string
	ttl time.Duration
}

func NewFileLock(dir string, ttl time.Duration) *FileLock {
	return &FileLock{dir: dir, ttl: ttl}
}

func (l *FileLock) path(name string) string {
	return filepath.Join(l.dir, lockSlug(name)+".lock")
}

func (l *FileLock) Acquire(ctx context.Context, name string) (func() error, error) {
	path := l.path(name)
	deadline := time.Now().Add(l.ttl)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() error {
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return err
				}
				return nil
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("lock: create %s: %w", path, err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > l.ttl {
			_ = os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

// releaseScript deletes the lock key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock holds a per-sheet lock key with SET NX and a ttl, so a crashed
// run cannot keep the sheet locked for longer than ttl.
type RedisLock struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLock(rdb *redis.Client, ttl time.Duration) *RedisLock {
	return &RedisLock{rdb: rdb, ttl: ttl}
}

func (l *RedisLock) key(name string) string {
	return "clipmetrics:lock:" + lockSlug(name)
}

func (l *RedisLock) Acquire(ctx context.Context, name string) (func() error, error) {
	key := l.key(name)
	token := uuid.NewString()
	deadline := time.Now().Add(l.ttl)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock: redis setnx %s: %w", key, err)
		}
		if ok {
			return func() error {
				return releaseScript.Run(context.Background(), l.rdb, []string{key}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, key)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPoll):
		}
	}
}

// Close closes the underlying redis connection.
func (l *RedisLock) Close() error {
	return l.rdb.Close()
}

func lockSlug(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

package jobqueue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks", "queue.lock")
	locker := NewFileLocker(path)

	guard, err := locker.Acquire(ctx)
	require.NoError(t, err)

	_, err = NewFileLocker(path).Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	require.NoError(t, guard.Release(ctx))
	require.NoError(t, guard.Release(ctx), "release is idempotent")

	again, err := locker.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestFileLocker_ConcurrentAcquire(t *testing.T) {
	ctx := context.Background()
	locker := NewFileLocker(filepath.Join(t.TempDir(), "queue.lock"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		held    int
		guards  []Guard
		workers = 8
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			g, err := locker.Acquire(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				won++
				guards = append(guards, g)
				return
			}
			if assert.ErrorIs(t, err, ErrLockHeld) {
				held++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.Equal(t, workers-1, held)
	for _, g := range guards {
		require.NoError(t, g.Release(ctx))
	}
}

func TestRedisLocker(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	locker := NewRedisLocker(client, LockKey, time.Minute)

	guard, err := locker.Acquire(ctx)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLockHeld)

	ttl, err := client.PTTL(ctx, LockKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, guard.Release(ctx))
	require.NoError(t, guard.Release(ctx))

	again, err := locker.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLocker_DoesNotReleaseForeignLock(t *testing.T) {
	client := newIsolatedRedisClient(t, isolatedJobQueueTestRedisDB)
	ctx := context.Background()
	locker := NewRedisLocker(client, LockKey, time.Minute)

	guard, err := locker.Acquire(ctx)
	require.NoError(t, err)

	// lock expired and was taken by another worker
	require.NoError(t, client.Set(ctx, LockKey, "someone-else", time.Minute).Err())
	require.NoError(t, guard.Release(ctx))

	val, err := client.Get(ctx, LockKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}

func TestNewRedisLocker_DefaultTTL(t *testing.T) {
	l := NewRedisLocker(nil, LockKey, 0)
	assert.Equal(t, DefaultLockTTL, l.ttl)
}

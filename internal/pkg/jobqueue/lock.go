package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

// Locker hands out the single process lock. Acquire never blocks.
type Locker interface {
	Acquire(ctx context.Context) (Guard, error)
}

// Guard is a held lock. Release is safe to call more than once.
type Guard interface {
	Release(ctx context.Context) error
}

// DefaultLockTTL bounds how long a crashed worker can keep the Redis lock.
const DefaultLockTTL = 10 * time.Minute

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by all instances using the same Redis.
type RedisLocker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisLocker creates a lock on key. ttl <= 0 uses DefaultLockTTL.
func NewRedisLocker(client *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisLocker{client: client, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (Guard, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &redisGuard{locker: l, token: token}, nil
}

type redisGuard struct {
	locker *RedisLocker
	token  string
	once   sync.Once
	err    error
}

func (g *redisGuard) Release(ctx context.Context) error {
	g.once.Do(func() {
		err := releaseScript.Run(ctx, g.locker.client, []string{g.locker.key}, g.token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			g.err = fmt.Errorf("failed to release lock: %w", err)
		}
	})
	return g.err
}

// FileLocker uses flock on a lock file, for single host deployments.
type FileLocker struct {
	path string
}

// NewFileLocker creates a lock on path. The directory is created if missing.
func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

func (l *FileLocker) Acquire(_ context.Context) (Guard, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLockHeld
		}
		return nil, fmt.Errorf("failed to lock %s: %w", l.path, err)
	}
	return &fileGuard{file: f}, nil
}

type fileGuard struct {
	file *os.File
	once sync.Once
	err  error
}

func (g *fileGuard) Release(_ context.Context) error {
	g.once.Do(func() {
		if err := unix.Flock(int(g.file.Fd()), unix.LOCK_UN); err != nil {
			g.err = err
		}
		if err := g.file.Close(); err != nil && g.err == nil {
			g.err = err
		}
	})
	return g.err
}

// NewLockerFromEnv picks the lock implementation from QUEUE_LOCK_DRIVER.
func NewLockerFromEnv(client *redis.Client) Locker {
	switch env.GetEnv("QUEUE_LOCK_DRIVER", "redis") {
	case "file":
		return NewFileLocker(env.GetEnv("QUEUE_LOCK_FILE", filepath.Join(os.TempDir(), "swedbankpay-queue.lock")))
	default:
		return NewRedisLocker(client, LockKey, env.GetDuration("QUEUE_LOCK_TTL", DefaultLockTTL))
	}
}

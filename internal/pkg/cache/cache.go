package cache

import (
	"context"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

var (
	client *redis.Client
	mu     sync.RWMutex
)

// Options returns the connection settings read from the environment.
func Options() *redis.Options {
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%s", env.GetEnv("CACHE_HOST", "localhost"), env.GetEnv("CACHE_PORT", "6379")),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetInt("CACHE_DB", 0),
	}
}

// SetupCache initializes the shared Redis connection used by the job store and the lock
func SetupCache() {
	c := redis.NewClient(Options())

	pong, err := c.Ping(context.Background()).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", c.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to Redis: %s", pong)
	}

	mu.Lock()
	old := client
	client = c
	mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

// SetClient replaces the shared client (tests use an isolated DB).
func SetClient(c *redis.Client) {
	mu.Lock()
	defer mu.Unlock()
	client = c
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	mu.RLock()
	c := client
	mu.RUnlock()
	if c == nil {
		SetupCache()
		mu.RLock()
		c = client
		mu.RUnlock()
	}
	return c
}

// Ping reports whether Redis is reachable.
func Ping(ctx context.Context) error {
	return GetClient().Ping(ctx).Err()
}

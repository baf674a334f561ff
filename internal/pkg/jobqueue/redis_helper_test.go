package jobqueue

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

// Redis tests run on their own database and are flushed before and after.
const isolatedJobQueueTestRedisDB = 14

// testRedisAddrs lists the addresses tried in order: the configured cache,
// the compose service name, then the local default.
func testRedisAddrs() []string {
	addrs := []string{}
	if host := env.GetEnv("CACHE_HOST", ""); host != "" {
		addrs = append(addrs, net.JoinHostPort(host, env.GetEnv("CACHE_PORT", "6379")))
	}
	return append(addrs, "cache:6379", "127.0.0.1:6379")
}

func newIsolatedRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	var lastErr error
	for _, addr := range testRedisAddrs() {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			lastErr = err
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush redis db %d at %s: %v", db, addr, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

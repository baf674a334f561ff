package router

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/cache"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

// HttpRouter installs the public routes: callback ingress, health and metrics.
type HttpRouter struct {
	limiterStorage fiber.Storage
	rateLimit      int
	ping           func(ctx context.Context) error
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	h.registerPublicRoutes(app)
}

// NewHttpRouter creates the public router. A nil storage keeps the limiter
// counters in memory.
func NewHttpRouter(storage fiber.Storage) *HttpRouter {
	return &HttpRouter{
		limiterStorage: storage,
		rateLimit:      env.GetInt("WEBHOOK_RATE_LIMIT", 120),
		ping:           cache.Ping,
	}
}

// NewLimiterStorageFromEnv returns a Redis backed limiter storage on its own
// database, or nil when LIMITER_STORAGE=memory.
func NewLimiterStorageFromEnv() fiber.Storage {
	if env.GetEnv("LIMITER_STORAGE", "redis") == "memory" {
		return nil
	}

	// Reuse the address of the shared cache client
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient := cache.GetClient(); cacheClient != nil {
		if h, p, err := net.SplitHostPort(cacheClient.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	log.Infof("[Router] Webhook rate limiter uses Redis at %s:%d", host, port)
	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetInt("LIMITER_REDIS_DB", 2), // job store uses CACHE_DB
		Reset:    false,
	})
}

func (h HttpRouter) webhookLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        h.rateLimit,
		Expiration: time.Minute,
		Storage:    h.limiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "swedbankpay_callback:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Warnf("[Router] Callback rate limit reached for %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	redisStatus := "ok"
	if h.ping != nil {
		if err := h.ping(ctx); err != nil {
			redisStatus = "unavailable"
		}
	}
	return c.JSON(fiber.Map{
		"status": "ok",
		"redis":  redisStatus,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

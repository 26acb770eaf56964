package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	redisstorage "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/vpnshop/paycore/internal/pkg/config"
)

// SetupCache connects to Redis. A failed ping is logged but not fatal: the
// payment core works without Redis, only counters and the outbox relay pause.
func SetupCache(cfg config.CacheConfig) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", cfg.Addr(), err)
	} else {
		log.Infof("[Cache] Successfully connected to Redis: %s", pong)
	}
	return client
}

// NewLimiterStorage returns the fiber storage backing the webhook rate
// limiter, on its own logical database so limiter keys never mix with
// counters.
func NewLimiterStorage(cfg config.CacheConfig) fiber.Storage {
	return redisstorage.New(redisstorage.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.LimiterDB,
		Reset:    false,
	})
}

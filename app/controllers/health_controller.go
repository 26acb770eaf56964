package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/internal/pkg/billing"
)

// HealthController reports liveness of the database and Redis.
type HealthController struct {
	db      *gorm.DB
	redis   *redis.Client
	service *billing.Service
}

// NewHealthController accepts a nil Redis client for deployments without
// Redis; it is then reported as "disabled".
func NewHealthController(db *gorm.DB, rdb *redis.Client, service *billing.Service) *HealthController {
	return &HealthController{db: db, redis: rdb, service: service}
}

func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	healthy := true
	dbStatus := "ok"
	if sqlDB, err := hc.db.DB(); err != nil {
		dbStatus, healthy = err.Error(), false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus, healthy = err.Error(), false
	}

	redisStatus := "disabled"
	if hc.redis != nil {
		redisStatus = "ok"
		if err := hc.redis.Ping(ctx).Err(); err != nil {
			redisStatus, healthy = err.Error(), false
		}
	}

	providers, err := hc.service.EnabledProviders()
	if err != nil {
		healthy = false
	}
	if providers == nil {
		providers = []string{}
	}

	status := fiber.StatusOK
	state := "ok"
	if !healthy {
		status, state = fiber.StatusServiceUnavailable, "degraded"
	}
	return c.Status(status).JSON(fiber.Map{
		"status":            state,
		"database":          dbStatus,
		"redis":             redisStatus,
		"enabled_providers": providers,
	})
}

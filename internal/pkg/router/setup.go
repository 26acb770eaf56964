package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/config"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps carries what the routes need. Redis and LimiterStorage are optional:
// without them health reports Redis as disabled and the limiter keeps its
// counters in memory.
type Deps struct {
	Config         *config.Config
	DB             *gorm.DB
	Redis          *redis.Client
	LimiterStorage fiber.Storage
	Service        *billing.Service
	Clients        repository.APIClientRepository
}

// AppConfig returns the fiber settings for the public listener. Provider
// allow-lists match on c.IP(), so forwarded addresses are honoured only when
// the request comes from a configured proxy.
func AppConfig(cfg config.AppConfig) fiber.Config {
	fc := fiber.Config{
		AppName:            "paycore",
		BodyLimit:          1 << 20,
		EnableIPValidation: true,
	}
	if len(cfg.TrustedProxies) > 0 {
		fc.ProxyHeader = fiber.HeaderXForwardedFor
		fc.EnableTrustedProxyCheck = true
		fc.TrustedProxies = cfg.TrustedProxies
	}
	return fc
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

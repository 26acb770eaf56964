package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"golang.org/x/crypto/bcrypt"

	"github.com/vpnshop/paycore/app/controllers"
)

// HttpRouter installs the public surface: provider webhooks, health and the
// monitor page.
type HttpRouter struct {
	deps Deps
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	health := controllers.NewHealthController(h.deps.DB, h.deps.Redis, h.deps.Service)
	app.Get("/health", health.HandleHealth)

	timeout := time.Duration(0)
	if h.deps.Config != nil {
		timeout = h.deps.Config.Webhook.HandlerTimeout
	}
	webhooks := controllers.NewWebhookController(h.deps.Service, timeout)
	app.Post("/webhooks/:provider", h.webhookLimiter(), webhooks.HandleWebhook)

	if h.deps.Config != nil && h.deps.Config.App.MonitorPasswordHash != "" {
		app.Get("/metrics", h.monitorAuth(), monitor.New(monitor.Config{Title: "paycore"}))
	}
}

func NewHttpRouter(deps Deps) *HttpRouter {
	return &HttpRouter{deps: deps}
}

// webhookLimiter limits deliveries per provider and source address.
func (h HttpRouter) webhookLimiter() fiber.Handler {
	limit, window := 120, time.Minute
	if h.deps.Config != nil {
		if h.deps.Config.Webhook.RateLimitMax > 0 {
			limit = h.deps.Config.Webhook.RateLimitMax
		}
		if h.deps.Config.Webhook.RateLimitWindow > 0 {
			window = h.deps.Config.Webhook.RateLimitWindow
		}
	}
	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: window,
		Storage:    h.deps.LimiterStorage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "webhook:" + c.Params("provider") + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	})
}

func (h HttpRouter) monitorAuth() fiber.Handler {
	user := h.deps.Config.App.MonitorUser
	hash := []byte(h.deps.Config.App.MonitorPasswordHash)
	return basicauth.New(basicauth.Config{
		Authorizer: func(u, p string) bool {
			return u == user && bcrypt.CompareHashAndPassword(hash, []byte(p)) == nil
		},
	})
}

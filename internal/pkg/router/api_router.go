package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/vpnshop/paycore/app/controllers"
	apiv1 "github.com/vpnshop/paycore/internal/api/v1"
	"github.com/vpnshop/paycore/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{Max: 300}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "paycore api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiServer := apiv1.NewAPIServer(
		controllers.NewPaymentController(h.deps.Service),
		controllers.NewAdminController(h.deps.Service),
	)
	apiv1.RegisterHandlers(v1, apiServer, middleware.APIKeyAuth(h.deps.Clients))
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

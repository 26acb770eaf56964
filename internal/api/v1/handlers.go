package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep response shapes in one place
	"github.com/vpnshop/paycore/app/controllers"
	"github.com/vpnshop/paycore/internal/pkg/middleware"
)

// APIServer groups the internal v1 endpoints.
type APIServer struct {
	payments *controllers.PaymentController
	admin    *controllers.AdminController
}

func NewAPIServer(payments *controllers.PaymentController, admin *controllers.AdminController) *APIServer {
	return &APIServer{payments: payments, admin: admin}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

func (s *APIServer) PostPayment(c *fiber.Ctx) error {
	return s.payments.HandleCreatePayment(c)
}

func (s *APIServer) GetPayment(c *fiber.Ctx) error {
	return s.payments.HandleGetPayment(c)
}

func (s *APIServer) GetUserPayments(c *fiber.Ctx) error {
	return s.payments.HandleListUserPayments(c)
}

func (s *APIServer) GetIssues(c *fiber.Ctx) error {
	return s.admin.HandleListIssues(c)
}

func (s *APIServer) PostResolveIssue(c *fiber.Ctx) error {
	return s.admin.HandleResolveIssue(c)
}

func (s *APIServer) GetProviders(c *fiber.Ctx) error {
	return s.admin.HandleListProviders(c)
}

func (s *APIServer) PutProvider(c *fiber.Ctx) error {
	return s.admin.HandleSetProvider(c)
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers mounts the v1 routes on router. auth authenticates every
// route except ping; admin routes additionally require the admin role.
func RegisterHandlers(router fiber.Router, s *APIServer, auth fiber.Handler) {
	router.Get("/ping", s.GetPing)

	router.Post("/payments", auth, s.PostPayment)
	router.Get("/payments/:order_id", auth, s.GetPayment)
	router.Get("/users/:user_id/payments", auth, s.GetUserPayments)

	admin := router.Group("/admin", auth, middleware.RequireAdmin)
	admin.Get("/issues", s.GetIssues)
	admin.Post("/issues/:id/resolve", s.PostResolveIssue)
	admin.Get("/providers", s.GetProviders)
	admin.Put("/providers/:provider", s.PutProvider)
}

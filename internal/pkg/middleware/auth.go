package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/vpnshop/paycore/internal/pkg/usercontext"
)

// RequireAdmin ensures the API caller has the admin role. It runs after
// APIKeyAuth.
func RequireAdmin(c *fiber.Ctx) error {
	cc := usercontext.GetClientContext(c)
	if !cc.Authenticated {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "API key required",
		})
	}
	if !cc.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin role required",
		})
	}
	return c.Next()
}

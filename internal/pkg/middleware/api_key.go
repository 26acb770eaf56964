package middleware

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/usercontext"
)

// APIKeyAuth authenticates internal callers carrying an API key header
// against the stored key hashes.
func APIKeyAuth(clients repository.APIClientRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		client, err := clients.GetByAPIKeyHash(models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[API] API key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}
		if !client.IsActive() {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "API key revoked"})
		}

		// Refresh last-used timestamp best-effort.
		if err := clients.TouchLastUsed(client.ID, time.Now().UTC()); err != nil {
			log.Warnf("[API] Failed to update last use of client %s: %v", client.Name, err)
		}

		c.Locals(usercontext.KeyClient, usercontext.ClientContext{
			ClientID:      client.ID,
			Name:          client.Name,
			Role:          client.Role,
			Authenticated: true,
			IsAdmin:       client.IsAdmin(),
		})
		c.Locals(usercontext.KeyClientID, client.ID)
		c.Locals(usercontext.KeyIsAdmin, client.IsAdmin())

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

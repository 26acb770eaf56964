package usercontext

import "github.com/gofiber/fiber/v2"

// ClientContext identifies the internal caller behind an API request.
type ClientContext struct {
	ClientID      uint   `json:"client_id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Authenticated bool   `json:"authenticated"`
	IsAdmin       bool   `json:"is_admin"`
}

// GetClientContext retrieves the caller from the fiber context.
// Returns an anonymous context if none is set.
func GetClientContext(c *fiber.Ctx) ClientContext {
	if ctx, ok := c.Locals(KeyClient).(ClientContext); ok {
		return ctx
	}
	return ClientContext{}
}

func IsAdmin(c *fiber.Ctx) bool {
	return GetClientContext(c).IsAdmin
}

// GetClientName returns the caller's name, or "anonymous".
func GetClientName(c *fiber.Ctx) string {
	if name := GetClientContext(c).Name; name != "" {
		return name
	}
	return "anonymous"
}

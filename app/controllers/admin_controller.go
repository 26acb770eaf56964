package controllers

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/usercontext"
)

// AdminController handles the review queue and the provider switches.
type AdminController struct {
	service *billing.Service
}

func NewAdminController(service *billing.Service) *AdminController {
	return &AdminController{service: service}
}

// HandleListIssues lists reconciliation issues. Query: kind, provider,
// resolved (true/false), offset, limit.
func (ac *AdminController) HandleListIssues(c *fiber.Ctx) error {
	filter := billing.IssueFilter{
		Kind:     strings.TrimSpace(c.Query("kind")),
		Provider: c.Query("provider"),
		Offset:   c.QueryInt("offset", 0),
		Limit:    c.QueryInt("limit", 50),
	}
	if raw := c.Query("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return apiError(c, fiber.StatusBadRequest, "bad_request", "resolved must be true or false")
		}
		filter.Resolved = &resolved
	}

	issues, err := ac.service.ListIssues(c.UserContext(), filter)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"issues": issues, "count": len(issues)})
}

type resolveIssueRequest struct {
	Note string `json:"note"`
}

func (ac *AdminController) HandleResolveIssue(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "invalid issue id")
	}
	var req resolveIssueRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apiError(c, fiber.StatusBadRequest, "invalid_payload", "request body must be JSON")
		}
	}

	by := usercontext.GetClientName(c)
	if err := ac.service.ResolveIssue(c.UserContext(), uint(id), by, req.Note); err != nil {
		return writeServiceError(c, err)
	}
	log.Infof("[Admin] Issue %d resolved by %s", id, by)
	return c.JSON(fiber.Map{"ok": true, "id": id})
}

func (ac *AdminController) HandleListProviders(c *fiber.Ctx) error {
	states, err := ac.service.Providers()
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"providers": states})
}

type providerSwitchRequest struct {
	Enabled *bool `json:"enabled"`
}

// HandleSetProvider switches a provider on or off at runtime. A provider
// without credentials stays unavailable regardless of the switch.
func (ac *AdminController) HandleSetProvider(c *fiber.Ctx) error {
	var req providerSwitchRequest
	if err := c.BodyParser(&req); err != nil || req.Enabled == nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_payload", `body must be {"enabled": true|false}`)
	}
	provider := c.Params("provider")
	if err := ac.service.SetProviderEnabled(provider, *req.Enabled, usercontext.GetClientName(c)); err != nil {
		return writeServiceError(c, err)
	}
	return ac.HandleListProviders(c)
}

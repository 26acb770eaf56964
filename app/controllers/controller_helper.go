package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

func apiError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// statusForError maps the payment error taxonomy onto HTTP.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		return fiber.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, payment.ErrMalformedPayload):
		return fiber.StatusBadRequest, "invalid_payload"
	case errors.Is(err, payment.ErrProviderDisabled):
		return fiber.StatusServiceUnavailable, "provider_disabled"
	case errors.Is(err, payment.ErrUnsupportedProvider):
		return fiber.StatusNotFound, "unsupported_provider"
	case errors.Is(err, payment.ErrInvalidAmount):
		return fiber.StatusUnprocessableEntity, "invalid_amount"
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return fiber.StatusBadGateway, "gateway_unavailable"
	case errors.Is(err, billing.ErrAccountNotFound):
		return fiber.StatusNotFound, "account_not_found"
	case errors.Is(err, billing.ErrPaymentNotFound):
		return fiber.StatusNotFound, "payment_not_found"
	case errors.Is(err, billing.ErrIssueNotFound):
		return fiber.StatusNotFound, "issue_not_found"
	default:
		return fiber.StatusInternalServerError, "internal_server_error"
	}
}

// writeServiceError answers with the mapped status. Internal faults never
// leak their message.
func writeServiceError(c *fiber.Ctx, err error) error {
	status, code := statusForError(err)
	if status == fiber.StatusInternalServerError {
		return apiError(c, status, code, "internal error")
	}
	return apiError(c, status, code, err.Error())
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

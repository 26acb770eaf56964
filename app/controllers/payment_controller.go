package controllers

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/usercontext"
)

// PaymentController serves the internal payment API used by the bot and the
// web UI.
type PaymentController struct {
	service *billing.Service
}

func NewPaymentController(service *billing.Service) *PaymentController {
	return &PaymentController{service: service}
}

// HandleCreatePayment opens a payment and returns where to send the user.
func (pc *PaymentController) HandleCreatePayment(c *fiber.Ctx) error {
	var in billing.CreatePaymentInput
	if err := c.BodyParser(&in); err != nil {
		return apiError(c, fiber.StatusBadRequest, "invalid_payload", "request body must be JSON")
	}

	// provider calls are bounded by the adapter's own timeout
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	res, err := pc.service.CreatePayment(ctx, in)
	if err != nil {
		status, _ := statusForError(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[API] Create payment for user %d via %s by %s failed: %v",
				in.UserID, in.Provider, usercontext.GetClientName(c), err)
		}
		return writeServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id":     res.OrderID,
		"provider":     res.Provider,
		"redirect_url": res.RedirectURL,
		"external_ref": res.ExternalRef,
		"amount_minor": res.AmountMinor,
		"currency":     res.Currency,
		"expires_at":   formatTimePtr(res.ExpiresAt),
	})
}

func (pc *PaymentController) HandleGetPayment(c *fiber.Ctx) error {
	orderID := c.Params("order_id")
	if orderID == "" {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "order_id missing")
	}
	p, err := pc.service.GetPayment(c.UserContext(), orderID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(p)
}

// HandleListUserPayments lists a user's most recent payments, newest first.
func (pc *PaymentController) HandleListUserPayments(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("user_id"), 10, 64)
	if err != nil || userID == 0 {
		return apiError(c, fiber.StatusBadRequest, "bad_request", "invalid user_id")
	}
	payments, err := pc.service.ListUserPayments(c.UserContext(), uint(userID), c.QueryInt("limit", 20))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(fiber.Map{"payments": payments, "count": len(payments)})
}

package controllers

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// WebhookController receives provider callbacks on POST /webhooks/:provider.
type WebhookController struct {
	service *billing.Service
	timeout time.Duration
}

func NewWebhookController(service *billing.Service, timeout time.Duration) *WebhookController {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WebhookController{service: service, timeout: timeout}
}

func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	provider := c.Params("provider")
	// fasthttp reuses the buffer after the handler returns
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ctx, cancel := context.WithTimeout(context.Background(), wc.timeout)
	defer cancel()

	res, err := wc.service.HandleWebhook(ctx, provider, payment.WebhookRequest{
		Body:     rawBody,
		Header:   requestHeader(c),
		Query:    requestQuery(c),
		RemoteIP: c.IP(),
	})
	if err != nil {
		status, code := statusForError(err)
		if status == fiber.StatusInternalServerError {
			log.Errorf("[Webhook] %s delivery failed with internal error: %v", provider, err)
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	if len(res.AckBody) > 0 {
		c.Set(fiber.HeaderContentType, res.AckContentType)
		return c.Status(fiber.StatusOK).Send(res.AckBody)
	}

	body := fiber.Map{"ok": true}
	switch {
	case res.Ignored != nil:
		body["ignored"] = true
		body["reason"] = res.Ignored.Reason
	case res.Review != nil:
		body["review"] = true
	case res.Duplicate:
		body["duplicate"] = true
	}
	if res.Outcome != nil {
		body["status"] = res.Outcome.Status
	}
	return c.Status(fiber.StatusOK).JSON(body)
}

func requestHeader(c *fiber.Ctx) http.Header {
	h := make(http.Header)
	for k, values := range c.GetReqHeaders() {
		for _, v := range values {
			h.Add(k, v)
		}
	}
	return h
}

func requestQuery(c *fiber.Ctx) url.Values {
	q := make(url.Values)
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		q.Add(string(k), string(v))
	})
	return q
}

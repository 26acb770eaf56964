package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// CloudPayments creates payment links through the orders API and accepts
// Pay and Fail notifications signed with Content-HMAC.
type CloudPayments struct {
	cfg config.CloudPaymentsConfig
	api *apiClient
}

func NewCloudPayments(cfg config.CloudPaymentsConfig) *CloudPayments {
	return &CloudPayments{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout)}
}

func (c *CloudPayments) Provider() string { return payment.ProviderCloudPayments }

type cloudPaymentsOrderResponse struct {
	Success bool   `json:"Success"`
	Message string `json:"Message"`
	Model   struct {
		ID  string `json:"Id"`
		URL string `json:"Url"`
	} `json:"Model"`
}

// CreatePayment leaves ExternalRef empty: notifications reference the card
// transaction, which only exists once the user pays.
func (c *CloudPayments) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"Amount":      json.Number(fixed(req.AmountMinor, currency)),
		"Currency":    currency,
		"Description": req.Description,
		"InvoiceId":   req.OrderID,
		"AccountId":   strconv.FormatInt(req.TelegramID, 10),
		"Email":       req.Email,
	}
	headers := map[string]string{
		"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(c.cfg.PublicID+":"+c.cfg.APISecret)),
	}
	var out cloudPaymentsOrderResponse
	if err := c.api.do(ctx, "POST", "/orders/create", headers, body, &out); err != nil {
		return nil, rejected(err)
	}
	if !out.Success || out.Model.URL == "" {
		return nil, fmt.Errorf("%w: cloudpayments: %s", payment.ErrInvalidAmount, out.Message)
	}
	return &payment.CreateResult{RedirectURL: out.Model.URL}, nil
}

type cloudPaymentsNotification struct {
	TransactionID string
	Amount        string
	Currency      string
	InvoiceID     string
	Status        string
}

func (c *CloudPayments) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	sig := firstHeader(req, "Content-HMAC", "X-Content-HMAC")
	expected := base64.StdEncoding.EncodeToString(hmacSHA256(req.Body, []byte(c.cfg.APISecret)))
	if !equalSecret(sig, expected) {
		return nil, payment.ErrInvalidSignature
	}

	n, err := parseCloudPayments(req)
	if err != nil {
		return nil, err
	}
	if n.TransactionID == "" || n.Amount == "" {
		return nil, fmt.Errorf("%w: TransactionId and Amount are required", payment.ErrMalformedPayload)
	}

	var status payment.Status
	switch n.Status {
	case "Completed":
		status = payment.StatusPaid
	case "Cancelled":
		status = payment.StatusCancelled
	case "Declined", "Authorized", "AwaitingAuthentication":
		// a declined attempt leaves the order payable
		status = payment.StatusPending
	default:
		return nil, &payment.IgnoredError{Reason: "cloudpayments status " + n.Status}
	}

	currency := payment.NormalizeCurrency(firstNonEmptyString(n.Currency, c.cfg.Currency, "RUB"))
	amount, err := toMinor(n.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:          payment.ProviderCloudPayments,
		ExternalPaymentID: n.TransactionID,
		OrderID:           n.InvoiceID,
		Status:            status,
		ProviderStatus:    n.Status,
		AmountMinor:       amount,
		Currency:          currency,
		RawPayload:        req.Body,
	}, nil
}

// parseCloudPayments accepts both notification encodings the dashboard
// offers: form fields and JSON.
func parseCloudPayments(req payment.WebhookRequest) (*cloudPaymentsNotification, error) {
	if trimmed := bytes.TrimSpace(req.Body); len(trimmed) > 0 && trimmed[0] == '{' {
		var raw struct {
			TransactionID json.Number `json:"TransactionId"`
			Amount        json.Number `json:"Amount"`
			Currency      string      `json:"Currency"`
			InvoiceID     string      `json:"InvoiceId"`
			Status        string      `json:"Status"`
		}
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
		}
		return &cloudPaymentsNotification{
			TransactionID: raw.TransactionID.String(),
			Amount:        raw.Amount.String(),
			Currency:      raw.Currency,
			InvoiceID:     raw.InvoiceID,
			Status:        raw.Status,
		}, nil
	}
	form, err := req.Form()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	return &cloudPaymentsNotification{
		TransactionID: form.Get("TransactionId"),
		Amount:        form.Get("Amount"),
		Currency:      form.Get("Currency"),
		InvoiceID:     form.Get("InvoiceId"),
		Status:        strings.TrimSpace(form.Get("Status")),
	}, nil
}

func (c *CloudPayments) Acknowledge(*payment.Event) (string, []byte) {
	return "application/json", []byte(`{"code":0}`)
}

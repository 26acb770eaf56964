package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

var mulenPaySignatureHeaders = []string{
	"X-MulenPay-Signature",
	"X-MulenPay-Webhook-Signature",
	"X-MulenPay-Sign",
	"X-Signature",
	"Signature",
}

// MulenPay creates payments over the v2 API and retries 5xx answers with a
// linear backoff.
type MulenPay struct {
	cfg     config.MulenPayConfig
	api     *apiClient
	backoff time.Duration
}

func NewMulenPay(cfg config.MulenPayConfig) *MulenPay {
	return &MulenPay{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout), backoff: 500 * time.Millisecond}
}

func (m *MulenPay) Provider() string { return payment.ProviderMulenPay }

type mulenPayCreateResponse struct {
	Success    bool   `json:"success"`
	ID         int64  `json:"id"`
	PaymentURL string `json:"paymentUrl"`
	Message    string `json:"message"`
}

func (m *MulenPay) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := strings.ToLower(payment.NormalizeCurrency(req.Currency))
	amount := fixed(req.AmountMinor, req.Currency)
	sum := sha1.Sum([]byte(currency + amount + m.cfg.ShopID + m.cfg.SecretKey))
	body := map[string]any{
		"currency":    currency,
		"amount":      amount,
		"uuid":        req.OrderID,
		"shopId":      json.Number(m.cfg.ShopID),
		"description": req.Description,
		"language":    "ru",
		"items": []map[string]any{{
			"description":     req.Description,
			"quantity":        1,
			"price":           json.Number(amount),
			"vat_code":        0,
			"payment_subject": 4,
			"payment_mode":    4,
		}},
		"sign": hex.EncodeToString(sum[:]),
	}
	headers := map[string]string{"Authorization": "Bearer " + m.cfg.APIKey}

	attempts := m.cfg.Retries
	if attempts <= 0 {
		attempts = 1
	}
	var (
		out mulenPayCreateResponse
		err error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		err = m.api.do(ctx, "POST", "/v2/payments", headers, body, &out)
		if err == nil || !errors.Is(err, payment.ErrGatewayUnavailable) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", payment.ErrGatewayUnavailable, ctx.Err())
		case <-time.After(m.backoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		return nil, rejected(err)
	}
	if !out.Success || out.PaymentURL == "" {
		return nil, fmt.Errorf("%w: mulenpay: %s", payment.ErrInvalidAmount, out.Message)
	}
	return &payment.CreateResult{
		RedirectURL: out.PaymentURL,
		ExternalRef: strconv.FormatInt(out.ID, 10),
	}, nil
}

type mulenPayCallback struct {
	ID            json.Number `json:"id"`
	UUID          string      `json:"uuid"`
	PaymentStatus string      `json:"payment_status"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
}

func (m *MulenPay) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !m.authentic(req) {
		return nil, payment.ErrInvalidSignature
	}
	var cb mulenPayCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if cb.UUID == "" && cb.ID == "" {
		return nil, fmt.Errorf("%w: neither id nor uuid present", payment.ErrMalformedPayload)
	}

	var status payment.Status
	switch strings.ToLower(cb.PaymentStatus) {
	case "success":
		status = payment.StatusPaid
	case "cancel", "canceled", "cancelled":
		status = payment.StatusCancelled
	case "error", "failed":
		status = payment.StatusFailed
	case "created", "processing", "hold":
		status = payment.StatusPending
	default:
		return nil, &payment.IgnoredError{Reason: "mulenpay status " + cb.PaymentStatus}
	}

	currency := payment.NormalizeCurrency(firstNonEmptyString(cb.Currency, m.cfg.Currency, "RUB"))
	ev := &payment.Event{
		Provider:          payment.ProviderMulenPay,
		ExternalPaymentID: cb.ID.String(),
		OrderID:           cb.UUID,
		Status:            status,
		ProviderStatus:    cb.PaymentStatus,
		Currency:          currency,
		RawPayload:        req.Body,
	}
	if cb.Amount != "" {
		amount, err := toMinor(cb.Amount.String(), currency)
		if err != nil {
			return nil, err
		}
		ev.AmountMinor = amount
	}
	return ev, nil
}

// authentic accepts an HMAC-SHA256 of the body (hex, base64 or url-safe
// base64, optionally prefixed "sha256="), or the shared secret as a bearer
// or token header.
func (m *MulenPay) authentic(req payment.WebhookRequest) bool {
	secret := m.cfg.SecretKey
	if secret == "" {
		return false
	}
	if sig := firstHeader(req, mulenPaySignatureHeaders...); sig != "" {
		if len(sig) > 7 && strings.EqualFold(sig[:7], "sha256=") {
			sig = strings.TrimSpace(sig[7:])
		}
		digest := hmacSHA256(req.Body, []byte(secret))
		if equalFold(sig, hex.EncodeToString(digest)) {
			return true
		}
		trimmed := strings.TrimRight(sig, "=")
		return equalSecret(trimmed, strings.TrimRight(base64.StdEncoding.EncodeToString(digest), "=")) ||
			equalSecret(trimmed, strings.TrimRight(base64.URLEncoding.EncodeToString(digest), "="))
	}
	if auth := strings.TrimSpace(req.Header.Get("Authorization")); auth != "" {
		scheme, token, found := strings.Cut(auth, " ")
		if !found {
			return equalSecret(scheme, secret)
		}
		if strings.EqualFold(scheme, "bearer") || strings.EqualFold(scheme, "token") {
			return equalSecret(strings.TrimSpace(token), secret)
		}
	}
	return equalSecret(firstHeader(req, "X-MulenPay-Token", "X-Webhook-Token"), secret)
}

func firstHeader(req payment.WebhookRequest, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(req.Header.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// YooKassa creates redirect payments over the v3 API. Notifications carry no
// signature; they are trusted by source address.
type YooKassa struct {
	cfg      config.YooKassaConfig
	api      *apiClient
	networks []*net.IPNet
}

func NewYooKassa(cfg config.YooKassaConfig) (*YooKassa, error) {
	y := &YooKassa{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout)}
	for _, entry := range cfg.TrustedCIDRs {
		if !strings.Contains(entry, "/") {
			if strings.Contains(entry, ":") {
				entry += "/128"
			} else {
				entry += "/32"
			}
		}
		_, network, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted range %q: %w", entry, err)
		}
		y.networks = append(y.networks, network)
	}
	return y, nil
}

func (y *YooKassa) Provider() string { return payment.ProviderYooKassa }

type yooAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type yooPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       yooAmount         `json:"amount"`
	Metadata     map[string]string `json:"metadata"`
	ExpiresAt    *time.Time        `json:"expires_at"`
	Confirmation struct {
		Type            string `json:"type"`
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (y *YooKassa) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"amount":       yooAmount{Value: fixed(req.AmountMinor, currency), Currency: currency},
		"capture":      true,
		"description":  truncate(req.Description, 128),
		"confirmation": map[string]string{"type": "redirect", "return_url": y.cfg.ReturnURL},
		"metadata": map[string]string{
			"order_id":    req.OrderID,
			"telegram_id": fmt.Sprint(req.TelegramID),
		},
	}
	headers := map[string]string{
		"Authorization":   "Basic " + base64.StdEncoding.EncodeToString([]byte(y.cfg.ShopID+":"+y.cfg.SecretKey)),
		"Idempotence-Key": req.OrderID,
	}

	var out yooPayment
	if err := y.api.do(ctx, "POST", "/v3/payments", headers, body, &out); err != nil {
		return nil, rejected(err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("%w: yookassa returned no payment id", payment.ErrGatewayUnavailable)
	}
	res := &payment.CreateResult{
		RedirectURL: out.Confirmation.ConfirmationURL,
		ExternalRef: out.ID,
	}
	if out.ExpiresAt != nil {
		t := out.ExpiresAt.UTC()
		res.ExpiresAt = &t
	}
	return res, nil
}

type yooNotification struct {
	Type   string     `json:"type"`
	Event  string     `json:"event"`
	Object yooPayment `json:"object"`
}

func (y *YooKassa) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !y.trusted(req.RemoteIP) {
		return nil, fmt.Errorf("%w: yookassa notification from untrusted ip %s", payment.ErrInvalidSignature, req.RemoteIP)
	}
	var n yooNotification
	if err := json.Unmarshal(req.Body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if n.Object.ID == "" {
		return nil, fmt.Errorf("%w: object.id is missing", payment.ErrMalformedPayload)
	}

	var status payment.Status
	switch n.Event {
	case "payment.succeeded":
		status = payment.StatusPaid
	case "payment.canceled":
		status = payment.StatusCancelled
	case "payment.waiting_for_capture":
		status = payment.StatusPending
	default:
		return nil, &payment.IgnoredError{Reason: "yookassa event " + n.Event}
	}

	ev := &payment.Event{
		Provider:          payment.ProviderYooKassa,
		ExternalPaymentID: n.Object.ID,
		OrderID:           n.Object.Metadata["order_id"],
		Status:            status,
		ProviderStatus:    n.Object.Status,
		Currency:          payment.NormalizeCurrency(n.Object.Amount.Currency),
		RawPayload:        req.Body,
	}
	if n.Object.Amount.Value != "" {
		amount, err := toMinor(n.Object.Amount.Value, ev.Currency)
		if err != nil {
			return nil, err
		}
		ev.AmountMinor = amount
	}
	return ev, nil
}

func (y *YooKassa) trusted(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	for _, n := range y.networks {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Platega authenticates both directions with the merchant id and secret
// headers.
type Platega struct {
	cfg config.PlategaConfig
	api *apiClient
}

func NewPlatega(cfg config.PlategaConfig) *Platega {
	return &Platega{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout)}
}

func (p *Platega) Provider() string { return payment.ProviderPlatega }

func (p *Platega) headers() map[string]string {
	return map[string]string{
		"X-MerchantId": p.cfg.MerchantID,
		"X-Secret":     p.cfg.Secret,
	}
}

type plategaAmount struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
}

type plategaCreateResponse struct {
	TransactionID string `json:"transactionId"`
	Redirect      string `json:"redirect"`
	Status        string `json:"status"`
}

func (p *Platega) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"paymentMethod": p.cfg.PaymentMethod,
		"id":            req.OrderID,
		"paymentDetails": plategaAmount{
			Amount:   json.Number(fixed(req.AmountMinor, currency)),
			Currency: currency,
		},
		"description": req.Description,
		"return":      p.cfg.ReturnURL,
		"failedUrl":   p.cfg.FailedURL,
		"payload":     req.OrderID,
	}
	var out plategaCreateResponse
	if err := p.api.do(ctx, "POST", "/transaction/process", p.headers(), body, &out); err != nil {
		return nil, rejected(err)
	}
	if out.TransactionID == "" || out.Redirect == "" {
		return nil, fmt.Errorf("%w: platega returned no transaction", payment.ErrGatewayUnavailable)
	}
	return &payment.CreateResult{RedirectURL: out.Redirect, ExternalRef: out.TransactionID}, nil
}

type plategaCallback struct {
	ID            string      `json:"id" validate:"required"`
	Amount        json.Number `json:"amount"`
	Currency      string      `json:"currency"`
	Status        string      `json:"status" validate:"required"`
	PaymentMethod int         `json:"paymentMethod"`
	Payload       string      `json:"payload"`
}

func (p *Platega) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !equalSecret(strings.TrimSpace(req.Header.Get("X-MerchantId")), p.cfg.MerchantID) ||
		!equalSecret(strings.TrimSpace(req.Header.Get("X-Secret")), p.cfg.Secret) {
		return nil, payment.ErrInvalidSignature
	}
	var cb plategaCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if err := validate.Struct(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	var status payment.Status
	switch strings.ToUpper(cb.Status) {
	case "CONFIRMED":
		status = payment.StatusPaid
	case "CANCELED", "CANCELLED":
		status = payment.StatusCancelled
	case "CHARGEBACKED":
		return nil, &payment.IgnoredError{Reason: "platega chargeback"}
	default:
		status = payment.StatusPending
	}

	currency := payment.NormalizeCurrency(firstNonEmptyString(cb.Currency, p.cfg.Currency, "RUB"))
	ev := &payment.Event{
		Provider:          payment.ProviderPlatega,
		ExternalPaymentID: cb.ID,
		OrderID:           cb.Payload,
		Status:            status,
		ProviderStatus:    cb.Status,
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

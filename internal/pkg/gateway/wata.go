package gateway

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Wata creates payment links over the H2H API. Callbacks are signed with
// RSA-SHA512 by Wata's key; the public half is part of the configuration.
type Wata struct {
	cfg config.WataConfig
	api *apiClient
	key *rsa.PublicKey
}

func NewWata(cfg config.WataConfig) (*Wata, error) {
	key, err := parseRSAPublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	return &Wata{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout), key: key}, nil
}

func parseRSAPublicKey(raw string) (*rsa.PublicKey, error) {
	// keys stored in env files often carry literal \n
	block, _ := pem.Decode([]byte(strings.ReplaceAll(raw, `\n`, "\n")))
	if block == nil {
		return nil, errors.New("public key is not PEM encoded")
	}
	if block.Type == "RSA PUBLIC KEY" {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want RSA", parsed)
	}
	return key, nil
}

func (w *Wata) Provider() string { return payment.ProviderWata }

type wataLink struct {
	ID                 string     `json:"id"`
	URL                string     `json:"url"`
	Status             string     `json:"status"`
	ExpirationDateTime *time.Time `json:"expirationDateTime"`
}

func (w *Wata) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"amount":      json.Number(fixed(req.AmountMinor, currency)),
		"currency":    currency,
		"description": req.Description,
		"orderId":     req.OrderID,
	}
	if w.cfg.SuccessURL != "" {
		body["successRedirectUrl"] = w.cfg.SuccessURL
	}
	if w.cfg.FailURL != "" {
		body["failRedirectUrl"] = w.cfg.FailURL
	}
	headers := map[string]string{"Authorization": "Bearer " + w.cfg.Token}

	var out wataLink
	if err := w.api.do(ctx, "POST", "/links", headers, body, &out); err != nil {
		return nil, rejected(err)
	}
	if out.ID == "" || out.URL == "" {
		return nil, fmt.Errorf("%w: wata returned no link", payment.ErrGatewayUnavailable)
	}
	res := &payment.CreateResult{RedirectURL: out.URL, ExternalRef: out.ID}
	if out.ExpirationDateTime != nil {
		t := out.ExpirationDateTime.UTC()
		res.ExpiresAt = &t
	}
	return res, nil
}

type wataCallback struct {
	TransactionType   string      `json:"transactionType"`
	TransactionID     string      `json:"transactionId"`
	TransactionStatus string      `json:"transactionStatus" validate:"required"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	OrderID           string      `json:"orderId"`
	PaymentLinkID     string      `json:"paymentLinkId"`
	ErrorCode         string      `json:"errorCode"`
}

func (w *Wata) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	sig, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Header.Get("X-Signature")))
	if err != nil || len(sig) == 0 {
		return nil, payment.ErrInvalidSignature
	}
	digest := sha512.Sum512(req.Body)
	if err := rsa.VerifyPKCS1v15(w.key, crypto.SHA512, digest[:], sig); err != nil {
		return nil, payment.ErrInvalidSignature
	}

	var cb wataCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if err := validate.Struct(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	var status payment.Status
	switch cb.TransactionStatus {
	case "Paid":
		status = payment.StatusPaid
	default:
		// declined transactions leave the link payable
		status = payment.StatusPending
	}

	currency := payment.NormalizeCurrency(firstNonEmptyString(cb.Currency, w.cfg.Currency, "RUB"))
	ev := &payment.Event{
		Provider:          payment.ProviderWata,
		ExternalPaymentID: cb.PaymentLinkID,
		OrderID:           cb.OrderID,
		Status:            status,
		ProviderStatus:    cb.TransactionStatus,
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

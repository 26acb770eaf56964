package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

const cryptoBotSignatureHeader = "Crypto-Pay-API-Signature"

// CryptoBot issues fiat-denominated invoices through the Crypto Pay API.
type CryptoBot struct {
	cfg config.CryptoBotConfig
	api *apiClient
	now func() time.Time
}

func NewCryptoBot(cfg config.CryptoBotConfig) *CryptoBot {
	return &CryptoBot{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout), now: time.Now}
}

func (c *CryptoBot) Provider() string { return payment.ProviderCryptoBot }

type cryptoBotInvoice struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	CurrencyType  string `json:"currency_type"`
	Asset         string `json:"asset"`
	Fiat          string `json:"fiat"`
	Amount        string `json:"amount"`
	PaidAsset     string `json:"paid_asset"`
	PaidAmount    string `json:"paid_amount"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	PayURL        string `json:"pay_url"`
	Payload       string `json:"payload"`
}

type cryptoBotResponse struct {
	OK     bool             `json:"ok"`
	Result cryptoBotInvoice `json:"result"`
	Error  struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (c *CryptoBot) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	body := map[string]any{
		"currency_type": "fiat",
		"fiat":          currency,
		"amount":        fixed(req.AmountMinor, currency),
		"description":   req.Description,
		"payload":       req.OrderID,
	}
	if c.cfg.Asset != "" {
		body["accepted_assets"] = c.cfg.Asset
	}
	var expiresAt *time.Time
	if c.cfg.InvoiceExpires > 0 {
		body["expires_in"] = int(c.cfg.InvoiceExpires.Seconds())
		t := c.now().Add(c.cfg.InvoiceExpires).UTC()
		expiresAt = &t
	}

	var out cryptoBotResponse
	headers := map[string]string{"Crypto-Pay-API-Token": c.cfg.Token}
	if err := c.api.do(ctx, "POST", "/api/createInvoice", headers, body, &out); err != nil {
		return nil, rejected(err)
	}
	if !out.OK {
		return nil, fmt.Errorf("%w: cryptobot: %s", payment.ErrInvalidAmount, out.Error.Name)
	}
	return &payment.CreateResult{
		RedirectURL: firstNonEmptyString(out.Result.BotInvoiceURL, out.Result.PayURL),
		ExternalRef: strconv.FormatInt(out.Result.InvoiceID, 10),
		ExpiresAt:   expiresAt,
	}, nil
}

type cryptoBotUpdate struct {
	UpdateID   int64            `json:"update_id"`
	UpdateType string           `json:"update_type"`
	Payload    cryptoBotInvoice `json:"payload"`
}

// VerifyAndParse checks hex HMAC-SHA256 of the body keyed with
// sha256(token).
func (c *CryptoBot) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	sig, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(req.Header.Get(cryptoBotSignatureHeader))))
	if err != nil || len(sig) == 0 {
		return nil, payment.ErrInvalidSignature
	}
	key := sha256.Sum256([]byte(c.cfg.Token))
	if !verifyHMAC(req.Body, sig, key[:], sha256.New) {
		return nil, payment.ErrInvalidSignature
	}

	var upd cryptoBotUpdate
	if err := json.Unmarshal(req.Body, &upd); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if upd.UpdateType != "invoice_paid" {
		return nil, &payment.IgnoredError{Reason: "cryptobot update " + upd.UpdateType}
	}
	inv := upd.Payload
	if inv.InvoiceID == 0 {
		return nil, fmt.Errorf("%w: invoice_id is missing", payment.ErrMalformedPayload)
	}

	currency := inv.Asset
	if strings.EqualFold(inv.CurrencyType, "fiat") {
		currency = inv.Fiat
	}
	currency = payment.NormalizeCurrency(currency)
	amount, err := toMinor(inv.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:          payment.ProviderCryptoBot,
		ExternalPaymentID: strconv.FormatInt(inv.InvoiceID, 10),
		OrderID:           inv.Payload,
		Status:            payment.StatusPaid,
		ProviderStatus:    inv.Status,
		AmountMinor:       amount,
		Currency:          currency,
		RawPayload:        req.Body,
	}, nil
}

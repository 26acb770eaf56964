package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

const tributeSignatureHeader = "trbt-signature"

// Tribute donations are started from a static link inside Telegram, so the
// first this service hears of a payment is the webhook. Paid events carry an
// Origin and the engine opens the ledger row itself.
type Tribute struct {
	cfg config.TributeConfig
}

func NewTribute(cfg config.TributeConfig) *Tribute {
	return &Tribute{cfg: cfg}
}

func (t *Tribute) Provider() string { return payment.ProviderTribute }

func (t *Tribute) CreatePayment(_ context.Context, _ payment.CreateRequest) (*payment.CreateResult, error) {
	if t.cfg.DonateURL == "" {
		return nil, fmt.Errorf("%w: tribute donate link is not configured", payment.ErrGatewayUnavailable)
	}
	return &payment.CreateResult{RedirectURL: t.cfg.DonateURL}, nil
}

type tributeWebhook struct {
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
	SentAt    string `json:"sent_at"`
	Payload   struct {
		DonationRequestID int64  `json:"donation_request_id" validate:"required"`
		DonationName      string `json:"donation_name"`
		Message           string `json:"message"`
		Period            string `json:"period"`
		Amount            int64  `json:"amount" validate:"gt=0"`
		Currency          string `json:"currency" validate:"required"`
		TelegramUserID    int64  `json:"telegram_user_id" validate:"required"`
	} `json:"payload"`
}

func (t *Tribute) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	sig, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(req.Header.Get(tributeSignatureHeader))))
	if err != nil || len(sig) == 0 {
		return nil, payment.ErrInvalidSignature
	}
	if !verifyHMAC(req.Body, sig, []byte(t.cfg.APIKey), sha256.New) {
		return nil, payment.ErrInvalidSignature
	}

	var w tributeWebhook
	if err := json.Unmarshal(req.Body, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if w.Name != "new_donation" {
		return nil, &payment.IgnoredError{Reason: "tribute notice " + w.Name}
	}
	if err := validate.Struct(w.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	// one donation request is paid repeatedly for recurring donations
	external := strconv.FormatInt(w.Payload.DonationRequestID, 10)
	if stamp := firstNonEmptyString(w.CreatedAt, w.SentAt); stamp != "" {
		external += "_" + stamp
	}
	description := w.Payload.DonationName
	if description == "" {
		description = "Tribute donation"
	}
	return &payment.Event{
		Provider:          payment.ProviderTribute,
		ExternalPaymentID: external,
		Status:            payment.StatusPaid,
		ProviderStatus:    w.Name,
		AmountMinor:       w.Payload.Amount,
		Currency:          payment.NormalizeCurrency(w.Payload.Currency),
		RawPayload:        req.Body,
		Origin: &payment.Origin{
			TelegramID:  w.Payload.TelegramUserID,
			Purpose:     payment.PurposeTopUp,
			Description: description,
		},
	}, nil
}

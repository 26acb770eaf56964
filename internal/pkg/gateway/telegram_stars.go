package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

const (
	starsCurrency     = "XTR"
	starsSecretHeader = "X-Telegram-Bot-Api-Secret-Token"
)

// InvoiceSender is the part of *tgbotapi.BotAPI the Stars adapter uses.
type InvoiceSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramStars bills in Telegram Stars (XTR). Invoices are sent into the
// user's chat; the bot webhook delivers pre-checkout queries and
// successful_payment messages.
type TelegramStars struct {
	cfg    config.TelegramStarsConfig
	sender InvoiceSender
}

func NewTelegramStars(cfg config.TelegramStarsConfig, sender InvoiceSender) *TelegramStars {
	return &TelegramStars{cfg: cfg, sender: sender}
}

func (t *TelegramStars) Provider() string { return payment.ProviderTelegramStars }

// Quote converts a fiat amount into whole stars, rounding up.
func (t *TelegramStars) Quote(amountMinor int64, currency string) (payment.Quote, error) {
	currency = payment.NormalizeCurrency(currency)
	if currency == starsCurrency {
		return payment.Quote{AmountMinor: amountMinor, Currency: starsCurrency}, nil
	}
	if currency != "RUB" {
		return payment.Quote{}, fmt.Errorf("%w: stars are priced in RUB, got %s", payment.ErrInvalidAmount, currency)
	}
	if !t.cfg.RubPerStar.IsPositive() {
		return payment.Quote{}, fmt.Errorf("%w: star rate is not configured", payment.ErrInvalidAmount)
	}
	stars := minorToDecimal(amountMinor, currency).Div(t.cfg.RubPerStar).Ceil()
	if stars.LessThan(decimal.NewFromInt(1)) {
		return payment.Quote{}, fmt.Errorf("%w: %d %s is less than one star", payment.ErrInvalidAmount, amountMinor, currency)
	}
	return payment.Quote{AmountMinor: stars.IntPart(), Currency: starsCurrency}, nil
}

func (t *TelegramStars) CreatePayment(_ context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	if t.sender == nil {
		return nil, fmt.Errorf("%w: telegram bot is not connected", payment.ErrGatewayUnavailable)
	}
	if payment.NormalizeCurrency(req.Currency) != starsCurrency {
		return nil, fmt.Errorf("%w: stars invoices must be quoted in XTR", payment.ErrInvalidAmount)
	}
	if req.TelegramID == 0 {
		return nil, fmt.Errorf("%w: telegram chat is unknown", payment.ErrInvalidAmount)
	}
	title := firstNonEmptyString(truncate(req.Description, 32), "Balance top-up")
	invoice := tgbotapi.NewInvoice(
		req.TelegramID,
		title,
		firstNonEmptyString(req.Description, title),
		req.OrderID,
		"",
		"",
		starsCurrency,
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(req.AmountMinor)}},
	)
	// v5.5.1 serializes a nil slice as null, which the Bot API rejects
	invoice.SuggestedTipAmounts = []int{}

	if _, err := t.sender.Send(invoice); err != nil {
		return nil, fmt.Errorf("%w: send invoice: %v", payment.ErrGatewayUnavailable, err)
	}
	return &payment.CreateResult{}, nil
}

type preCheckoutAnswer struct {
	Method             string `json:"method"`
	PreCheckoutQueryID string `json:"pre_checkout_query_id"`
	OK                 bool   `json:"ok"`
}

func (t *TelegramStars) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !equalSecret(strings.TrimSpace(req.Header.Get(starsSecretHeader)), t.cfg.WebhookSecret) {
		return nil, payment.ErrInvalidSignature
	}
	var upd tgbotapi.Update
	if err := json.Unmarshal(req.Body, &upd); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	if q := upd.PreCheckoutQuery; q != nil {
		// answered inline in the webhook response
		reply, err := json.Marshal(preCheckoutAnswer{
			Method:             "answerPreCheckoutQuery",
			PreCheckoutQueryID: q.ID,
			OK:                 q.Currency == starsCurrency && q.InvoicePayload != "",
		})
		if err != nil {
			return nil, err
		}
		return nil, &payment.IgnoredError{Reason: "pre_checkout_query", ContentType: "application/json", Reply: reply}
	}

	if upd.Message == nil || upd.Message.SuccessfulPayment == nil {
		return nil, &payment.IgnoredError{Reason: "update without payment"}
	}
	sp := upd.Message.SuccessfulPayment
	if sp.TelegramPaymentChargeID == "" || sp.InvoicePayload == "" {
		return nil, fmt.Errorf("%w: successful_payment lacks charge id or payload", payment.ErrMalformedPayload)
	}
	return &payment.Event{
		Provider:          payment.ProviderTelegramStars,
		ExternalPaymentID: sp.TelegramPaymentChargeID,
		OrderID:           sp.InvoicePayload,
		Status:            payment.StatusPaid,
		ProviderStatus:    "successful_payment",
		AmountMinor:       int64(sp.TotalAmount),
		Currency:          payment.NormalizeCurrency(sp.Currency),
		RawPayload:        req.Body,
	}, nil
}

package payment

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPaid, StatusFailed, StatusExpired, StatusCancelled:
		return true
	default:
		return false
	}
}

func (s Status) Valid() bool {
	return s == StatusPending || s.IsTerminal()
}

// Provider names as used in routes, config keys and the ledger.
const (
	ProviderRobokassa     = "robokassa"
	ProviderWata          = "wata"
	ProviderHeleket       = "heleket"
	ProviderTelegramStars = "telegram_stars"
	ProviderCryptoBot     = "cryptobot"
	ProviderYooKassa      = "yookassa"
	ProviderTribute       = "tribute"
	ProviderMulenPay      = "mulenpay"
	ProviderPal24         = "pal24"
	ProviderPlatega       = "platega"
	ProviderFreeKassa     = "freekassa"
	ProviderCloudPayments = "cloudpayments"
	ProviderKassaAI       = "kassa_ai"
)

// Purpose of a purchase.
const (
	PurposeTopUp        = "topup"
	PurposeSubscription = "subscription"
)

// NormalizeProvider lowercases and trims a provider name.
func NormalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// NormalizeCurrency uppercases and trims an ISO-like currency code.
func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}

// Origin is attached to events for payments that were started outside this
// service. The engine opens the ledger row itself from these fields.
type Origin struct {
	TelegramID  int64
	Purpose     string
	Description string
}

// Event is a verified, normalized provider notification.
type Event struct {
	Provider          string
	ExternalPaymentID string
	OrderID           string
	Status            Status
	ProviderStatus    string
	AmountMinor       int64
	Currency          string
	RawPayload        []byte
	ReceivedAt        time.Time
	Origin            *Origin
}

// HasAmount reports whether the provider stated an amount for the event.
func (e *Event) HasAmount() bool {
	return e.AmountMinor > 0 && e.Currency != ""
}

// WebhookRequest is the transport-neutral view of an inbound callback.
type WebhookRequest struct {
	Body     []byte
	Header   http.Header
	Query    url.Values
	RemoteIP string
}

// Form parses the body as application/x-www-form-urlencoded and merges the
// query string underneath it.
func (r WebhookRequest) Form() (url.Values, error) {
	values, err := url.ParseQuery(string(r.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range r.Query {
		if _, ok := values[k]; !ok {
			values[k] = v
		}
	}
	return values, nil
}

// CreateRequest carries everything an adapter needs to open a payment.
type CreateRequest struct {
	OrderID     string
	UserID      uint
	TelegramID  int64
	AmountMinor int64
	Currency    string
	Description string
	Email       string
	ClientIP    string
	Metadata    map[string]string
}

// CreateResult is what a provider answered to a creation call.
type CreateResult struct {
	RedirectURL string
	ExternalRef string
	ExpiresAt   *time.Time
}

// Quote is the amount a provider will actually bill for a requested amount.
type Quote struct {
	AmountMinor int64
	Currency    string
}

// Outcome is emitted once per state change for downstream notification.
type Outcome struct {
	OrderID       string `json:"order_id"`
	PaymentID     uint   `json:"payment_id"`
	UserID        uint   `json:"user_id"`
	Status        Status `json:"status"`
	AmountMinor   int64  `json:"amount_minor"`
	Currency      string `json:"currency"`
	Provider      string `json:"provider"`
	TransactionID *uint  `json:"transaction_id,omitempty"`
	Duplicate     bool   `json:"-"`
}

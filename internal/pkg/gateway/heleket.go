package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

var heleketSignMember = regexp.MustCompile(`"sign"\s*:\s*"[^"]*"`)

// Heleket signs requests and callbacks with md5(base64(json) + api key).
// Callbacks embed the signature in the body it covers.
type Heleket struct {
	cfg config.HeleketConfig
	api *apiClient
}

func NewHeleket(cfg config.HeleketConfig) *Heleket {
	return &Heleket{cfg: cfg, api: newAPIClient(cfg.BaseURL, cfg.Timeout)}
}

func (h *Heleket) Provider() string { return payment.ProviderHeleket }

func (h *Heleket) sign(body []byte) string {
	return md5Hex(base64.StdEncoding.EncodeToString(body) + h.cfg.APIKey)
}

type heleketInvoice struct {
	UUID      string `json:"uuid"`
	OrderID   string `json:"order_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	URL       string `json:"url"`
	ExpiredAt int64  `json:"expired_at"`
	Status    string `json:"status"`
}

type heleketResponse struct {
	State   int            `json:"state"`
	Message string         `json:"message"`
	Result  heleketInvoice `json:"result"`
}

func (h *Heleket) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	payload := map[string]any{
		"amount":   fixed(req.AmountMinor, currency),
		"currency": currency,
		"order_id": req.OrderID,
	}
	if h.cfg.CallbackURL != "" {
		payload["url_callback"] = h.cfg.CallbackURL
	}
	if h.cfg.Lifetime > 0 {
		payload["lifetime"] = int(h.cfg.Lifetime.Seconds())
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"merchant": h.cfg.MerchantID, "sign": h.sign(body)}

	var out heleketResponse
	if err := h.api.do(ctx, "POST", "/v1/payment", headers, body, &out); err != nil {
		return nil, rejected(err)
	}
	if out.State != 0 || out.Result.UUID == "" {
		return nil, fmt.Errorf("%w: heleket: %s", payment.ErrInvalidAmount, out.Message)
	}
	res := &payment.CreateResult{RedirectURL: out.Result.URL, ExternalRef: out.Result.UUID}
	if out.Result.ExpiredAt > 0 {
		t := time.Unix(out.Result.ExpiredAt, 0).UTC()
		res.ExpiresAt = &t
	}
	return res, nil
}

type heleketCallback struct {
	Type     string `json:"type"`
	UUID     string `json:"uuid" validate:"required"`
	OrderID  string `json:"order_id"`
	Amount   string `json:"amount" validate:"required"`
	Currency string `json:"currency" validate:"required"`
	Status   string `json:"status" validate:"required"`
	IsFinal  bool   `json:"is_final"`
	Sign     string `json:"sign"`
}

func (h *Heleket) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	var cb heleketCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if cb.Sign == "" || !h.callbackSigned(req.Body, cb.Sign) {
		return nil, payment.ErrInvalidSignature
	}
	if err := validate.Struct(cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	var status payment.Status
	switch cb.Status {
	case "paid", "paid_over":
		status = payment.StatusPaid
	case "cancel":
		status = payment.StatusCancelled
	case "fail", "system_fail", "refund_fail":
		status = payment.StatusFailed
	case "process", "check", "confirm_check", "wrong_amount", "wrong_amount_waiting":
		status = payment.StatusPending
	default:
		return nil, &payment.IgnoredError{Reason: "heleket status " + cb.Status}
	}

	currency := payment.NormalizeCurrency(cb.Currency)
	amount, err := toMinor(cb.Amount, currency)
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:          payment.ProviderHeleket,
		ExternalPaymentID: cb.UUID,
		OrderID:           cb.OrderID,
		Status:            status,
		ProviderStatus:    cb.Status,
		AmountMinor:       amount,
		Currency:          currency,
		RawPayload:        req.Body,
	}, nil
}

// callbackSigned removes the sign member from the raw body and checks the
// remainder, first with slashes escaped the way the sender serializes them
// and then verbatim.
func (h *Heleket) callbackSigned(body []byte, sign string) bool {
	stripped := stripSignMember(body)
	if stripped == nil {
		return false
	}
	escaped := strings.ReplaceAll(strings.ReplaceAll(string(stripped), `\/`, `/`), `/`, `\/`)
	for _, candidate := range []string{escaped, string(stripped)} {
		if equalFold(h.sign([]byte(candidate)), sign) {
			return true
		}
	}
	return false
}

func stripSignMember(body []byte) []byte {
	loc := heleketSignMember.FindIndex(body)
	if loc == nil {
		return nil
	}
	start, end := loc[0], loc[1]
	rest := bytes.TrimLeft(body[end:], " \t\r\n")
	if len(rest) > 0 && rest[0] == ',' {
		// drop the member, the comma after it and the spacing that follows,
		// keeping the separator written before the member
		after := bytes.TrimLeft(rest[1:], " \t\r\n")
		end = len(body) - len(after)
	} else {
		// last member: drop the comma before it
		head := bytes.TrimRight(body[:start], " \t\r\n")
		if len(head) > 0 && head[len(head)-1] == ',' {
			start = len(head) - 1
		}
	}
	out := make([]byte, 0, len(body))
	out = append(out, body[:start]...)
	return append(out, body[end:]...)
}

package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// FKGateway serves FreeKassa and KassaAI. Both run on the fk.life platform
// and share the order API and the notification format.
type FKGateway struct {
	name string
	cfg  config.FKConfig
	api  *apiClient
	now  func() time.Time
}

func NewFreeKassa(cfg config.FKConfig) *FKGateway {
	return newFK(payment.ProviderFreeKassa, cfg)
}

func NewKassaAI(cfg config.FKConfig) *FKGateway {
	return newFK(payment.ProviderKassaAI, cfg)
}

func newFK(name string, cfg config.FKConfig) *FKGateway {
	return &FKGateway{
		name: name,
		cfg:  cfg,
		api:  newAPIClient(cfg.BaseURL, cfg.Timeout),
		now:  time.Now,
	}
}

func (g *FKGateway) Provider() string { return g.name }

type fkOrderResponse struct {
	Type     string      `json:"type"`
	Message  string      `json:"message"`
	OrderID  json.Number `json:"orderId"`
	Location string      `json:"location"`
}

func (g *FKGateway) CreatePayment(ctx context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	currency := payment.NormalizeCurrency(req.Currency)
	amount := compact(req.AmountMinor, currency)
	if !g.cfg.UseAPI {
		return &payment.CreateResult{RedirectURL: g.formURL(req, amount, currency)}, nil
	}

	email := req.Email
	if email == "" {
		email = fmt.Sprintf("%d@telegram.org", req.TelegramID)
	}
	ip := firstNonEmptyString(req.ClientIP, g.cfg.ServerIP, "127.0.0.1")
	params := map[string]any{
		"shopId":    json.Number(g.cfg.ShopID),
		"nonce":     g.now().UnixNano(),
		"paymentId": req.OrderID,
		"email":     email,
		"ip":        ip,
		"amount":    json.Number(amount),
		"currency":  currency,
	}
	if g.cfg.PaymentSystemID > 0 {
		params["i"] = g.cfg.PaymentSystemID
	}
	params["signature"] = fkAPISignature(params, g.cfg.APIKey)

	var out fkOrderResponse
	if err := g.api.do(ctx, "POST", "/orders/create", nil, params, &out); err != nil {
		return nil, rejected(err)
	}
	if out.Type != "success" || out.Location == "" {
		return nil, fmt.Errorf("%w: %s order rejected: %s", payment.ErrInvalidAmount, g.name, out.Message)
	}
	return &payment.CreateResult{
		RedirectURL: out.Location,
		ExternalRef: out.OrderID.String(),
	}, nil
}

func (g *FKGateway) formURL(req payment.CreateRequest, amount, currency string) string {
	base := g.cfg.FormURL
	if base == "" {
		base = "https://pay.fk.money/"
	}
	q := url.Values{}
	q.Set("m", g.cfg.ShopID)
	q.Set("oa", amount)
	q.Set("currency", currency)
	q.Set("o", req.OrderID)
	q.Set("s", md5Hex(strings.Join([]string{g.cfg.ShopID, amount, g.cfg.Secret1, currency, req.OrderID}, ":")))
	q.Set("lang", "ru")
	if req.Email != "" {
		q.Set("em", req.Email)
	}
	if g.cfg.PaymentSystemID > 0 {
		q.Set("i", strconv.Itoa(g.cfg.PaymentSystemID))
	}
	return base + "?" + q.Encode()
}

// fkAPISignature is HMAC-SHA256 over the parameter values sorted by key and
// joined with "|".
func fkAPISignature(params map[string]any, apiKey string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k != "signature" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fmt.Sprint(params[k]))
	}
	return hex.EncodeToString(hmacSHA256([]byte(strings.Join(values, "|")), []byte(apiKey)))
}

func (g *FKGateway) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if !ipAllowed(req.RemoteIP, g.cfg.TrustedIPs) {
		return nil, fmt.Errorf("%w: %s callback from untrusted ip %s", payment.ErrInvalidSignature, g.name, req.RemoteIP)
	}
	form, err := req.Form()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	shop := form.Get("MERCHANT_ID")
	rawAmount := form.Get("AMOUNT")
	orderID := form.Get("MERCHANT_ORDER_ID")
	if shop == "" || rawAmount == "" || orderID == "" {
		return nil, fmt.Errorf("%w: MERCHANT_ID, AMOUNT and MERCHANT_ORDER_ID are required", payment.ErrMalformedPayload)
	}
	if shop != g.cfg.ShopID {
		return nil, fmt.Errorf("%w: notification for shop %s", payment.ErrInvalidSignature, shop)
	}
	if !g.signatureMatches(shop, rawAmount, orderID, form.Get("SIGN")) {
		return nil, payment.ErrInvalidSignature
	}

	currency := g.cfg.Currency
	if currency == "" {
		currency = "RUB"
	}
	amount, err := toMinor(rawAmount, currency)
	if err != nil {
		return nil, err
	}
	return &payment.Event{
		Provider:          g.name,
		ExternalPaymentID: form.Get("intid"),
		OrderID:           orderID,
		Status:            payment.StatusPaid,
		ProviderStatus:    "paid:" + form.Get("CUR_ID"),
		AmountMinor:       amount,
		Currency:          currency,
		RawPayload:        req.Body,
	}, nil
}

// signatureMatches checks md5(shop:amount:secret2:order). The amount is
// tried as sent first and then with trailing zeros dropped.
func (g *FKGateway) signatureMatches(shop, rawAmount, orderID, sign string) bool {
	candidates := []string{rawAmount}
	if d, err := decimal.NewFromString(rawAmount); err == nil && d.String() != rawAmount {
		candidates = append(candidates, d.String())
	}
	for _, amount := range candidates {
		if equalFold(md5Hex(strings.Join([]string{shop, amount, g.cfg.Secret2, orderID}, ":")), sign) {
			return true
		}
	}
	return false
}

func (g *FKGateway) Acknowledge(*payment.Event) (string, []byte) {
	return "text/plain", []byte("YES")
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

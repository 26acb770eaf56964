package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/database"
	"github.com/vpnshop/paycore/internal/pkg/gateway"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// fakeProvider accepts callbacks signed with X-Fake-Signature: ok and a JSON
// body {ext, order, status, amount, currency, ping}.
type fakeProvider struct {
	name      string
	createRes *payment.CreateResult
	createErr error
}

func (p *fakeProvider) Provider() string { return p.name }

func (p *fakeProvider) CreatePayment(context.Context, payment.CreateRequest) (*payment.CreateResult, error) {
	return p.createRes, p.createErr
}

func (p *fakeProvider) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if req.Header.Get("X-Fake-Signature") != "ok" {
		return nil, payment.ErrInvalidSignature
	}
	var cb struct {
		Ext      string `json:"ext"`
		Order    string `json:"order"`
		Status   string `json:"status"`
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Ping     bool   `json:"ping"`
	}
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if cb.Ping {
		return nil, &payment.IgnoredError{Reason: "ping"}
	}
	return &payment.Event{
		Provider:          p.name,
		ExternalPaymentID: cb.Ext,
		OrderID:           cb.Order,
		Status:            payment.Status(cb.Status),
		ProviderStatus:    cb.Status,
		AmountMinor:       cb.Amount,
		Currency:          cb.Currency,
		RawPayload:        req.Body,
	}, nil
}

// ackProvider answers handled callbacks with OK<ext>, the way Robokassa
// style gateways expect.
type ackProvider struct {
	fakeProvider
}

func (p *ackProvider) Acknowledge(ev *payment.Event) (string, []byte) {
	return "text/plain", []byte("OK" + ev.ExternalPaymentID)
}

type testEnv struct {
	db       *gorm.DB
	service  *billing.Service
	accounts repository.AccountRepository
	settings repository.ProviderSettingRepository
	yookassa *ackProvider
	crypto   *fakeProvider
	app      *fiber.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := database.NewTestDB(t)
	repo := billing.NewRepository(db)
	accounts := repository.NewAccountRepository(db)
	settings := repository.NewProviderSettingRepository(db)
	creditor := billing.NewAccountCreditor(accounts, billing.TariffPricing{PricePer30DaysMinor: 30000, Currency: "RUB"})
	engine := billing.NewEngine(repo, accounts, creditor)

	yk := &ackProvider{fakeProvider{
		name:      payment.ProviderYooKassa,
		createRes: &payment.CreateResult{RedirectURL: "https://yoomoney.example/pay/yk-1", ExternalRef: "yk-1"},
	}}
	cb := &fakeProvider{name: payment.ProviderCryptoBot, createRes: &payment.CreateResult{}}
	reg := gateway.NewRegistry()
	reg.Register(yk, config.Limits{Enabled: true, Currency: "RUB", MinAmountMinor: 5000})
	reg.Register(cb, config.Limits{Enabled: true, Currency: "RUB"})

	svc := billing.NewService(repo, engine, reg, accounts, settings, config.BillingConfig{
		PendingTTL:      time.Hour,
		DefaultCurrency: "RUB",
	})

	env := &testEnv{db: db, service: svc, accounts: accounts, settings: settings, yookassa: yk, crypto: cb}
	env.app = fiber.New()
	wc := NewWebhookController(svc, 5*time.Second)
	pc := NewPaymentController(svc)
	ac := NewAdminController(svc)
	hc := NewHealthController(db, nil, svc)
	env.app.Post("/webhooks/:provider", wc.HandleWebhook)
	env.app.Post("/payments", pc.HandleCreatePayment)
	env.app.Get("/payments/:order_id", pc.HandleGetPayment)
	env.app.Get("/users/:user_id/payments", pc.HandleListUserPayments)
	env.app.Get("/admin/issues", ac.HandleListIssues)
	env.app.Post("/admin/issues/:id/resolve", ac.HandleResolveIssue)
	env.app.Get("/admin/providers", ac.HandleListProviders)
	env.app.Put("/admin/providers/:provider", ac.HandleSetProvider)
	env.app.Get("/health", hc.HandleHealth)
	return env
}

func (e *testEnv) account(t *testing.T, telegramID int64) *models.Account {
	t.Helper()
	a, err := e.accounts.ResolveTelegramUser(telegramID, "")
	require.NoError(t, err)
	return a
}

func (e *testEnv) do(t *testing.T, method, target, body string, header map[string]string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(raw)
}

func (e *testEnv) webhook(t *testing.T, provider, body string, signed bool) (int, string) {
	t.Helper()
	header := map[string]string{}
	if signed {
		header["X-Fake-Signature"] = "ok"
	}
	return e.do(t, http.MethodPost, "/webhooks/"+provider, body, header)
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/database"
	"github.com/vpnshop/paycore/internal/pkg/gateway"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// stubAdapter accepts callbacks carrying X-Test-Signature: ok and a small
// JSON body describing the event.
type stubAdapter struct {
	name      string
	createRes *payment.CreateResult
	createErr error
	requests  []payment.CreateRequest
}

func (s *stubAdapter) Provider() string { return s.name }

func (s *stubAdapter) CreatePayment(_ context.Context, req payment.CreateRequest) (*payment.CreateResult, error) {
	s.requests = append(s.requests, req)
	return s.createRes, s.createErr
}

type stubCallback struct {
	Ext      string `json:"ext"`
	Order    string `json:"order"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Ping     bool   `json:"ping"`
}

func (s *stubAdapter) VerifyAndParse(req payment.WebhookRequest) (*payment.Event, error) {
	if req.Header.Get("X-Test-Signature") != "ok" {
		return nil, payment.ErrInvalidSignature
	}
	var cb stubCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}
	if cb.Ping {
		return nil, &payment.IgnoredError{Reason: "ping", ContentType: "application/json", Reply: []byte(`{"pong":true}`)}
	}
	return &payment.Event{
		Provider:          s.name,
		ExternalPaymentID: cb.Ext,
		OrderID:           cb.Order,
		Status:            payment.Status(cb.Status),
		ProviderStatus:    cb.Status,
		AmountMinor:       cb.Amount,
		Currency:          cb.Currency,
		RawPayload:        req.Body,
	}, nil
}

func (s *stubAdapter) Acknowledge(ev *payment.Event) (string, []byte) {
	return "text/plain", []byte("OK" + ev.ExternalPaymentID)
}

type stubQuoter struct {
	stubAdapter
}

func (s *stubQuoter) Quote(amountMinor int64, currency string) (payment.Quote, error) {
	return payment.Quote{AmountMinor: amountMinor / 179, Currency: "XTR"}, nil
}

type memCounter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (m *memCounter) Record(_ context.Context, provider, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]int{}
	}
	m.seen[provider+":"+outcome]++
}

type serviceFixture struct {
	*fixture
	service  *Service
	yookassa *stubAdapter
	counter  *memCounter
	settings repository.ProviderSettingRepository
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := newFixture(t)
	yk := &stubAdapter{
		name:      payment.ProviderYooKassa,
		createRes: &payment.CreateResult{RedirectURL: "https://yoomoney.example/pay/yk-1", ExternalRef: "yk-1"},
	}
	stars := &stubQuoter{stubAdapter{name: payment.ProviderTelegramStars, createRes: &payment.CreateResult{}}}

	reg := gateway.NewRegistry()
	reg.Register(yk, config.Limits{Enabled: true, Currency: "RUB", MinAmountMinor: 5000, MaxAmountMinor: 1000000})
	reg.Register(stars, config.Limits{Enabled: true, Currency: "RUB"})

	settings := repository.NewProviderSettingRepository(f.db)
	counter := &memCounter{}
	svc := NewService(f.repo, f.engine, reg, f.accounts, settings, config.BillingConfig{
		PendingTTL:      time.Hour,
		DefaultCurrency: "RUB",
	}).WithCounter(counter)
	svc.now = func() time.Time { return f.now }

	return &serviceFixture{fixture: f, service: svc, yookassa: yk, counter: counter, settings: settings}
}

func signed(body string) payment.WebhookRequest {
	return payment.WebhookRequest{
		Body:     []byte(body),
		Header:   http.Header{"X-Test-Signature": []string{"ok"}},
		RemoteIP: "185.71.76.10",
	}
}

func TestCreatePaymentOpensPendingRecord(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)

	res, err := f.service.CreatePayment(context.Background(), CreatePaymentInput{
		UserID:      user.ID,
		Provider:    " YooKassa ",
		AmountMinor: 150000,
		Metadata:    map[string]string{"source": "bot"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://yoomoney.example/pay/yk-1", res.RedirectURL)
	assert.Equal(t, "yk-1", res.ExternalRef)
	assert.Equal(t, "RUB", res.Currency)
	require.NotNil(t, res.ExpiresAt)
	assert.Equal(t, f.now.Add(time.Hour), *res.ExpiresAt)

	require.Len(t, f.yookassa.requests, 1)
	sent := f.yookassa.requests[0]
	assert.Equal(t, res.OrderID, sent.OrderID)
	assert.Equal(t, int64(42), sent.TelegramID)
	assert.Equal(t, "Balance top-up", sent.Description)

	rec, err := f.service.GetPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, rec.Status)
	assert.Equal(t, "yk-1", rec.ExternalID())
	assert.Equal(t, res.RedirectURL, rec.PaymentURL)
	assert.JSONEq(t, `{"source":"bot"}`, rec.MetadataJSON)
}

func TestCreatePaymentRejectsBeforeWriting(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	ctx := context.Background()

	tests := []struct {
		name  string
		input CreatePaymentInput
		want  error
	}{
		{"below minimum", CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 100}, payment.ErrInvalidAmount},
		{"above maximum", CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 2000000}, payment.ErrInvalidAmount},
		{"zero", CreatePaymentInput{UserID: user.ID, Provider: "yookassa"}, payment.ErrInvalidAmount},
		{"unsupported", CreatePaymentInput{UserID: user.ID, Provider: "paypal", AmountMinor: 10000}, payment.ErrUnsupportedProvider},
		{"not configured", CreatePaymentInput{UserID: user.ID, Provider: "robokassa", AmountMinor: 10000}, payment.ErrProviderDisabled},
		{"bad purpose", CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000, Purpose: "gift"}, payment.ErrMalformedPayload},
		{"unknown user", CreatePaymentInput{UserID: 999, Provider: "yookassa", AmountMinor: 10000}, ErrAccountNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreatePayment(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, int64(0), f.count(t, &models.Payment{}))
	assert.Empty(t, f.yookassa.requests)
}

func TestCreatePaymentRespectsProviderSwitch(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)

	require.NoError(t, f.service.SetProviderEnabled("yookassa", false, "admin"))
	_, err := f.service.CreatePayment(context.Background(), CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000})
	assert.ErrorIs(t, err, payment.ErrProviderDisabled)

	enabled, err := f.service.EnabledProviders()
	require.NoError(t, err)
	assert.Equal(t, []string{payment.ProviderTelegramStars}, enabled)

	require.NoError(t, f.service.SetProviderEnabled("yookassa", true, "admin"))
	_, err = f.service.CreatePayment(context.Background(), CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000})
	assert.NoError(t, err)

	assert.ErrorIs(t, f.service.SetProviderEnabled("paypal", true, "admin"), payment.ErrUnsupportedProvider)
}

func TestCreatePaymentGatewayFailures(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	ctx := context.Background()

	f.yookassa.createRes = nil
	f.yookassa.createErr = fmt.Errorf("%w: timeout", payment.ErrGatewayUnavailable)
	_, err := f.service.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)

	f.yookassa.createErr = fmt.Errorf("%w: rejected by provider", payment.ErrInvalidAmount)
	_, err = f.service.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	rows, err := f.service.ListUserPayments(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// newest first
	assert.Equal(t, payment.StatusFailed, rows[0].Status)
	assert.Equal(t, "rejected", rows[0].LastProviderStatus)
	assert.Equal(t, payment.StatusPending, rows[1].Status)
}

func TestCreatePaymentRequiresAccountCurrency(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	ctx := context.Background()

	heleket := &stubAdapter{name: payment.ProviderHeleket, createRes: &payment.CreateResult{RedirectURL: "https://pay.heleket.example/u-1"}}
	reg := gateway.NewRegistry()
	reg.Register(f.yookassa, config.Limits{Enabled: true, Currency: "RUB"})
	reg.Register(heleket, config.Limits{Enabled: true, Currency: "USDT"})
	svc := NewService(f.repo, f.engine, reg, f.accounts, f.settings, config.BillingConfig{PendingTTL: time.Hour, DefaultCurrency: "RUB"})

	_, err := svc.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "heleket", AmountMinor: 1500000000})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	_, err = svc.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 10000, Currency: "USD"})
	assert.ErrorIs(t, err, payment.ErrInvalidAmount)

	assert.Empty(t, heleket.requests)
	assert.Equal(t, int64(0), f.count(t, &models.Payment{}))
}

func TestCreatePaymentQuotesStars(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)

	res, err := f.service.CreatePayment(context.Background(), CreatePaymentInput{
		UserID: user.ID, Provider: "telegram_stars", AmountMinor: 10000, Currency: "RUB",
		Purpose: payment.PurposeSubscription, SubscriptionDays: 30,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(55), res.AmountMinor)
	assert.Equal(t, "XTR", res.Currency)

	rec, err := f.service.GetPayment(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "Subscription 30 days", rec.Description)
	amount, currency := rec.CreditAmount()
	assert.Equal(t, int64(10000), amount)
	assert.Equal(t, "RUB", currency)
}

// user 42 pays 1500.00 RUB and the provider delivers the notification twice
func TestHandleWebhookDuplicateDeliveryCreditsOnce(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	ctx := context.Background()

	created, err := f.service.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 150000})
	require.NoError(t, err)

	body := fmt.Sprintf(`{"ext":"yk-1","order":"%s","status":"paid","amount":150000,"currency":"RUB"}`, created.OrderID)
	first, err := f.service.HandleWebhook(ctx, "yookassa", signed(body))
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	require.NotNil(t, first.Outcome)
	assert.Equal(t, payment.StatusPaid, first.Outcome.Status)
	assert.Equal(t, "OKyk-1", string(first.AckBody))

	second, err := f.service.HandleWebhook(ctx, "yookassa", signed(body))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "OKyk-1", string(second.AckBody))

	assert.Equal(t, int64(1), f.count(t, &models.Transaction{}))
	assert.Equal(t, int64(1), f.count(t, &models.WebhookDelivery{}))
	balance, err := f.accounts.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), balance)

	assert.Equal(t, 1, f.counter.seen["yookassa:"+OutcomeApplied])
	assert.Equal(t, 1, f.counter.seen["yookassa:"+OutcomeDuplicate])
}

func TestHandleWebhookRejectsTamperedDelivery(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderYooKassa, "yk-9", 150000, "RUB")

	req := signed(`{"ext":"yk-9","status":"paid","amount":150000,"currency":"RUB"}`)
	req.Header.Set("X-Test-Signature", "forged")
	_, err := f.service.HandleWebhook(context.Background(), "yookassa", req)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	assert.Equal(t, payment.StatusPending, f.reload(t, rec.ID).Status)
	assert.Equal(t, int64(0), f.count(t, &models.WebhookDelivery{}))
	assert.Equal(t, 1, f.counter.seen["yookassa:"+OutcomeRejected])
}

func TestHandleWebhookForgedCopyDoesNotShadowGenuineDelivery(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderYooKassa, "yk-7", 150000, "RUB")
	ctx := context.Background()
	body := `{"ext":"yk-7","status":"paid","amount":150000,"currency":"RUB"}`

	forged := signed(body)
	forged.Header.Set("X-Test-Signature", "00")
	_, err := f.service.HandleWebhook(ctx, "yookassa", forged)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	res, err := f.service.HandleWebhook(ctx, "yookassa", signed(body))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, payment.StatusPaid, res.Outcome.Status)

	assert.Equal(t, payment.StatusPaid, f.reload(t, rec.ID).Status)
	balance, err := f.accounts.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), balance)
}

func TestHandleWebhookAcknowledgesReviewableErrors(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.HandleWebhook(context.Background(), "yookassa",
		signed(`{"ext":"yk-unknown","status":"paid","amount":100,"currency":"RUB"}`))
	require.NoError(t, err)
	assert.ErrorIs(t, res.Review, payment.ErrUnknownPayment)
	assert.Equal(t, "OKyk-unknown", string(res.AckBody))

	issues, err := f.service.ListIssues(context.Background(), IssueFilter{Provider: "YooKassa"})
	require.NoError(t, err)
	require.Len(t, issues, 1)

	require.NoError(t, f.service.ResolveIssue(context.Background(), issues[0].ID, "ops", "refunded manually"))
	assert.ErrorIs(t, f.service.ResolveIssue(context.Background(), issues[0].ID, "ops", ""), ErrIssueNotFound)
}

func TestHandleWebhookIgnoredUpdateCarriesReply(t *testing.T) {
	f := newServiceFixture(t)

	res, err := f.service.HandleWebhook(context.Background(), "telegram_stars", signed(`{"ping":true}`))
	require.NoError(t, err)
	require.NotNil(t, res.Ignored)
	assert.Equal(t, "application/json", res.AckContentType)
	assert.JSONEq(t, `{"pong":true}`, string(res.AckBody))
	assert.False(t, res.Duplicate)
	assert.Equal(t, 1, f.counter.seen["telegram_stars:"+OutcomeIgnored])

	again, err := f.service.HandleWebhook(context.Background(), "telegram_stars", signed(`{"ping":true}`))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.JSONEq(t, `{"pong":true}`, string(again.AckBody))
}

func TestHandleWebhookRetriesAfterInternalFailure(t *testing.T) {
	f := newServiceFixture(t)
	user := f.account(t, 42)
	f.pending(t, user.ID, payment.ProviderYooKassa, "yk-5", 150000, "RUB")
	body := `{"ext":"yk-5","status":"paid","amount":150000,"currency":"RUB"}`

	f.engine.creditor = failingCreditor{}
	_, err := f.service.HandleWebhook(context.Background(), "yookassa", signed(body))
	assert.ErrorIs(t, err, payment.ErrCreditFailure)

	f.engine.creditor = NewAccountCreditor(f.accounts, TariffPricing{PricePer30DaysMinor: 30000, Currency: "RUB"})
	res, err := f.service.HandleWebhook(context.Background(), "yookassa", signed(body))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, payment.StatusPaid, res.Outcome.Status)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.HandleWebhook(context.Background(), "paypal", signed(`{}`))
	assert.ErrorIs(t, err, payment.ErrUnsupportedProvider)

	_, err = f.service.HandleWebhook(context.Background(), "robokassa", signed(`{}`))
	assert.ErrorIs(t, err, payment.ErrProviderDisabled)
}

func TestProvidersReportsEffectiveState(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.settings.Set("robokassa", true, "admin"))

	states, err := f.service.Providers()
	require.NoError(t, err)
	require.Len(t, states, len(config.AllProviders))

	byName := map[string]ProviderState{}
	for _, st := range states {
		byName[st.Provider] = st
	}
	assert.True(t, byName["yookassa"].Enabled)
	assert.False(t, byName["robokassa"].Configured)
	assert.False(t, byName["robokassa"].Enabled, "a switch cannot enable an unconfigured provider")
}

func TestServiceFromDBSettlesPayments(t *testing.T) {
	db := database.NewTestDB(t)
	yk := &stubAdapter{
		name:      payment.ProviderYooKassa,
		createRes: &payment.CreateResult{RedirectURL: "https://yoomoney.example/pay/yk-7", ExternalRef: "yk-7"},
	}
	reg := gateway.NewRegistry()
	reg.Register(yk, config.Limits{Enabled: true, Currency: "RUB"})
	svc := NewServiceFromDB(db, reg, config.BillingConfig{PendingTTL: time.Hour, DefaultCurrency: "RUB", SubscriptionPricePer30Days: 30000})
	ctx := context.Background()

	accounts := repository.NewAccountRepository(db)
	user, err := accounts.ResolveTelegramUser(7, "")
	require.NoError(t, err)

	created, err := svc.CreatePayment(ctx, CreatePaymentInput{UserID: user.ID, Provider: "yookassa", AmountMinor: 90000})
	require.NoError(t, err)
	body := fmt.Sprintf(`{"ext":"yk-7","order":"%s","status":"paid","amount":90000,"currency":"RUB"}`, created.OrderID)
	res, err := svc.HandleWebhook(ctx, "yookassa", signed(body))
	require.NoError(t, err)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, payment.StatusPaid, res.Outcome.Status)

	balance, err := accounts.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), balance)
}

package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/gateway"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

var (
	ErrPaymentNotFound = errors.New("payment not found")
	ErrAccountNotFound = errors.New("account not found")
	ErrIssueNotFound   = errors.New("issue not found")
)

var validate = validator.New()

// Gateways resolves provider adapters and their configured limits.
type Gateways interface {
	Adapter(provider string) (gateway.Adapter, bool)
	Limits(provider string) (config.Limits, bool)
}

// OutcomeCounter records one webhook outcome per provider.
type OutcomeCounter interface {
	Record(ctx context.Context, provider, outcome string)
}

// Service is the entry point for the payment API and the webhook gateway.
type Service struct {
	repo     Repository
	engine   *Engine
	gateways Gateways
	accounts repository.AccountRepository
	settings repository.ProviderSettingRepository
	counter  OutcomeCounter
	cfg      config.BillingConfig
	now      func() time.Time
}

func NewService(
	repo Repository,
	engine *Engine,
	gateways Gateways,
	accounts repository.AccountRepository,
	settings repository.ProviderSettingRepository,
	cfg config.BillingConfig,
) *Service {
	return &Service{
		repo:     repo,
		engine:   engine,
		gateways: gateways,
		accounts: accounts,
		settings: settings,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceFromDB wires the gorm repositories, the account creditor and the
// engine behind a Service.
func NewServiceFromDB(db *gorm.DB, gateways Gateways, cfg config.BillingConfig) *Service {
	repos := repository.NewFactory(db)
	accounts := repos.GetAccountRepository()
	repo := NewRepository(db)
	creditor := NewAccountCreditor(accounts, TariffPricing{
		PricePer30DaysMinor: cfg.SubscriptionPricePer30Days,
		Currency:            cfg.DefaultCurrency,
	})
	engine := NewEngine(repo, accounts, creditor)
	return NewService(repo, engine, gateways, accounts, repos.GetProviderSettingRepository(), cfg)
}

// Repository exposes the ledger for the background workers.
func (s *Service) Repository() Repository {
	return s.repo
}

// WithCounter attaches an outcome counter. A nil counter is ignored.
func (s *Service) WithCounter(c OutcomeCounter) *Service {
	s.counter = c
	return s
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// CreatePaymentResult is returned to the API caller.
type CreatePaymentResult struct {
	OrderID     string     `json:"order_id"`
	Provider    string     `json:"provider"`
	RedirectURL string     `json:"redirect_url"`
	ExternalRef string     `json:"external_ref,omitempty"`
	AmountMinor int64      `json:"amount_minor"`
	Currency    string     `json:"currency"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CreatePayment opens a payment at the provider. The pending row is written
// before the provider is called, so a timed out call leaves a row the sweep
// expires later. A provider that refuses the amount marks the row failed.
func (s *Service) CreatePayment(ctx context.Context, in CreatePaymentInput) (*CreatePaymentResult, error) {
	in.Provider = payment.NormalizeProvider(in.Provider)
	in.Currency = payment.NormalizeCurrency(in.Currency)
	if in.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", payment.ErrInvalidAmount)
	}
	if err := validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrMalformedPayload, err)
	}

	adapter, err := s.adapterFor(in.Provider)
	if err != nil {
		return nil, err
	}
	account, err := s.accounts.GetByID(in.UserID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("user %d: %w", in.UserID, ErrAccountNotFound)
	}
	if err != nil {
		return nil, err
	}

	// the requested amount is what the wallet receives, so it is always in
	// the account currency; providers billing in another currency need a
	// quote
	currency := payment.NormalizeCurrency(firstNonEmpty(account.Currency, s.cfg.DefaultCurrency))
	if in.Currency != "" && in.Currency != currency {
		return nil, fmt.Errorf("%w: account %d is kept in %s, got %s", payment.ErrInvalidAmount, account.ID, currency, in.Currency)
	}
	limits, _ := s.gateways.Limits(in.Provider)
	if err := limits.Check(in.AmountMinor); err != nil {
		return nil, err
	}

	charge := payment.Quote{AmountMinor: in.AmountMinor, Currency: currency}
	if q, ok := adapter.(gateway.Quoter); ok {
		if charge, err = q.Quote(in.AmountMinor, currency); err != nil {
			return nil, err
		}
	} else if billed := payment.NormalizeCurrency(limits.Currency); billed != "" && billed != currency {
		return nil, fmt.Errorf("%w: %s bills in %s and has no rate for %s", payment.ErrInvalidAmount, in.Provider, billed, currency)
	}

	purpose := normalizePurpose(in.Purpose)
	expiresAt := s.now().Add(s.cfg.PendingTTL)
	rec := &models.Payment{
		OrderID:          uuid.NewString(),
		Provider:         in.Provider,
		UserID:           account.ID,
		AmountMinor:      charge.AmountMinor,
		Currency:         charge.Currency,
		Purpose:          purpose,
		SubscriptionDays: in.SubscriptionDays,
		Description:      describe(in.Description, purpose, in.SubscriptionDays),
		ExpiresAt:        &expiresAt,
	}
	if charge.AmountMinor != in.AmountMinor || charge.Currency != currency {
		rec.CreditAmountMinor = in.AmountMinor
		rec.CreditCurrency = currency
	}
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, err
		}
		rec.MetadataJSON = string(raw)
	}
	if err := s.repo.CreatePending(rec); err != nil {
		return nil, fmt.Errorf("create pending payment: %w", err)
	}

	res, err := adapter.CreatePayment(ctx, payment.CreateRequest{
		OrderID:     rec.OrderID,
		UserID:      account.ID,
		TelegramID:  account.TelegramID,
		AmountMinor: rec.AmountMinor,
		Currency:    rec.Currency,
		Description: rec.Description,
		Email:       in.Email,
		ClientIP:    in.ClientIP,
		Metadata:    in.Metadata,
	})
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAmount) {
			if _, terr := s.repo.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusFailed, map[string]any{
				"last_provider_status": "rejected",
			}); terr != nil {
				log.Errorf("[Billing] Failed to mark order %s failed: %v", rec.OrderID, terr)
			}
		}
		log.Warnf("[Billing] %s create failed for order %s: %v", in.Provider, rec.OrderID, err)
		return nil, err
	}

	if res.ExpiresAt != nil {
		expiresAt = res.ExpiresAt.UTC()
	}
	if err := s.repo.AttachProviderResult(rec.ID, res.ExternalRef, res.RedirectURL, &expiresAt); err != nil {
		return nil, fmt.Errorf("attach provider result to %s: %w", rec.OrderID, err)
	}
	log.Infof("[Billing] Created %s payment %s for user %d: %d %s", in.Provider, rec.OrderID, account.ID, rec.AmountMinor, rec.Currency)

	return &CreatePaymentResult{
		OrderID:     rec.OrderID,
		Provider:    rec.Provider,
		RedirectURL: res.RedirectURL,
		ExternalRef: res.ExternalRef,
		AmountMinor: rec.AmountMinor,
		Currency:    rec.Currency,
		ExpiresAt:   &expiresAt,
	}, nil
}

func describe(description, purpose string, days int) string {
	if d := strings.TrimSpace(description); d != "" {
		return d
	}
	if purpose == payment.PurposeSubscription && days > 0 {
		return fmt.Sprintf("Subscription %d days", days)
	}
	return "Balance top-up"
}

// HandleWebhook verifies, records and applies one provider callback.
// Reviewable engine errors are acknowledged: the result is returned with
// Review set and a nil error.
func (s *Service) HandleWebhook(ctx context.Context, provider string, req payment.WebhookRequest) (*WebhookResult, error) {
	provider = payment.NormalizeProvider(provider)
	adapter, err := s.adapterFor(provider)
	if err != nil {
		return nil, err
	}

	ev, verr := adapter.VerifyAndParse(req)
	ignored, isIgnored := payment.AsIgnored(verr)

	// Unverified requests never enter the delivery table: the dedupe key
	// covers only the body, so a stored forgery would shadow the genuine
	// delivery carrying the same bytes.
	if verr != nil && !isIgnored {
		s.count(ctx, provider, OutcomeRejected)
		log.Warnf("[Webhook] Rejected %s delivery from %s: %v", provider, req.RemoteIP, verr)
		return nil, verr
	}

	delivery := &models.WebhookDelivery{
		Provider:       provider,
		DeliveryKey:    deliveryKey(req),
		RemoteIP:       req.RemoteIP,
		PayloadRaw:     string(req.Body),
		SignatureValid: true,
	}
	if ev != nil {
		delivery.OrderID = ev.OrderID
		delivery.EventStatus = string(ev.Status)
	}
	created, stored, err := s.repo.CreateWebhookDeliveryIfNotExists(delivery)
	if err != nil {
		return nil, fmt.Errorf("record %s delivery: %w", provider, err)
	}

	res := &WebhookResult{Provider: provider, Event: ev, Ignored: ignored}
	if !created && stored.Done() {
		res.Duplicate = true
		s.acknowledge(adapter, res)
		s.count(ctx, provider, OutcomeDuplicate)
		return res, nil
	}

	if isIgnored {
		s.finish(stored.ID, OutcomeIgnored, "", "", "")
		s.count(ctx, provider, OutcomeIgnored)
		s.acknowledge(adapter, res)
		return res, nil
	}

	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = s.now()
	}
	out, aerr := s.engine.Apply(ctx, ev)
	switch {
	case aerr == nil:
		res.Outcome = out
		res.Duplicate = out.Duplicate
		outcome := OutcomeApplied
		if out.Duplicate {
			outcome = OutcomeDuplicate
		}
		s.finish(stored.ID, outcome, out.OrderID, string(ev.Status), "")
		s.count(ctx, provider, outcome)
	case payment.IsReviewable(aerr):
		res.Review = aerr
		s.finish(stored.ID, OutcomeReview, ev.OrderID, string(ev.Status), "")
		s.count(ctx, provider, OutcomeReview)
		log.Warnf("[Webhook] %s delivery sent to review: %v", provider, aerr)
	default:
		s.finish(stored.ID, OutcomeFailed, ev.OrderID, string(ev.Status), aerr.Error())
		s.count(ctx, provider, OutcomeFailed)
		log.Errorf("[Webhook] %s delivery failed: %v", provider, aerr)
		return nil, aerr
	}
	s.acknowledge(adapter, res)
	return res, nil
}

func (s *Service) acknowledge(adapter gateway.Adapter, res *WebhookResult) {
	if res.Ignored != nil {
		res.AckContentType = res.Ignored.ContentType
		res.AckBody = res.Ignored.Reply
		return
	}
	if a, ok := adapter.(gateway.Acknowledger); ok && res.Event != nil {
		res.AckContentType, res.AckBody = a.Acknowledge(res.Event)
	}
}

func (s *Service) finish(id uint, outcome, orderID, eventStatus, processingError string) {
	if err := s.repo.MarkWebhookProcessed(id, outcome, orderID, eventStatus, processingError, s.now()); err != nil {
		log.Errorf("[Webhook] Failed to mark delivery %d as %s: %v", id, outcome, err)
	}
}

func (s *Service) count(ctx context.Context, provider, outcome string) {
	if s.counter != nil {
		s.counter.Record(ctx, provider, outcome)
	}
}

// deliveryKey identifies a delivery by its exact bytes, query included.
func deliveryKey(req payment.WebhookRequest) string {
	h := sha256.New()
	h.Write(req.Body)
	if len(req.Query) > 0 {
		h.Write([]byte{0})
		h.Write([]byte(req.Query.Encode()))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// adapterFor returns the adapter for provider if it is configured and not
// switched off by an administrator.
func (s *Service) adapterFor(provider string) (gateway.Adapter, error) {
	if !gateway.IsKnown(provider) {
		return nil, fmt.Errorf("%q: %w", provider, payment.ErrUnsupportedProvider)
	}
	adapter, ok := s.gateways.Adapter(provider)
	if !ok {
		return nil, fmt.Errorf("%s is not configured: %w", provider, payment.ErrProviderDisabled)
	}
	switches, err := s.settings.All()
	if err != nil {
		return nil, err
	}
	if enabled, set := switches[provider]; set && !enabled {
		return nil, fmt.Errorf("%s is switched off: %w", provider, payment.ErrProviderDisabled)
	}
	return adapter, nil
}

// ProviderState is the effective availability of one provider.
type ProviderState struct {
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	Enabled    bool   `json:"enabled"`
}

// Providers reports every supported provider with its effective state.
func (s *Service) Providers() ([]ProviderState, error) {
	switches, err := s.settings.All()
	if err != nil {
		return nil, err
	}
	out := make([]ProviderState, 0, len(config.AllProviders))
	for _, name := range config.AllProviders {
		_, configured := s.gateways.Adapter(name)
		enabled := configured
		if v, set := switches[name]; set {
			enabled = configured && v
		}
		out = append(out, ProviderState{Provider: name, Configured: configured, Enabled: enabled})
	}
	return out, nil
}

// EnabledProviders lists the providers currently accepting payments.
func (s *Service) EnabledProviders() ([]string, error) {
	states, err := s.Providers()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, st := range states {
		if st.Enabled {
			out = append(out, st.Provider)
		}
	}
	return out, nil
}

// SetProviderEnabled stores an administrative switch for provider.
func (s *Service) SetProviderEnabled(provider string, enabled bool, by string) error {
	provider = payment.NormalizeProvider(provider)
	if !gateway.IsKnown(provider) {
		return fmt.Errorf("%q: %w", provider, payment.ErrUnsupportedProvider)
	}
	if err := s.settings.Set(provider, enabled, by); err != nil {
		return err
	}
	log.Infof("[Billing] Provider %s enabled=%t by %s", provider, enabled, by)
	return nil
}

func (s *Service) GetPayment(_ context.Context, orderID string) (*models.Payment, error) {
	p, err := s.repo.GetByOrderID(strings.TrimSpace(orderID))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (s *Service) ListUserPayments(_ context.Context, userID uint, limit int) ([]models.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.repo.ListPaymentsByUser(userID, limit)
}

func (s *Service) ListIssues(_ context.Context, filter IssueFilter) ([]models.ReconciliationIssue, error) {
	filter.Provider = payment.NormalizeProvider(filter.Provider)
	return s.repo.ListIssues(filter)
}

func (s *Service) ResolveIssue(_ context.Context, id uint, by, note string) error {
	err := s.repo.ResolveIssue(id, strings.TrimSpace(by), strings.TrimSpace(note), s.now())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrIssueNotFound
	}
	return err
}

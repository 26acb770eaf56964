package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Engine applies verified provider events to the ledger. Every Apply runs in
// one DB transaction: row lock, compare-and-swap on status, credit, link and
// outbox insert commit together or not at all.
type Engine struct {
	repo     Repository
	accounts repository.AccountRepository
	creditor BalanceCreditor
	now      func() time.Time
}

func NewEngine(repo Repository, accounts repository.AccountRepository, creditor BalanceCreditor) *Engine {
	return &Engine{
		repo:     repo,
		accounts: accounts,
		creditor: creditor,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply reconciles ev against its payment record. Reviewable failures
// (unknown payment, amount mismatch, conflict) leave the record untouched and
// are written to the review queue.
func (e *Engine) Apply(ctx context.Context, ev *payment.Event) (*payment.Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	var (
		outcome *payment.Outcome
		issue   *models.ReconciliationIssue
	)
	err := e.repo.Transaction(ctx, func(tx Repository) error {
		rec, err := e.lockOrOpen(tx, ev)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			issue = newIssue(models.IssueKindUnknownPayment, ev, nil, "no payment record for event")
			return fmt.Errorf("%s %s/%s: %w", ev.Provider, ev.ExternalPaymentID, ev.OrderID, payment.ErrUnknownPayment)
		}
		if err != nil {
			return err
		}

		if ev.ExternalPaymentID != "" && rec.ExternalPaymentID != nil && *rec.ExternalPaymentID != ev.ExternalPaymentID {
			issue = newIssue(models.IssueKindConflict, ev, rec, "event references a different provider payment id")
			return fmt.Errorf("order %s: %w", rec.OrderID, payment.ErrReconciliationConflict)
		}

		if rec.Status.IsTerminal() {
			if rec.Status == ev.Status {
				outcome = outcomeFor(rec, rec.Status)
				outcome.Duplicate = true
				return nil
			}
			issue = newIssue(models.IssueKindConflict, ev, rec,
				fmt.Sprintf("record is %s, event says %s", rec.Status, ev.Status))
			return fmt.Errorf("order %s is %s, event %s: %w", rec.OrderID, rec.Status, ev.Status, payment.ErrReconciliationConflict)
		}

		switch ev.Status {
		case payment.StatusPending:
			// provider progress report, nothing to transition
			if err := tx.SaveCallback(rec.ID, ev.ProviderStatus, string(ev.RawPayload)); err != nil {
				return err
			}
			outcome = outcomeFor(rec, rec.Status)
			outcome.Duplicate = true
			return nil
		case payment.StatusPaid:
			if !amountMatches(rec, ev) {
				issue = newIssue(models.IssueKindAmountMismatch, ev, rec, "paid amount differs from the record")
				return fmt.Errorf("order %s expected %d %s, got %d %s: %w",
					rec.OrderID, rec.AmountMinor, rec.Currency, ev.AmountMinor, ev.Currency, payment.ErrAmountMismatch)
			}
			walletCurrency, err := e.walletCurrency(tx, rec)
			if err != nil {
				issue = newIssue(models.IssueKindCreditFailure, ev, rec, err.Error())
				return wrapCreditErr(err)
			}
			if _, currency := rec.CreditAmount(); payment.NormalizeCurrency(currency) != walletCurrency {
				issue = newIssue(models.IssueKindAmountMismatch, ev, rec,
					fmt.Sprintf("credit currency %s differs from account currency %s", currency, walletCurrency))
				return fmt.Errorf("order %s credits %s into a %s account: %w", rec.OrderID, currency, walletCurrency, payment.ErrAmountMismatch)
			}
			outcome, err = e.settlePaid(ctx, tx, rec, ev)
			if errors.Is(err, payment.ErrCreditFailure) {
				issue = newIssue(models.IssueKindCreditFailure, ev, rec, err.Error())
			}
			return err
		default:
			outcome, err = e.settleUnpaid(tx, rec, ev)
			return err
		}
	})

	if issue != nil {
		if ierr := e.repo.CreateIssue(issue); ierr != nil {
			log.Errorf("[Reconciliation] Failed to record %s issue for %s: %v", issue.Kind, issue.OrderID, ierr)
		}
	}
	if errors.Is(err, errDuplicate) {
		return e.duplicateOutcome(ev)
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (e *Engine) duplicateOutcome(ev *payment.Event) (*payment.Outcome, error) {
	rec, err := e.repo.LockForEvent(ev.Provider, ev.ExternalPaymentID, ev.OrderID)
	if err != nil {
		return nil, err
	}
	out := outcomeFor(rec, rec.Status)
	out.Duplicate = true
	return out, nil
}

// lockOrOpen locks the record for ev. Events that carry an Origin describe
// payments started at the provider; their record is opened on first sight.
func (e *Engine) lockOrOpen(tx Repository, ev *payment.Event) (*models.Payment, error) {
	rec, err := tx.LockForEvent(ev.Provider, ev.ExternalPaymentID, ev.OrderID)
	if err == nil || !errors.Is(err, gorm.ErrRecordNotFound) || ev.Origin == nil {
		return rec, err
	}

	account, err := e.accounts.WithTx(tx.DB()).ResolveTelegramUser(ev.Origin.TelegramID, "")
	if err != nil {
		return nil, fmt.Errorf("resolve telegram user %d: %w", ev.Origin.TelegramID, err)
	}
	external := ev.ExternalPaymentID
	orderID := ev.OrderID
	if orderID == "" {
		orderID = ev.Provider + "_" + external
	}
	opened := &models.Payment{
		OrderID:           orderID,
		Provider:          ev.Provider,
		ExternalPaymentID: &external,
		UserID:            account.ID,
		AmountMinor:       ev.AmountMinor,
		Currency:          ev.Currency,
		Purpose:           normalizePurpose(ev.Origin.Purpose),
		Description:       ev.Origin.Description,
	}
	if _, err := tx.CreatePendingIfNotExists(opened); err != nil {
		return nil, err
	}
	return tx.LockForEvent(ev.Provider, external, orderID)
}

// walletCurrency is the currency of the account rec credits. Paid events
// are only credited in that currency.
func (e *Engine) walletCurrency(tx Repository, rec *models.Payment) (string, error) {
	account, err := e.accounts.WithTx(tx.DB()).GetByID(rec.UserID)
	if err != nil {
		return "", fmt.Errorf("load account %d: %w", rec.UserID, err)
	}
	return payment.NormalizeCurrency(account.Currency), nil
}

func (e *Engine) settlePaid(ctx context.Context, tx Repository, rec *models.Payment, ev *payment.Event) (*payment.Outcome, error) {
	now := e.now()
	changes := map[string]any{
		"is_paid":              true,
		"paid_at":              now,
		"last_provider_status": ev.ProviderStatus,
		"callback_payload":     string(ev.RawPayload),
	}
	if rec.ExternalPaymentID == nil && ev.ExternalPaymentID != "" {
		changes["external_payment_id"] = ev.ExternalPaymentID
	}
	swapped, err := tx.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusPaid, changes)
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, e.lostRace(tx, rec, ev)
	}

	amount, currency := rec.CreditAmount()
	txID, err := e.creditor.Credit(ctx, tx.DB(), CreditRequest{
		PaymentID:        rec.ID,
		UserID:           rec.UserID,
		AmountMinor:      amount,
		Currency:         currency,
		Purpose:          rec.Purpose,
		SubscriptionDays: rec.SubscriptionDays,
		Provider:         rec.Provider,
		ExternalID:       firstNonEmpty(ev.ExternalPaymentID, rec.ExternalID()),
		Description:      rec.Description,
	})
	if err != nil {
		return nil, wrapCreditErr(err)
	}
	if err := tx.LinkTransaction(rec.ID, txID); err != nil {
		return nil, err
	}

	out := outcomeFor(rec, payment.StatusPaid)
	out.TransactionID = &txID
	if err := e.enqueue(tx, out); err != nil {
		return nil, err
	}
	log.Infof("[Reconciliation] %s order %s paid, transaction %d", rec.Provider, rec.OrderID, txID)
	return out, nil
}

func (e *Engine) settleUnpaid(tx Repository, rec *models.Payment, ev *payment.Event) (*payment.Outcome, error) {
	swapped, err := tx.TransitionStatus(rec.ID, payment.StatusPending, ev.Status, map[string]any{
		"last_provider_status": ev.ProviderStatus,
		"callback_payload":     string(ev.RawPayload),
	})
	if err != nil {
		return nil, err
	}
	if !swapped {
		return nil, e.lostRace(tx, rec, ev)
	}
	out := outcomeFor(rec, ev.Status)
	if err := e.enqueue(tx, out); err != nil {
		return nil, err
	}
	log.Infof("[Reconciliation] %s order %s moved to %s", rec.Provider, rec.OrderID, ev.Status)
	return out, nil
}

// lostRace handles a compare-and-swap that matched no row. Under the row
// lock this only happens on drivers without locking; the current state
// decides between a duplicate and a conflict.
func (e *Engine) lostRace(tx Repository, rec *models.Payment, ev *payment.Event) error {
	current, err := tx.GetByID(rec.ID)
	if err != nil {
		return err
	}
	if current.Status == ev.Status {
		return errDuplicate
	}
	return fmt.Errorf("order %s changed to %s concurrently: %w", rec.OrderID, current.Status, payment.ErrReconciliationConflict)
}

// errDuplicate aborts a transaction whose work another writer already did.
var errDuplicate = errors.New("already applied")

// ExpireOverdue moves pending records past expires_at to expired. Each
// record is handled in its own transaction under the same lock as Apply, so
// a paid event racing the sweep wins or loses atomically.
func (e *Engine) ExpireOverdue(ctx context.Context, limit int) (*SweepResult, error) {
	now := e.now()
	if limit <= 0 {
		limit = 500
	}
	candidates, err := e.repo.ListOverduePending(now, limit)
	if err != nil {
		return nil, err
	}
	res := &SweepResult{Checked: len(candidates), At: now}
	for _, c := range candidates {
		err := e.repo.Transaction(ctx, func(tx Repository) error {
			rec, err := tx.LockByID(c.ID)
			if err != nil {
				return err
			}
			if rec.Status != payment.StatusPending || !rec.IsOverdue(now) {
				return nil
			}
			swapped, err := tx.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusExpired, map[string]any{
				"last_provider_status": "expired_by_sweep",
			})
			if err != nil || !swapped {
				return err
			}
			res.Expired++
			return e.enqueue(tx, outcomeFor(rec, payment.StatusExpired))
		})
		if err != nil {
			return res, fmt.Errorf("expire order %s: %w", c.OrderID, err)
		}
	}
	if res.Expired > 0 {
		log.Infof("[Reconciliation] Expired %d overdue payments", res.Expired)
	}
	return res, nil
}

func (e *Engine) enqueue(tx Repository, out *payment.Outcome) error {
	body, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return tx.CreateOutbox(&models.OutboxMessage{
		ID:          uuid.NewString(),
		PaymentID:   out.PaymentID,
		OrderID:     out.OrderID,
		Status:      string(out.Status),
		PayloadJSON: string(body),
	})
}

func validateEvent(ev *payment.Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event", payment.ErrMalformedPayload)
	}
	ev.Provider = payment.NormalizeProvider(ev.Provider)
	ev.Currency = payment.NormalizeCurrency(ev.Currency)
	ev.ExternalPaymentID = strings.TrimSpace(ev.ExternalPaymentID)
	ev.OrderID = strings.TrimSpace(ev.OrderID)
	if ev.Provider == "" {
		return fmt.Errorf("%w: provider is required", payment.ErrMalformedPayload)
	}
	if ev.ExternalPaymentID == "" && ev.OrderID == "" {
		return fmt.Errorf("%w: event carries neither a provider id nor an order id", payment.ErrMalformedPayload)
	}
	if !ev.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", payment.ErrMalformedPayload, ev.Status)
	}
	if ev.Origin != nil && (ev.ExternalPaymentID == "" || ev.Origin.TelegramID == 0 || !ev.HasAmount()) {
		return fmt.Errorf("%w: provider-initiated event lacks id, user or amount", payment.ErrMalformedPayload)
	}
	return nil
}

// amountMatches requires a stated amount: a paid event that cannot prove
// how much was paid never credits.
func amountMatches(rec *models.Payment, ev *payment.Event) bool {
	return ev.HasAmount() && ev.AmountMinor == rec.AmountMinor && ev.Currency == rec.Currency
}

func outcomeFor(rec *models.Payment, status payment.Status) *payment.Outcome {
	amount, currency := rec.CreditAmount()
	return &payment.Outcome{
		OrderID:       rec.OrderID,
		PaymentID:     rec.ID,
		UserID:        rec.UserID,
		Status:        status,
		AmountMinor:   amount,
		Currency:      currency,
		Provider:      rec.Provider,
		TransactionID: rec.LinkedTransactionID,
	}
}

func newIssue(kind string, ev *payment.Event, rec *models.Payment, detail string) *models.ReconciliationIssue {
	issue := &models.ReconciliationIssue{
		Kind:                kind,
		Provider:            ev.Provider,
		OrderID:             ev.OrderID,
		ExternalPaymentID:   ev.ExternalPaymentID,
		EventStatus:         string(ev.Status),
		ReceivedAmountMinor: ev.AmountMinor,
		ReceivedCurrency:    ev.Currency,
		Detail:              detail,
		PayloadRaw:          string(ev.RawPayload),
	}
	if rec != nil {
		id := rec.ID
		issue.PaymentID = &id
		issue.OrderID = rec.OrderID
		issue.RecordStatus = string(rec.Status)
		issue.ExpectedAmountMinor = rec.AmountMinor
		issue.ExpectedCurrency = rec.Currency
	}
	return issue
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/payment"
	"gorm.io/gorm"
)

// BalanceCreditor applies the money of a paid payment to the user. It runs
// on the caller's transaction handle and writes exactly one ledger
// transaction per call.
type BalanceCreditor interface {
	Credit(ctx context.Context, tx *gorm.DB, req CreditRequest) (uint, error)
}

// AccountCreditor credits top-ups to the wallet balance and converts
// subscription purchases into subscription days.
type AccountCreditor struct {
	accounts repository.AccountRepository
	pricing  Pricing
	now      func() time.Time
}

func NewAccountCreditor(accounts repository.AccountRepository, pricing Pricing) *AccountCreditor {
	return &AccountCreditor{
		accounts: accounts,
		pricing:  pricing,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (c *AccountCreditor) Credit(ctx context.Context, tx *gorm.DB, req CreditRequest) (uint, error) {
	if req.AmountMinor <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive, got %d", payment.ErrCreditFailure, req.AmountMinor)
	}
	if req.UserID == 0 {
		return 0, fmt.Errorf("%w: user is required", payment.ErrCreditFailure)
	}
	accounts := c.accounts.WithTx(tx.WithContext(ctx))
	account, err := accounts.GetByID(req.UserID)
	if err != nil {
		return 0, wrapCreditErr(err)
	}
	if currency := payment.NormalizeCurrency(req.Currency); currency != payment.NormalizeCurrency(account.Currency) {
		return 0, fmt.Errorf("%w: cannot credit %s to a %s account", payment.ErrCreditFailure, currency, account.Currency)
	}

	entry := &models.Transaction{
		UserID:      req.UserID,
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Provider:    req.Provider,
		ExternalID:  req.ExternalID,
		Description: req.Description,
	}
	if req.PaymentID != 0 {
		pid := req.PaymentID
		entry.PaymentID = &pid
	}

	switch normalizePurpose(req.Purpose) {
	case payment.PurposeSubscription:
		days := req.SubscriptionDays
		if days <= 0 {
			var err error
			if days, err = c.pricing.DaysFor(req.AmountMinor, req.Currency); err != nil {
				return 0, fmt.Errorf("%w: %v", payment.ErrCreditFailure, err)
			}
		}
		if _, err := accounts.ExtendSubscription(req.UserID, days, c.now()); err != nil {
			return 0, wrapCreditErr(err)
		}
		entry.Type = models.TransactionTypeSubscriptionPayment
		if entry.Description == "" {
			entry.Description = fmt.Sprintf("Subscription %d days", days)
		}
	default:
		if err := accounts.CreditBalance(req.UserID, req.AmountMinor); err != nil {
			return 0, wrapCreditErr(err)
		}
		if _, err := accounts.MarkFirstTopup(req.UserID); err != nil {
			return 0, wrapCreditErr(err)
		}
		entry.Type = models.TransactionTypeDeposit
		if entry.Description == "" {
			entry.Description = "Balance top-up"
		}
	}

	if err := tx.WithContext(ctx).Create(entry).Error; err != nil {
		return 0, wrapCreditErr(err)
	}
	return entry.ID, nil
}

func wrapCreditErr(err error) error {
	if errors.Is(err, payment.ErrCreditFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", payment.ErrCreditFailure, err)
}

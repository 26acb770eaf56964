package repository

import (
	"fmt"
	"time"

	"github.com/vpnshop/paycore/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository {
	return &accountRepository{db: tx}
}

func (r *accountRepository) GetByID(id uint) (*models.Account, error) {
	var account models.Account
	if err := r.db.First(&account, id).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) GetByTelegramID(telegramID int64) (*models.Account, error) {
	var account models.Account
	if err := r.db.Where("telegram_id = ?", telegramID).First(&account).Error; err != nil {
		return nil, err
	}
	return &account, nil
}

// ResolveTelegramUser returns the account for a Telegram user, creating it
// on first contact.
func (r *accountRepository) ResolveTelegramUser(telegramID int64, username string) (*models.Account, error) {
	account := &models.Account{TelegramID: telegramID, Username: username, Currency: "RUB"}
	if err := account.Validate(); err != nil {
		return nil, err
	}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "telegram_id"}},
		DoNothing: true,
	}).Create(account).Error; err != nil {
		return nil, err
	}
	return r.GetByTelegramID(telegramID)
}

func (r *accountRepository) GetBalance(id uint) (int64, error) {
	account, err := r.GetByID(id)
	if err != nil {
		return 0, err
	}
	return account.BalanceMinor, nil
}

// CreditBalance adds amountMinor in a single UPDATE so concurrent credits
// for one user never overwrite each other.
func (r *accountRepository) CreditBalance(id uint, amountMinor int64) error {
	if amountMinor <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amountMinor)
	}
	tx := r.db.Model(&models.Account{}).
		Where("id = ?", id).
		UpdateColumn("balance_minor", gorm.Expr("balance_minor + ?", amountMinor))
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected != 1 {
		return fmt.Errorf("account %d: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// ExtendSubscription pushes the subscription end by days, starting from now
// when the subscription already lapsed.
func (r *accountRepository) ExtendSubscription(id uint, days int, now time.Time) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("subscription days must be positive, got %d", days)
	}
	var account models.Account
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&account, id).Error; err != nil {
		return time.Time{}, err
	}
	base := now
	if account.HasActiveSubscription(now) {
		base = *account.SubscriptionEndsAt
	}
	endsAt := base.AddDate(0, 0, days)
	if err := r.db.Model(&models.Account{}).
		Where("id = ?", id).
		UpdateColumn("subscription_ends_at", endsAt).Error; err != nil {
		return time.Time{}, err
	}
	return endsAt, nil
}

// MarkFirstTopup flips the first-top-up flag and reports whether this call
// was the one that flipped it.
func (r *accountRepository) MarkFirstTopup(id uint) (bool, error) {
	tx := r.db.Model(&models.Account{}).
		Where("id = ? AND has_made_first_topup = ?", id, false).
		UpdateColumn("has_made_first_topup", true)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *accountRepository) List(offset, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.Order("id ASC").Offset(offset).Limit(limit).Find(&accounts).Error
	return accounts, err
}

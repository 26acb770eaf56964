package repository

import (
	"time"

	"github.com/vpnshop/paycore/app/models"
	"gorm.io/gorm"
)

// AccountRepository defines the wallet operations the balance creditor needs.
// WithTx rebinds the repository to a transaction handle.
type AccountRepository interface {
	WithTx(tx *gorm.DB) AccountRepository
	GetByID(id uint) (*models.Account, error)
	GetByTelegramID(telegramID int64) (*models.Account, error)
	ResolveTelegramUser(telegramID int64, username string) (*models.Account, error)
	GetBalance(id uint) (int64, error)
	CreditBalance(id uint, amountMinor int64) error
	ExtendSubscription(id uint, days int, now time.Time) (time.Time, error)
	MarkFirstTopup(id uint) (bool, error)
	List(offset, limit int) ([]models.Account, error)
}

// APIClientRepository defines the lookups behind API key authentication.
type APIClientRepository interface {
	Create(client *models.APIClient) error
	GetByName(name string) (*models.APIClient, error)
	GetByAPIKeyHash(hash string) (*models.APIClient, error)
	TouchLastUsed(id uint, at time.Time) error
	Save(client *models.APIClient) error
	List() ([]models.APIClient, error)
}

// ProviderSettingRepository defines access to the provider switches.
type ProviderSettingRepository interface {
	All() (map[string]bool, error)
	Set(provider string, enabled bool, updatedBy string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account         AccountRepository
	APIClient       APIClientRepository
	ProviderSetting ProviderSettingRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:         NewAccountRepository(db),
		APIClient:       NewAPIClientRepository(db),
		ProviderSetting: NewProviderSettingRepository(db),
	}
}

package repository

import (
	"strings"

	"github.com/vpnshop/paycore/app/models"
	"gorm.io/gorm"
)

// providerSettingRepository implements the ProviderSettingRepository interface
type providerSettingRepository struct {
	db *gorm.DB
}

// NewProviderSettingRepository creates a new provider setting repository instance
func NewProviderSettingRepository(db *gorm.DB) ProviderSettingRepository {
	return &providerSettingRepository{db: db}
}

func (r *providerSettingRepository) All() (map[string]bool, error) {
	return models.LoadProviderSettings(r.db)
}

func (r *providerSettingRepository) Set(provider string, enabled bool, updatedBy string) error {
	return models.SaveProviderSetting(r.db, &models.ProviderSetting{
		Provider:  strings.ToLower(strings.TrimSpace(provider)),
		Enabled:   enabled,
		UpdatedBy: strings.TrimSpace(updatedBy),
	})
}

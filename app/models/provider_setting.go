package models

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProviderSetting is the administrative switch layered over the static
// provider configuration. A missing row means "follow the config".
type ProviderSetting struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Provider  string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"provider" validate:"required,min=2,max=32"`
	Enabled   bool      `gorm:"not null" json:"enabled"`
	UpdatedBy string    `gorm:"type:varchar(64)" json:"updated_by" validate:"max=64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *ProviderSetting) Validate() error {
	validate := validator.New()
	return validate.Struct(s)
}

// LoadProviderSettings returns the stored switches keyed by provider.
func LoadProviderSettings(db *gorm.DB) (map[string]bool, error) {
	var rows []ProviderSetting
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load provider settings: %w", err)
	}
	out := make(map[string]bool, len(rows))
	for _, r := range rows {
		out[r.Provider] = r.Enabled
	}
	return out, nil
}

// SaveProviderSetting upserts one switch.
func SaveProviderSetting(db *gorm.DB, setting *ProviderSetting) error {
	if err := setting.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "updated_by", "updated_at"}),
	}).Create(setting).Error
}

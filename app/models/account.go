package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Account is the subscriber's wallet: balance in minor units plus the
// current subscription horizon.
type Account struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	TelegramID         int64      `gorm:"not null;uniqueIndex" json:"telegram_id" validate:"required,gt=0"`
	Username           string     `gorm:"type:varchar(64)" json:"username" validate:"max=64"`
	BalanceMinor       int64      `gorm:"not null;default:0" json:"balance_minor"`
	Currency           string     `gorm:"type:varchar(8);not null;default:'RUB'" json:"currency" validate:"required,len=3"`
	SubscriptionEndsAt *time.Time `gorm:"type:timestamp;default:null" json:"subscription_ends_at,omitempty"`
	HasMadeFirstTopup  bool       `gorm:"not null;default:false" json:"has_made_first_topup"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// HasActiveSubscription reports whether the subscription horizon lies after now.
func (a *Account) HasActiveSubscription(now time.Time) bool {
	return a.SubscriptionEndsAt != nil && a.SubscriptionEndsAt.After(now)
}

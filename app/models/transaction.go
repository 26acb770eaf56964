package models

import "time"

const (
	TransactionTypeDeposit             = "deposit"
	TransactionTypeSubscriptionPayment = "subscription_payment"
)

// Transaction is an append-only financial entry. A payment can be linked to
// at most one row; the unique index on payment_id enforces it in storage.
type Transaction struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"not null;index" json:"user_id"`
	PaymentID   *uint     `gorm:"default:null;uniqueIndex" json:"payment_id,omitempty"`
	Type        string    `gorm:"type:varchar(32);not null;index" json:"type"`
	AmountMinor int64     `gorm:"not null" json:"amount_minor"`
	Currency    string    `gorm:"type:varchar(8);not null" json:"currency"`
	Provider    string    `gorm:"type:varchar(32);not null;default:''" json:"provider"`
	ExternalID  string    `gorm:"type:varchar(191);not null;default:''" json:"external_id"`
	Description string    `gorm:"type:varchar(255)" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

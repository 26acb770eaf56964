package models

import (
	"time"

	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Payment is the ledger row for one purchase attempt with one provider.
// (provider, external_payment_id) is unique; NULL external ids never collide.
type Payment struct {
	ID                  uint           `gorm:"primaryKey" json:"id"`
	OrderID             string         `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	Provider            string         `gorm:"type:varchar(32);not null;index:ux_payments_provider_external,unique,priority:1" json:"provider"`
	ExternalPaymentID   *string        `gorm:"type:varchar(191);default:null;index:ux_payments_provider_external,unique,priority:2" json:"external_payment_id,omitempty"`
	UserID              uint           `gorm:"not null;index" json:"user_id"`
	AmountMinor         int64          `gorm:"not null" json:"amount_minor"`
	Currency            string         `gorm:"type:varchar(8);not null" json:"currency"`
	CreditAmountMinor   int64          `gorm:"not null;default:0" json:"credit_amount_minor"`
	CreditCurrency      string         `gorm:"type:varchar(8);not null;default:''" json:"credit_currency"`
	Purpose             string         `gorm:"type:varchar(16);not null;default:'topup'" json:"purpose"`
	SubscriptionDays    int            `gorm:"not null;default:0" json:"subscription_days"`
	Description         string         `gorm:"type:varchar(255)" json:"description"`
	Status              payment.Status `gorm:"type:varchar(16);not null;default:'pending';index:idx_payments_status_expires,priority:1" json:"status"`
	IsPaid              bool           `gorm:"not null;default:false" json:"is_paid"`
	PaymentURL          string         `gorm:"type:text" json:"payment_url"`
	MetadataJSON        string         `gorm:"type:text" json:"metadata_json"`
	CallbackPayload     string         `gorm:"type:longtext" json:"-"`
	LastProviderStatus  string         `gorm:"type:varchar(64)" json:"last_provider_status"`
	ExpiresAt           *time.Time     `gorm:"type:timestamp;default:null;index:idx_payments_status_expires,priority:2" json:"expires_at,omitempty"`
	PaidAt              *time.Time     `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	LinkedTransactionID *uint          `gorm:"default:null;index" json:"linked_transaction_id,omitempty"`
	CreatedAt           time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditAmount returns what the balance creditor receives for this payment.
func (p *Payment) CreditAmount() (int64, string) {
	if p.CreditAmountMinor > 0 && p.CreditCurrency != "" {
		return p.CreditAmountMinor, p.CreditCurrency
	}
	return p.AmountMinor, p.Currency
}

func (p *Payment) IsOverdue(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// ExternalID dereferences ExternalPaymentID.
func (p *Payment) ExternalID() string {
	if p.ExternalPaymentID == nil {
		return ""
	}
	return *p.ExternalPaymentID
}

package models

import "time"

const (
	IssueKindUnknownPayment = "unknown_payment"
	IssueKindAmountMismatch = "amount_mismatch"
	IssueKindConflict       = "conflict"
	IssueKindCreditFailure  = "credit_failure"
)

// ReconciliationIssue is an entry in the manual review queue. Issues are
// written for deliveries the engine acknowledged without applying.
type ReconciliationIssue struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	Kind                string     `gorm:"type:varchar(32);not null;index:idx_reconciliation_issues_kind_resolved,priority:1" json:"kind"`
	Provider            string     `gorm:"type:varchar(32);not null;index" json:"provider"`
	OrderID             string     `gorm:"type:varchar(64);not null;default:'';index" json:"order_id"`
	ExternalPaymentID   string     `gorm:"type:varchar(191);not null;default:''" json:"external_payment_id"`
	PaymentID           *uint      `gorm:"default:null;index" json:"payment_id,omitempty"`
	RecordStatus        string     `gorm:"type:varchar(16);not null;default:''" json:"record_status"`
	EventStatus         string     `gorm:"type:varchar(16);not null;default:''" json:"event_status"`
	ExpectedAmountMinor int64      `gorm:"not null;default:0" json:"expected_amount_minor"`
	ExpectedCurrency    string     `gorm:"type:varchar(8);not null;default:''" json:"expected_currency"`
	ReceivedAmountMinor int64      `gorm:"not null;default:0" json:"received_amount_minor"`
	ReceivedCurrency    string     `gorm:"type:varchar(8);not null;default:''" json:"received_currency"`
	Detail              string     `gorm:"type:text" json:"detail"`
	PayloadRaw          string     `gorm:"type:longtext" json:"payload_raw"`
	Resolved            bool       `gorm:"not null;default:false;index:idx_reconciliation_issues_kind_resolved,priority:2" json:"resolved"`
	ResolvedAt          *time.Time `gorm:"type:timestamp;default:null" json:"resolved_at,omitempty"`
	ResolvedBy          string     `gorm:"type:varchar(64)" json:"resolved_by"`
	ResolutionNote      string     `gorm:"type:text" json:"resolution_note"`
	CreatedAt           time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

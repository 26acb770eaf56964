package models

import "time"

// OutboxMessage holds a payment outcome written in the same transaction as
// the state change that produced it. The relay publishes and stamps it.
type OutboxMessage struct {
	ID          string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	PaymentID   uint       `gorm:"not null;index" json:"payment_id"`
	OrderID     string     `gorm:"type:varchar(64);not null" json:"order_id"`
	Status      string     `gorm:"type:varchar(16);not null" json:"status"`
	PayloadJSON string     `gorm:"type:text;not null" json:"payload_json"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	LastError   string     `gorm:"type:text" json:"last_error"`
	PublishedAt *time.Time `gorm:"type:timestamp;default:null;index" json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName returns the table name for OutboxMessage
func (OutboxMessage) TableName() string {
	return "payment_outbox"
}

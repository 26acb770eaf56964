package models

import "time"

// WebhookDelivery stores every inbound provider callback with deduplication
// metadata. The same raw body delivered twice maps to the same row.
type WebhookDelivery struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(32);not null;index:ux_webhook_deliveries_provider_key,unique,priority:1;index" json:"provider"`
	DeliveryKey     string     `gorm:"type:varchar(191);not null;default:'';index:ux_webhook_deliveries_provider_key,unique,priority:2" json:"delivery_key"`
	OrderID         string     `gorm:"type:varchar(64);not null;default:'';index" json:"order_id"`
	EventStatus     string     `gorm:"type:varchar(32);not null;default:''" json:"event_status"`
	RemoteIP        string     `gorm:"type:varchar(45)" json:"remote_ip"`
	PayloadRaw      string     `gorm:"type:longtext;not null" json:"payload_raw"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Outcome         string     `gorm:"type:varchar(32);not null;default:''" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ArchivedAt      *time.Time `gorm:"type:timestamp;default:null;index" json:"archived_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Outcomes after which a delivery with the same bytes is processed again:
// an internal fault, or a request that never passed verification.
const (
	DeliveryOutcomeFailed   = "failed"
	DeliveryOutcomeRejected = "rejected"
)

// Done reports whether the delivery was handled before and needs no retry.
func (d *WebhookDelivery) Done() bool {
	if d.ProcessedAt == nil || !d.SignatureValid {
		return false
	}
	return d.Outcome != DeliveryOutcomeFailed && d.Outcome != DeliveryOutcomeRejected
}

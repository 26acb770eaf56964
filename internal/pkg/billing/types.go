package billing

import (
	"time"

	"github.com/vpnshop/paycore/app/models"

	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// CreatePaymentInput is the normalized request to open a payment.
type CreatePaymentInput struct {
	UserID           uint              `json:"user_id" validate:"required"`
	Provider         string            `json:"provider" validate:"required,max=32"`
	AmountMinor      int64             `json:"amount_minor" validate:"required,gt=0"`
	Currency         string            `json:"currency" validate:"omitempty,min=3,max=8"`
	Description      string            `json:"description" validate:"max=255"`
	Purpose          string            `json:"purpose" validate:"omitempty,oneof=topup subscription"`
	SubscriptionDays int               `json:"subscription_days" validate:"gte=0,lte=3650"`
	Email            string            `json:"email" validate:"omitempty,email"`
	ClientIP         string            `json:"client_ip" validate:"omitempty,ip"`
	Metadata         map[string]string `json:"metadata"`
}

// WebhookResult is what HandleWebhook reports back to the transport.
type WebhookResult struct {
	Provider  string
	Event     *payment.Event
	Outcome   *payment.Outcome
	Duplicate bool
	Ignored   *payment.IgnoredError
	// set when the engine sent the event to manual review
	Review error
	// provider specific acknowledgement body
	AckContentType string
	AckBody        []byte
}

// IssueFilter narrows ListIssues.
type IssueFilter struct {
	Kind     string
	Provider string
	Resolved *bool
	Offset   int
	Limit    int
}

// CreditRequest describes one balance credit for a paid payment.
type CreditRequest struct {
	PaymentID        uint
	UserID           uint
	AmountMinor      int64
	Currency         string
	Purpose          string
	SubscriptionDays int
	Provider         string
	ExternalID       string
	Description      string
}

// SweepResult summarizes an expiry run.
type SweepResult struct {
	Checked int
	Expired int
	At      time.Time
}

// Delivery outcomes stored on webhook_deliveries.outcome and used as
// counter fields.
const (
	OutcomeApplied   = "applied"
	OutcomeDuplicate = "duplicate"
	OutcomeIgnored   = "ignored"
	OutcomeReview    = "review"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = models.DeliveryOutcomeFailed
)

package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/internal/pkg/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the ledger, the engine and the
// background workers. Transaction hands fn a repository bound to one DB
// transaction; DB exposes that handle for collaborators.
type Repository interface {
	Transaction(ctx context.Context, fn func(tx Repository) error) error
	DB() *gorm.DB

	CreatePending(p *models.Payment) error
	CreatePendingIfNotExists(p *models.Payment) (bool, error)
	AttachProviderResult(id uint, externalID, paymentURL string, expiresAt *time.Time) error
	GetByOrderID(orderID string) (*models.Payment, error)
	GetByID(id uint) (*models.Payment, error)
	LockByID(id uint) (*models.Payment, error)
	LockForEvent(provider, externalID, orderID string) (*models.Payment, error)
	TransitionStatus(id uint, from, to payment.Status, changes map[string]any) (bool, error)
	LinkTransaction(id, transactionID uint) error
	SaveCallback(id uint, providerStatus, payload string) error
	ListOverduePending(now time.Time, limit int) ([]models.Payment, error)
	ListPaymentsByUser(userID uint, limit int) ([]models.Payment, error)

	CreateOutbox(msg *models.OutboxMessage) error
	ListUnpublishedOutbox(limit int) ([]models.OutboxMessage, error)
	MarkOutboxPublished(id string, at time.Time) error
	MarkOutboxFailed(id string, errMsg string) error

	CreateIssue(issue *models.ReconciliationIssue) error
	ListIssues(filter IssueFilter) ([]models.ReconciliationIssue, error)
	ResolveIssue(id uint, by, note string, at time.Time) error

	CreateWebhookDeliveryIfNotExists(d *models.WebhookDelivery) (bool, *models.WebhookDelivery, error)
	MarkWebhookProcessed(id uint, outcome, orderID, eventStatus, processingError string, at time.Time) error
	ListDeliveriesForArchive(before time.Time, limit int) ([]models.WebhookDelivery, error)
	MarkDeliveriesArchived(ids []uint, at time.Time) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) DB() *gorm.DB {
	return r.db
}

// locked starts a fresh SELECT ... FOR UPDATE statement. Drivers without row
// locks (sqlite) drop the clause.
func (r *gormRepository) locked() *gorm.DB {
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (r *gormRepository) CreatePending(p *models.Payment) error {
	p.Status = payment.StatusPending
	p.IsPaid = false
	return r.db.Create(p).Error
}

// CreatePendingIfNotExists inserts p unless a row with the same order id or
// provider reference exists already.
func (r *gormRepository) CreatePendingIfNotExists(p *models.Payment) (bool, error) {
	p.Status = payment.StatusPending
	p.IsPaid = false
	tx := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) AttachProviderResult(id uint, externalID, paymentURL string, expiresAt *time.Time) error {
	changes := map[string]any{}
	if externalID != "" {
		changes["external_payment_id"] = externalID
	}
	if paymentURL != "" {
		changes["payment_url"] = paymentURL
	}
	if expiresAt != nil {
		changes["expires_at"] = *expiresAt
	}
	if len(changes) == 0 {
		return nil
	}
	// only fill the external id once
	q := r.db.Model(&models.Payment{}).Where("id = ?", id)
	if externalID != "" {
		q = q.Where("(external_payment_id IS NULL OR external_payment_id = ?)", externalID)
	}
	tx := q.Updates(changes)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 1 || externalID == "" {
		return nil
	}
	// mysql reports zero affected rows when nothing changed
	current, err := r.GetByID(id)
	if err != nil {
		return err
	}
	if current.ExternalID() != externalID {
		return fmt.Errorf("payment %d already carries a different external id", id)
	}
	return nil
}

func (r *gormRepository) GetByOrderID(orderID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) GetByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) LockByID(id uint) (*models.Payment, error) {
	var p models.Payment
	if err := r.locked().First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// LockForEvent locks the payment an event refers to. The provider reference
// wins; the internal order id is the fallback for providers that only echo
// our id back. A row found by order id must belong to the same provider.
func (r *gormRepository) LockForEvent(provider, externalID, orderID string) (*models.Payment, error) {
	var p models.Payment
	if externalID != "" {
		err := r.locked().Where("provider = ? AND external_payment_id = ?", provider, externalID).First(&p).Error
		if err == nil {
			return &p, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if orderID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	if err := r.locked().Where("order_id = ? AND provider = ?", orderID, provider).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// TransitionStatus is a compare-and-swap on status. It reports false when
// the row was not in state from anymore.
func (r *gormRepository) TransitionStatus(id uint, from, to payment.Status, changes map[string]any) (bool, error) {
	if changes == nil {
		changes = map[string]any{}
	}
	changes["status"] = to
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, from).
		Updates(changes)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// LinkTransaction sets linked_transaction_id once and only once.
func (r *gormRepository) LinkTransaction(id, transactionID uint) error {
	tx := r.db.Model(&models.Payment{}).
		Where("id = ? AND linked_transaction_id IS NULL", id).
		UpdateColumn("linked_transaction_id", transactionID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected != 1 {
		return fmt.Errorf("payment %d is already linked to a transaction", id)
	}
	return nil
}

func (r *gormRepository) SaveCallback(id uint, providerStatus, payload string) error {
	return r.db.Model(&models.Payment{}).Where("id = ?", id).Updates(map[string]any{
		"last_provider_status": providerStatus,
		"callback_payload":     payload,
	}).Error
}

func (r *gormRepository) ListOverduePending(now time.Time, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := r.db.
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", payment.StatusPending, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) ListPaymentsByUser(userID uint, limit int) ([]models.Payment, error) {
	var out []models.Payment
	err := r.db.Where("user_id = ?", userID).Order("id DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *gormRepository) CreateOutbox(msg *models.OutboxMessage) error {
	return r.db.Create(msg).Error
}

func (r *gormRepository) ListUnpublishedOutbox(limit int) ([]models.OutboxMessage, error) {
	var out []models.OutboxMessage
	err := r.db.Where("published_at IS NULL").Order("created_at ASC, id ASC").Limit(limit).Find(&out).Error
	return out, err
}

func (r *gormRepository) MarkOutboxPublished(id string, at time.Time) error {
	return r.db.Model(&models.OutboxMessage{}).Where("id = ?", id).Updates(map[string]any{
		"published_at": at,
		"attempts":     gorm.Expr("attempts + 1"),
		"last_error":   "",
	}).Error
}

func (r *gormRepository) MarkOutboxFailed(id string, errMsg string) error {
	return r.db.Model(&models.OutboxMessage{}).Where("id = ?", id).Updates(map[string]any{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": errMsg,
	}).Error
}

func (r *gormRepository) CreateIssue(issue *models.ReconciliationIssue) error {
	return r.db.Create(issue).Error
}

func (r *gormRepository) ListIssues(filter IssueFilter) ([]models.ReconciliationIssue, error) {
	q := r.db.Model(&models.ReconciliationIssue{})
	if filter.Kind != "" {
		q = q.Where("kind = ?", filter.Kind)
	}
	if filter.Provider != "" {
		q = q.Where("provider = ?", filter.Provider)
	}
	if filter.Resolved != nil {
		q = q.Where("resolved = ?", *filter.Resolved)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.ReconciliationIssue
	err := q.Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&out).Error
	return out, err
}

func (r *gormRepository) ResolveIssue(id uint, by, note string, at time.Time) error {
	tx := r.db.Model(&models.ReconciliationIssue{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":        true,
			"resolved_at":     at,
			"resolved_by":     by,
			"resolution_note": note,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *gormRepository) CreateWebhookDeliveryIfNotExists(d *models.WebhookDelivery) (bool, *models.WebhookDelivery, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "delivery_key"},
		},
		DoNothing: true,
	}).Create(d)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	if created {
		return true, d, nil
	}

	var existing models.WebhookDelivery
	if err := r.db.Where("provider = ? AND delivery_key = ?", d.Provider, d.DeliveryKey).First(&existing).Error; err != nil {
		return false, nil, err
	}
	return false, &existing, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, outcome, orderID, eventStatus, processingError string, at time.Time) error {
	changes := map[string]any{
		"processed_at":     at,
		"processing_error": processingError,
		"outcome":          outcome,
	}
	if orderID != "" {
		changes["order_id"] = orderID
	}
	if eventStatus != "" {
		changes["event_status"] = eventStatus
	}
	return r.db.Model(&models.WebhookDelivery{}).Where("id = ?", id).Updates(changes).Error
}

func (r *gormRepository) ListDeliveriesForArchive(before time.Time, limit int) ([]models.WebhookDelivery, error) {
	var out []models.WebhookDelivery
	err := r.db.
		Where("archived_at IS NULL AND created_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) MarkDeliveriesArchived(ids []uint, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.Model(&models.WebhookDelivery{}).Where("id IN ?", ids).UpdateColumn("archived_at", at).Error
}

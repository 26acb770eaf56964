package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/internal/pkg/billing"
)

// Publisher delivers one outbox message to the notification side.
type Publisher interface {
	Publish(ctx context.Context, msg *models.OutboxMessage) error
}

// StreamPublisher appends outcomes to a capped Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, msg *models.OutboxMessage) error {
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"id":         msg.ID,
			"payment_id": msg.PaymentID,
			"order_id":   msg.OrderID,
			"status":     msg.Status,
			"payload":    msg.PayloadJSON,
		},
	}).Err()
}

// OutboxRelay moves committed outbox rows to a Publisher. Delivery is at
// least once: a crash between publish and stamp republishes the message and
// consumers dedupe on its id.
type OutboxRelay struct {
	repo  billing.Repository
	pub   Publisher
	batch int
	now   func() time.Time
}

func NewOutboxRelay(repo billing.Repository, pub Publisher, batch int) *OutboxRelay {
	if batch <= 0 {
		batch = 100
	}
	return &OutboxRelay{repo: repo, pub: pub, batch: batch, now: func() time.Time { return time.Now().UTC() }}
}

// RelayOnce publishes one batch in creation order and stops at the first
// failure, so later outcomes of an order never overtake earlier ones.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	msgs, err := r.repo.ListUnpublishedOutbox(r.batch)
	if err != nil {
		return 0, fmt.Errorf("list outbox: %w", err)
	}

	published := 0
	for i := range msgs {
		msg := &msgs[i]
		if err := r.pub.Publish(ctx, msg); err != nil {
			if merr := r.repo.MarkOutboxFailed(msg.ID, err.Error()); merr != nil {
				log.Errorf("[Outbox] Failed to record failure of %s: %v", msg.ID, merr)
			}
			return published, fmt.Errorf("publish %s for order %s: %w", msg.ID, msg.OrderID, err)
		}
		if err := r.repo.MarkOutboxPublished(msg.ID, r.now()); err != nil {
			return published, fmt.Errorf("stamp %s: %w", msg.ID, err)
		}
		published++
	}
	if published > 0 {
		log.Debugf("[Outbox] Published %d payment outcomes", published)
	}
	return published, nil
}

package jobqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/s3backup"
)

// Uploader stores one archive object.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// DeliveryArchiver copies old webhook deliveries to object storage as JSON
// lines and stamps them archived. Rows stay in the database.
type DeliveryArchiver struct {
	repo      billing.Repository
	uploader  Uploader
	prefix    string
	olderThan time.Duration
	batch     int
	now       func() time.Time
}

func NewDeliveryArchiver(repo billing.Repository, uploader Uploader, prefix string, olderThan time.Duration) *DeliveryArchiver {
	return &DeliveryArchiver{
		repo:      repo,
		uploader:  uploader,
		prefix:    prefix,
		olderThan: olderThan,
		batch:     500,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveOnce archives every eligible delivery, one object per batch.
func (a *DeliveryArchiver) ArchiveOnce(ctx context.Context) (int, error) {
	now := a.now()
	before := now.Add(-a.olderThan)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		rows, err := a.repo.ListDeliveriesForArchive(before, a.batch)
		if err != nil {
			return total, fmt.Errorf("list deliveries: %w", err)
		}
		if len(rows) == 0 {
			break
		}

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		ids := make([]uint, 0, len(rows))
		for i := range rows {
			if err := enc.Encode(&rows[i]); err != nil {
				return total, err
			}
			ids = append(ids, rows[i].ID)
		}

		key := s3backup.ObjectKey(a.prefix, now, ids[0], ids[len(ids)-1])
		if err := a.uploader.Put(ctx, key, buf.Bytes(), "application/x-ndjson"); err != nil {
			return total, err
		}
		if err := a.repo.MarkDeliveriesArchived(ids, now); err != nil {
			return total, fmt.Errorf("stamp archived deliveries: %w", err)
		}
		total += len(rows)
		if len(rows) < a.batch {
			break
		}
	}
	if total > 0 {
		log.Infof("[Archive] Archived %d webhook deliveries", total)
	}
	return total, nil
}

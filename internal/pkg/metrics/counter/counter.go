// Package counter keeps per provider webhook outcome counts in Redis hashes,
// one hash per UTC day.
package counter

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "payments:webhooks:"
	retention = 35 * 24 * time.Hour
)

// Counter implements billing.OutcomeCounter.
type Counter struct {
	client *redis.Client
	now    func() time.Time
}

func New(client *redis.Client) *Counter {
	return &Counter{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func dayKey(day time.Time) string {
	return keyPrefix + day.UTC().Format("2006-01-02")
}

// Record increments provider/outcome for today. Counting is best effort:
// Redis errors are logged, never returned.
func (c *Counter) Record(ctx context.Context, provider, outcome string) {
	key := dayKey(c.now())
	pipe := c.client.TxPipeline()
	pipe.HIncrBy(ctx, key, provider+":"+outcome, 1)
	pipe.Expire(ctx, key, retention)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[Counter] Failed to record %s/%s: %v", provider, outcome, err)
	}
}

// Entry is one provider/outcome pair with its count.
type Entry struct {
	Provider string `json:"provider"`
	Outcome  string `json:"outcome"`
	Count    int64  `json:"count"`
}

// Snapshot returns the counts of day, sorted by provider then outcome.
func (c *Counter) Snapshot(ctx context.Context, day time.Time) ([]Entry, error) {
	data, err := c.client.HGetAll(ctx, dayKey(day)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(data))
	for field, v := range data {
		provider, outcome, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil || n == 0 {
			continue
		}
		out = append(out, Entry{Provider: provider, Outcome: outcome, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out, nil
}

package jobqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/app/repository"
	"github.com/vpnshop/paycore/internal/pkg/billing"
	"github.com/vpnshop/paycore/internal/pkg/cache"
	"github.com/vpnshop/paycore/internal/pkg/config"
	"github.com/vpnshop/paycore/internal/pkg/database"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

type memPublisher struct {
	mu     sync.Mutex
	ids    []string
	failOn string
}

func (p *memPublisher) Publish(_ context.Context, msg *models.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg.ID == p.failOn {
		return errors.New("stream unavailable")
	}
	p.ids = append(p.ids, msg.ID)
	return nil
}

func (p *memPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.ids...)
}

type memUploader struct {
	objects map[string]string
	err     error
}

func (u *memUploader) Put(_ context.Context, key string, body []byte, _ string) error {
	if u.err != nil {
		return u.err
	}
	if u.objects == nil {
		u.objects = map[string]string{}
	}
	u.objects[key] = string(body)
	return nil
}

type env struct {
	db     *gorm.DB
	repo   billing.Repository
	engine *billing.Engine
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := database.NewTestDB(t)
	repo := billing.NewRepository(db)
	accounts := repository.NewAccountRepository(db)
	return &env{
		db:     db,
		repo:   repo,
		engine: billing.NewEngine(repo, accounts, billing.NewAccountCreditor(accounts, billing.TariffPricing{})),
	}
}

func (e *env) outbox(t *testing.T, ids ...string) {
	t.Helper()
	base := time.Now().UTC().Add(-time.Minute)
	for i, id := range ids {
		require.NoError(t, e.repo.CreateOutbox(&models.OutboxMessage{
			ID:          id,
			PaymentID:   uint(i + 1),
			OrderID:     "order-" + id,
			Status:      "paid",
			PayloadJSON: `{"order_id":"order-` + id + `"}`,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func TestOutboxRelayPublishesInOrder(t *testing.T) {
	e := newEnv(t)
	e.outbox(t, "m-1", "m-2", "m-3")
	pub := &memPublisher{}

	n, err := NewOutboxRelay(e.repo, pub, 10).RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, pub.published())

	pending, err := e.repo.ListUnpublishedOutbox(10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRelayStopsAtFirstFailure(t *testing.T) {
	e := newEnv(t)
	e.outbox(t, "m-1", "m-2", "m-3")
	pub := &memPublisher{failOn: "m-2"}

	n, err := NewOutboxRelay(e.repo, pub, 10).RelayOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m-1"}, pub.published())

	pending, err := e.repo.ListUnpublishedOutbox(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "m-2", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "stream unavailable", pending[0].LastError)

	pub.failOn = ""
	n, err = NewOutboxRelay(e.repo, pub, 10).RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"m-1", "m-2", "m-3"}, pub.published())
}

func TestStreamPublisher(t *testing.T) {
	client := cache.NewTestClient(t, 12)
	pub := NewStreamPublisher(client, "payments:outcomes", 1000)

	err := pub.Publish(context.Background(), &models.OutboxMessage{ID: "m-1", PaymentID: 5, OrderID: "o-1", Status: "paid", PayloadJSON: "{}"})
	require.NoError(t, err)

	entries, err := client.XRange(context.Background(), "payments:outcomes", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m-1", entries[0].Values["id"])
	assert.Equal(t, "o-1", entries[0].Values["order_id"])
	assert.Equal(t, "paid", entries[0].Values["status"])
}

func (e *env) delivery(t *testing.T, key string, age time.Duration) {
	t.Helper()
	_, _, err := e.repo.CreateWebhookDeliveryIfNotExists(&models.WebhookDelivery{
		Provider:    "pal24",
		DeliveryKey: key,
		PayloadRaw:  `{"InvId":"` + key + `"}`,
		CreatedAt:   time.Now().UTC().Add(-age),
	})
	require.NoError(t, err)
}

func TestDeliveryArchiverBatchesOldDeliveries(t *testing.T) {
	e := newEnv(t)
	for _, key := range []string{"a", "b", "c"} {
		e.delivery(t, key, 48*time.Hour)
	}
	e.delivery(t, "fresh", time.Minute)

	up := &memUploader{}
	a := NewDeliveryArchiver(e.repo, up, "archive", 24*time.Hour)
	a.batch = 2

	n, err := a.ArchiveOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, up.objects, 2)
	lines := 0
	for key, body := range up.objects {
		assert.True(t, strings.HasPrefix(key, "archive/"), key)
		assert.True(t, strings.HasSuffix(key, ".jsonl"), key)
		lines += strings.Count(body, "\n")
	}
	assert.Equal(t, 3, lines)

	left, err := e.repo.ListDeliveriesForArchive(time.Now().UTC().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "fresh", left[0].DeliveryKey)
}

func TestDeliveryArchiverKeepsRowsOnUploadFailure(t *testing.T) {
	e := newEnv(t)
	e.delivery(t, "a", 48*time.Hour)

	n, err := NewDeliveryArchiver(e.repo, &memUploader{err: errors.New("bucket gone")}, "", 24*time.Hour).ArchiveOnce(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)

	left, err := e.repo.ListDeliveriesForArchive(time.Now().UTC(), 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestManagerRejectsBadSchedule(t *testing.T) {
	e := newEnv(t)
	m := NewManager(config.WorkerConfig{ExpirySchedule: "every now and then"}, e.engine, nil, nil)
	assert.Error(t, m.Start())
	assert.False(t, m.IsRunning())
}

func TestManagerRelaysOnTicker(t *testing.T) {
	e := newEnv(t)
	e.outbox(t, "m-1")
	pub := &memPublisher{}

	m := NewManager(config.WorkerConfig{
		ExpirySchedule: "@every 1h",
		OutboxInterval: 10 * time.Millisecond,
	}, e.engine, NewOutboxRelay(e.repo, pub, 10), nil)
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())

	assert.Eventually(t, func() bool { return len(pub.published()) == 1 }, 2*time.Second, 10*time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	m.Stop()
}

func TestRunExpirySweepOnce(t *testing.T) {
	e := newEnv(t)
	accounts := repository.NewAccountRepository(e.db)
	user, err := accounts.ResolveTelegramUser(42, "")
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	overdue := &models.Payment{OrderID: "o-old", Provider: payment.ProviderPal24, UserID: user.ID, AmountMinor: 100, Currency: "RUB", ExpiresAt: &past}
	live := &models.Payment{OrderID: "o-new", Provider: payment.ProviderPal24, UserID: user.ID, AmountMinor: 100, Currency: "RUB", ExpiresAt: &future}
	require.NoError(t, e.repo.CreatePending(overdue))
	require.NoError(t, e.repo.CreatePending(live))

	m := NewManager(config.WorkerConfig{}, e.engine, nil, nil)
	res, err := m.RunExpirySweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := e.repo.GetByID(overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusExpired, got.Status)
	got, err = e.repo.GetByID(live.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)

	msgs, err := e.repo.ListUnpublishedOutbox(10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "o-old", msgs[0].OrderID)
}

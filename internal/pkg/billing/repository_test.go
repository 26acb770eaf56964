package billing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

func TestExternalIDIsUniquePerProvider(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	f.pending(t, user.ID, payment.ProviderYooKassa, "dup", 100, "RUB")

	ext := "dup"
	clash := &models.Payment{OrderID: "other", Provider: payment.ProviderYooKassa, ExternalPaymentID: &ext, UserID: user.ID, AmountMinor: 100, Currency: "RUB"}
	assert.Error(t, f.repo.CreatePending(clash))

	// same reference at another provider is a different payment
	f.pending(t, user.ID, payment.ProviderCryptoBot, "dup", 100, "RUB")
}

func TestCreatePendingIfNotExists(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	ext := "77_1"

	first := &models.Payment{OrderID: "tribute_77_1", Provider: payment.ProviderTribute, ExternalPaymentID: &ext, UserID: user.ID, AmountMinor: 100, Currency: "RUB"}
	created, err := f.repo.CreatePendingIfNotExists(first)
	require.NoError(t, err)
	assert.True(t, created)

	second := &models.Payment{OrderID: "tribute_77_1", Provider: payment.ProviderTribute, ExternalPaymentID: &ext, UserID: user.ID, AmountMinor: 100, Currency: "RUB"}
	created, err = f.repo.CreatePendingIfNotExists(second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(1), f.count(t, &models.Payment{}))
}

func TestAttachProviderResultKeepsFirstExternalID(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderWata, "", 100, "RUB")

	expires := f.now.Add(2 * time.Hour)
	require.NoError(t, f.repo.AttachProviderResult(rec.ID, "link-1", "https://pay.example/link-1", &expires))
	require.NoError(t, f.repo.AttachProviderResult(rec.ID, "link-1", "", nil))
	assert.Error(t, f.repo.AttachProviderResult(rec.ID, "link-2", "", nil))

	got := f.reload(t, rec.ID)
	assert.Equal(t, "link-1", got.ExternalID())
	assert.Equal(t, "https://pay.example/link-1", got.PaymentURL)
}

func TestLinkTransactionOnlyOnce(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderWata, "link-1", 100, "RUB")

	require.NoError(t, f.repo.LinkTransaction(rec.ID, 7))
	assert.Error(t, f.repo.LinkTransaction(rec.ID, 8))

	got := f.reload(t, rec.ID)
	require.NotNil(t, got.LinkedTransactionID)
	assert.Equal(t, uint(7), *got.LinkedTransactionID)
}

func TestTransactionPaymentIDIsUnique(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	pid := uint(1)

	require.NoError(t, f.db.Create(&models.Transaction{UserID: user.ID, PaymentID: &pid, Type: models.TransactionTypeDeposit, AmountMinor: 1, Currency: "RUB"}).Error)
	assert.Error(t, f.db.Create(&models.Transaction{UserID: user.ID, PaymentID: &pid, Type: models.TransactionTypeDeposit, AmountMinor: 1, Currency: "RUB"}).Error)
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderWata, "link-1", 100, "RUB")

	ok, err := f.repo.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusCancelled, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.repo.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusPaid, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, payment.StatusCancelled, f.reload(t, rec.ID).Status)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	rec := f.pending(t, user.ID, payment.ProviderWata, "link-1", 100, "RUB")

	err := f.repo.Transaction(context.Background(), func(tx Repository) error {
		if _, err := tx.TransitionStatus(rec.ID, payment.StatusPending, payment.StatusPaid, nil); err != nil {
			return err
		}
		return payment.ErrCreditFailure
	})
	assert.ErrorIs(t, err, payment.ErrCreditFailure)
	assert.Equal(t, payment.StatusPending, f.reload(t, rec.ID).Status)
}

func TestWebhookDeliveryDedupe(t *testing.T) {
	f := newFixture(t)

	d := &models.WebhookDelivery{Provider: "cryptobot", DeliveryKey: "abc", PayloadRaw: "{}", SignatureValid: true}
	created, stored, err := f.repo.CreateWebhookDeliveryIfNotExists(d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.Done())

	require.NoError(t, f.repo.MarkWebhookProcessed(stored.ID, OutcomeApplied, "order-1", "paid", "", f.now))

	again := &models.WebhookDelivery{Provider: "cryptobot", DeliveryKey: "abc", PayloadRaw: "{}", SignatureValid: true}
	created, stored, err = f.repo.CreateWebhookDeliveryIfNotExists(again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, stored.Done())
	assert.Equal(t, "order-1", stored.OrderID)
}

func TestOutboxLifecycle(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repo.CreateOutbox(&models.OutboxMessage{ID: "m-1", PaymentID: 1, OrderID: "o-1", Status: "paid", PayloadJSON: "{}"}))
	require.NoError(t, f.repo.CreateOutbox(&models.OutboxMessage{ID: "m-2", PaymentID: 2, OrderID: "o-2", Status: "expired", PayloadJSON: "{}"}))

	require.NoError(t, f.repo.MarkOutboxFailed("m-1", "redis down"))
	require.NoError(t, f.repo.MarkOutboxPublished("m-2", f.now))

	pending, err := f.repo.ListUnpublishedOutbox(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m-1", pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "redis down", pending[0].LastError)
}

func TestDeliveriesForArchive(t *testing.T) {
	f := newFixture(t)
	for _, key := range []string{"a", "b"} {
		_, _, err := f.repo.CreateWebhookDeliveryIfNotExists(&models.WebhookDelivery{Provider: "pal24", DeliveryKey: key, PayloadRaw: "x"})
		require.NoError(t, err)
	}

	rows, err := f.repo.ListDeliveriesForArchive(time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, f.repo.MarkDeliveriesArchived([]uint{rows[0].ID}, f.now))
	rows, err = f.repo.ListDeliveriesForArchive(time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTariffPricing(t *testing.T) {
	p := TariffPricing{PricePer30DaysMinor: 30000, Currency: "RUB"}

	days, err := p.DaysFor(30000, "rub")
	require.NoError(t, err)
	assert.Equal(t, 30, days)

	days, err = p.DaysFor(45000, "RUB")
	require.NoError(t, err)
	assert.Equal(t, 45, days)

	_, err = p.DaysFor(500, "RUB")
	assert.Error(t, err)
	_, err = p.DaysFor(30000, "USD")
	assert.Error(t, err)
	_, err = TariffPricing{}.DaysFor(30000, "RUB")
	assert.Error(t, err)
}

func TestAccountCreditorRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	creditor := NewAccountCreditor(f.accounts, TariffPricing{PricePer30DaysMinor: 30000, Currency: "RUB"})

	_, err := creditor.Credit(context.Background(), f.db, CreditRequest{UserID: 1, AmountMinor: 0, Currency: "RUB"})
	assert.ErrorIs(t, err, payment.ErrCreditFailure)
	_, err = creditor.Credit(context.Background(), f.db, CreditRequest{AmountMinor: 100, Currency: "RUB"})
	assert.ErrorIs(t, err, payment.ErrCreditFailure)
	_, err = creditor.Credit(context.Background(), f.db, CreditRequest{UserID: 999, AmountMinor: 100, Currency: "RUB"})
	assert.ErrorIs(t, err, payment.ErrCreditFailure)
}

func TestAccountCreditorKeepsAccountCurrency(t *testing.T) {
	f := newFixture(t)
	user := f.account(t, 42)
	creditor := NewAccountCreditor(f.accounts, TariffPricing{PricePer30DaysMinor: 30000, Currency: "RUB"})

	_, err := creditor.Credit(context.Background(), f.db, CreditRequest{UserID: user.ID, AmountMinor: 1500000000, Currency: "USDT"})
	assert.ErrorIs(t, err, payment.ErrCreditFailure)

	_, err = creditor.Credit(context.Background(), f.db, CreditRequest{UserID: user.ID, AmountMinor: 15000, Currency: "rub"})
	require.NoError(t, err)

	balance, err := f.accounts.GetBalance(user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15000), balance)
	assert.Equal(t, int64(1), f.count(t, &models.Transaction{}))
}

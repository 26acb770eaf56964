package repository

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/internal/pkg/database"
)

func TestResolveTelegramUserIsIdempotent(t *testing.T) {
	repo := NewAccountRepository(database.NewTestDB(t))

	first, err := repo.ResolveTelegramUser(4242, "alice")
	require.NoError(t, err)
	second, err := repo.ResolveTelegramUser(4242, "alice-renamed")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "alice", second.Username)
	assert.Equal(t, "RUB", second.Currency)
}

func TestResolveTelegramUserRejectsInvalidID(t *testing.T) {
	repo := NewAccountRepository(database.NewTestDB(t))

	_, err := repo.ResolveTelegramUser(0, "")
	assert.Error(t, err)
}

func TestCreditBalanceConcurrent(t *testing.T) {
	repo := NewAccountRepository(database.NewTestDB(t))
	account, err := repo.ResolveTelegramUser(1, "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.CreditBalance(account.ID, 500))
		}()
	}
	wg.Wait()

	balance, err := repo.GetBalance(account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), balance)
}

func TestCreditBalanceValidation(t *testing.T) {
	repo := NewAccountRepository(database.NewTestDB(t))

	assert.Error(t, repo.CreditBalance(1, 0))
	assert.Error(t, repo.CreditBalance(999, 100), "missing account must fail")
}

func TestExtendSubscription(t *testing.T) {
	db := database.NewTestDB(t)
	repo := NewAccountRepository(db)
	account, err := repo.ResolveTelegramUser(7, "")
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	endsAt, err := repo.ExtendSubscription(account.ID, 30, now)
	require.NoError(t, err)
	assert.True(t, endsAt.Equal(now.AddDate(0, 0, 30)))

	// stacks on an active subscription
	endsAt, err = repo.ExtendSubscription(account.ID, 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, endsAt.Equal(now.AddDate(0, 0, 40)))

	// restarts from now after it lapsed
	later := now.AddDate(0, 3, 0)
	endsAt, err = repo.ExtendSubscription(account.ID, 5, later)
	require.NoError(t, err)
	assert.True(t, endsAt.Equal(later.AddDate(0, 0, 5)))

	stored, err := repo.GetByID(account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SubscriptionEndsAt)
	assert.WithinDuration(t, later.AddDate(0, 0, 5), *stored.SubscriptionEndsAt, time.Second)

	_, err = repo.ExtendSubscription(account.ID, 0, now)
	assert.Error(t, err)
}

func TestMarkFirstTopupOnlyOnce(t *testing.T) {
	repo := NewAccountRepository(database.NewTestDB(t))
	account, err := repo.ResolveTelegramUser(9, "")
	require.NoError(t, err)

	flipped, err := repo.MarkFirstTopup(account.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.MarkFirstTopup(account.ID)
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestAPIClientLookupByHash(t *testing.T) {
	repo := NewAPIClientRepository(database.NewTestDB(t))

	client := &models.APIClient{Name: "bot", Role: models.APIClientRoleService}
	raw, err := client.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, repo.Create(client))

	found, err := repo.GetByAPIKeyHash(models.HashAPIKey(raw))
	require.NoError(t, err)
	assert.Equal(t, client.ID, found.ID)

	client.Revoke()
	require.NoError(t, repo.Save(client))
	_, err = repo.GetByAPIKeyHash(models.HashAPIKey(raw))
	assert.Error(t, err)
}

func TestProviderSettingsUpsert(t *testing.T) {
	repo := NewProviderSettingRepository(database.NewTestDB(t))

	require.NoError(t, repo.Set("YooKassa", false, "ops"))
	require.NoError(t, repo.Set("yookassa", true, "ops"))
	require.NoError(t, repo.Set("tribute", false, "ops"))

	all, err := repo.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"yookassa": true, "tribute": false}, all)
}

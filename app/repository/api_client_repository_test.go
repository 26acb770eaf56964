package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnshop/paycore/app/models"
	"github.com/vpnshop/paycore/internal/pkg/database"
)

func TestAPIClientKeyLifecycle(t *testing.T) {
	repo := NewFactory(database.NewTestDB(t)).GetAPIClientRepository()

	client := &models.APIClient{Name: "bot", Role: models.APIClientRoleService}
	key, err := client.IssueAPIKey()
	require.NoError(t, err)
	require.NoError(t, repo.Create(client))

	found, err := repo.GetByAPIKeyHash(models.HashAPIKey(key))
	require.NoError(t, err)
	assert.Equal(t, client.ID, found.ID)

	require.NoError(t, repo.TouchLastUsed(client.ID, time.Now()))
	found, err = repo.GetByName(" bot ")
	require.NoError(t, err)
	assert.NotNil(t, found.LastUsedAt)

	found.Revoke()
	require.NoError(t, repo.Save(found))
	_, err = repo.GetByAPIKeyHash(models.HashAPIKey(key))
	assert.Error(t, err)
}

func TestAPIClientCreateValidates(t *testing.T) {
	repo := NewAPIClientRepository(database.NewTestDB(t))

	assert.Error(t, repo.Create(&models.APIClient{Name: "x", Role: models.APIClientRoleService}))
	assert.Error(t, repo.Create(&models.APIClient{Name: "ops", Role: "root"}))

	_, err := repo.GetByAPIKeyHash("  ")
	assert.Error(t, err)
}

func TestProviderSettingsOverride(t *testing.T) {
	repos := NewFactory(database.NewTestDB(t)).GetRepositories()

	require.NoError(t, repos.ProviderSetting.Set(" WATA ", false, "ops"))
	require.NoError(t, repos.ProviderSetting.Set("pal24", true, "ops"))
	require.NoError(t, repos.ProviderSetting.Set("wata", true, "ops"))

	all, err := repos.ProviderSetting.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"wata": true, "pal24": true}, all)
}

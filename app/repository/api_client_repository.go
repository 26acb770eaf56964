package repository

import (
	"strings"
	"time"

	"github.com/vpnshop/paycore/app/models"
	"gorm.io/gorm"
)

type apiClientRepository struct {
	db *gorm.DB
}

// NewAPIClientRepository creates a new API client repository instance
func NewAPIClientRepository(db *gorm.DB) APIClientRepository {
	return &apiClientRepository{db: db}
}

func (r *apiClientRepository) Create(client *models.APIClient) error {
	if err := client.Validate(); err != nil {
		return err
	}
	return r.db.Create(client).Error
}

func (r *apiClientRepository) GetByName(name string) (*models.APIClient, error) {
	var client models.APIClient
	if err := r.db.Where("name = ?", strings.TrimSpace(name)).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// GetByAPIKeyHash resolves an active key hash to its client.
func (r *apiClientRepository) GetByAPIKeyHash(hash string) (*models.APIClient, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var client models.APIClient
	err := r.db.Where("api_key_hash = ? AND revoked_at IS NULL", trimmed).First(&client).Error
	if err != nil {
		return nil, err
	}
	return &client, nil
}

func (r *apiClientRepository) TouchLastUsed(id uint, at time.Time) error {
	return r.db.Model(&models.APIClient{}).Where("id = ?", id).UpdateColumn("last_used_at", at).Error
}

func (r *apiClientRepository) Save(client *models.APIClient) error {
	return r.db.Save(client).Error
}

func (r *apiClientRepository) List() ([]models.APIClient, error) {
	var clients []models.APIClient
	err := r.db.Order("name ASC").Find(&clients).Error
	return clients, err
}

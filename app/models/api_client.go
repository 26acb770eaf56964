package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	APIClientRoleService = "service"
	APIClientRoleAdmin   = "admin"
)

// APIClient is an internal caller of the payment API, such as the bot or
// the admin panel. Only the SHA-256 of its key is stored.
type APIClient struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Name         string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"name" validate:"required,min=2,max=64"`
	Role         string     `gorm:"type:varchar(16);not null;default:'service'" json:"role" validate:"required,oneof=service admin"`
	APIKeyHash   string     `gorm:"type:char(64);not null;default:'';index" json:"-"`
	APIKeyPrefix string     `gorm:"type:varchar(20);default:''" json:"api_key_prefix"`
	LastUsedAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_used_at,omitempty"`
	RevokedAt    *time.Time `gorm:"type:timestamp;default:null" json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

var apiKeyEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const apiKeyPrefix = "pc_"

func (c *APIClient) Validate() error {
	return validator.New().Struct(c)
}

func (c *APIClient) IsActive() bool {
	return c != nil && c.APIKeyHash != "" && c.RevokedAt == nil
}

func (c *APIClient) IsAdmin() bool {
	return c.Role == APIClientRoleAdmin
}

// IssueAPIKey generates a new key, stores its hash on the struct and returns
// the raw secret. Callers persist the struct afterwards.
func (c *APIClient) IssueAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	rawKey := apiKeyPrefix + strings.ToLower(apiKeyEncoding.EncodeToString(b))
	if len(rawKey) < 16 {
		return "", fmt.Errorf("api key generation failed: key too short")
	}
	c.APIKeyHash = HashAPIKey(rawKey)
	c.APIKeyPrefix = rawKey[:12]
	c.RevokedAt = nil
	c.LastUsedAt = nil
	return rawKey, nil
}

func (c *APIClient) Revoke() {
	now := time.Now()
	c.APIKeyHash = ""
	c.RevokedAt = &now
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}

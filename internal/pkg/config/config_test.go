package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpnshop/paycore/internal/pkg/env"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

func withEnv(t *testing.T, values map[string]string) {
	t.Helper()
	prev := env.Env
	env.Env = values
	t.Cleanup(func() { env.Env = prev })
}

func TestLoadDefaults(t *testing.T) {
	withEnv(t, map[string]string{"DB_DRIVER": "sqlite"})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Billing.PendingTTL)
	assert.Equal(t, "RUB", cfg.Billing.DefaultCurrency)
	assert.Equal(t, "payments:outcomes", cfg.Workers.OutboxStream)
	assert.Empty(t, cfg.Providers.Enabled())
	assert.Len(t, cfg.Providers.FreeKassa.TrustedIPs, 4)
	assert.Equal(t, "1.79", cfg.Providers.TelegramStars.RubPerStar.String())
	assert.Equal(t, "RUB", cfg.Providers.Heleket.Currency)
	assert.Empty(t, cfg.App.TrustedProxies)
}

func TestLoadTrustedProxies(t *testing.T) {
	withEnv(t, map[string]string{
		"DB_DRIVER":       "sqlite",
		"TRUSTED_PROXIES": "10.0.0.0/8, 172.17.0.1,",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/8", "172.17.0.1"}, cfg.App.TrustedProxies)
}

func TestLoadRejectsEnabledProviderWithoutCredentials(t *testing.T) {
	withEnv(t, map[string]string{
		"DB_DRIVER":         "sqlite",
		"ROBOKASSA_ENABLED": "true",
		"ROBOKASSA_LOGIN":   "shop",
	})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ROBOKASSA_PASSWORD1")
	assert.Contains(t, err.Error(), "ROBOKASSA_PASSWORD2")
}

func TestLoadEnabledProviders(t *testing.T) {
	withEnv(t, map[string]string{
		"DB_DRIVER":                            "sqlite",
		"CRYPTOBOT_ENABLED":                    "true",
		"CRYPTOBOT_API_TOKEN":                  "123:abc",
		"YOOKASSA_ENABLED":                     "yes",
		"YOOKASSA_SHOP_ID":                     "1",
		"YOOKASSA_SECRET_KEY":                  "s",
		"YOOKASSA_MIN_AMOUNT_MINOR":            "10000",
		"YOOKASSA_BASE_URL":                    "https://example.test/",
		"WEBHOOK_RATE_LIMIT_WINDOW":            "30s",
		"PAYMENT_PENDING_TTL":                  "2h",
		"EXPIRY_SWEEP_SCHEDULE":                "@every 1m",
		"S3_ARCHIVE_ENABLED":                   "false",
		"SUBSCRIPTION_PRICE_PER_30_DAYS_MINOR": "25000",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{payment.ProviderCryptoBot, payment.ProviderYooKassa}, cfg.Providers.Enabled())
	assert.Equal(t, "https://example.test", cfg.Providers.YooKassa.BaseURL)
	assert.Equal(t, int64(10000), cfg.Providers.YooKassa.MinAmountMinor)
	assert.Equal(t, 30*time.Second, cfg.Webhook.RateLimitWindow)
	assert.Equal(t, 2*time.Hour, cfg.Billing.PendingTTL)
	assert.Equal(t, int64(25000), cfg.Billing.SubscriptionPricePer30Days)
}

func TestLimitsCheck(t *testing.T) {
	l := Limits{MinAmountMinor: 1000, MaxAmountMinor: 5000}

	assert.NoError(t, l.Check(1000))
	assert.NoError(t, l.Check(5000))
	for _, amount := range []int64{0, -5, 999, 5001} {
		err := l.Check(amount)
		assert.True(t, errors.Is(err, payment.ErrInvalidAmount), "amount %d", amount)
	}
	assert.NoError(t, Limits{}.Check(1))
}

func TestValidateUnknownDriver(t *testing.T) {
	withEnv(t, map[string]string{"DB_DRIVER": "postgres"})
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

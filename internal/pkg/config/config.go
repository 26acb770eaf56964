package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpnshop/paycore/internal/pkg/env"
)

// Config is the complete runtime configuration. It is built once at startup
// and handed to constructors; nothing in the payment core reads the
// environment on its own.
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Billing   BillingConfig
	Workers   WorkerConfig
	Archive   ArchiveConfig
	Providers ProvidersConfig
}

type AppConfig struct {
	Env  string
	Host string
	Port string
	// bcrypt hash guarding /metrics
	MonitorUser         string
	MonitorPasswordHash string
	// reverse proxies allowed to set X-Forwarded-For; empty means the peer
	// address is the client address
	TrustedProxies []string
}

type DatabaseConfig struct {
	Driver   string // mysql or sqlite
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	Path     string // sqlite file
}

type CacheConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// separate logical DB for the webhook rate limiter
	LimiterDB int
}

func (c CacheConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type WebhookConfig struct {
	RateLimitMax    int
	RateLimitWindow time.Duration
	HandlerTimeout  time.Duration
}

type BillingConfig struct {
	PendingTTL time.Duration
	// price of 30 subscription days in minor units of DefaultCurrency
	SubscriptionPricePer30Days int64
	DefaultCurrency            string
}

type WorkerConfig struct {
	Enabled          bool
	ExpirySchedule   string
	OutboxInterval   time.Duration
	OutboxBatchSize  int
	OutboxStream     string
	OutboxMaxLen     int64
	ArchiveSchedule  string
	ArchiveOlderThan time.Duration
}

type ArchiveConfig struct {
	Enabled         bool
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string
	Prefix          string
}

// Load reads the configuration from the environment populated by
// env.SetupEnvFile.
func Load() (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Env:                 env.GetEnv("APP_ENV", "prod"),
			Host:                env.GetEnv("APP_HOST", "0.0.0.0"),
			Port:                env.GetEnv("APP_PORT", "4000"),
			MonitorUser:         env.GetEnv("MONITOR_USER", "admin"),
			MonitorPasswordHash: env.GetEnv("MONITOR_PASSWORD_HASH", ""),
			TrustedProxies:      getList("TRUSTED_PROXIES", ""),
		},
		Database: DatabaseConfig{
			Driver:   strings.ToLower(env.GetEnv("DB_DRIVER", "mysql")),
			User:     env.GetEnv("DB_USER", ""),
			Password: env.GetEnv("DB_PASSWORD", ""),
			Host:     env.GetEnv("DB_HOST", "127.0.0.1"),
			Port:     env.GetEnv("DB_PORT", "3306"),
			Name:     env.GetEnv("DB_NAME", "paycore"),
			Path:     env.GetEnv("DB_PATH", "paycore.db"),
		},
		Cache: CacheConfig{
			Host:      env.GetEnv("CACHE_HOST", "localhost"),
			Port:      getInt("CACHE_PORT", 6379),
			Password:  env.GetEnv("CACHE_PASSWORD", ""),
			DB:        getInt("CACHE_DB", 0),
			LimiterDB: getInt("CACHE_LIMITER_DB", 1),
		},
		Webhook: WebhookConfig{
			RateLimitMax:    getInt("WEBHOOK_RATE_LIMIT_MAX", 120),
			RateLimitWindow: getDuration("WEBHOOK_RATE_LIMIT_WINDOW", time.Minute),
			HandlerTimeout:  getDuration("WEBHOOK_HANDLER_TIMEOUT", 15*time.Second),
		},
		Billing: BillingConfig{
			PendingTTL:                 getDuration("PAYMENT_PENDING_TTL", 24*time.Hour),
			SubscriptionPricePer30Days: getInt64("SUBSCRIPTION_PRICE_PER_30_DAYS_MINOR", 19900),
			DefaultCurrency:            strings.ToUpper(env.GetEnv("DEFAULT_CURRENCY", "RUB")),
		},
		Workers: WorkerConfig{
			Enabled:          getBool("WORKERS_ENABLED", true),
			ExpirySchedule:   env.GetEnv("EXPIRY_SWEEP_SCHEDULE", "*/5 * * * *"),
			OutboxInterval:   getDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
			OutboxBatchSize:  getInt("OUTBOX_BATCH_SIZE", 100),
			OutboxStream:     env.GetEnv("OUTBOX_STREAM", "payments:outcomes"),
			OutboxMaxLen:     getInt64("OUTBOX_STREAM_MAXLEN", 100000),
			ArchiveSchedule:  env.GetEnv("ARCHIVE_SCHEDULE", "30 3 * * *"),
			ArchiveOlderThan: getDuration("ARCHIVE_OLDER_THAN", 30*24*time.Hour),
		},
		Archive: ArchiveConfig{
			Enabled:         getBool("S3_ARCHIVE_ENABLED", false),
			AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          env.GetEnv("S3_REGION", "us-east-1"),
			BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
			EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
			Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "webhook-deliveries"),
		},
		Providers: loadProviders(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q is not supported", c.Database.Driver))
	}
	if c.Billing.PendingTTL <= 0 {
		errs = append(errs, errors.New("PAYMENT_PENDING_TTL must be positive"))
	}
	if c.Archive.Enabled {
		if c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "" {
			errs = append(errs, errors.New("S3 credentials are required when the archive is enabled"))
		}
		if c.Archive.BucketName == "" {
			errs = append(errs, errors.New("S3_BUCKET_NAME is required when the archive is enabled"))
		}
	}
	errs = append(errs, c.Providers.validate()...)
	return errors.Join(errs...)
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

func getBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(env.GetEnv(key, "")))
	switch v {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(env.GetEnv(key, "")))
	if err != nil {
		return def
	}
	return v
}

func getInt64(key string, def int64) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(env.GetEnv(key, "")), 10, 64)
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(strings.TrimSpace(env.GetEnv(key, "")))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getDecimal(key string, def string) decimal.Decimal {
	v, err := decimal.NewFromString(strings.TrimSpace(env.GetEnv(key, def)))
	if err != nil {
		return decimal.RequireFromString(def)
	}
	return v
}

func getList(key, def string) []string {
	raw := env.GetEnv(key, def)
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

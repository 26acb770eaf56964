package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vpnshop/paycore/internal/pkg/env"
	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// Limits holds settings every provider shares.
type Limits struct {
	Enabled        bool
	BaseURL        string
	Timeout        time.Duration
	Currency       string
	MinAmountMinor int64
	MaxAmountMinor int64
}

// Check validates an amount against the configured bounds.
func (l Limits) Check(amountMinor int64) error {
	if amountMinor <= 0 {
		return fmt.Errorf("%w: amount must be positive", payment.ErrInvalidAmount)
	}
	if l.MinAmountMinor > 0 && amountMinor < l.MinAmountMinor {
		return fmt.Errorf("%w: %d is below minimum %d", payment.ErrInvalidAmount, amountMinor, l.MinAmountMinor)
	}
	if l.MaxAmountMinor > 0 && amountMinor > l.MaxAmountMinor {
		return fmt.Errorf("%w: %d is above maximum %d", payment.ErrInvalidAmount, amountMinor, l.MaxAmountMinor)
	}
	return nil
}

type RobokassaConfig struct {
	Limits
	Login      string
	Password1  string
	Password2  string
	IsTest     bool
	TrustedIPs []string
}

type WataConfig struct {
	Limits
	Token        string
	PublicKeyPEM string
	SuccessURL   string
	FailURL      string
}

type HeleketConfig struct {
	Limits
	MerchantID  string
	APIKey      string
	CallbackURL string
	Lifetime    time.Duration
}

type TelegramStarsConfig struct {
	Limits
	BotToken      string
	WebhookSecret string
	// rubles per star, used when a fiat amount has to be billed in XTR
	RubPerStar decimal.Decimal
}

type CryptoBotConfig struct {
	Limits
	Token          string
	Asset          string
	InvoiceExpires time.Duration
}

type YooKassaConfig struct {
	Limits
	ShopID       string
	SecretKey    string
	ReturnURL    string
	TrustedCIDRs []string
}

type TributeConfig struct {
	Limits
	APIKey    string
	DonateURL string
}

type MulenPayConfig struct {
	Limits
	APIKey    string
	SecretKey string
	ShopID    string
	Retries   int
}

type Pal24Config struct {
	Limits
	APIToken string
	ShopID   string
}

type PlategaConfig struct {
	Limits
	MerchantID    string
	Secret        string
	PaymentMethod int
	ReturnURL     string
	FailedURL     string
}

// FKConfig covers FreeKassa and KassaAI, which share the fk.life platform.
type FKConfig struct {
	Limits
	ShopID          string
	Secret1         string
	Secret2         string
	APIKey          string
	PaymentSystemID int
	UseAPI          bool
	FormURL         string
	TrustedIPs      []string
	ServerIP        string
}

type CloudPaymentsConfig struct {
	Limits
	PublicID  string
	APISecret string
}

type ProvidersConfig struct {
	Robokassa     RobokassaConfig
	Wata          WataConfig
	Heleket       HeleketConfig
	TelegramStars TelegramStarsConfig
	CryptoBot     CryptoBotConfig
	YooKassa      YooKassaConfig
	Tribute       TributeConfig
	MulenPay      MulenPayConfig
	Pal24         Pal24Config
	Platega       PlategaConfig
	FreeKassa     FKConfig
	KassaAI       FKConfig
	CloudPayments CloudPaymentsConfig
}

// Enabled lists provider names switched on in the static configuration.
func (p ProvidersConfig) Enabled() []string {
	all := map[string]bool{
		payment.ProviderRobokassa:     p.Robokassa.Enabled,
		payment.ProviderWata:          p.Wata.Enabled,
		payment.ProviderHeleket:       p.Heleket.Enabled,
		payment.ProviderTelegramStars: p.TelegramStars.Enabled,
		payment.ProviderCryptoBot:     p.CryptoBot.Enabled,
		payment.ProviderYooKassa:      p.YooKassa.Enabled,
		payment.ProviderTribute:       p.Tribute.Enabled,
		payment.ProviderMulenPay:      p.MulenPay.Enabled,
		payment.ProviderPal24:         p.Pal24.Enabled,
		payment.ProviderPlatega:       p.Platega.Enabled,
		payment.ProviderFreeKassa:     p.FreeKassa.Enabled,
		payment.ProviderKassaAI:       p.KassaAI.Enabled,
		payment.ProviderCloudPayments: p.CloudPayments.Enabled,
	}
	out := make([]string, 0, len(all))
	for _, name := range AllProviders {
		if all[name] {
			out = append(out, name)
		}
	}
	return out
}

// AllProviders in a stable order.
var AllProviders = []string{
	payment.ProviderRobokassa,
	payment.ProviderWata,
	payment.ProviderHeleket,
	payment.ProviderTelegramStars,
	payment.ProviderCryptoBot,
	payment.ProviderYooKassa,
	payment.ProviderTribute,
	payment.ProviderMulenPay,
	payment.ProviderPal24,
	payment.ProviderPlatega,
	payment.ProviderFreeKassa,
	payment.ProviderKassaAI,
	payment.ProviderCloudPayments,
}

// Published by FreeKassa in its merchant docs.
var defaultFreeKassaIPs = "168.119.157.136,168.119.60.227,178.154.197.79,51.250.54.238"

// Published by YooKassa for HTTP notifications.
var defaultYooKassaCIDRs = "185.71.76.0/27,185.71.77.0/27,77.75.153.0/25,77.75.156.11/32,77.75.156.35/32,77.75.154.128/25,2a02:5180::/32"

func limits(prefix, baseURL, currency string, timeout time.Duration) Limits {
	return Limits{
		Enabled:        getBool(prefix+"_ENABLED", false),
		BaseURL:        strings.TrimRight(env.GetEnv(prefix+"_BASE_URL", baseURL), "/"),
		Timeout:        getDuration(prefix+"_TIMEOUT", timeout),
		Currency:       strings.ToUpper(env.GetEnv(prefix+"_CURRENCY", currency)),
		MinAmountMinor: getInt64(prefix+"_MIN_AMOUNT_MINOR", 0),
		MaxAmountMinor: getInt64(prefix+"_MAX_AMOUNT_MINOR", 0),
	}
}

func loadProviders() ProvidersConfig {
	return ProvidersConfig{
		Robokassa: RobokassaConfig{
			Limits:     limits("ROBOKASSA", "https://auth.robokassa.ru/Merchant/Index.aspx", "RUB", 15*time.Second),
			Login:      env.GetEnv("ROBOKASSA_LOGIN", ""),
			Password1:  env.GetEnv("ROBOKASSA_PASSWORD1", ""),
			Password2:  env.GetEnv("ROBOKASSA_PASSWORD2", ""),
			IsTest:     getBool("ROBOKASSA_IS_TEST", false),
			TrustedIPs: getList("ROBOKASSA_TRUSTED_IPS", ""),
		},
		Wata: WataConfig{
			Limits:       limits("WATA", "https://api.wata.pro/api/h2h", "RUB", 30*time.Second),
			Token:        env.GetEnv("WATA_ACCESS_TOKEN", ""),
			PublicKeyPEM: env.GetEnv("WATA_PUBLIC_KEY_PEM", ""),
			SuccessURL:   env.GetEnv("WATA_SUCCESS_URL", ""),
			FailURL:      env.GetEnv("WATA_FAIL_URL", ""),
		},
		Heleket: HeleketConfig{
			Limits:      limits("HELEKET", "https://api.heleket.com", "RUB", 30*time.Second),
			MerchantID:  env.GetEnv("HELEKET_MERCHANT_ID", ""),
			APIKey:      env.GetEnv("HELEKET_API_KEY", ""),
			CallbackURL: env.GetEnv("HELEKET_CALLBACK_URL", ""),
			Lifetime:    getDuration("HELEKET_INVOICE_LIFETIME", time.Hour),
		},
		TelegramStars: TelegramStarsConfig{
			Limits:        limits("TELEGRAM_STARS", "https://api.telegram.org", "RUB", 15*time.Second),
			BotToken:      env.GetEnv("TELEGRAM_BOT_TOKEN", ""),
			WebhookSecret: env.GetEnv("TELEGRAM_WEBHOOK_SECRET", ""),
			RubPerStar:    getDecimal("TELEGRAM_STARS_RUB_PER_STAR", "1.79"),
		},
		CryptoBot: CryptoBotConfig{
			Limits:         limits("CRYPTOBOT", "https://pay.crypt.bot", "RUB", 15*time.Second),
			Token:          env.GetEnv("CRYPTOBOT_API_TOKEN", ""),
			Asset:          env.GetEnv("CRYPTOBOT_DEFAULT_ASSET", "USDT"),
			InvoiceExpires: getDuration("CRYPTOBOT_INVOICE_EXPIRES", time.Hour),
		},
		YooKassa: YooKassaConfig{
			Limits:       limits("YOOKASSA", "https://api.yookassa.ru", "RUB", 15*time.Second),
			ShopID:       env.GetEnv("YOOKASSA_SHOP_ID", ""),
			SecretKey:    env.GetEnv("YOOKASSA_SECRET_KEY", ""),
			ReturnURL:    env.GetEnv("YOOKASSA_RETURN_URL", ""),
			TrustedCIDRs: getList("YOOKASSA_TRUSTED_CIDRS", defaultYooKassaCIDRs),
		},
		Tribute: TributeConfig{
			Limits:    limits("TRIBUTE", "https://tribute.tg", "RUB", 15*time.Second),
			APIKey:    env.GetEnv("TRIBUTE_API_KEY", ""),
			DonateURL: env.GetEnv("TRIBUTE_DONATE_LINK", ""),
		},
		MulenPay: MulenPayConfig{
			Limits:    limits("MULENPAY", "https://mulenpay.ru/api", "RUB", 30*time.Second),
			APIKey:    env.GetEnv("MULENPAY_API_KEY", ""),
			SecretKey: env.GetEnv("MULENPAY_SECRET_KEY", ""),
			ShopID:    env.GetEnv("MULENPAY_SHOP_ID", ""),
			Retries:   getInt("MULENPAY_MAX_RETRIES", 3),
		},
		Pal24: Pal24Config{
			Limits:   limits("PAL24", "https://pal24.pro", "RUB", 30*time.Second),
			APIToken: env.GetEnv("PAL24_API_TOKEN", ""),
			ShopID:   env.GetEnv("PAL24_SHOP_ID", ""),
		},
		Platega: PlategaConfig{
			Limits:        limits("PLATEGA", "https://app.platega.io", "RUB", 30*time.Second),
			MerchantID:    env.GetEnv("PLATEGA_MERCHANT_ID", ""),
			Secret:        env.GetEnv("PLATEGA_SECRET", ""),
			PaymentMethod: getInt("PLATEGA_PAYMENT_METHOD", 2),
			ReturnURL:     env.GetEnv("PLATEGA_RETURN_URL", ""),
			FailedURL:     env.GetEnv("PLATEGA_FAILED_URL", ""),
		},
		FreeKassa: FKConfig{
			Limits:          limits("FREEKASSA", "https://api.fk.life/v1", "RUB", 30*time.Second),
			ShopID:          env.GetEnv("FREEKASSA_SHOP_ID", ""),
			Secret1:         env.GetEnv("FREEKASSA_SECRET_WORD_1", ""),
			Secret2:         env.GetEnv("FREEKASSA_SECRET_WORD_2", ""),
			APIKey:          env.GetEnv("FREEKASSA_API_KEY", ""),
			PaymentSystemID: getInt("FREEKASSA_PAYMENT_SYSTEM_ID", 0),
			UseAPI:          getBool("FREEKASSA_USE_API", false),
			FormURL:         env.GetEnv("FREEKASSA_FORM_URL", "https://pay.fk.money/"),
			TrustedIPs:      getList("FREEKASSA_TRUSTED_IPS", defaultFreeKassaIPs),
			ServerIP:        env.GetEnv("SERVER_PUBLIC_IP", ""),
		},
		KassaAI: FKConfig{
			Limits:          limits("KASSA_AI", "https://api.fk.life/v1", "RUB", 30*time.Second),
			ShopID:          env.GetEnv("KASSA_AI_SHOP_ID", ""),
			Secret2:         env.GetEnv("KASSA_AI_SECRET_WORD_2", ""),
			APIKey:          env.GetEnv("KASSA_AI_API_KEY", ""),
			PaymentSystemID: getInt("KASSA_AI_PAYMENT_SYSTEM_ID", 44),
			UseAPI:          true,
			TrustedIPs:      getList("KASSA_AI_TRUSTED_IPS", ""),
			ServerIP:        env.GetEnv("SERVER_PUBLIC_IP", ""),
		},
		CloudPayments: CloudPaymentsConfig{
			Limits:    limits("CLOUDPAYMENTS", "https://api.cloudpayments.ru", "RUB", 15*time.Second),
			PublicID:  env.GetEnv("CLOUDPAYMENTS_PUBLIC_ID", ""),
			APISecret: env.GetEnv("CLOUDPAYMENTS_API_SECRET", ""),
		},
	}
}

func (p ProvidersConfig) validate() []error {
	var errs []error
	require := func(enabled bool, name string, values map[string]string) {
		if !enabled {
			return
		}
		for key, v := range values {
			if strings.TrimSpace(v) == "" {
				errs = append(errs, fmt.Errorf("%s is enabled but %s is empty", name, key))
			}
		}
	}
	require(p.Robokassa.Enabled, payment.ProviderRobokassa, map[string]string{
		"ROBOKASSA_LOGIN": p.Robokassa.Login, "ROBOKASSA_PASSWORD1": p.Robokassa.Password1, "ROBOKASSA_PASSWORD2": p.Robokassa.Password2,
	})
	require(p.Wata.Enabled, payment.ProviderWata, map[string]string{
		"WATA_ACCESS_TOKEN": p.Wata.Token, "WATA_PUBLIC_KEY_PEM": p.Wata.PublicKeyPEM,
	})
	require(p.Heleket.Enabled, payment.ProviderHeleket, map[string]string{
		"HELEKET_MERCHANT_ID": p.Heleket.MerchantID, "HELEKET_API_KEY": p.Heleket.APIKey,
	})
	require(p.TelegramStars.Enabled, payment.ProviderTelegramStars, map[string]string{
		"TELEGRAM_BOT_TOKEN": p.TelegramStars.BotToken, "TELEGRAM_WEBHOOK_SECRET": p.TelegramStars.WebhookSecret,
	})
	require(p.CryptoBot.Enabled, payment.ProviderCryptoBot, map[string]string{
		"CRYPTOBOT_API_TOKEN": p.CryptoBot.Token,
	})
	require(p.YooKassa.Enabled, payment.ProviderYooKassa, map[string]string{
		"YOOKASSA_SHOP_ID": p.YooKassa.ShopID, "YOOKASSA_SECRET_KEY": p.YooKassa.SecretKey,
	})
	require(p.Tribute.Enabled, payment.ProviderTribute, map[string]string{
		"TRIBUTE_API_KEY": p.Tribute.APIKey,
	})
	require(p.MulenPay.Enabled, payment.ProviderMulenPay, map[string]string{
		"MULENPAY_API_KEY": p.MulenPay.APIKey, "MULENPAY_SECRET_KEY": p.MulenPay.SecretKey, "MULENPAY_SHOP_ID": p.MulenPay.ShopID,
	})
	require(p.Pal24.Enabled, payment.ProviderPal24, map[string]string{
		"PAL24_API_TOKEN": p.Pal24.APIToken, "PAL24_SHOP_ID": p.Pal24.ShopID,
	})
	require(p.Platega.Enabled, payment.ProviderPlatega, map[string]string{
		"PLATEGA_MERCHANT_ID": p.Platega.MerchantID, "PLATEGA_SECRET": p.Platega.Secret,
	})
	require(p.FreeKassa.Enabled, payment.ProviderFreeKassa, map[string]string{
		"FREEKASSA_SHOP_ID": p.FreeKassa.ShopID, "FREEKASSA_SECRET_WORD_1": p.FreeKassa.Secret1, "FREEKASSA_SECRET_WORD_2": p.FreeKassa.Secret2,
	})
	require(p.KassaAI.Enabled, payment.ProviderKassaAI, map[string]string{
		"KASSA_AI_SHOP_ID": p.KassaAI.ShopID, "KASSA_AI_SECRET_WORD_2": p.KassaAI.Secret2, "KASSA_AI_API_KEY": p.KassaAI.APIKey,
	})
	require(p.CloudPayments.Enabled, payment.ProviderCloudPayments, map[string]string{
		"CLOUDPAYMENTS_PUBLIC_ID": p.CloudPayments.PublicID, "CLOUDPAYMENTS_API_SECRET": p.CloudPayments.APISecret,
	})
	if p.FreeKassa.Enabled && p.FreeKassa.UseAPI && p.FreeKassa.APIKey == "" {
		errs = append(errs, fmt.Errorf("freekassa API mode needs FREEKASSA_API_KEY"))
	}
	return errs
}

package billing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const daysPerPeriod = 30

// Pricing converts a paid amount into subscription days.
type Pricing interface {
	DaysFor(amountMinor int64, currency string) (int, error)
}

// TariffPricing charges a flat price per 30 days and prorates linearly,
// rounding down to whole days.
type TariffPricing struct {
	PricePer30DaysMinor int64
	Currency            string
}

func (p TariffPricing) DaysFor(amountMinor int64, currency string) (int, error) {
	if p.PricePer30DaysMinor <= 0 {
		return 0, fmt.Errorf("tariff price is not configured")
	}
	if !strings.EqualFold(strings.TrimSpace(currency), p.Currency) {
		return 0, fmt.Errorf("tariff is priced in %s, payment is in %s", p.Currency, currency)
	}
	days := decimal.NewFromInt(amountMinor).
		Mul(decimal.NewFromInt(daysPerPeriod)).
		Div(decimal.NewFromInt(p.PricePer30DaysMinor)).
		Floor().
		IntPart()
	if days <= 0 {
		return 0, fmt.Errorf("amount %d %s buys less than one day", amountMinor, currency)
	}
	return int(days), nil
}

func normalizePurpose(purpose string) string {
	switch strings.ToLower(strings.TrimSpace(purpose)) {
	case "subscription":
		return "subscription"
	default:
		return "topup"
	}
}

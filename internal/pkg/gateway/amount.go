package gateway

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vpnshop/paycore/internal/pkg/payment"
)

// exponent returns the number of minor-unit digits for currency.
func exponent(currency string) int32 {
	switch payment.NormalizeCurrency(currency) {
	case "XTR", "JPY":
		return 0
	case "BTC", "ETH", "TON", "LTC", "TRX", "BNB", "USDT", "USDC":
		return 8
	default:
		return 2
	}
}

// toMinor converts a provider decimal amount string into minor units.
// Amounts with more precision than the currency allows are rejected.
func toMinor(amount, currency string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(strings.ReplaceAll(amount, ",", ".")))
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", payment.ErrMalformedPayload, amount, err)
	}
	return decimalToMinor(d, currency)
}

func decimalToMinor(d decimal.Decimal, currency string) (int64, error) {
	scaled := d.Shift(exponent(currency))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has too many decimals for %s", payment.ErrMalformedPayload, d, currency)
	}
	if scaled.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative amount %s", payment.ErrMalformedPayload, d)
	}
	return scaled.IntPart(), nil
}

func minorToDecimal(minor int64, currency string) decimal.Decimal {
	return decimal.New(minor, -exponent(currency))
}

// fixed renders minor units with exactly the currency's precision, e.g.
// 150000 RUB -> "1500.00".
func fixed(minor int64, currency string) string {
	return minorToDecimal(minor, currency).StringFixed(exponent(currency))
}

// compact renders minor units without trailing zeros, e.g. 150000 RUB -> "1500".
func compact(minor int64, currency string) string {
	return minorToDecimal(minor, currency).String()
}

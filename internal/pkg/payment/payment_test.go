package payment

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	for _, s := range []Status{StatusPaid, StatusFailed, StatusExpired, StatusCancelled} {
		assert.True(t, s.IsTerminal(), "status %s", s)
		assert.True(t, s.Valid())
	}
	assert.True(t, StatusPending.Valid())
	assert.False(t, Status("refunded").Valid())
}

func TestWebhookRequestFormPrefersBody(t *testing.T) {
	req := WebhookRequest{
		Body:  []byte("OutSum=100.00&InvId=7"),
		Query: url.Values{"InvId": {"8"}, "Extra": {"x"}},
	}
	form, err := req.Form()
	require.NoError(t, err)
	assert.Equal(t, "7", form.Get("InvId"))
	assert.Equal(t, "100.00", form.Get("OutSum"))
	assert.Equal(t, "x", form.Get("Extra"))
}

func TestIsReviewable(t *testing.T) {
	assert.True(t, IsReviewable(fmt.Errorf("order x: %w", ErrAmountMismatch)))
	assert.True(t, IsReviewable(ErrUnknownPayment))
	assert.True(t, IsReviewable(ErrReconciliationConflict))
	assert.False(t, IsReviewable(ErrCreditFailure))
	assert.False(t, IsReviewable(ErrInvalidSignature))
}

func TestAsIgnored(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &IgnoredError{Reason: "pre_checkout"})
	ign, ok := AsIgnored(err)
	require.True(t, ok)
	assert.Equal(t, "pre_checkout", ign.Reason)

	_, ok = AsIgnored(ErrMalformedPayload)
	assert.False(t, ok)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "yookassa", NormalizeProvider("  YooKassa "))
	assert.Equal(t, "RUB", NormalizeCurrency(" rub"))
}

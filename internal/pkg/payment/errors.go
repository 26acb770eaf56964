package payment

import "errors"

var (
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrMalformedPayload       = errors.New("malformed payload")
	ErrUnknownPayment         = errors.New("unknown payment")
	ErrAmountMismatch         = errors.New("amount mismatch")
	ErrReconciliationConflict = errors.New("reconciliation conflict")
	ErrGatewayUnavailable     = errors.New("gateway unavailable")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrCreditFailure          = errors.New("credit failure")
	ErrProviderDisabled       = errors.New("provider disabled")
	ErrUnsupportedProvider    = errors.New("unsupported provider")
)

// IgnoredError marks a verified delivery that carries no payment state, such
// as a Telegram pre-checkout query. Reply, when set, is written back verbatim.
type IgnoredError struct {
	Reason      string
	ContentType string
	Reply       []byte
}

func (e *IgnoredError) Error() string {
	return "ignored: " + e.Reason
}

// AsIgnored unwraps an *IgnoredError from err.
func AsIgnored(err error) (*IgnoredError, bool) {
	var ign *IgnoredError
	if errors.As(err, &ign) {
		return ign, true
	}
	return nil, false
}

// IsReviewable reports whether err should land in the manual review queue
// and be acknowledged to the provider instead of retried.
func IsReviewable(err error) bool {
	return errors.Is(err, ErrUnknownPayment) ||
		errors.Is(err, ErrAmountMismatch) ||
		errors.Is(err, ErrReconciliationConflict)
}

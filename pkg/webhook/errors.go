package webhook

import "errors"

var (
	// Inbound verification.
	ErrMissingSignature = errors.New("webhook signature is missing")
	ErrMalformedHeader  = errors.New("malformed webhook signature header")
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	ErrTimestampSkew    = errors.New("webhook timestamp outside tolerance")

	// Outbound delivery.
	ErrInvalidURL            = errors.New("invalid webhook URL")
	ErrInvalidPayload        = errors.New("invalid webhook payload")
	ErrPermanentFailure      = errors.New("permanent webhook failure")
	ErrWebhookDeliveryFailed = errors.New("webhook delivery failed")
)

// IsAuthError reports whether err means the sender could not be authenticated.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrMalformedHeader) || errors.Is(err, ErrInvalidSignature)
}

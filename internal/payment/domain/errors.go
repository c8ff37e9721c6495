package domain

import "errors"

var (
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrEventIgnored     = errors.New("event_ignored")

	ErrMissingSignature    = errors.New("missing_signature")
	ErrMissingTimestamp    = errors.New("missing_timestamp")
	ErrMalformedSignature  = errors.New("malformed_signature")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrSecretNotConfigured = errors.New("webhook_secret_not_configured")

	ErrNotFound                = errors.New("not_found")
	ErrDuplicateOrder          = errors.New("duplicate_order")
	ErrInvalidOrderID          = errors.New("invalid_order_id")
	ErrInvalidInvoiceNumber    = errors.New("invalid_invoice_number")
	ErrInvalidAmount           = errors.New("invalid_amount")
	ErrRefundTargetNotFound    = errors.New("refund_target_not_found")
	ErrRefundAmountNotFound    = errors.New("refund_amount_not_found")
	ErrRefundAmountNotPositive = errors.New("refund_amount_not_positive")
	ErrConcurrentUpdate        = errors.New("concurrent_update")
)

// IsSignatureError reports whether err rejects a webhook on authentication grounds.
func IsSignatureError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMissingTimestamp) ||
		errors.Is(err, ErrMalformedSignature) ||
		errors.Is(err, ErrInvalidSignature)
}

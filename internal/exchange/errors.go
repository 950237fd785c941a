package exchange

import (
	"fmt"
	"strings"
)

// ErrorKind is the stable classification persisted with failed
// transactions and mapped to user-facing text.
type ErrorKind string

const (
	ErrKindInvalidAPIKey     ErrorKind = "invalid_api_key"
	ErrKindInvalidSignature  ErrorKind = "invalid_signature"
	ErrKindPermissionDenied  ErrorKind = "permission_denied"
	ErrKindInsufficientFunds ErrorKind = "insufficient_funds"
	ErrKindRateLimit         ErrorKind = "rate_limit"
	ErrKindCircuitOpen       ErrorKind = "circuit_open"
	ErrKindUnknown           ErrorKind = "unknown"
)

// APIError carries the classified kind alongside the raw exchange text.
type APIError struct {
	Kind ErrorKind
	Raw  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error (%s): %s", e.Kind, e.Raw)
}

// Classify maps raw exchange error text onto an ErrorKind. Both Kraken
// (EAPI:/EOrder:/EGeneral: prefixes) and Binance (numbered codes with
// prose) funnel through the same substrings.
func Classify(raw string) ErrorKind {
	text := strings.ToLower(raw)
	switch {
	case strings.Contains(text, "invalid key") || strings.Contains(text, "api-key format") || strings.Contains(text, "invalid api key"):
		return ErrKindInvalidAPIKey
	case strings.Contains(text, "invalid signature") || strings.Contains(text, "signature for this request"):
		return ErrKindInvalidSignature
	case strings.Contains(text, "permission denied") || strings.Contains(text, "permissions"):
		return ErrKindPermissionDenied
	case strings.Contains(text, "insufficient funds") || strings.Contains(text, "insufficient balance"):
		return ErrKindInsufficientFunds
	case strings.Contains(text, "rate limit") || strings.Contains(text, "too many requests"):
		return ErrKindRateLimit
	default:
		return ErrKindUnknown
	}
}

func NewAPIError(raw string) *APIError {
	return &APIError{Kind: Classify(raw), Raw: raw}
}

// UserMessage is the per-kind text surfaced on the dashboard.
func UserMessage(kind ErrorKind) string {
	switch kind {
	case ErrKindInvalidAPIKey:
		return "The exchange rejected the API key. Check the configured credentials."
	case ErrKindInvalidSignature:
		return "Request signature was rejected. The API secret is likely wrong."
	case ErrKindPermissionDenied:
		return "The API key lacks trading permission on the exchange."
	case ErrKindInsufficientFunds:
		return "Not enough funds on the exchange to place this order."
	case ErrKindRateLimit:
		return "The exchange is rate limiting requests. The order will be retried later."
	case ErrKindCircuitOpen:
		return "Trading is paused while the connection to the exchange recovers."
	default:
		return "The exchange returned an unexpected error."
	}
}

// Package sender delivers one rendered message through an external
// provider and records the outcome in the ledger.
package sender

import "context"

// Provider error codes. Anything else is a permanent rejection.
const (
	ErrorCodeRateLimited = "rate_limit_exceeded"
	ErrorCodeTransient   = "transient"
	ErrorCodeRejected    = "rejected"
)

// ProviderResponse is what a provider reports for one send. A non-nil error
// from Provider.Send is reserved for the provider being unusable as a whole
// (bad credentials, not configured); per-message problems come back here.
type ProviderResponse struct {
	OK        bool
	MessageID string
	ErrorCode string
	Message   string
}

type Provider interface {
	Send(ctx context.Context, to, subject, body string) (ProviderResponse, error)
}

func rejected(msg string) ProviderResponse {
	return ProviderResponse{ErrorCode: ErrorCodeRejected, Message: msg}
}

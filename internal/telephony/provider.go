package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider defines the provider-agnostic telephony interface used by business logic.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters never write call state; the session manager is the sole writer.
// - Keep request/response types provider-agnostic; raw payloads stay inside
//   the adapter.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// PlaceCall starts an outbound call and returns the provider's call id.
	// Transient transport failures are retried inside the adapter (bounded
	// attempts, short backoff); provider-side rejections are not.
	PlaceCall(ctx context.Context, req PlaceCallRequest) (providerCallID string, err error)

	// GetCallStatus fetches the provider's current view of a call.
	GetCallStatus(ctx context.Context, providerCallID string) (CallStatusResult, error)
}

// PlaceCallRequest describes one outbound call placement.
type PlaceCallRequest struct {
	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// StatusCallbackURL receives call-progress callbacks. Optional; empty
	// means the caller reconciles by polling only.
	StatusCallbackURL string `json:"status_callback_url,omitempty"`
}

// CallStatusResult is the provider's raw view of a call, untranslated.
// Status vocabulary mapping belongs to the session layer.
type CallStatusResult struct {
	ProviderCallID  string    `json:"provider_call_id"`
	RawStatus       string    `json:"raw_status"`
	DurationSeconds int       `json:"duration_seconds"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
}

// ProviderError is an upstream telephony failure.
// Retryable errors (transport faults, provider 5xx) may be re-attempted;
// validation-type rejections (malformed number, auth) must not be.
type ProviderError struct {
	Provider  string
	Op        string
	Status    int
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s failed (status %d): %s", e.Provider, e.Op, e.Status, e.Message)
}

// IsRetryable reports whether err is a ProviderError worth another attempt.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

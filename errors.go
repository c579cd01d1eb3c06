package scangate

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrQuotaExhausted     = errors.New("scangate: quota exhausted")
	ErrTenantNotFound     = errors.New("scangate: tenant not found")
	ErrLedgerUnavailable  = errors.New("scangate: ledger unavailable")
	ErrCacheUnavailable   = errors.New("scangate: cache unavailable")
	ErrInferenceFailed    = errors.New("scangate: inference failed")
	ErrInferenceTimeout   = errors.New("scangate: inference timed out")
	ErrNoFingerprint      = errors.New("scangate: request has no fingerprint")
	ErrInvalidRequest     = errors.New("scangate: invalid request")
	ErrAlertNotFound      = errors.New("scangate: alert not found")
)

// QuotaError is returned when a debit is denied. It carries the figures the
// end user needs: what is left and when the cycle resets.
type QuotaError struct {
	TenantID  string
	Remaining float64
	ResetAt   time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("scangate: tenant=%s quota exhausted: remaining=%.1f reset=%s",
		e.TenantID, e.Remaining, e.ResetAt.Format(time.RFC3339))
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExhausted }

// AdmissionError wraps an error with admission context.
type AdmissionError struct {
	Err      error
	TenantID string
	Tier     ModelTier
	Provider string
	Refunded bool // whether a debited cost was credited back
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("scangate: tenant=%s tier=%s provider=%s refunded=%t: %v",
		e.TenantID, e.Tier, e.Provider, e.Refunded, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// IsRetryable returns true if the caller may retry the request. Inference
// failures and timeouts are transient: the debit was credited back, so a
// retry costs nothing extra. Ledger outages clear on their own.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInferenceFailed) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrLedgerUnavailable)
}

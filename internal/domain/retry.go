// Package domain defines retry policy shared by the orchestrator and the
// provider adapters.
package domain

import "time"

// RetryConfig bounds the per-provider retry loop for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of calls against one provider,
	// including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// Jitter randomizes delays to avoid thundering herds.
	Jitter bool
}

// DefaultRetryConfig returns the standard provider retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

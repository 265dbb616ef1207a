// Package retry decides whether and when a failed reasoning call is attempted again.
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"crewsim/pkg/agent/llmerrors"
	"crewsim/pkg/agent/middleware/resilience/circuit"
)

// Config defines configuration for retry behavior.
type Config struct {
	MaxAttempts        int           `json:"max_attempts"`          // Maximum number of attempts (including initial)
	RateLimitBaseDelay time.Duration `json:"rate_limit_base_delay"` // Delay after the first throttled attempt
	BackoffFactor      float64       `json:"backoff_factor"`        // Multiplier per further throttled attempt
	MaxDelay           time.Duration `json:"max_delay"`             // Cap on any single delay
	TransientDelay     time.Duration `json:"transient_delay"`       // Fixed delay after network or server errors
}

// DefaultConfig provides reasonable defaults for retry behavior.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	MaxAttempts:        3,
	RateLimitBaseDelay: 5 * time.Second,
	BackoffFactor:      2.0,
	MaxDelay:           30 * time.Second,
	TransientDelay:     time.Second,
}

// Policy encapsulates retry configuration and logic.
type Policy struct {
	Config Config
}

// NewPolicy creates a new retry policy with the given configuration.
func NewPolicy(config Config) *Policy {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Policy{Config: config}
}

// Reason labels an error for logs and fallback metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case circuit.IsOpen(err):
		return "circuit_open"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}

// NextDelay reports whether a call that failed on the given 1-based attempt should be
// tried again, and how long to wait first. It never schedules a retry past MaxAttempts.
func (p *Policy) NextDelay(err error, attempt int) (time.Duration, bool) {
	if err == nil || attempt >= p.Config.MaxAttempts {
		return 0, false
	}

	// Circuit rejections and caller cancellation will not improve by waiting.
	if circuit.IsOpen(err) || errors.Is(err, context.Canceled) {
		return 0, false
	}

	switch llmerrors.TypeOf(err) {
	case llmerrors.ErrorTypeRateLimit:
		return p.rateLimitDelay(attempt), true
	case llmerrors.ErrorTypeTransient, llmerrors.ErrorTypeEmptyResponse, llmerrors.ErrorTypeUnknown:
		return p.cap(p.Config.TransientDelay), true
	default:
		return 0, false
	}
}

// rateLimitDelay grows exponentially with the attempt number: base, base*f, base*f^2...
func (p *Policy) rateLimitDelay(attempt int) time.Duration {
	delay := time.Duration(float64(p.Config.RateLimitBaseDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-1)))
	return p.cap(delay)
}

func (p *Policy) cap(delay time.Duration) time.Duration {
	if p.Config.MaxDelay > 0 && delay > p.Config.MaxDelay {
		return p.Config.MaxDelay
	}
	return delay
}

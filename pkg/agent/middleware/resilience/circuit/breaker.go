// Package circuit stops calling a reasoning backend that is down or refusing the
// configured credentials, so ticks fall back at once instead of spending retries.
package circuit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"crewsim/pkg/agent/llmerrors"
)

// State is the breaker's position.
type State int

// Breaker states.
const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{Closed, Open, HalfOpen} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown circuit state %q", text)
}

// Verdict is what one call's outcome says about backend health.
type Verdict int

// Verdicts, from harmless to fatal.
const (
	// Healthy: the backend answered, even if the answer was unusable.
	Healthy Verdict = iota
	// Ignored: the caller went away before the backend said anything.
	Ignored
	// Throttled: the provider pushed back despite admission control.
	Throttled
	// Outage: the backend is unreachable, overloaded or returned nothing.
	Outage
	// Rejected: the provider refused the credentials; every call will fail the same way.
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Ignored:
		return "ignored"
	case Throttled:
		return "throttled"
	case Outage:
		return "outage"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Judge classifies a call's error by its llmerrors kind. Bad prompts and
// unparseable replies prove the backend is up, so they count as healthy.
func Judge(err error) Verdict {
	if err == nil {
		return Healthy
	}
	if errors.Is(err, context.Canceled) {
		return Ignored
	}
	switch llmerrors.TypeOf(err) {
	case llmerrors.ErrorTypeBadPrompt, llmerrors.ErrorTypeMalformed:
		return Healthy
	case llmerrors.ErrorTypeRateLimit:
		return Throttled
	case llmerrors.ErrorTypeAuth:
		return Rejected
	default:
		return Outage
	}
}

// Config sets how much evidence opens the circuit and how long it stays open.
type Config struct {
	FailureThreshold  int           `json:"failure_threshold"`  // consecutive outages before opening
	ThrottleThreshold int           `json:"throttle_threshold"` // consecutive throttles before opening
	SuccessThreshold  int           `json:"success_threshold"`  // trial successes needed to close
	Timeout           time.Duration `json:"timeout"`            // cool-down after outages or throttles
	AuthTimeout       time.Duration `json:"auth_timeout"`       // cool-down after a credential rejection
}

// DefaultConfig is used for any zero field.
//
//nolint:gochecknoglobals // Sensible default config pattern
var DefaultConfig = Config{
	FailureThreshold:  5,
	ThrottleThreshold: 10,
	SuccessThreshold:  1,
	Timeout:           30 * time.Second,
	AuthTimeout:       5 * time.Minute,
}

// Error is returned instead of calling the backend while the circuit is open.
type Error struct {
	State   State
	Cause   Verdict
	RetryIn time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("circuit breaker is %s after %s, next trial in %s", e.State, e.Cause, e.RetryIn.Round(time.Second))
}

// IsOpen reports whether err is a rejection by a circuit breaker.
func IsOpen(err error) bool {
	var cbErr *Error
	return errors.As(err, &cbErr)
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State     State          `json:"state"`
	OpenedBy  string         `json:"opened_by,omitempty"`
	Opens     int            `json:"opens"`
	Rejected  int            `json:"rejected_calls"`
	Outages   int            `json:"consecutive_outages"`
	Throttles int            `json:"consecutive_throttles"`
	Verdicts  map[string]int `json:"verdicts"`
}

// Breaker tracks consecutive failures per verdict and trips on whichever kind
// reaches its threshold first. A credential rejection trips it immediately.
type Breaker struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	state     State
	cause     Verdict
	openUntil time.Time
	outages   int
	throttles int
	trials    int
	opens     int
	rejected  int
	verdicts  map[Verdict]int
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	return newBreaker(cfg, time.Now)
}

func newBreaker(cfg Config, now func() time.Time) *Breaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if cfg.ThrottleThreshold < 1 {
		cfg.ThrottleThreshold = DefaultConfig.ThrottleThreshold
	}
	if cfg.SuccessThreshold < 1 {
		cfg.SuccessThreshold = DefaultConfig.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = DefaultConfig.AuthTimeout
	}
	return &Breaker{cfg: cfg, now: now, verdicts: make(map[Verdict]int)}
}

// Allow returns nil when a call may proceed, or an *Error while the circuit is open.
// Once the cool-down has passed the breaker lets trial calls through half-open.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}
	now := b.now()
	if !now.Before(b.openUntil) {
		b.state = HalfOpen
		b.trials = 0
		return nil
	}
	b.rejected++
	return &Error{State: Open, Cause: b.cause, RetryIn: b.openUntil.Sub(now)}
}

// Observe records one call's outcome and returns the states before and after.
func (b *Breaker) Observe(err error) (from, to State) {
	v := Judge(err)

	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	b.verdicts[v]++
	switch v {
	case Ignored:
	case Healthy:
		b.outages, b.throttles = 0, 0
		if b.state == HalfOpen {
			b.trials++
			if b.trials >= b.cfg.SuccessThreshold {
				b.state = Closed
			}
		}
	case Throttled:
		b.throttles++
		if b.state == HalfOpen || b.throttles >= b.cfg.ThrottleThreshold {
			b.trip(v, b.cfg.Timeout)
		}
	case Outage:
		b.outages++
		if b.state == HalfOpen || b.outages >= b.cfg.FailureThreshold {
			b.trip(v, b.cfg.Timeout)
		}
	case Rejected:
		b.trip(v, b.cfg.AuthTimeout)
	}
	return from, b.state
}

// trip must be called with b.mu held.
func (b *Breaker) trip(cause Verdict, cooldown time.Duration) {
	if b.state != Open {
		b.opens++
	}
	b.state = Open
	b.cause = cause
	b.openUntil = b.now().Add(cooldown)
	b.outages, b.throttles, b.trials = 0, 0, 0
}

// State returns the breaker's current position without advancing it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns counters for the control API.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{
		State:     b.state,
		Opens:     b.opens,
		Rejected:  b.rejected,
		Outages:   b.outages,
		Throttles: b.throttles,
		Verdicts:  make(map[string]int, len(b.verdicts)),
	}
	if b.state != Closed {
		s.OpenedBy = b.cause.String()
	}
	for v, n := range b.verdicts {
		s.Verdicts[v.String()] = n
	}
	return s
}

// Reset closes the breaker and forgets the current failure streak.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.outages, b.throttles, b.trials = 0, 0, 0
}

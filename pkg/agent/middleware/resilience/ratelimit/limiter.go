// Package ratelimit provides sliding-window admission control for reasoning calls.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"crewsim/pkg/logx"
)

// Window is the span of both trailing budgets.
const Window = 60 * time.Second

// DefaultEpsilon is added to every computed wait so the oldest entry has surely aged out.
const DefaultEpsilon = 100 * time.Millisecond

// Limiter defines the interface for admission control implementations.
type Limiter interface {
	// Admit blocks until one more request carrying estimatedCost tokens fits in both
	// windows, then reserves it. It only fails when ctx is done.
	Admit(ctx context.Context, estimatedCost int, workerID string) (time.Duration, error)

	// Correct reports the real cost of an admitted request. Overshoot is reserved as an
	// extra entry; undershoot is never refunded.
	Correct(estimatedCost, actualCost int)

	// GetStats returns current limiter statistics.
	GetStats() LimiterStats
}

// Config defines the two per-minute budgets.
type Config struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	TokensPerMinute   int           `json:"tokens_per_minute"`
	Epsilon           time.Duration `json:"epsilon"`
}

// reservation is one (timestamp, cost) entry in the token window.
type reservation struct {
	at   time.Time
	cost int
}

// LimiterStats represents current rate limiter statistics.
type LimiterStats struct {
	Provider         string `json:"provider"`
	RequestsInWindow int    `json:"requests_in_window"`
	TokensInWindow   int    `json:"tokens_in_window"`
	RPMLimit         int    `json:"rpm_limit"`
	TPMLimit         int    `json:"tpm_limit"`
	RequestLimitHits int64  `json:"request_limit_hits"`
	TokenLimitHits   int64  `json:"token_limit_hits"`
	Corrections      int64  `json:"corrections"`
	CorrectedTokens  int64  `json:"corrected_tokens"`
}

// SlidingWindowLimiter tracks admitted requests and reserved tokens over the trailing
// minute. Both ledgers are append-only in time order and pruned before every check.
//
//nolint:govet // fieldalignment: Struct layout optimized for readability over memory
type SlidingWindowLimiter struct {
	mu sync.Mutex

	provider string
	rpmLimit int
	tpmLimit int
	epsilon  time.Duration

	requests []time.Time
	tokens   []reservation

	requestLimitHits int64
	tokenLimitHits   int64
	corrections      int64
	correctedTokens  int64

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindowLimiter creates a limiter for a provider.
func NewSlidingWindowLimiter(provider string, cfg Config) *SlidingWindowLimiter {
	epsilon := cfg.Epsilon
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	rpm := cfg.RequestsPerMinute
	if rpm < 1 {
		rpm = 1
	}
	tpm := cfg.TokensPerMinute
	if tpm < 1 {
		tpm = 1
	}
	return &SlidingWindowLimiter{
		provider: provider,
		rpmLimit: rpm,
		tpmLimit: tpm,
		epsilon:  epsilon,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Admit blocks until the request fits, re-checking after every wait so it never
// proceeds on stale state. Returns how long it waited in total.
//
// A single request whose estimate alone exceeds the token budget is admitted once the
// token window is empty; waiting longer could never make it fit.
func (l *SlidingWindowLimiter) Admit(ctx context.Context, estimatedCost int, workerID string) (time.Duration, error) {
	var waited time.Duration
	loggedRequests, loggedTokens := false, false

	for {
		l.mu.Lock()
		now := l.now()
		l.prune(now)

		var wait time.Duration
		switch {
		case len(l.requests) >= l.rpmLimit:
			wait = Window - now.Sub(l.requests[0]) + l.epsilon
			if !loggedRequests {
				l.requestLimitHits++
				logx.Infof("RATELIMIT: %s request window full (%d/%d), waiting %.1fs (worker: %s)",
					l.provider, len(l.requests), l.rpmLimit, wait.Seconds(), workerID)
				loggedRequests = true
			}

		case len(l.tokens) > 0 && l.tokenSum()+estimatedCost > l.tpmLimit:
			wait = Window - now.Sub(l.tokens[0].at) + l.epsilon
			if !loggedTokens {
				l.tokenLimitHits++
				logx.Infof("RATELIMIT: %s token window full (%d+%d > %d), waiting %.1fs (worker: %s)",
					l.provider, l.tokenSum(), estimatedCost, l.tpmLimit, wait.Seconds(), workerID)
				loggedTokens = true
			}

		default:
			l.requests = append(l.requests, now)
			if estimatedCost > 0 {
				l.tokens = append(l.tokens, reservation{at: now, cost: estimatedCost})
			}
			l.mu.Unlock()
			return waited, nil
		}
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return waited, err
		}
		waited += wait
	}
}

// Correct records tokens used beyond the estimate.
func (l *SlidingWindowLimiter) Correct(estimatedCost, actualCost int) {
	excess := actualCost - estimatedCost
	if excess <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.tokens = append(l.tokens, reservation{at: l.now(), cost: excess})
	l.corrections++
	l.correctedTokens += int64(excess)
	logx.Debugf("RATELIMIT: %s reserved %d extra tokens (estimated %d, actual %d)",
		l.provider, excess, estimatedCost, actualCost)
}

// GetStats returns current limiter statistics (thread-safe).
func (l *SlidingWindowLimiter) GetStats() LimiterStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())
	return LimiterStats{
		Provider:         l.provider,
		RequestsInWindow: len(l.requests),
		TokensInWindow:   l.tokenSum(),
		RPMLimit:         l.rpmLimit,
		TPMLimit:         l.tpmLimit,
		RequestLimitHits: l.requestLimitHits,
		TokenLimitHits:   l.tokenLimitHits,
		Corrections:      l.corrections,
		CorrectedTokens:  l.correctedTokens,
	}
}

// prune drops entries at least one window old. Called under lock.
func (l *SlidingWindowLimiter) prune(now time.Time) {
	i := 0
	for i < len(l.requests) && now.Sub(l.requests[i]) >= Window {
		i++
	}
	l.requests = l.requests[i:]

	j := 0
	for j < len(l.tokens) && now.Sub(l.tokens[j].at) >= Window {
		j++
	}
	l.tokens = l.tokens[j:]
}

func (l *SlidingWindowLimiter) tokenSum() int {
	sum := 0
	for _, r := range l.tokens {
		sum += r.cost
	}
	return sum
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err() //nolint:wrapcheck // Context error propagated as-is
	case <-timer.C:
		return nil
	}
}

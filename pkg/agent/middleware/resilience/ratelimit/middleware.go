package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/utils"
)

// TokenEstimator estimates the number of tokens needed for a request.
type TokenEstimator interface {
	// EstimatePrompt estimates the number of prompt tokens for a request.
	EstimatePrompt(req llm.CompletionRequest) int
}

// DefaultTokenEstimator provides token estimation using TikToken.
type DefaultTokenEstimator struct {
	counter *utils.TokenCounter
}

// NewDefaultTokenEstimator creates an estimator. A nil counter falls back to len/4.
func NewDefaultTokenEstimator(counter *utils.TokenCounter) TokenEstimator {
	return &DefaultTokenEstimator{counter: counter}
}

// EstimatePrompt estimates prompt tokens using TikToken-based counting.
func (e *DefaultTokenEstimator) EstimatePrompt(req llm.CompletionRequest) int {
	return e.counter.CountTokens(req.PromptText())
}

// Jitter spreads admitted calls over a random delay so workers released together
// do not hit the backend in lockstep.
type Jitter struct {
	min time.Duration
	max time.Duration

	mu  sync.Mutex
	rng *rand.Rand

	sleep func(ctx context.Context, d time.Duration) error
}

// NewJitter creates a jitter source drawing uniformly from [min, max].
func NewJitter(minDelay, maxDelay time.Duration, rng *rand.Rand) *Jitter {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	return &Jitter{min: minDelay, max: maxDelay, rng: rng, sleep: sleepContext}
}

// Next returns the next delay.
func (j *Jitter) Next() time.Duration {
	if j == nil || j.max <= 0 {
		return 0
	}
	span := j.max - j.min
	if span <= 0 || j.rng == nil {
		return j.min
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.min + time.Duration(j.rng.Int64N(int64(span)+1))
}

// Wait sleeps for the next delay or until ctx is done.
func (j *Jitter) Wait(ctx context.Context) error {
	d := j.Next()
	if d <= 0 {
		return nil
	}
	return j.sleep(ctx, d)
}

// Middleware returns a middleware that admits each request through the limiter,
// adds jitter, calls the backend and reports actual usage back to the limiter.
func Middleware(limiter Limiter, estimator TokenEstimator, jitter *Jitter, recorder metrics.Recorder) llm.Middleware {
	if estimator == nil {
		estimator = NewDefaultTokenEstimator(nil)
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				estimate := estimator.EstimatePrompt(req) + req.MaxTokens

				waited, err := limiter.Admit(ctx, estimate, req.WorkerID)
				recorder.ObserveQueueWait(model, waited)
				if waited > 0 {
					recorder.IncThrottle(model, "window_full")
				}
				if err != nil {
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Context error propagated as-is
				}

				if err := jitter.Wait(ctx); err != nil {
					return llm.CompletionResponse{}, err //nolint:wrapcheck // Context error propagated as-is
				}

				resp, err := next.Complete(ctx, req)
				if err == nil && resp.Usage.Total() > 0 {
					limiter.Correct(estimate, resp.Usage.Total())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

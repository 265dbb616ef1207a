// Package agent builds the reasoning backend client: a provider transport wrapped in
// the admission, resilience and observability middleware chain.
package agent

import (
	"fmt"
	"math/rand/v2"

	"crewsim/pkg/agent/internal/llmimpl/anthropic"
	"crewsim/pkg/agent/internal/llmimpl/google"
	"crewsim/pkg/agent/internal/llmimpl/ollama"
	"crewsim/pkg/agent/internal/llmimpl/openaicompat"
	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/middleware/logging"
	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/agent/middleware/resilience/circuit"
	"crewsim/pkg/agent/middleware/resilience/ratelimit"
	"crewsim/pkg/agent/middleware/resilience/retry"
	"crewsim/pkg/agent/middleware/resilience/timeout"
	"crewsim/pkg/agent/middleware/validation"
	"crewsim/pkg/config"
	"crewsim/pkg/logx"
	"crewsim/pkg/utils"
)

// LLMClientFactory creates the reasoning client with a properly configured middleware chain.
// It owns the shared limiter and breaker so every client it builds draws on one budget.
type LLMClientFactory struct {
	config   *config.Config
	recorder metrics.Recorder
	counter  *utils.TokenCounter
	limiter  *ratelimit.SlidingWindowLimiter // nil when admission is disabled
	breaker  *circuit.Breaker                // nil when disabled
	jitter   *ratelimit.Jitter
	logger   *logx.Logger

	newRaw func(cfg config.ProviderConfig) (llm.LLMClient, error)
}

// NewLLMClientFactory prepares shared middleware state. rng seeds the admission jitter;
// nil uses an unseeded source.
func NewLLMClientFactory(cfg *config.Config, recorder metrics.Recorder, rng *rand.Rand) (*LLMClientFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // Jitter is not security sensitive
	}

	counter, err := utils.NewTokenCounter(cfg.Provider.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	f := &LLMClientFactory{
		config:   cfg,
		recorder: recorder,
		counter:  counter,
		logger:   logx.NewLogger("factory"),
		newRaw:   newRawClient,
	}

	if cfg.RateLimitEnabled() {
		f.limiter = ratelimit.NewSlidingWindowLimiter(cfg.Provider.Name, ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			TokensPerMinute:   cfg.RateLimit.TokensPerMinute,
			Epsilon:           cfg.RateLimit.Epsilon.Std(),
		})
		f.jitter = ratelimit.NewJitter(cfg.RateLimit.JitterMin.Std(), cfg.RateLimit.JitterMax.Std(), rng)
	}
	if !cfg.Circuit.Disabled {
		f.breaker = circuit.New(circuit.Config{
			FailureThreshold:  cfg.Circuit.FailureThreshold,
			ThrottleThreshold: cfg.Circuit.ThrottleThreshold,
			SuccessThreshold:  cfg.Circuit.SuccessThreshold,
			Timeout:           cfg.Circuit.Timeout.Std(),
			AuthTimeout:       cfg.Circuit.AuthTimeout.Std(),
		})
	}
	return f, nil
}

// CreateClient creates the configured provider's client with the full middleware chain.
func (f *LLMClientFactory) CreateClient() (llm.LLMClient, error) {
	raw, err := f.newRaw(f.config.Provider)
	if err != nil {
		return nil, err
	}

	// Metrics -> FailureLogging -> Circuit -> RateLimit -> Timeout -> EmptyResponse -> raw.
	// Retry sits above the chain, in the orchestrator, so each attempt is admitted anew.
	middlewares := []llm.Middleware{
		metrics.Middleware(f.recorder, metrics.NewUsageExtractor(f.counter), f.logger),
		logging.FailureLoggingMiddleware(f.logger),
	}
	if f.breaker != nil {
		middlewares = append(middlewares, circuit.Middleware(f.breaker))
	}
	if f.limiter != nil {
		middlewares = append(middlewares, ratelimit.Middleware(f.limiter, ratelimit.NewDefaultTokenEstimator(f.counter), f.jitter, f.recorder))
	}
	middlewares = append(middlewares,
		timeout.Middleware(f.config.Provider.Timeout.Std()),
		validation.EmptyResponseMiddleware(),
	)

	f.logger.Info("Reasoning backend: %s (%s), rate limit %v", f.config.Provider.Name, raw.GetModelName(), f.limiter != nil)
	return llm.Chain(raw, middlewares...), nil
}

// RetryPolicy returns the retry policy the orchestrator applies around the chain.
func (f *LLMClientFactory) RetryPolicy() *retry.Policy {
	r := f.config.Retry
	return retry.NewPolicy(retry.Config{
		MaxAttempts:        r.MaxAttempts,
		RateLimitBaseDelay: r.RateLimitBaseDelay.Std(),
		BackoffFactor:      r.BackoffMultiplier,
		MaxDelay:           r.MaxDelay.Std(),
		TransientDelay:     r.TransientDelay.Std(),
	})
}

// Limiter returns the shared limiter, or nil when admission control is off.
func (f *LLMClientFactory) Limiter() *ratelimit.SlidingWindowLimiter {
	return f.limiter
}

// Breaker returns the shared circuit breaker, or nil when disabled.
func (f *LLMClientFactory) Breaker() *circuit.Breaker {
	return f.breaker
}

// Counter returns the token counter shared by estimation and prompt budgeting.
func (f *LLMClientFactory) Counter() *utils.TokenCounter {
	return f.counter
}

func newRawClient(p config.ProviderConfig) (llm.LLMClient, error) {
	switch p.Name {
	case config.ProviderGroq, config.ProviderOpenAI:
		if p.APIKey == "" {
			return nil, fmt.Errorf("no API key configured for %s", p.Name)
		}
		return openaicompat.NewClient(p.Name, p.APIKey, p.BaseURL, p.Model), nil
	case config.ProviderAnthropic:
		if p.APIKey == "" {
			return nil, fmt.Errorf("no API key configured for %s", p.Name)
		}
		return anthropic.NewClaudeClientWithModel(p.APIKey, p.BaseURL, p.Model), nil
	case config.ProviderGoogle:
		if p.APIKey == "" {
			return nil, fmt.Errorf("no API key configured for %s", p.Name)
		}
		return google.NewGeminiClientWithModel(p.APIKey, p.BaseURL, p.Model), nil
	case config.ProviderOllama:
		host := p.BaseURL
		if host == "" {
			host = config.DefaultOllamaHost
		}
		return ollama.NewOllamaClientWithModel(host, p.Model), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", p.Name)
	}
}

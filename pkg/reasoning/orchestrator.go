// Package reasoning turns a worker snapshot into a decision by way of the external
// reasoning backend, falling back to a heuristic when the backend cannot deliver.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/middleware/metrics"
	"crewsim/pkg/agent/middleware/resilience/retry"
	"crewsim/pkg/decision"
	"crewsim/pkg/logx"
	"crewsim/pkg/sanitizer"
	"crewsim/pkg/serializer"
	"crewsim/pkg/templates"
	"crewsim/pkg/utils"
)

// Fallback reasons that do not come from a transport error.
const (
	ReasonNoClient = "no_client"
	ReasonPrompt   = "prompt"
	ReasonQueue    = "queue"
)

// Config bounds the size and sampling of a decision request.
type Config struct {
	MaxTokens       int
	Temperature     float32
	MaxMemories     int
	MaxObservations int
	MaxPromptTokens int
	Crew            []string // Names listed in every prompt
	Locations       []string // Used when the decision context carries none
}

// Deps are the collaborators an Orchestrator needs. Client may be nil, in which case
// every decision is a fallback.
type Deps struct {
	Client     llm.LLMClient
	Serializer *serializer.Serializer
	Sanitizer  *sanitizer.Sanitizer
	Retry      *retry.Policy
	Fallback   *FallbackPolicy
	Renderer   *templates.Renderer
	Counter    *utils.TokenCounter
	Recorder   metrics.Recorder
}

// Result describes how a decision was reached.
type Result struct {
	Decision decision.Decision
	Fallback bool
	Reason   string // Why the fallback was used; empty otherwise
	Attempts int    // Transport calls made
}

// Orchestrator is the error boundary between workers and the reasoning backend.
type Orchestrator struct {
	client     llm.LLMClient
	serializer *serializer.Serializer
	sanitizer  *sanitizer.Sanitizer
	policy     *retry.Policy
	fallback   *FallbackPolicy
	renderer   *templates.Renderer
	counter    *utils.TokenCounter
	recorder   metrics.Recorder
	cfg        Config
	logger     *logx.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires an orchestrator. Missing optional dependencies get defaults.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Sanitizer == nil {
		return nil, errors.New("reasoning: sanitizer is required")
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop()
	}
	if deps.Serializer == nil {
		deps.Serializer = serializer.New(deps.Recorder)
	}
	if deps.Retry == nil {
		deps.Retry = retry.NewPolicy(retry.DefaultConfig)
	}
	if deps.Fallback == nil {
		deps.Fallback = NewFallbackPolicy(nil, nil)
	}
	if deps.Renderer == nil {
		r, err := templates.NewRenderer()
		if err != nil {
			return nil, fmt.Errorf("reasoning: %w", err)
		}
		deps.Renderer = r
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = llm.DecisionMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = llm.TemperatureDefault
	}

	return &Orchestrator{
		client:     deps.Client,
		serializer: deps.Serializer,
		sanitizer:  deps.Sanitizer,
		policy:     deps.Retry,
		fallback:   deps.Fallback,
		renderer:   deps.Renderer,
		counter:    deps.Counter,
		recorder:   deps.Recorder,
		cfg:        cfg,
		logger:     logx.NewLogger("reasoning"),
		sleep:      sleepContext,
	}, nil
}

// Reason returns a valid decision for the worker. It never fails.
func (o *Orchestrator) Reason(ctx context.Context, w decision.WorkerSnapshot, c decision.Context) decision.Decision {
	return o.Decide(ctx, w, c).Decision
}

// Decide is Reason with provenance. The whole exchange with the backend, retries and
// backoff included, happens while holding the serializer.
func (o *Orchestrator) Decide(ctx context.Context, w decision.WorkerSnapshot, c decision.Context) Result {
	if o.client == nil {
		return o.useFallback(w, ReasonNoClient, 0, nil)
	}

	prompt, err := o.BuildPrompt(w, c)
	if err != nil {
		return o.useFallback(w, ReasonPrompt, 0, err)
	}

	var result Result
	err = o.serializer.Do(ctx, func(ctx context.Context) error {
		result = o.exchange(ctx, w, prompt)
		return nil
	})
	if err != nil {
		return o.useFallback(w, ReasonQueue, 0, err)
	}
	return result
}

func (o *Orchestrator) exchange(ctx context.Context, w decision.WorkerSnapshot, prompt string) Result {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage(prompt)})
	req.WorkerID = w.ID
	req.MaxTokens = o.cfg.MaxTokens
	req.Temperature = o.cfg.Temperature

	for attempt := 1; ; attempt++ {
		resp, err := o.client.Complete(ctx, req)
		if err == nil {
			var raw decision.Decision
			raw, err = decision.Parse(resp.Content)
			if err == nil {
				d := o.sanitizer.Fix(raw, w)
				o.logger.Debug("REASON: %s -> %s (attempt %d)", w.Name, d, attempt)
				return Result{Decision: d, Attempts: attempt}
			}
		}

		delay, again := o.policy.NextDelay(err, attempt)
		if !again {
			return o.useFallback(w, retry.Reason(err), attempt, err)
		}
		o.logger.Warn("REASON: attempt %d for %s failed (%s), retrying in %v", attempt, w.Name, retry.Reason(err), delay)
		if serr := o.sleep(ctx, delay); serr != nil {
			return o.useFallback(w, retry.Reason(serr), attempt, serr)
		}
	}
}

func (o *Orchestrator) useFallback(w decision.WorkerSnapshot, reason string, attempts int, cause error) Result {
	d := o.fallback.Decide()
	o.recorder.IncFallback(reason)
	if cause != nil {
		o.logger.Warn("REASON: fallback for %s after %d attempt(s): %s: %v", w.Name, attempts, reason, cause)
	} else {
		o.logger.Debug("REASON: fallback for %s: %s", w.Name, reason)
	}
	return Result{Decision: d, Fallback: true, Reason: reason, Attempts: attempts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

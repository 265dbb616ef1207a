package metrics

import (
	"context"
	"errors"
	"time"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
	"crewsim/pkg/agent/middleware/resilience/circuit"
	"crewsim/pkg/logx"
	"crewsim/pkg/utils"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// UsageExtractor is a function that extracts token usage from a request and response.
type UsageExtractor func(req llm.CompletionRequest, resp llm.CompletionResponse) (promptTokens, completionTokens int)

// NewUsageExtractor prefers backend-reported usage and estimates with the counter otherwise.
func NewUsageExtractor(counter *utils.TokenCounter) UsageExtractor {
	return func(req llm.CompletionRequest, resp llm.CompletionResponse) (int, int) {
		if resp.Usage.Total() > 0 {
			return resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		}
		return counter.CountTokens(req.PromptText()), counter.CountTokens(resp.Content)
	}
}

// Middleware returns a middleware function that records metrics for reasoning calls.
// It tracks request latency, token usage, success/failure rates, and error types.
func Middleware(recorder Recorder, usageExtractor UsageExtractor, logger *logx.Logger) llm.Middleware {
	if usageExtractor == nil {
		usageExtractor = NewUsageExtractor(nil)
	}

	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				start := time.Now()
				model := next.GetModelName()

				resp, err := next.Complete(ctx, req)
				duration := time.Since(start)

				var promptTokens, completionTokens int
				if err == nil {
					promptTokens, completionTokens = usageExtractor(req, resp)
				}

				recorder.ObserveRequest(
					model,
					req.WorkerID,
					promptTokens,
					completionTokens,
					err == nil,
					getErrorType(err),
					duration,
				)

				if logger != nil {
					status := statusSuccess
					if err != nil {
						status = statusError
					}
					logger.Debug("LLM request: model=%s worker=%s tokens=%d+%d status=%s duration=%dms",
						model, req.WorkerID, promptTokens, completionTokens, status, duration.Milliseconds())
				}

				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

// getErrorType classifies errors for metrics labeling.
func getErrorType(err error) string {
	switch {
	case err == nil:
		return ""
	case circuit.IsOpen(err):
		return "circuit_breaker"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return llmerrors.TypeOf(err).String()
	}
}

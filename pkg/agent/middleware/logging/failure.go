// Package logging provides logging middleware for reasoning transports.
package logging

import (
	"context"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
	"crewsim/pkg/logx"
)

// promptPreviewChars bounds how much of a prompt is written to the log.
const promptPreviewChars = 400

// FailureLoggingMiddleware logs classified failures together with a sanitized copy of the
// prompt, then passes the error through unchanged. Raw responses are logged at debug level.
func FailureLoggingMiddleware(logger *logx.Logger) llm.Middleware {
	if logger == nil {
		logger = logx.NewLogger("llm")
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					logFailure(logger, next.GetModelName(), req, err)
					return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				}

				logger.Debug("raw response for %s: %s", req.WorkerID, llmerrors.SanitizePrompt(resp.Content, promptPreviewChars))
				return resp, nil
			},
			next.GetModelName,
		)
	}
}

func logFailure(logger *logx.Logger, model string, req llm.CompletionRequest, err error) {
	kind := llmerrors.TypeOf(err)
	switch kind {
	case llmerrors.ErrorTypeAuth, llmerrors.ErrorTypeBadPrompt:
		logger.Error("%s request for %s failed (%s): %v", model, req.WorkerID, kind, err)
		logger.Error("prompt: %s", llmerrors.SanitizePrompt(req.PromptText(), promptPreviewChars))
	default:
		logger.Warn("%s request for %s failed (%s): %v", model, req.WorkerID, kind, err)
	}
}

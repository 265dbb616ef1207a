// Package validation provides response validation middleware for reasoning transports.
package validation

import (
	"context"
	"strings"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
)

// EmptyResponseMiddleware turns a successful call that carries no text into an
// ErrorTypeEmptyResponse error, so the caller retries it like a transient failure.
// Retrying is left to the caller because every new attempt needs its own admission.
func EmptyResponseMiddleware() llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				resp, err := next.Complete(ctx, req)
				if err != nil {
					return resp, err //nolint:wrapcheck // Middleware intentionally passes through errors unchanged
				}

				if strings.TrimSpace(resp.Content) == "" {
					return resp, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse,
						"backend returned no content (stop reason: "+stopReason(resp)+")")
				}
				return resp, nil
			},
			next.GetModelName,
		)
	}
}

func stopReason(resp llm.CompletionResponse) string {
	if resp.StopReason == "" {
		return "unknown"
	}
	return resp.StopReason
}

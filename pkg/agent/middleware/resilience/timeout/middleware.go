// Package timeout provides timeout middleware for reasoning transports.
package timeout

import (
	"context"
	"errors"
	"time"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
)

// Middleware returns a middleware function that gives each request a hard deadline.
// A deadline hit is reported as a transient error so the caller's retry path treats it
// like any other network failure.
func Middleware(duration time.Duration) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		if duration <= 0 {
			return next
		}
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				timeoutCtx, cancel := context.WithTimeout(ctx, duration)
				defer cancel()

				resp, err := next.Complete(timeoutCtx, req)
				if err != nil && errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
					return resp, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err,
						"request timed out after "+duration.String())
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

package circuit

import (
	"context"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/logx"
)

// Middleware rejects calls while the breaker is open and reports every outcome to it.
func Middleware(b *Breaker) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				if err := b.Allow(); err != nil {
					return llm.CompletionResponse{}, err
				}

				resp, err := next.Complete(ctx, req)
				if from, to := b.Observe(err); from != to {
					logx.Warnf("CIRCUIT: %s -> %s for model %s (%s)", from, to, next.GetModelName(), Judge(err))
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}

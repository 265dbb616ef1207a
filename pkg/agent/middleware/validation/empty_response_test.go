package validation

import (
	"context"
	"errors"
	"testing"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
)

func stub(content string, err error) llm.LLMClient {
	return llm.WrapClient(
		func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
			return llm.CompletionResponse{Content: content, StopReason: "stop"}, err
		},
		func() string { return "stub" },
	)
}

func TestEmptyContentBecomesEmptyResponseError(t *testing.T) {
	client := llm.Chain(stub("  \n", nil), EmptyResponseMiddleware())

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if !llmerrors.Is(err, llmerrors.ErrorTypeEmptyResponse) {
		t.Fatalf("expected empty response error, got %v", err)
	}
}

func TestNonEmptyContentPasses(t *testing.T) {
	client := llm.Chain(stub(`{"action":"rest"}`, nil), EmptyResponseMiddleware())

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != `{"action":"rest"}` {
		t.Errorf("unexpected content %q", resp.Content)
	}
}

func TestUpstreamErrorsPassThrough(t *testing.T) {
	upstream := errors.New("dial tcp: refused")
	client := llm.Chain(stub("", upstream), EmptyResponseMiddleware())

	_, err := client.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, upstream) {
		t.Errorf("expected upstream error, got %v", err)
	}
}

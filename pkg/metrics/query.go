// Package metrics reads aggregated backend usage back out of a Prometheus server
// that scrapes crewsim hosts.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Usage is aggregated backend usage for one model, or for all of them.
type Usage struct {
	Model            string `json:"model,omitempty"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
	Throttles        int64  `json:"throttles"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client), now: time.Now}, nil
}

// GetUsage sums token, request and throttle counters across every model.
func (q *QueryService) GetUsage(ctx context.Context) (*Usage, error) {
	return q.usage(ctx, "")
}

// GetUsageByModel breaks usage down per model, sorted by model name.
func (q *QueryService) GetUsageByModel(ctx context.Context) ([]*Usage, error) {
	modelsResult, _, err := q.queryAPI.Query(ctx, `group by (model) (crewsim_llm_requests_total)`, q.now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if name, ok := sample.Metric["model"]; ok {
				models = append(models, string(name))
			}
		}
	}
	sort.Strings(models)

	out := make([]*Usage, 0, len(models))
	for _, name := range models {
		u, err := q.usage(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (q *QueryService) usage(ctx context.Context, modelName string) (*Usage, error) {
	u := &Usage{Model: modelName}
	selector := func(extra string) string {
		matchers := extra
		if modelName != "" {
			if matchers != "" {
				matchers += ", "
			}
			matchers += fmt.Sprintf("model=%q", modelName)
		}
		return "{" + matchers + "}"
	}

	var err error
	if u.PromptTokens, err = q.scalar(ctx, "sum(crewsim_llm_tokens_total"+selector(`type="prompt"`)+")"); err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if u.CompletionTokens, err = q.scalar(ctx, "sum(crewsim_llm_tokens_total"+selector(`type="completion"`)+")"); err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens

	if u.Requests, err = q.scalar(ctx, "sum(crewsim_llm_requests_total"+selector("")+")"); err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	if u.Throttles, err = q.scalar(ctx, "sum(crewsim_llm_throttle_total"+selector("")+")"); err != nil {
		return nil, fmt.Errorf("failed to query throttles: %w", err)
	}
	return u, nil
}

// scalar runs an instant query and returns the first sample, or 0 for an empty result.
func (q *QueryService) scalar(ctx context.Context, query string) (int64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return 0, err //nolint:wrapcheck // Wrapped by caller
	}
	if vector, ok := result.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value), nil
	}
	return 0, nil
}

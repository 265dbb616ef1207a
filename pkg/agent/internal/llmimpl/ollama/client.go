// Package ollama provides the Ollama transport for a local model runtime.
package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
)

// DefaultHost is where a local Ollama server listens.
const DefaultHost = "http://localhost:11434"

const provider = "ollama"

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client  *api.Client
	model   string
	hostURL string
}

// NewOllamaClientWithModel creates a new Ollama client with a specific model.
// An unparseable hostURL falls back to DefaultHost.
func NewOllamaClientWithModel(hostURL, model string) llm.LLMClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		parsedURL, _ = url.Parse(DefaultHost)
		hostURL = DefaultHost
	}

	return &Client{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		hostURL: hostURL,
	}
}

// Complete implements llm.LLMClient.
//
//nolint:gocritic // CompletionRequest size acceptable for interface consistency
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: convertMessages(in.Messages),
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}

	return llm.CompletionResponse{
		Content:    response.Message.Content,
		StopReason: getStopReason(&response),
		Usage: llm.Usage{
			PromptTokens:     response.PromptEvalCount,
			CompletionTokens: response.EvalCount,
		},
	}, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// Host returns the server URL requests go to.
func (o *Client) Host() string {
	return o.hostURL
}

func convertMessages(messages []llm.CompletionMessage) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for i := range messages {
		role := string(messages[i].Role)
		if role == "" {
			role = string(llm.RoleUser)
		}
		out = append(out, api.Message{Role: role, Content: messages[i].Content})
	}
	return out
}

// getStopReason converts Ollama's done_reason to our stop reason format.
func getStopReason(resp *api.ChatResponse) string {
	if !resp.Done {
		return "incomplete"
	}
	switch resp.DoneReason {
	case "stop", "":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return resp.DoneReason
	}
}

func classifyError(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := strings.ToLower(statusErr.ErrorMessage)
		if strings.Contains(msg, "model") && strings.Contains(msg, "not found") {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "ollama: model not found")
		}
		return llmerrors.Classify(provider, statusErr.StatusCode, err)
	}
	return llmerrors.Classify(provider, 0, err)
}

package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewsim/pkg/agent/llm"
	"crewsim/pkg/agent/llmerrors"
)

func TestNewOllamaClientWithModel(t *testing.T) {
	tests := []struct {
		name     string
		hostURL  string
		wantHost string
	}{
		{"valid host", "http://localhost:11434", "http://localhost:11434"},
		{"custom host", "http://192.168.1.100:11434", "http://192.168.1.100:11434"},
		{"invalid URL falls back to default", "not-a-valid-url", DefaultHost},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewOllamaClientWithModel(tt.hostURL, "llama3.2:3b")
			require.NotNil(t, client)
			assert.Equal(t, "llama3.2:3b", client.GetModelName())
			assert.Equal(t, tt.wantHost, client.(*Client).Host())
		})
	}
}

func TestComplete(t *testing.T) {
	var seen api.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &seen)
		w.Header().Set("Content-Type", "application/json")
		// The client reads replies line by line, like a real server sends them.
		_, _ = io.WriteString(w, `{"model":"llama3.2:3b","created_at":"2024-01-01T00:00:00Z",`+
			`"message":{"role":"assistant","content":"{\"action\":\"work\"}"},`+
			`"done":true,"done_reason":"stop","prompt_eval_count":30,"eval_count":9}`+"\n")
	}))
	defer srv.Close()

	client := NewOllamaClientWithModel(srv.URL, "llama3.2:3b")
	resp, err := client.Complete(context.Background(), llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage("You are on the Moon."),
		llm.NewUserMessage("What now?"),
	}))
	require.NoError(t, err)

	assert.Equal(t, `{"action":"work"}`, resp.Content)
	assert.Equal(t, "end_turn", resp.StopReason)
	assert.Equal(t, llm.Usage{PromptTokens: 30, CompletionTokens: 9}, resp.Usage)

	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "llama3.2:3b", seen.Model)
	require.NotNil(t, seen.Stream)
	assert.False(t, *seen.Stream)
	assert.EqualValues(t, llm.DecisionMaxTokens, seen.Options["num_predict"])
}

func TestCompleteServerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   llmerrors.ErrorType
	}{
		{"model missing", http.StatusNotFound, `{"error":"model 'nope' not found"}`, llmerrors.ErrorTypeBadPrompt},
		{"overloaded", http.StatusServiceUnavailable, `{"error":"server busy"}`, llmerrors.ErrorTypeTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewOllamaClientWithModel(srv.URL, "nope").Complete(context.Background(),
				llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
			require.Error(t, err)
			assert.Equal(t, tt.want, llmerrors.TypeOf(err))
		})
	}
}

func TestCompleteUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewOllamaClientWithModel(addr, "m").Complete(context.Background(),
		llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")}))
	require.Error(t, err)
	assert.Equal(t, llmerrors.ErrorTypeTransient, llmerrors.TypeOf(err))
}

func TestGetStopReason(t *testing.T) {
	tests := []struct {
		resp api.ChatResponse
		want string
	}{
		{api.ChatResponse{Done: false}, "incomplete"},
		{api.ChatResponse{Done: true, DoneReason: "stop"}, "end_turn"},
		{api.ChatResponse{Done: true, DoneReason: "length"}, "max_tokens"},
		{api.ChatResponse{Done: true}, "end_turn"},
		{api.ChatResponse{Done: true, DoneReason: "custom_reason"}, "custom_reason"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getStopReason(&tt.resp))
	}
}

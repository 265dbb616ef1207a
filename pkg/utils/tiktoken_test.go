package utils

import (
	"strings"
	"testing"
)

func TestNewTokenCounter(t *testing.T) {
	for _, model := range []string{"llama-3.1-8b-instant", "gpt-4o-mini", "claude-3-5-haiku-latest", "unknown-model"} {
		t.Run(model, func(t *testing.T) {
			counter, err := NewTokenCounter(model)
			if err != nil {
				t.Fatalf("NewTokenCounter(%s) failed: %v", model, err)
			}
			if counter == nil {
				t.Fatalf("NewTokenCounter(%s) returned nil counter", model)
			}
		})
	}
}

func TestCountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	tests := []struct {
		text      string
		minTokens int
		maxTokens int
	}{
		{"", 0, 0},
		{"Hello", 1, 2},
		{"This is a longer sentence with more words.", 8, 12},
		{strings.Repeat("word ", 100), 90, 110},
	}

	for _, tt := range tests {
		count := counter.CountTokens(tt.text)
		if count < tt.minTokens || count > tt.maxTokens {
			t.Errorf("CountTokens(%q) = %d, want between %d and %d", tt.text, count, tt.minTokens, tt.maxTokens)
		}
	}
}

func TestCountTokensNilCounterFallsBack(t *testing.T) {
	var counter *TokenCounter
	if got := counter.CountTokens("twelve chars"); got != 3 {
		t.Errorf("expected len/4 fallback of 3, got %d", got)
	}
}

func TestTruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	if err != nil {
		t.Fatalf("Failed to create token counter: %v", err)
	}

	short := "Go to the Mess Hall."
	if counter.TruncateToTokenLimit(short, 100) != short {
		t.Error("short text should be unchanged")
	}

	long := strings.Repeat("memory of a conversation ", 200)
	truncated := counter.TruncateToTokenLimit(long, 50)
	if !strings.HasSuffix(truncated, "...") {
		t.Error("expected truncated text to end with ellipsis")
	}
	if !counter.ValidateTokenLimit(strings.TrimSuffix(truncated, "..."), 50) {
		t.Errorf("truncated text still exceeds limit: %d tokens", counter.CountTokens(truncated))
	}
}

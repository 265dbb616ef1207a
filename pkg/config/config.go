// Package config provides configuration loading, validation, and defaults for the crew simulation.
// It handles JSON config files, environment variable substitution, and provider-specific limits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Provider constants.
const (
	ProviderGroq      = "groq"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Environment variables consulted for credentials and hosts.
const (
	EnvGroqAPIKey      = "GROQ_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvGoogleAPIKey    = "GEMINI_API_KEY"
	EnvOllamaHost      = "OLLAMA_HOST"
)

// Default models per provider.
const (
	DefaultGroqModel      = "llama-3.1-8b-instant"
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultOllamaModel    = "llama3.1:8b"
	DefaultAnthropicModel = "claude-3-5-haiku-latest"
	DefaultGoogleModel    = "gemini-2.0-flash"

	GroqBaseURL       = "https://api.groq.com/openai/v1"
	DefaultOllamaHost = "http://localhost:11434"
)

// Rate limit tiers. Small (8b) models get the generous free-tier quota.
const (
	SmallModelRPM   = 20
	SmallModelTPM   = 25000
	DefaultModelRPM = 5
	DefaultModelTPM = 4000
)

// Timeouts for a single transport call.
const (
	CloudTimeout = 30 * time.Second
	LocalTimeout = 120 * time.Second
)

// Scheduler and sanitizer defaults.
const (
	DefaultWorkersPerTick    = 2
	DefaultCacheDuration     = 3
	DefaultTickInterval      = 5 * time.Second
	DefaultSimMinutesPerTick = 10
	DefaultHistorySize       = 10
	DefaultMaxAttempts       = 3
	DefaultMaxTokens         = 150
	DefaultTemperature       = 0.7
	DefaultMaxMemories       = 3
	DefaultMaxObservations   = 5
	DefaultMaxPromptTokens   = 1200
	DefaultWebUIListen       = "127.0.0.1:8080"
	DefaultEventLogDir       = "logs/events"
)

// Duration is a time.Duration that reads "5s" strings or integer nanoseconds from JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

// Config is the root configuration for a simulation host.
type Config struct {
	LogLevel  string          `json:"log_level"`
	Provider  ProviderConfig  `json:"provider"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Retry     RetryConfig     `json:"retry"`
	Circuit   CircuitConfig   `json:"circuit"`
	Prompt    PromptConfig    `json:"prompt"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Sanitizer SanitizerConfig `json:"sanitizer"`
	Crew      CrewConfig      `json:"crew"`
	Storage   StorageConfig   `json:"storage"`
	WebUI     WebUIConfig     `json:"webui"`
}

// ProviderConfig selects the reasoning backend.
type ProviderConfig struct {
	Name    string   `json:"name"`
	Model   string   `json:"model"`
	BaseURL string   `json:"base_url"`
	APIKey  string   `json:"api_key"`
	Timeout Duration `json:"timeout"`
}

// RateLimitConfig bounds admissions in two trailing 60-second windows.
type RateLimitConfig struct {
	Disabled          bool     `json:"disabled"`
	RequestsPerMinute int      `json:"requests_per_minute"`
	TokensPerMinute   int      `json:"tokens_per_minute"`
	Epsilon           Duration `json:"epsilon"`
	JitterMin         Duration `json:"jitter_min"`
	JitterMax         Duration `json:"jitter_max"`
}

// RetryConfig controls attempts and backoff inside a single reasoning call.
type RetryConfig struct {
	MaxAttempts        int      `json:"max_attempts"`
	RateLimitBaseDelay Duration `json:"rate_limit_base_delay"`
	BackoffMultiplier  float64  `json:"backoff_multiplier"`
	MaxDelay           Duration `json:"max_delay"`
	TransientDelay     Duration `json:"transient_delay"`
}

// CircuitConfig configures the circuit breaker in front of the transport.
type CircuitConfig struct {
	Disabled          bool     `json:"disabled"`
	FailureThreshold  int      `json:"failure_threshold"`
	ThrottleThreshold int      `json:"throttle_threshold"`
	SuccessThreshold  int      `json:"success_threshold"`
	Timeout           Duration `json:"timeout"`
	AuthTimeout       Duration `json:"auth_timeout"`
}

// PromptConfig bounds the size of a decision request.
type PromptConfig struct {
	MaxTokens       int     `json:"max_tokens"`
	Temperature     float64 `json:"temperature"`
	MaxMemories     int     `json:"max_memories"`
	MaxObservations int     `json:"max_observations"`
	MaxPromptTokens int     `json:"max_prompt_tokens"`
}

// SchedulerConfig controls tick cadence, batching, and caching.
type SchedulerConfig struct {
	WorkersPerTick    int      `json:"workers_per_tick"`
	CacheDuration     int      `json:"cache_duration"`
	TickInterval      Duration `json:"tick_interval"`
	SimMinutesPerTick int      `json:"sim_minutes_per_tick"`
	Autostart         bool     `json:"autostart"`
}

// SanitizerConfig controls history depth and the seed shared by all randomized policies.
type SanitizerConfig struct {
	HistorySize int   `json:"history_size"`
	Seed        int64 `json:"seed"`
}

// CrewConfig points at an optional roster file; the built-in crew is used otherwise.
type CrewConfig struct {
	RosterFile string `json:"roster_file"`
}

// StorageConfig enables the sqlite journal and the JSONL event log.
type StorageConfig struct {
	DatabasePath string `json:"database_path"`
	EventLogDir  string `json:"event_log_dir"`
}

// WebUIConfig controls the HTTP control surface.
type WebUIConfig struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// IsLocal reports whether the provider runs on the local machine.
func IsLocal(provider string) bool {
	return provider == ProviderOllama
}

// RateLimitEnabled reports whether admissions should be throttled.
// Local backends are never throttled.
func (c *Config) RateLimitEnabled() bool {
	return !c.RateLimit.Disabled && !IsLocal(c.Provider.Name)
}

// DefaultModel returns the default model for a provider.
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderOllama:
		return DefaultOllamaModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderGoogle:
		return DefaultGoogleModel
	default:
		return DefaultGroqModel
	}
}

// DefaultLimits returns the RPM and TPM tier for a model name.
func DefaultLimits(model string) (rpm, tpm int) {
	if strings.Contains(strings.ToLower(model), "8b") {
		return SmallModelRPM, SmallModelTPM
	}
	return DefaultModelRPM, DefaultModelTPM
}

// DefaultTimeout returns the per-call timeout for a provider.
func DefaultTimeout(provider string) time.Duration {
	if IsLocal(provider) {
		return LocalTimeout
	}
	return CloudTimeout
}

// GetAPIKey returns the API key for a given provider from the environment.
// For Ollama, returns the host URL instead of an API key.
func GetAPIKey(provider string) (string, error) {
	var envVar string
	switch provider {
	case ProviderGroq:
		envVar = EnvGroqAPIKey
	case ProviderOpenAI:
		envVar = EnvOpenAIAPIKey
	case ProviderAnthropic:
		envVar = EnvAnthropicAPIKey
	case ProviderGoogle:
		envVar = EnvGoogleAPIKey
	case ProviderOllama:
		host := os.Getenv(EnvOllamaHost)
		if host == "" {
			host = DefaultOllamaHost
		}
		return host, nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}

	if key := os.Getenv(envVar); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("API key not found: %s not set", envVar)
}

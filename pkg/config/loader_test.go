package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crewsim.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	t.Setenv(EnvGroqAPIKey, "gsk-test")

	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ProviderGroq, cfg.Provider.Name)
	assert.Equal(t, DefaultGroqModel, cfg.Provider.Model)
	assert.Equal(t, GroqBaseURL, cfg.Provider.BaseURL)
	assert.Equal(t, "gsk-test", cfg.Provider.APIKey)
	assert.Equal(t, CloudTimeout, cfg.Provider.Timeout.Std())
	assert.Equal(t, SmallModelRPM, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, SmallModelTPM, cfg.RateLimit.TokensPerMinute)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.Scheduler.WorkersPerTick)
	assert.Equal(t, 3, cfg.Scheduler.CacheDuration)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, 10, cfg.Sanitizer.HistorySize)
	assert.True(t, cfg.RateLimitEnabled())
}

func TestLoadConfigOllamaBypassesRateLimit(t *testing.T) {
	t.Setenv(EnvOllamaHost, "http://gpu-box:11434")
	path := writeConfig(t, `{"provider": {"name": "ollama"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultOllamaModel, cfg.Provider.Model)
	assert.Equal(t, "http://gpu-box:11434", cfg.Provider.BaseURL)
	assert.Equal(t, LocalTimeout, cfg.Provider.Timeout.Std())
	assert.False(t, cfg.RateLimitEnabled())
}

func TestLoadConfigLargeModelLimits(t *testing.T) {
	path := writeConfig(t, `{"provider": {"name": "groq", "model": "llama-3.3-70b-versatile", "api_key": "k"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultModelRPM, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, DefaultModelTPM, cfg.RateLimit.TokensPerMinute)
}

func TestLoadConfigEnvSubstitutionAndDurations(t *testing.T) {
	t.Setenv("MY_GROQ_KEY", "from-env")
	path := writeConfig(t, `{
		"provider": {"name": "groq", "api_key": "${MY_GROQ_KEY}", "timeout": "10s"},
		"scheduler": {"tick_interval": 2000000000, "workers_per_tick": 3}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Provider.APIKey)
	assert.Equal(t, 10*time.Second, cfg.Provider.Timeout.Std())
	assert.Equal(t, 2*time.Second, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, 3, cfg.Scheduler.WorkersPerTick)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CREWSIM_PROVIDER_MODEL", "llama-3.1-70b")
	t.Setenv("CREWSIM_SCHEDULER_CACHE_DURATION", "5")
	t.Setenv("CREWSIM_SCHEDULER_TICK_INTERVAL", "750ms")
	t.Setenv("CREWSIM_SANITIZER_SEED", "42")
	t.Setenv("CREWSIM_WEBUI_ENABLED", "true")
	t.Setenv("CREWSIM_PROMPT_TEMPERATURE", "0.2")

	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-70b", cfg.Provider.Model)
	assert.Equal(t, 5, cfg.Scheduler.CacheDuration)
	assert.Equal(t, 750*time.Millisecond, cfg.Scheduler.TickInterval.Std())
	assert.Equal(t, int64(42), cfg.Sanitizer.Seed)
	assert.True(t, cfg.WebUI.Enabled)
	assert.InDelta(t, 0.2, cfg.Prompt.Temperature, 1e-9)
}

func TestLoadOverridesResetProviderSettings(t *testing.T) {
	path := writeConfig(t, `{
		"provider": {"name": "groq", "model": "llama-3.1-70b", "api_key": "k", "timeout": "10s"},
		"sanitizer": {"seed": 7}
	}`)

	cfg, err := Load(path, Overrides{Provider: "ollama", Listen: "127.0.0.1:9999", Seed: 99})
	require.NoError(t, err)
	assert.Equal(t, ProviderOllama, cfg.Provider.Name)
	assert.Equal(t, DefaultOllamaModel, cfg.Provider.Model)
	assert.Empty(t, cfg.Provider.APIKey)
	assert.Equal(t, LocalTimeout, cfg.Provider.Timeout.Std())
	assert.False(t, cfg.RateLimitEnabled())
	assert.True(t, cfg.WebUI.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.WebUI.Listen)
	assert.Equal(t, int64(99), cfg.Sanitizer.Seed)

	cfg, err = Load("", Overrides{Model: "llama-3.1-8b-instant"})
	require.NoError(t, err)
	assert.Equal(t, ProviderGroq, cfg.Provider.Name)
	assert.Equal(t, SmallModelRPM, cfg.RateLimit.RequestsPerMinute)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown provider", `{"provider": {"name": "mystery"}}`},
		{"jitter inverted", `{"rate_limit": {"jitter_min": "2s", "jitter_max": "1s"}}`},
		{"bad temperature", `{"prompt": {"temperature": 3.5}}`},
		{"negative cache", `{"scheduler": {"cache_duration": -1}}`},
		{"tiny history", `{"sanitizer": {"history_size": 2}}`},
		{"bad duration", `{"provider": {"timeout": "soon"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestGetAPIKey(t *testing.T) {
	t.Setenv(EnvAnthropicAPIKey, "sk-ant")
	key, err := GetAPIKey(ProviderAnthropic)
	require.NoError(t, err)
	assert.Equal(t, "sk-ant", key)

	t.Setenv(EnvGoogleAPIKey, "")
	_, err = GetAPIKey(ProviderGoogle)
	assert.Error(t, err)

	_, err = GetAPIKey("nope")
	assert.Error(t, err)
}

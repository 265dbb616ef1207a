package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"crewsim/pkg/logx"
)

// EnvPrefix prefixes every environment override, e.g. CREWSIM_PROVIDER_MODEL.
const EnvPrefix = "CREWSIM_"

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

//nolint:gochecknoglobals // Resolved once per process
var durationType = reflect.TypeOf(Duration(0))

// Overrides are command-line values applied after environment overrides and before
// defaults, so provider-derived defaults follow an overridden provider.
type Overrides struct {
	Provider string
	Model    string
	Listen   string
	Seed     int64
}

// LoadConfig loads and validates configuration from a JSON file with environment variable substitution.
func LoadConfig(configPath string) (*Config, error) {
	return Load(configPath, Overrides{})
}

// Load reads configPath, or starts from an empty config when the path is empty, then
// applies overrides and defaults and validates the result.
func Load(configPath string, o Overrides) (*Config, error) {
	config := &Config{}
	if configPath != "" {
		var err error
		if config, err = readConfig(configPath); err != nil {
			return nil, err
		}
	}
	return finish(config, o)
}

func readConfig(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dataStr := envVarRegex.ReplaceAllStringFunc(string(data), func(match string) string {
		envVar := match[2 : len(match)-1]
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})

	var config Config
	if err := json.Unmarshal([]byte(dataStr), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &config, nil
}

// Default returns a validated configuration with every default applied and env overrides honored.
func Default() (*Config, error) {
	return finish(&Config{}, Overrides{})
}

func finish(config *Config, o Overrides) (*Config, error) {
	applyEnvOverrides(config)
	o.apply(config)
	applyDefaults(config)
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (o Overrides) apply(config *Config) {
	if o.Provider != "" && !strings.EqualFold(o.Provider, config.Provider.Name) {
		// Settings tied to the previous provider no longer apply.
		config.Provider = ProviderConfig{Name: o.Provider}
	}
	if o.Model != "" {
		config.Provider.Model = o.Model
	}
	if o.Listen != "" {
		config.WebUI.Listen = o.Listen
		config.WebUI.Enabled = true
	}
	if o.Seed != 0 {
		config.Sanitizer.Seed = o.Seed
	}
}

func applyEnvOverrides(config *Config) {
	v := reflect.ValueOf(config).Elem()
	applyEnvOverridesRecursive(v, v.Type(), EnvPrefix)
}

func applyEnvOverridesRecursive(v reflect.Value, t reflect.Type, prefix string) {
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		jsonTag := fieldType.Tag.Get("json")
		if jsonTag == "" || jsonTag == "-" {
			continue
		}

		envKey := strings.ToUpper(prefix + strings.Split(jsonTag, ",")[0])

		if field.Kind() == reflect.Struct {
			applyEnvOverridesRecursive(field, field.Type(), envKey+"_")
			continue
		}

		if envValue := os.Getenv(envKey); envValue != "" {
			setFieldFromEnv(field, envValue)
		}
	}
}

func setFieldFromEnv(field reflect.Value, envValue string) {
	if !field.CanSet() {
		return
	}

	if field.Type() == durationType {
		if d, err := time.ParseDuration(envValue); err == nil {
			field.SetInt(int64(d))
		}
		return
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)
	case reflect.Int, reflect.Int64:
		if val, err := strconv.ParseInt(envValue, 10, 64); err == nil {
			field.SetInt(val)
		}
	case reflect.Float64:
		if val, err := strconv.ParseFloat(envValue, 64); err == nil {
			field.SetFloat(val)
		}
	case reflect.Bool:
		if val, err := strconv.ParseBool(envValue); err == nil {
			field.SetBool(val)
		}
	}
}

// applyDefaults sets default values for missing configuration.
func applyDefaults(config *Config) {
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	p := &config.Provider
	if p.Name == "" {
		p.Name = ProviderGroq
	}
	p.Name = strings.ToLower(p.Name)
	if p.Model == "" {
		p.Model = DefaultModel(p.Name)
	}
	if p.BaseURL == "" {
		switch p.Name {
		case ProviderGroq:
			p.BaseURL = GroqBaseURL
		case ProviderOllama:
			p.BaseURL, _ = GetAPIKey(ProviderOllama)
		}
	}
	if p.APIKey == "" && !IsLocal(p.Name) {
		if key, err := GetAPIKey(p.Name); err == nil {
			p.APIKey = key
		}
	}
	if p.Timeout == 0 {
		p.Timeout = Duration(DefaultTimeout(p.Name))
	}

	rl := &config.RateLimit
	rpm, tpm := DefaultLimits(p.Model)
	if rl.RequestsPerMinute == 0 {
		rl.RequestsPerMinute = rpm
	}
	if rl.TokensPerMinute == 0 {
		rl.TokensPerMinute = tpm
	}
	if rl.Epsilon == 0 {
		rl.Epsilon = Duration(100 * time.Millisecond)
	}
	if rl.JitterMin == 0 && rl.JitterMax == 0 {
		rl.JitterMin = Duration(500 * time.Millisecond)
		rl.JitterMax = Duration(1500 * time.Millisecond)
	}

	r := &config.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = DefaultMaxAttempts
	}
	if r.RateLimitBaseDelay == 0 {
		r.RateLimitBaseDelay = Duration(5 * time.Second)
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	if r.MaxDelay == 0 {
		r.MaxDelay = Duration(30 * time.Second)
	}
	if r.TransientDelay == 0 {
		r.TransientDelay = Duration(time.Second)
	}

	c := &config.Circuit
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(30 * time.Second)
	}
	if c.ThrottleThreshold == 0 {
		c.ThrottleThreshold = 10
	}
	if c.AuthTimeout == 0 {
		c.AuthTimeout = Duration(5 * time.Minute)
	}

	pr := &config.Prompt
	if pr.MaxTokens == 0 {
		pr.MaxTokens = DefaultMaxTokens
	}
	if pr.Temperature == 0 {
		pr.Temperature = DefaultTemperature
	}
	if pr.MaxMemories == 0 {
		pr.MaxMemories = DefaultMaxMemories
	}
	if pr.MaxObservations == 0 {
		pr.MaxObservations = DefaultMaxObservations
	}
	if pr.MaxPromptTokens == 0 {
		pr.MaxPromptTokens = DefaultMaxPromptTokens
	}

	s := &config.Scheduler
	if s.WorkersPerTick == 0 {
		s.WorkersPerTick = DefaultWorkersPerTick
	}
	if s.CacheDuration == 0 {
		s.CacheDuration = DefaultCacheDuration
	}
	if s.TickInterval == 0 {
		s.TickInterval = Duration(DefaultTickInterval)
	}
	if s.SimMinutesPerTick == 0 {
		s.SimMinutesPerTick = DefaultSimMinutesPerTick
	}

	if config.Sanitizer.HistorySize == 0 {
		config.Sanitizer.HistorySize = DefaultHistorySize
	}
	if config.Sanitizer.Seed == 0 {
		config.Sanitizer.Seed = time.Now().UnixNano()
	}

	if config.Storage.EventLogDir == "" {
		config.Storage.EventLogDir = DefaultEventLogDir
	}
	if config.WebUI.Listen == "" {
		config.WebUI.Listen = DefaultWebUIListen
	}
}

func validateConfig(config *Config) error {
	switch config.Provider.Name {
	case ProviderGroq, ProviderOpenAI, ProviderOllama, ProviderAnthropic, ProviderGoogle:
	default:
		return fmt.Errorf("unknown provider %q", config.Provider.Name)
	}

	if config.Provider.APIKey == "" && !IsLocal(config.Provider.Name) {
		// Workers still run on fallback decisions without a key.
		logx.Warnf("CONFIG: no API key for provider %s, every decision will use the fallback policy", config.Provider.Name)
	}

	if config.Provider.Timeout.Std() < 0 {
		return fmt.Errorf("provider timeout must not be negative")
	}

	if config.RateLimitEnabled() {
		if config.RateLimit.RequestsPerMinute < 1 {
			return fmt.Errorf("rate_limit.requests_per_minute must be at least 1")
		}
		if config.RateLimit.TokensPerMinute < 1 {
			return fmt.Errorf("rate_limit.tokens_per_minute must be at least 1")
		}
	}
	if config.RateLimit.JitterMin > config.RateLimit.JitterMax {
		return fmt.Errorf("rate_limit.jitter_min (%s) exceeds jitter_max (%s)",
			config.RateLimit.JitterMin.Std(), config.RateLimit.JitterMax.Std())
	}

	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if config.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}

	if config.Prompt.Temperature < 0 || config.Prompt.Temperature > 2 {
		return fmt.Errorf("prompt.temperature must be between 0 and 2")
	}
	if config.Prompt.MaxTokens < 1 {
		return fmt.Errorf("prompt.max_tokens must be positive")
	}

	if config.Scheduler.WorkersPerTick < 1 {
		return fmt.Errorf("scheduler.workers_per_tick must be at least 1")
	}
	if config.Scheduler.CacheDuration < 0 {
		return fmt.Errorf("scheduler.cache_duration must not be negative")
	}
	if config.Sanitizer.HistorySize < 4 {
		return fmt.Errorf("sanitizer.history_size must be at least 4 to detect monotony")
	}

	return nil
}

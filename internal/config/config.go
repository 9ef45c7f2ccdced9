package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Provider names accepted in VIGIL_PROVIDER.
const (
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
)

type Config struct {
	Port        int
	NatsURL     string
	NatsToken   string
	DatabaseURL string
	RedisURL    string
	LogLevel    string
	APIToken    string

	Provider        string
	AnthropicAPIKey string
	AnthropicModel  string
	GeminiAPIKey    string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	MaxTokens       int

	LexiconPath      string
	RubricVersion    string
	Budget           int
	BudgetUnit       string
	FacilitatorRole  string
	BaseScore        float64
	FacilitatorBonus float64
	EdgeBonus        float64
	EdgeWindow       int
	ParallelScoring  bool

	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	EvalTimeout time.Duration

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	return Config{
		Port:        envInt("VIGIL_PORT", 8760),
		NatsURL:     envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:   envStr("NATS_TOKEN", ""),
		DatabaseURL: envStr("DATABASE_URL", ""),
		RedisURL:    envStr("REDIS_URL", ""),
		LogLevel:    envStr("LOG_LEVEL", "info"),
		APIToken:    envStr("VIGIL_API_TOKEN", ""),

		Provider:        envStr("VIGIL_PROVIDER", ProviderAnthropic),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("VIGIL_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
		GeminiAPIKey:    envStr("GEMINI_API_KEY", ""),
		GeminiModel:     envStr("VIGIL_GEMINI_MODEL", "gemini-2.5-flash"),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envStr("OPENAI_BASE_URL", "https://api.moonshot.ai/v1"),
		OpenAIModel:     envStr("VIGIL_OPENAI_MODEL", "kimi-k2-0711-preview"),
		MaxTokens:       envInt("VIGIL_MAX_TOKENS", 2048),

		LexiconPath:      envStr("VIGIL_LEXICON_PATH", ""),
		RubricVersion:    envStr("VIGIL_RUBRIC_VERSION", "v1"),
		Budget:           envInt("VIGIL_BUDGET", 48000),
		BudgetUnit:       envStr("VIGIL_BUDGET_UNIT", "chars"),
		FacilitatorRole:  envStr("VIGIL_FACILITATOR_ROLE", "Facilitator"),
		BaseScore:        envFloat("VIGIL_BASE_SCORE", 0.1),
		FacilitatorBonus: envFloat("VIGIL_FACILITATOR_BONUS", 0.5),
		EdgeBonus:        envFloat("VIGIL_EDGE_BONUS", 0.25),
		EdgeWindow:       envInt("VIGIL_EDGE_WINDOW", 2),
		ParallelScoring:  envBool("VIGIL_PARALLEL_SCORING", false),

		MaxAttempts: envInt("VIGIL_MAX_ATTEMPTS", 3),
		BackoffBase: envDuration("VIGIL_BACKOFF_BASE", time.Second),
		BackoffMax:  envDuration("VIGIL_BACKOFF_MAX", 20*time.Second),
		EvalTimeout: envDuration("VIGIL_EVAL_TIMEOUT", 90*time.Second),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_RISK_CHANNEL", ""),
	}
}

// ProviderKey returns the API key for the selected provider.
func (c Config) ProviderKey() string {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

// ProviderModel returns the model ID for the selected provider.
func (c Config) ProviderModel() string {
	switch c.Provider {
	case ProviderGemini:
		return c.GeminiModel
	case ProviderOpenAI:
		return c.OpenAIModel
	default:
		return c.AnthropicModel
	}
}

// Validate reports settings the evaluator cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Provider {
	case ProviderAnthropic, ProviderGemini, ProviderOpenAI:
		if c.ProviderKey() == "" {
			errs = append(errs, fmt.Errorf("no API key configured for provider %q", c.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	if c.Budget <= 0 {
		errs = append(errs, fmt.Errorf("VIGIL_BUDGET must be positive, got %d", c.Budget))
	}
	for _, w := range []struct {
		key   string
		value float64
	}{
		{"VIGIL_BASE_SCORE", c.BaseScore},
		{"VIGIL_FACILITATOR_BONUS", c.FacilitatorBonus},
		{"VIGIL_EDGE_BONUS", c.EdgeBonus},
	} {
		if w.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", w.key, w.value))
		}
	}
	if c.EdgeWindow < 0 {
		errs = append(errs, fmt.Errorf("VIGIL_EDGE_WINDOW must not be negative, got %d", c.EdgeWindow))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("VIGIL_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts))
	}
	return errors.Join(errs...)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

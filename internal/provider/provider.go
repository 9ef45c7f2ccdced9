package provider

import (
	"context"
	"fmt"

	"github.com/MikeSquared-Agency/vigil/internal/anthropic"
	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/evaluator"
	"github.com/MikeSquared-Agency/vigil/internal/gemini"
	"github.com/MikeSquared-Agency/vigil/internal/openaicompat"
)

// New builds the evaluator provider selected by VIGIL_PROVIDER. Providers
// holding connections also implement Close() error.
func New(ctx context.Context, cfg config.Config) (evaluator.Provider, error) {
	key := cfg.ProviderKey()
	if key == "" {
		return nil, fmt.Errorf("no API key configured for provider %q", cfg.Provider)
	}

	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(key, cfg.AnthropicModel), nil
	case config.ProviderGemini:
		return gemini.NewClient(ctx, key, cfg.GeminiModel)
	case config.ProviderOpenAI:
		return openaicompat.NewClient(key, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

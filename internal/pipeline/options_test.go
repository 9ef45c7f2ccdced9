package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/pruner"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Config{
		Provider:         config.ProviderGemini,
		GeminiModel:      "gemini-2.5-flash",
		RubricVersion:    "v1",
		Budget:           12000,
		BudgetUnit:       "tokens",
		FacilitatorRole:  "Facilitator",
		BaseScore:        0.2,
		FacilitatorBonus: 0.5,
		EdgeBonus:        0.25,
		EdgeWindow:       3,
		MaxAttempts:      4,
		BackoffBase:      time.Second,
		BackoffMax:       10 * time.Second,
		MaxTokens:        2048,
	}

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, opts.Lexicon)
	assert.Equal(t, pruner.Budget{Limit: 12000, Unit: pruner.UnitTokens}, opts.Budget)
	assert.Equal(t, 0.2, opts.Weights.Base)
	assert.Equal(t, 3, opts.Weights.EdgeWindow)
	assert.Equal(t, 4, opts.Retry.MaxAttempts)
	assert.Equal(t, "gemini-2.5-flash", opts.Model)
}

func TestOptionsFromConfig_CustomLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 2
categories:
  - name: risk
    weight: 5
    must_keep: true
    terms: [hopeless]
`), 0o600))

	opts, err := OptionsFromConfig(config.Config{LexiconPath: path, BudgetUnit: "chars"})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.Lexicon.Version())
}

func TestOptionsFromConfig_Errors(t *testing.T) {
	_, err := OptionsFromConfig(config.Config{BudgetUnit: "words"})
	assert.Error(t, err)

	_, err = OptionsFromConfig(config.Config{LexiconPath: "/does/not/exist.yaml", BudgetUnit: "chars"})
	assert.Error(t, err)
}

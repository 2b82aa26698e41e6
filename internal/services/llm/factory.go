package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
)

// NewProviders builds every provider the configuration carries credentials
// for. No credentials is not an error: the cascade runs without its LLM layer
// and unknown names come back unclassified.
func NewProviders(ctx context.Context, config *common.Config, logger arbor.ILogger) (map[string]interfaces.Provider, error) {
	providers := make(map[string]interfaces.Provider)

	if config.Claude.APIKey != "" {
		claude, err := NewClaudeProvider(&config.Claude, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Claude provider: %w", err)
		}
		providers[claude.Name()] = claude
	}

	if config.Gemini.APIKey != "" {
		gemini, err := NewGeminiProvider(ctx, &config.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Gemini provider: %w", err)
		}
		providers[gemini.Name()] = gemini
	}

	if len(providers) == 0 {
		logger.Warn().Msg("No provider credentials (ANTHROPIC_API_KEY / GEMINI_API_KEY); LLM layer disabled, unknown names will stay unclassified")
		return providers, nil
	}

	if _, ok := providers[config.LLM.DefaultProvider]; !ok {
		logger.Warn().
			Str("default", config.LLM.DefaultProvider).
			Msg("Default provider has no credentials; using whichever is available")
	}

	return providers, nil
}

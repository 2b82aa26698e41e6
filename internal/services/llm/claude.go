package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
)

// ClaudeProvider classifies names through the Anthropic messages API.
type ClaudeProvider struct {
	config *common.ClaudeConfig
	logger arbor.ILogger
	client anthropic.Client
	price  modelPrice
}

// NewClaudeProvider creates a Claude-backed classification provider.
func NewClaudeProvider(config *common.ClaudeConfig, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required (set ANTHROPIC_API_KEY or claude.api_key in config)")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(config.APIKey),
	)

	logger.Debug().
		Str("model", config.Model).
		Int("max_tokens", config.MaxTokens).
		Msg("Claude provider initialized")

	return &ClaudeProvider{
		config: config,
		logger: logger,
		client: client,
		price:  priceFor(claudePrices, config.Model),
	}, nil
}

// Name implements interfaces.Provider.
func (p *ClaudeProvider) Name() string {
	return "claude"
}

// Classify sends one name and strictly parses the JSON verdict.
func (p *ClaudeProvider) Classify(ctx context.Context, req *interfaces.ClassifyRequest) (*interfaces.ClassifyResult, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: int64(p.config.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(req.Name, req.SpatialContext))),
		},
		Temperature: anthropic.Float(float64(p.config.Temperature)),
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyError(p.Name(), err)
	}

	var raw strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}
	if raw.Len() == 0 {
		return nil, malformed(p.Name(), fmt.Errorf("response carried no text content"))
	}

	category, confidence, err := parseVerdict(raw.String())
	if err != nil {
		return nil, malformed(p.Name(), err)
	}

	cost := requestCost(p.price, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	p.logger.Debug().
		Str("category", string(category)).
		Float64("confidence", confidence).
		Int64("input_tokens", resp.Usage.InputTokens).
		Int64("output_tokens", resp.Usage.OutputTokens).
		Dur("latency", latency).
		Msg("Claude classification")

	return &interfaces.ClassifyResult{
		Category:   category,
		Confidence: confidence,
		Raw:        raw.String(),
		Cost:       cost,
		Latency:    latency,
		Provider:   p.Name(),
	}, nil
}

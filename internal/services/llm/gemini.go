package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// GeminiProvider classifies names through the Gemini API. The response schema
// constrains the model to the closed category enum at the API level; strict
// parsing still runs on top of it.
type GeminiProvider struct {
	config *common.GeminiConfig
	logger arbor.ILogger
	client *genai.Client
	schema *genai.Schema
	price  modelPrice
}

// NewGeminiProvider creates a Gemini-backed classification provider.
func NewGeminiProvider(ctx context.Context, config *common.GeminiConfig, logger arbor.ILogger) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Debug().
		Str("model", config.Model).
		Msg("Gemini provider initialized")

	return &GeminiProvider{
		config: config,
		logger: logger,
		client: client,
		schema: verdictSchema(),
		price:  priceFor(geminiPrices, config.Model),
	}, nil
}

// verdictSchema pins the structured output to the canonical category enum.
func verdictSchema() *genai.Schema {
	categories := make([]string, 0, len(models.CanonicalCategories))
	for _, c := range models.CanonicalCategories {
		categories = append(categories, string(c.Code))
	}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"category": {
				Type: genai.TypeString,
				Enum: categories,
			},
			"confidence": {
				Type: genai.TypeNumber,
			},
		},
		Required: []string{"category", "confidence"},
	}
}

// Name implements interfaces.Provider.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Classify sends one name with JSON-schema constrained output.
func (p *GeminiProvider) Classify(ctx context.Context, req *interfaces.ClassifyRequest) (*interfaces.ClassifyResult, error) {
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(p.config.Temperature),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    p.schema,
	}

	contents := genai.Text(userPrompt(req.Name, req.SpatialContext))

	start := time.Now()
	resp, err := p.client.Models.GenerateContent(ctx, p.config.Model, contents, config)
	latency := time.Since(start)
	if err != nil {
		return nil, classifyError(p.Name(), err)
	}

	raw := resp.Text()
	if raw == "" {
		return nil, malformed(p.Name(), fmt.Errorf("response carried no text content"))
	}

	category, confidence, err := parseVerdict(raw)
	if err != nil {
		return nil, malformed(p.Name(), err)
	}

	var cost float64
	var inTokens, outTokens int32
	if resp.UsageMetadata != nil {
		inTokens = resp.UsageMetadata.PromptTokenCount
		outTokens = resp.UsageMetadata.CandidatesTokenCount
		cost = requestCost(p.price, int64(inTokens), int64(outTokens))
	}

	p.logger.Debug().
		Str("category", string(category)).
		Float64("confidence", confidence).
		Int("input_tokens", int(inTokens)).
		Int("output_tokens", int(outTokens)).
		Dur("latency", latency).
		Msg("Gemini classification")

	return &interfaces.ClassifyResult{
		Category:   category,
		Confidence: confidence,
		Raw:        raw,
		Cost:       cost,
		Latency:    latency,
		Provider:   p.Name(),
	}, nil
}

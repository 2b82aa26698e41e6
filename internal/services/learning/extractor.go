package learning

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// Patterns derived from a single classification are capped so one LLM answer
// never floods the pattern store.
const maxPatternsPerName = 6

// derivedDiscount scales the LLM's confidence down for patterns generalized
// from it; a suffix shared with one name is weaker evidence than the name
// itself.
const derivedDiscount = 0.9

// structuralDiscount applies on top of derivedDiscount for
// structural-feature patterns. A token count or vowel band matches far too
// many names to classify on its own; these patterns only start firing once
// confirmations have raised their effective confidence.
const structuralDiscount = 0.65

// Extractor turns high-confidence LLM verdicts into learned patterns and
// phonetic-family evidence. It runs off the classification hot path.
type Extractor struct {
	patterns        interfaces.PatternStorage
	classifications interfaces.ClassificationStorage
	logger          arbor.ILogger
}

// NewExtractor creates a learning extractor over the pattern and
// classification stores.
func NewExtractor(store interfaces.StorageManager, logger arbor.ILogger) *Extractor {
	return &Extractor{
		patterns:        store.PatternStorage(),
		classifications: store.ClassificationStorage(),
		logger:          logger,
	}
}

// Learn persists the classification to the cache and derives patterns from
// it. Callers invoke it asynchronously; every error is returned for logging
// but nothing here blocks a classification result.
func (e *Extractor) Learn(ctx context.Context, c *models.LLMClassification) error {
	if c.Markers == nil {
		c.Markers = Markers(c.NormalizedName)
	}
	if c.Features == nil {
		c.Features = Features(c.NormalizedName)
	}

	if err := e.classifications.UpsertClassification(ctx, c); err != nil {
		return fmt.Errorf("failed to cache classification: %w", err)
	}

	if key := c.Codes.Key(); key != "" {
		if err := e.classifications.UpsertPhoneticFamily(ctx, key, c.Category, c.Confidence); err != nil {
			return fmt.Errorf("failed to fold phonetic family: %w", err)
		}
	}

	derived := c.Confidence * derivedDiscount
	count := 0
	upsert := func(kind models.PatternKind, value string) error {
		if count >= maxPatternsPerName || value == "" {
			return nil
		}
		confidence := derived
		if kind == models.PatternStructuralFeature {
			confidence *= structuralDiscount
		}
		p := models.NewLearnedPattern(kind, value, c.Category, confidence, c.SessionID)
		if err := e.patterns.UpsertPattern(ctx, p); err != nil {
			return err
		}
		count++
		return nil
	}

	prefixes, suffixes, contains := Probes(c.NormalizedName)
	// Longest probes first: they carry the most signal
	for i := len(suffixes) - 1; i >= 0; i-- {
		if err := upsert(models.PatternSuffix, suffixes[i]); err != nil {
			return err
		}
	}
	for i := len(prefixes) - 1; i >= 0; i-- {
		if err := upsert(models.PatternPrefix, prefixes[i]); err != nil {
			return err
		}
	}
	for _, m := range contains {
		if err := upsert(models.PatternContains, m); err != nil {
			return err
		}
	}
	for _, fv := range FeatureValues(c.Features) {
		if err := upsert(models.PatternStructuralFeature, fv); err != nil {
			return err
		}
	}

	e.logger.Debug().
		Str("name", c.NormalizedName).
		Str("category", string(c.Category)).
		Int("patterns", count).
		Msg("Patterns derived from classification")
	return nil
}

// Reinforce applies a human confirmation to every pattern that would have
// matched the name, bumping or denting their confidence.
func (e *Extractor) Reinforce(ctx context.Context, normalizedName string, confirmed models.Category) error {
	prefixes, suffixes, contains := Probes(normalizedName)

	probe := func(kind models.PatternKind, values []string) error {
		found, err := e.patterns.FindPatterns(ctx, kind, values)
		if err != nil {
			return err
		}
		for _, p := range found {
			if err := e.patterns.RecordOutcome(ctx, p.ID, p.Category == confirmed); err != nil {
				return err
			}
		}
		return nil
	}

	if err := probe(models.PatternPrefix, prefixes); err != nil {
		return err
	}
	if err := probe(models.PatternSuffix, suffixes); err != nil {
		return err
	}
	if err := probe(models.PatternContains, contains); err != nil {
		return err
	}
	return probe(models.PatternStructuralFeature, FeatureValues(Features(normalizedName)))
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// PatternKind distinguishes the rule shapes the learning extractor derives.
type PatternKind string

const (
	PatternPrefix            PatternKind = "prefix"
	PatternSuffix            PatternKind = "suffix"
	PatternContains          PatternKind = "contains"
	PatternPhoneticFamily    PatternKind = "phonetic-code-family"
	PatternStructuralFeature PatternKind = "structural-feature"
)

// LearnedPattern is a rule derived from high-confidence LLM results (and
// reinforced by human confirmations) that lets later probes short-circuit the
// LLM layer. Unique on (kind, value).
type LearnedPattern struct {
	ID           string      `json:"id"` // pat_{uuid}
	Kind         PatternKind `json:"kind"`
	Value        string      `json:"value"`
	Category     Category    `json:"category"`
	Confidence   float64     `json:"confidence"` // Derived at extraction time
	UsageCount   int         `json:"usage_count"`
	SuccessCount int         `json:"success_count"` // Agreeing confirmations; never exceeds UsageCount
	FailureCount int         `json:"failure_count"` // Disagreeing confirmations
	SessionID    string      `json:"session_id"`    // Originating session
	Active       bool        `json:"active"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewLearnedPattern creates an active pattern with an initial usage count of 1.
func NewLearnedPattern(kind PatternKind, value string, category Category, confidence float64, sessionID string) *LearnedPattern {
	return &LearnedPattern{
		ID:         "pat_" + uuid.New().String(),
		Kind:       kind,
		Value:      value,
		Category:   category,
		Confidence: confidence,
		UsageCount: 1,
		SessionID:  sessionID,
		Active:     true,
		CreatedAt:  time.Now(),
	}
}

// EffectiveConfidence blends the derived confidence with the observed
// confirmation success rate using a shrinkage estimate: with few
// confirmations the derived confidence dominates, with many the observed rate
// does.
func (p *LearnedPattern) EffectiveConfidence() float64 {
	const prior = 5.0
	outcomes := p.SuccessCount + p.FailureCount
	if outcomes <= 0 {
		return p.Confidence
	}
	rate := float64(p.SuccessCount) / float64(outcomes)
	n := float64(outcomes)
	return (p.Confidence*prior + rate*n) / (prior + n)
}

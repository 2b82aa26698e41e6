package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PhoneticCodes is the five-code tuple produced by the phonetic engine for a
// normalized name. Codes are deterministic; equal names yield equal tuples.
type PhoneticCodes struct {
	Soundex                string `json:"soundex"`
	Phonex                 string `json:"phonex"`
	DoubleMetaphonePrimary string `json:"double_metaphone_primary"`
	DoubleMetaphoneAlt     string `json:"double_metaphone_alt"`
	NYSIIS                 string `json:"nysiis"`
}

// Key renders the tuple as a stable string for phonetic-family indexing.
func (p PhoneticCodes) Key() string {
	return p.Soundex + "|" + p.Phonex + "|" + p.DoubleMetaphonePrimary + "|" + p.DoubleMetaphoneAlt + "|" + p.NYSIIS
}

// LLMClassification is the cached provider verdict for one distinct
// normalized name. It serves as cascade layer L0 and as the raw material for
// the learning extractor. Upserts are idempotent on NormalizedName.
type LLMClassification struct {
	ID             string            `json:"id"` // cls_{uuid}
	NormalizedName string            `json:"normalized_name"`
	Category       Category          `json:"category"`
	Confidence     float64           `json:"confidence"`
	Provider       string            `json:"provider"`
	Cost           float64           `json:"cost"`
	ProcessingTime int64             `json:"processing_time_ms"`
	RawResponse    string            `json:"raw_response,omitempty"`
	Codes          PhoneticCodes     `json:"phonetic_codes"`
	Markers        []string          `json:"linguistic_markers,omitempty"`
	Features       map[string]string `json:"structural_features,omitempty"`
	SessionID      string            `json:"session_id"`
	CreatedAt      time.Time         `json:"created_at"`
}

// NewLLMClassification creates a cache row with a fresh ID.
func NewLLMClassification(normalizedName string) *LLMClassification {
	return &LLMClassification{
		ID:             "cls_" + uuid.New().String(),
		NormalizedName: normalizedName,
		CreatedAt:      time.Now(),
	}
}

// FeaturesJSON serializes the structural feature map for storage.
func (c *LLMClassification) FeaturesJSON() (string, error) {
	if len(c.Features) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(c.Features)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PhoneticFamily maps a phonetic code tuple to its majority category, built
// incrementally as LLM classifications accumulate.
type PhoneticFamily struct {
	CodeKey    string    `json:"code_key"`
	Category   Category  `json:"category"`
	Confidence float64   `json:"confidence"`
	Evidence   int       `json:"evidence"` // Supporting classification count
	UpdatedAt  time.Time `json:"updated_at"`
}

package models

import (
	"fmt"
	"strings"
	"time"
)

// Lead is one spreadsheet row of lead attributes. DirectorName is the only
// field required for classification; everything else is carried through for
// confirmation traceability.
type Lead struct {
	RowIndex     int    `json:"row_index"` // Absolute data-row index in the source (0-based, header excluded)
	EntityName   string `json:"entity_name"`
	TradingName  string `json:"trading_name,omitempty"`
	Keyword      string `json:"keyword,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	ContactPhone string `json:"contact_phone,omitempty"`
	Address      string `json:"address,omitempty"`
	Suburb       string `json:"suburb,omitempty"`
	City         string `json:"city,omitempty"`
	Province     string `json:"province,omitempty"`
	DirectorName string `json:"director_name"`
	DirectorCell string `json:"director_cell,omitempty"`
}

// Validate checks the fields required for classification.
func (l *Lead) Validate() error {
	if strings.TrimSpace(l.DirectorName) == "" {
		return fmt.Errorf("lead row %d: director name is required", l.RowIndex)
	}
	return nil
}

// SpatialContext derives the canonical location string stored alongside
// predictions and confirmations, e.g. "Soweto, Johannesburg, Gauteng".
func (l *Lead) SpatialContext() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.Suburb, l.City, l.Province} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Method identifies the cascade layer that produced a classification.
type Method string

const (
	MethodExactCache Method = "exact-cache" // L0: LLM cache hit
	MethodRule       Method = "rule"        // L1: curated dictionary
	MethodPhonetic   Method = "phonetic"    // L2: phonetic consensus
	MethodLearned    Method = "learned"     // L3: learned pattern
	MethodLLM        Method = "llm"         // L4: provider call
	MethodNone       Method = "none"        // Unclassified
)

// LeadResult is the persisted outcome for one (job, row) pair. Failures are
// captured here rather than aborting the batch.
type LeadResult struct {
	JobID          string    `json:"job_id"`
	RowIndex       int       `json:"row_index"`
	EntityName     string    `json:"entity_name"`
	DirectorName   string    `json:"director_name"`
	Address        string    `json:"address,omitempty"`
	City           string    `json:"city,omitempty"`
	Province       string    `json:"province,omitempty"`
	Category       Category  `json:"category,omitempty"`
	Confidence     float64   `json:"confidence"`
	Method         Method    `json:"method"`
	ProcessingTime int64     `json:"processing_time_ms"`
	Provider       string    `json:"provider,omitempty"` // Set when Method == llm
	Cost           float64   `json:"cost"`
	Retries        int       `json:"retries"`
	ErrorKind      string    `json:"error_kind,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Failed reports whether the lead could not be processed at all.
// An Unclassified result (method none, no error) is not a failure.
func (r *LeadResult) Failed() bool {
	return r.ErrorKind != ""
}

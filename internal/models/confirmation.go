package models

import (
	"time"

	"github.com/google/uuid"
)

// Confirmation records a human verdict for one exported row, keyed on
// (source fingerprint, row index). ConfirmedCategory stays empty until a
// reviewer fills the confirmed_ethnicity column; once set it must be drawn
// from the canonical category table.
type Confirmation struct {
	ID                string    `json:"id"` // cfm_{uuid}
	SourceFingerprint string    `json:"source_fingerprint"`
	RowIndex          int       `json:"row_index"`
	EntityName        string    `json:"entity_name"`
	DirectorName      string    `json:"director_name"`
	Suburb            string    `json:"suburb,omitempty"`
	City              string    `json:"city,omitempty"`
	Province          string    `json:"province,omitempty"`
	SpatialContext    string    `json:"spatial_context,omitempty"`
	Predicted         Category  `json:"predicted_category"`
	PredictedConf     float64   `json:"predicted_confidence"`
	PredictedMethod   Method    `json:"predicted_method"`
	ConfirmedCategory Category  `json:"confirmed_category,omitempty"`
	ConfirmedBy       string    `json:"confirmed_by,omitempty"`
	ConfirmedAt       time.Time `json:"confirmed_at,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// NewConfirmation creates a confirmation row for an ingested verdict.
func NewConfirmation(fingerprint string, rowIndex int) *Confirmation {
	return &Confirmation{
		ID:                "cfm_" + uuid.New().String(),
		SourceFingerprint: fingerprint,
		RowIndex:          rowIndex,
		CreatedAt:         time.Now(),
	}
}

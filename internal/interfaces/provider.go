package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/prospect/internal/models"
)

// ClassifyRequest carries one director name to a provider, with whatever
// spatial context the lead row already holds.
type ClassifyRequest struct {
	Name           string
	SpatialContext string
}

// ClassifyResult is the uniform provider response: a canonical category with
// the provider's confidence, the raw response for auditing, and accounting
// fields.
type ClassifyResult struct {
	Category   models.Category
	Confidence float64
	Raw        string
	Cost       float64
	Latency    time.Duration
	Provider   string
}

// Provider is one external classification service. Implementations translate
// SDK-specific failures into the semantic failure taxonomy before returning.
type Provider interface {
	Classify(ctx context.Context, req *ClassifyRequest) (*ClassifyResult, error)
	Name() string
}

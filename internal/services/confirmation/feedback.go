package confirmation

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/phonetic"
	"github.com/ternarybob/prospect/internal/services/learning"
)

// confirmedConfidence is the confidence stored for a human verdict; high, but
// short of certainty so later conflicting confirmations can still move it.
const confirmedConfidence = 0.95

// Feedback folds ingested confirmations back into the learning state: pattern
// outcomes, phonetic-family evidence and the exact cache.
type Feedback struct {
	extractor       *learning.Extractor
	classifications interfaces.ClassificationStorage
	logger          arbor.ILogger
}

// NewFeedback creates the confirmation feedback loop.
func NewFeedback(store interfaces.StorageManager, logger arbor.ILogger) *Feedback {
	return &Feedback{
		extractor:       learning.NewExtractor(store, logger),
		classifications: store.ClassificationStorage(),
		logger:          logger,
	}
}

// Apply replays each confirmed verdict through the learning state. A row
// without a confirmed category carries no signal and is skipped.
func (f *Feedback) Apply(ctx context.Context, confirmations []*models.Confirmation) error {
	applied := 0
	for _, c := range confirmations {
		if c.ConfirmedCategory == "" {
			continue
		}
		normalized := phonetic.Normalize(c.DirectorName)
		if normalized == "" {
			continue
		}

		if err := f.extractor.Reinforce(ctx, normalized, c.ConfirmedCategory); err != nil {
			return err
		}

		// The confirmed verdict supersedes whatever the cache held for this
		// name
		cached := models.NewLLMClassification(normalized)
		cached.Category = c.ConfirmedCategory
		cached.Confidence = confirmedConfidence
		cached.Provider = "confirmed"
		cached.Codes = phonetic.Codes(normalized)
		cached.CreatedAt = time.Now()
		if err := f.classifications.UpsertClassification(ctx, cached); err != nil {
			return err
		}
		if key := cached.Codes.Key(); key != "" {
			if err := f.classifications.UpsertPhoneticFamily(ctx, key, c.ConfirmedCategory, confirmedConfidence); err != nil {
				return err
			}
		}
		applied++
	}

	f.logger.Info().Int("applied", applied).Msg("Confirmations folded into learning state")
	return nil
}

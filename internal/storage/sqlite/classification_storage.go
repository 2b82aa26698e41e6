package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// ClassificationStorage is the LLM cache plus the phonetic-family index.
// Rows are keyed on normalized name, so concurrent probes for the same name
// coalesce into a single cache entry.
type ClassificationStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewClassificationStorage creates a new classification storage instance.
func NewClassificationStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ClassificationStorage {
	return &ClassificationStorage{db: db, logger: logger}
}

// UpsertClassification inserts or replaces the cache row for a normalized
// name. Idempotent: two racing writers converge on one row, and a writer
// carrying no extracted markers or features never erases another writer's.
func (s *ClassificationStorage) UpsertClassification(ctx context.Context, c *models.LLMClassification) error {
	features, err := c.FeaturesJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize features: %w", err)
	}

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO llm_classifications (
			id, normalized_name, category, confidence, provider, cost,
			processing_time_ms, raw_response, soundex, phonex,
			dmetaphone_primary, dmetaphone_alt, nysiis, markers, features,
			session_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(normalized_name) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			provider = excluded.provider,
			cost = excluded.cost,
			processing_time_ms = excluded.processing_time_ms,
			raw_response = excluded.raw_response,
			markers = CASE WHEN excluded.markers = '' THEN markers ELSE excluded.markers END,
			features = CASE WHEN excluded.features = '' OR excluded.features = '{}' THEN features ELSE excluded.features END,
			session_id = excluded.session_id
	`,
		c.ID, c.NormalizedName, string(c.Category), c.Confidence, c.Provider, c.Cost,
		c.ProcessingTime, c.RawResponse, c.Codes.Soundex, c.Codes.Phonex,
		c.Codes.DoubleMetaphonePrimary, c.Codes.DoubleMetaphoneAlt, c.Codes.NYSIIS,
		strings.Join(c.Markers, ","), features, c.SessionID, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert classification for %q: %w", c.NormalizedName, err)
	}
	return nil
}

// GetClassification returns the cached verdict for a normalized name, or
// ErrNotFound.
func (s *ClassificationStorage) GetClassification(ctx context.Context, normalizedName string) (*models.LLMClassification, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT id, normalized_name, category, confidence, provider, cost,
			processing_time_ms, raw_response, soundex, phonex,
			dmetaphone_primary, dmetaphone_alt, nysiis, markers, features,
			session_id, created_at
		FROM llm_classifications WHERE normalized_name = ?
	`, normalizedName)

	var c models.LLMClassification
	var raw, markers, features, sessionID sql.NullString
	var createdAt int64

	err := row.Scan(
		&c.ID, &c.NormalizedName, &c.Category, &c.Confidence, &c.Provider, &c.Cost,
		&c.ProcessingTime, &raw, &c.Codes.Soundex, &c.Codes.Phonex,
		&c.Codes.DoubleMetaphonePrimary, &c.Codes.DoubleMetaphoneAlt, &c.Codes.NYSIIS,
		&markers, &features, &sessionID, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan classification: %w", err)
	}

	c.RawResponse = raw.String
	c.SessionID = sessionID.String
	if markers.Valid && markers.String != "" {
		c.Markers = strings.Split(markers.String, ",")
	}
	if features.Valid && features.String != "" && features.String != "{}" {
		if err := json.Unmarshal([]byte(features.String), &c.Features); err != nil {
			return nil, fmt.Errorf("failed to parse features for %q: %w", normalizedName, err)
		}
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

// UpsertPhoneticFamily folds one more classification into the family for a
// code tuple. Agreeing evidence raises confidence toward 0.95; disagreeing
// evidence lowers it, and a sustained minority eventually flips the majority
// category.
func (s *ClassificationStorage) UpsertPhoneticFamily(ctx context.Context, codeKey string, category models.Category, confidence float64) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin family transaction: %w", err)
	}
	defer tx.Rollback()

	var existingCategory string
	var existingConf float64
	var evidence int
	err = tx.QueryRowContext(ctx, `
		SELECT category, confidence, evidence FROM phonetic_families WHERE code_key = ?
	`, codeKey).Scan(&existingCategory, &existingConf, &evidence)

	now := time.Now().Unix()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO phonetic_families (code_key, category, confidence, evidence, updated_at)
			VALUES (?, ?, ?, 1, ?)
		`, codeKey, string(category), confidence, now)
		if err != nil {
			return fmt.Errorf("failed to insert phonetic family: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read phonetic family: %w", err)
	default:
		newCategory := existingCategory
		newConf := existingConf
		newEvidence := evidence + 1
		if existingCategory == string(category) {
			// Agreement: weighted average pulled toward the new evidence.
			newConf = (existingConf*float64(evidence) + confidence) / float64(newEvidence)
			if newConf > 0.95 {
				newConf = 0.95
			}
		} else {
			// Disagreement shrinks confidence; when it collapses, the new
			// category takes over with minority-strength confidence.
			newConf = existingConf - confidence/float64(newEvidence)
			if newConf < 0.5 {
				newCategory = string(category)
				newConf = confidence / float64(newEvidence)
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE phonetic_families SET category = ?, confidence = ?, evidence = ?, updated_at = ?
			WHERE code_key = ?
		`, newCategory, newConf, newEvidence, now, codeKey)
		if err != nil {
			return fmt.Errorf("failed to update phonetic family: %w", err)
		}
	}

	return tx.Commit()
}

// GetPhoneticFamily returns the family row for a code tuple, or ErrNotFound.
func (s *ClassificationStorage) GetPhoneticFamily(ctx context.Context, codeKey string) (*models.PhoneticFamily, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT code_key, category, confidence, evidence, updated_at
		FROM phonetic_families WHERE code_key = ?
	`, codeKey)

	var f models.PhoneticFamily
	var updatedAt int64
	err := row.Scan(&f.CodeKey, &f.Category, &f.Confidence, &f.Evidence, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan phonetic family: %w", err)
	}
	f.UpdatedAt = time.Unix(updatedAt, 0)
	return &f, nil
}

// PurgeClassifications clears the LLM cache. Phonetic families and learned
// patterns survive; they are derived state, not cache.
func (s *ClassificationStorage) PurgeClassifications(ctx context.Context) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM llm_classifications`)
	if err != nil {
		return fmt.Errorf("failed to purge classifications: %w", err)
	}
	s.logger.Info().Msg("LLM classification cache purged")
	return nil
}

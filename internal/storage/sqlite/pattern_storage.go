package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// PatternStorage persists learned patterns, unique on (kind, value).
type PatternStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewPatternStorage creates a new pattern storage instance.
func NewPatternStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.PatternStorage {
	return &PatternStorage{db: db, logger: logger}
}

const patternColumns = `id, kind, value, category, confidence, usage_count,
	success_count, failure_count, session_id, active, created_at`

// UpsertPattern inserts a pattern or, on conflict of (kind, value), refreshes
// its category and confidence while keeping accumulated counters.
func (s *PatternStorage) UpsertPattern(ctx context.Context, p *models.LearnedPattern) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO learned_patterns (
			id, kind, value, category, confidence, usage_count,
			success_count, failure_count, session_id, active, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, value) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			session_id = excluded.session_id,
			active = excluded.active,
			usage_count = learned_patterns.usage_count + 1
	`,
		p.ID, string(p.Kind), p.Value, string(p.Category), p.Confidence, p.UsageCount,
		p.SuccessCount, p.FailureCount, p.SessionID, boolToInt(p.Active), createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern %s/%s: %w", p.Kind, p.Value, err)
	}
	return nil
}

// GetPattern returns the pattern for a (kind, value), or ErrNotFound.
func (s *PatternStorage) GetPattern(ctx context.Context, kind models.PatternKind, value string) (*models.LearnedPattern, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns WHERE kind = ? AND value = ?
	`, string(kind), value)
	return scanPattern(row)
}

// FindPatterns returns the active patterns of a kind matching any probe value.
func (s *PatternStorage) FindPatterns(ctx context.Context, kind models.PatternKind, values []string) ([]*models.LearnedPattern, error) {
	if len(values) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(values))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]interface{}, 0, len(values)+1)
	args = append(args, string(kind))
	for _, v := range values {
		args = append(args, v)
	}

	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns
		WHERE kind = ? AND active = 1 AND value IN (`+placeholders+`)
		ORDER BY confidence DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find patterns: %w", err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

// IncrementUsage bumps the usage counter after a pattern served a lookup.
func (s *PatternStorage) IncrementUsage(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, `
		UPDATE learned_patterns SET usage_count = usage_count + 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to increment usage for %s: %w", id, err)
	}
	return nil
}

// RecordOutcome applies a confirmation verdict to a pattern. Every outcome
// counts as a usage observation, an agreeing one also bumps the success
// counter, so success_count never exceeds usage_count. The stored confidence
// is recomputed from the counters, and a pattern that keeps missing is
// retired.
func (s *PatternStorage) RecordOutcome(ctx context.Context, id string, success bool) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin outcome transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns WHERE id = ?
	`, id)
	p, err := scanPattern(row)
	if err != nil {
		return err
	}

	p.UsageCount++
	if success {
		p.SuccessCount++
	} else {
		p.FailureCount++
	}
	effective := p.EffectiveConfidence()
	active := p.Active
	// Retire patterns the confirmations have pushed below usefulness.
	if p.UsageCount >= 5 && effective < 0.4 {
		active = false
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE learned_patterns SET usage_count = ?, success_count = ?, failure_count = ?, confidence = ?, active = ? WHERE id = ?
	`, p.UsageCount, p.SuccessCount, p.FailureCount, effective, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to record outcome for %s: %w", id, err)
	}

	if !active && p.Active {
		s.logger.Info().
			Str("pattern_id", id).
			Str("kind", string(p.Kind)).
			Str("value", p.Value).
			Msg("Pattern retired after repeated misses")
	}
	return tx.Commit()
}

// PatternsForCategory returns the active patterns targeting a category.
func (s *PatternStorage) PatternsForCategory(ctx context.Context, category models.Category) ([]*models.LearnedPattern, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+patternColumns+` FROM learned_patterns
		WHERE category = ? AND active = 1
		ORDER BY confidence DESC
	`, string(category))
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns for %s: %w", category, err)
	}
	defer rows.Close()

	return collectPatterns(rows)
}

func collectPatterns(rows *sql.Rows) ([]*models.LearnedPattern, error) {
	var patterns []*models.LearnedPattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

func scanPattern(row rowScanner) (*models.LearnedPattern, error) {
	var p models.LearnedPattern
	var kind, category string
	var sessionID sql.NullString
	var active int
	var createdAt int64

	err := row.Scan(
		&p.ID, &kind, &p.Value, &category, &p.Confidence, &p.UsageCount,
		&p.SuccessCount, &p.FailureCount, &sessionID, &active, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pattern: %w", err)
	}

	p.Kind = models.PatternKind(kind)
	p.Category = models.Category(category)
	p.SessionID = sessionID.String
	p.Active = active != 0
	p.CreatedAt = time.Unix(createdAt, 0)
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

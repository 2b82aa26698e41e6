package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// ConfirmationStorage persists human verdicts keyed on the exported row
// identity.
type ConfirmationStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewConfirmationStorage creates a new confirmation storage instance.
func NewConfirmationStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ConfirmationStorage {
	return &ConfirmationStorage{db: db, logger: logger}
}

const confirmationColumns = `id, source_fingerprint, row_index, entity_name, director_name,
	suburb, city, province, spatial_context, predicted_category, predicted_confidence,
	predicted_method, confirmed_category, confirmed_by, confirmed_at, notes, created_at`

// UpsertConfirmation inserts or replaces the verdict for a row. Re-ingesting
// the same workbook is idempotent.
func (s *ConfirmationStorage) UpsertConfirmation(ctx context.Context, c *models.Confirmation) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var confirmedAt sql.NullInt64
	if !c.ConfirmedAt.IsZero() {
		confirmedAt.Valid = true
		confirmedAt.Int64 = c.ConfirmedAt.Unix()
	}
	var confirmed sql.NullString
	if c.ConfirmedCategory != "" {
		confirmed.Valid = true
		confirmed.String = string(c.ConfirmedCategory)
	}

	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO confirmations (
			id, source_fingerprint, row_index, entity_name, director_name,
			suburb, city, province, spatial_context, predicted_category,
			predicted_confidence, predicted_method, confirmed_category,
			confirmed_by, confirmed_at, notes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_fingerprint, row_index) DO UPDATE SET
			entity_name = excluded.entity_name,
			director_name = excluded.director_name,
			suburb = excluded.suburb,
			city = excluded.city,
			province = excluded.province,
			spatial_context = excluded.spatial_context,
			predicted_category = excluded.predicted_category,
			predicted_confidence = excluded.predicted_confidence,
			predicted_method = excluded.predicted_method,
			confirmed_category = excluded.confirmed_category,
			confirmed_by = excluded.confirmed_by,
			confirmed_at = excluded.confirmed_at,
			notes = excluded.notes
	`,
		c.ID, c.SourceFingerprint, c.RowIndex, c.EntityName, c.DirectorName,
		c.Suburb, c.City, c.Province, c.SpatialContext, string(c.Predicted),
		c.PredictedConf, string(c.PredictedMethod), confirmed,
		c.ConfirmedBy, confirmedAt, c.Notes, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert confirmation for row %d: %w", c.RowIndex, err)
	}
	return nil
}

// GetConfirmation returns the verdict for a row, or ErrNotFound.
func (s *ConfirmationStorage) GetConfirmation(ctx context.Context, fingerprint string, rowIndex int) (*models.Confirmation, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+confirmationColumns+` FROM confirmations
		WHERE source_fingerprint = ? AND row_index = ?
	`, fingerprint, rowIndex)
	return scanConfirmation(row)
}

// ListConfirmations returns all verdicts recorded for a source in row order.
func (s *ConfirmationStorage) ListConfirmations(ctx context.Context, fingerprint string) ([]*models.Confirmation, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+confirmationColumns+` FROM confirmations
		WHERE source_fingerprint = ? ORDER BY row_index
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("failed to list confirmations: %w", err)
	}
	defer rows.Close()

	var confirmations []*models.Confirmation
	for rows.Next() {
		c, err := scanConfirmation(rows)
		if err != nil {
			return nil, err
		}
		confirmations = append(confirmations, c)
	}
	return confirmations, rows.Err()
}

func scanConfirmation(row rowScanner) (*models.Confirmation, error) {
	var c models.Confirmation
	var entity, director, suburb, city, province, spatial sql.NullString
	var predicted, predictedMethod, confirmed, confirmedBy, notes sql.NullString
	var confirmedAt sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&c.ID, &c.SourceFingerprint, &c.RowIndex, &entity, &director,
		&suburb, &city, &province, &spatial, &predicted, &c.PredictedConf,
		&predictedMethod, &confirmed, &confirmedBy, &confirmedAt, &notes, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan confirmation: %w", err)
	}

	c.EntityName = entity.String
	c.DirectorName = director.String
	c.Suburb = suburb.String
	c.City = city.String
	c.Province = province.String
	c.SpatialContext = spatial.String
	c.Predicted = models.Category(predicted.String)
	c.PredictedMethod = models.Method(predictedMethod.String)
	c.ConfirmedCategory = models.Category(confirmed.String)
	c.ConfirmedBy = confirmedBy.String
	c.Notes = notes.String
	if confirmedAt.Valid {
		c.ConfirmedAt = time.Unix(confirmedAt.Int64, 0)
	}
	c.CreatedAt = time.Unix(createdAt, 0)
	return &c, nil
}

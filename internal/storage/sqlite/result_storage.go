package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// ResultStorage persists per-row outcomes. Batch commits are the only write
// path; the watermark and the rows always move together.
type ResultStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewResultStorage creates a new result storage instance.
func NewResultStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{db: db, logger: logger}
}

// RecordBatch inserts every result of a batch and advances the owning job's
// watermark, counters and accumulated cost in one transaction. On any error
// the transaction rolls back and the watermark is untouched.
func (s *ResultStorage) RecordBatch(ctx context.Context, jobID string, batchIndex int, results []*models.LeadResult) error {
	tx, err := s.db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO lead_results (
			job_id, row_index, entity_name, director_name, address, city, province,
			category, confidence, method, processing_time_ms, provider, cost,
			retries, error_kind, error_message, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}
	defer stmt.Close()

	var batchCost float64
	var batchTime int64
	failed := 0
	for _, r := range results {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			jobID, r.RowIndex, r.EntityName, r.DirectorName, r.Address, r.City, r.Province,
			string(r.Category), r.Confidence, string(r.Method), r.ProcessingTime, r.Provider, r.Cost,
			r.Retries, r.ErrorKind, r.ErrorMessage, createdAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result for row %d: %w", r.RowIndex, err)
		}
		batchCost += r.Cost
		batchTime += r.ProcessingTime
		if r.Failed() {
			failed++
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET
			last_committed_batch = ?,
			processed_rows = processed_rows + ?,
			failed_rows = failed_rows + ?,
			llm_cost = llm_cost + ?,
			processing_time_ms = processing_time_ms + ?
		WHERE id = ? AND last_committed_batch < ?
	`, batchIndex, len(results), failed, batchCost, batchTime, jobID, batchIndex)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check watermark update: %w", err)
	}
	if affected == 0 {
		// The watermark never moves backwards; a replayed batch is a bug.
		return fmt.Errorf("batch %d for job %s is behind the committed watermark", batchIndex, jobID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %d: %w", batchIndex, err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Int("batch", batchIndex).
		Int("rows", len(results)).
		Int("failed", failed).
		Msg("Batch committed")
	return nil
}

// GetResults returns all results for a job in source-row order.
func (s *ResultStorage) GetResults(ctx context.Context, jobID string) ([]*models.LeadResult, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT job_id, row_index, entity_name, director_name, address, city, province,
			category, confidence, method, processing_time_ms, provider, cost,
			retries, error_kind, error_message, created_at
		FROM lead_results WHERE job_id = ? ORDER BY row_index
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*models.LeadResult
	for rows.Next() {
		var r models.LeadResult
		var entity, director, address, city, province sql.NullString
		var category, provider, errKind, errMsg sql.NullString
		var createdAt int64

		err := rows.Scan(
			&r.JobID, &r.RowIndex, &entity, &director, &address, &city, &province,
			&category, &r.Confidence, &r.Method, &r.ProcessingTime, &provider, &r.Cost,
			&r.Retries, &errKind, &errMsg, &createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		r.EntityName = entity.String
		r.DirectorName = director.String
		r.Address = address.String
		r.City = city.String
		r.Province = province.String
		r.Category = models.Category(category.String)
		r.Provider = provider.String
		r.ErrorKind = errKind.String
		r.ErrorMessage = errMsg.String
		r.CreatedAt = time.Unix(createdAt, 0)
		results = append(results, &r)
	}
	return results, rows.Err()
}

// CountResults recomputes the persisted row count for a job.
func (s *ResultStorage) CountResults(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM lead_results WHERE job_id = ?
	`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return count, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// JobStorage implements job and lock persistence over SQLite.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
}

// NewJobStorage creates a new job storage instance.
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

// CreateJob inserts a running job. The partial unique index on
// (source_path WHERE status='running') turns a duplicate into
// ErrDuplicateRunningJob.
func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO jobs (
			id, source_path, source_fingerprint, total_rows, batch_size,
			last_committed_batch, processed_rows, failed_rows, status,
			started_at, llm_cost, processing_time_ms, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID, job.SourcePath, job.SourceFingerprint, job.TotalRows, job.BatchSize,
		job.LastCommittedBatch, job.ProcessedRows, job.FailedRows, string(job.Status),
		job.StartedAt.Unix(), job.LLMCost, job.ProcessingTime, job.Error,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrDuplicateRunningJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("source", job.SourcePath).Msg("Job created")
	return nil
}

const jobColumns = `id, source_path, source_fingerprint, total_rows, batch_size,
	last_committed_batch, processed_rows, failed_rows, status,
	started_at, completed_at, llm_cost, processing_time_ms, error`

// GetJob retrieves a job by ID.
func (s *JobStorage) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// RunningJobForPath returns the running job for a source path, or nil.
func (s *JobStorage) RunningJobForPath(ctx context.Context, sourcePath string) (*models.Job, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE source_path = ? AND status = 'running'
	`, sourcePath)
	job, err := scanJob(row)
	if errors.Is(err, interfaces.ErrNotFound) {
		return nil, nil
	}
	return job, err
}

// ListJobs lists jobs by most recent start.
func (s *JobStorage) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus persists status, totals, timing and error summary.
func (s *JobStorage) UpdateJobStatus(ctx context.Context, job *models.Job) error {
	var completedAt sql.NullInt64
	if !job.CompletedAt.IsZero() {
		completedAt.Valid = true
		completedAt.Int64 = job.CompletedAt.Unix()
	}

	_, err := s.db.db.ExecContext(ctx, `
		UPDATE jobs SET
			status = ?, processed_rows = ?, failed_rows = ?,
			completed_at = ?, llm_cost = ?, processing_time_ms = ?, error = ?
		WHERE id = ?
	`,
		string(job.Status), job.ProcessedRows, job.FailedRows,
		completedAt, job.LLMCost, job.ProcessingTime, job.Error, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	s.logger.Debug().Str("job_id", job.ID).Str("status", string(job.Status)).Msg("Job updated")
	return nil
}

// AcquireLock takes the path lock for a job. A lock whose holder process is
// no longer alive on this host is treated as stale and reclaimed; a live
// lock yields ErrLockContention.
func (s *JobStorage) AcquireLock(ctx context.Context, lock *models.JobLock) error {
	existing, err := s.GetLock(ctx, lock.SourcePath)
	if err != nil && !errors.Is(err, interfaces.ErrNotFound) {
		return err
	}

	if existing != nil {
		if holderAlive(existing.Holder) {
			return interfaces.ErrLockContention
		}
		s.logger.Warn().
			Str("source", lock.SourcePath).
			Str("holder", existing.Holder).
			Msg("Reclaiming stale job lock from dead process")
		if err := s.ReleaseLock(ctx, lock.SourcePath); err != nil {
			return err
		}
	}

	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO job_locks (source_path, job_id, holder, acquired_at)
		VALUES (?, ?, ?, ?)
	`, lock.SourcePath, lock.JobID, lock.Holder, lock.AcquiredAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			// Raced with another acquirer
			return interfaces.ErrLockContention
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	return nil
}

// ReleaseLock drops the lock row for a path.
func (s *JobStorage) ReleaseLock(ctx context.Context, sourcePath string) error {
	_, err := s.db.db.ExecContext(ctx, `DELETE FROM job_locks WHERE source_path = ?`, sourcePath)
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// GetLock returns the lock row for a path, or ErrNotFound.
func (s *JobStorage) GetLock(ctx context.Context, sourcePath string) (*models.JobLock, error) {
	row := s.db.db.QueryRowContext(ctx, `
		SELECT source_path, job_id, holder, acquired_at FROM job_locks WHERE source_path = ?
	`, sourcePath)

	var lock models.JobLock
	var acquiredAt int64
	err := row.Scan(&lock.SourcePath, &lock.JobID, &lock.Holder, &acquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}
	lock.AcquiredAt = time.Unix(acquiredAt, 0)
	return &lock, nil
}

// LockHolder renders this process's lock holder identity as host:pid.
func LockHolder() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

// holderAlive reports whether the holder (host:pid) still refers to a live
// process. Holders on other hosts are assumed alive; single-host operation is
// the supported deployment.
func holderAlive(holder string) bool {
	idx := strings.LastIndex(holder, ":")
	if idx < 0 {
		return true
	}
	host := holder[:idx]
	pid, err := strconv.Atoi(holder[idx+1:])
	if err != nil {
		return true
	}

	self, err := os.Hostname()
	if err != nil || host != self {
		return true
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJob maps one jobs row into a model.
func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var status string
	var startedAt int64
	var completedAt sql.NullInt64
	var errMsg sql.NullString

	err := row.Scan(
		&job.ID, &job.SourcePath, &job.SourceFingerprint, &job.TotalRows, &job.BatchSize,
		&job.LastCommittedBatch, &job.ProcessedRows, &job.FailedRows, &status,
		&startedAt, &completedAt, &job.LLMCost, &job.ProcessingTime, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	job.Status = models.JobStatus(status)
	job.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		job.CompletedAt = time.Unix(completedAt.Int64, 0)
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	return &job, nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}

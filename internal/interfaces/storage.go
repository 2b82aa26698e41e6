package interfaces

import (
	"context"

	"github.com/ternarybob/prospect/internal/models"
)

// JobStorage persists jobs and their locks. All mutations are transactional;
// after a crash the job's LastCommittedBatch is the durable watermark.
type JobStorage interface {
	// CreateJob inserts a running job. Returns ErrDuplicateRunningJob when a
	// running job already exists for the same source path.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// RunningJobForPath returns the running job for a source path, or nil.
	RunningJobForPath(ctx context.Context, sourcePath string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	// UpdateJobStatus moves a job to a (possibly terminal) status and records
	// the error summary, completion time and accumulated totals.
	UpdateJobStatus(ctx context.Context, job *models.Job) error

	// AcquireLock takes the path lock for a job. Returns ErrLockContention if
	// a live lock is held by another process.
	AcquireLock(ctx context.Context, lock *models.JobLock) error
	ReleaseLock(ctx context.Context, sourcePath string) error
	GetLock(ctx context.Context, sourcePath string) (*models.JobLock, error)
}

// ResultStorage persists per-row outcomes in batch transactions.
type ResultStorage interface {
	// RecordBatch inserts every result and advances the job's watermark to
	// batchIndex in a single transaction. Partial visibility is forbidden.
	RecordBatch(ctx context.Context, jobID string, batchIndex int, results []*models.LeadResult) error
	GetResults(ctx context.Context, jobID string) ([]*models.LeadResult, error)
	// CountResults recomputes the persisted row count for completion
	// validation.
	CountResults(ctx context.Context, jobID string) (int, error)
}

// ClassificationStorage is the LLM cache plus the phonetic-family index.
type ClassificationStorage interface {
	// UpsertClassification is idempotent on normalized name; a racing second
	// writer overwrites with equivalent data rather than duplicating.
	UpsertClassification(ctx context.Context, c *models.LLMClassification) error
	GetClassification(ctx context.Context, normalizedName string) (*models.LLMClassification, error)
	// UpsertPhoneticFamily folds one more piece of evidence into the family
	// for a code tuple, keeping the majority category.
	UpsertPhoneticFamily(ctx context.Context, codeKey string, category models.Category, confidence float64) error
	GetPhoneticFamily(ctx context.Context, codeKey string) (*models.PhoneticFamily, error)
	// PurgeClassifications clears the LLM cache (test and maintenance use).
	PurgeClassifications(ctx context.Context) error
}

// PatternStorage persists learned patterns, unique on (kind, value).
type PatternStorage interface {
	UpsertPattern(ctx context.Context, p *models.LearnedPattern) error
	GetPattern(ctx context.Context, kind models.PatternKind, value string) (*models.LearnedPattern, error)
	// FindPatterns returns active patterns matching any of the probe values
	// for a kind.
	FindPatterns(ctx context.Context, kind models.PatternKind, values []string) ([]*models.LearnedPattern, error)
	// IncrementUsage bumps the usage counter after a pattern served a lookup.
	IncrementUsage(ctx context.Context, id string) error
	// RecordOutcome applies a confirmation verdict: success increments the
	// success counter, and the stored confidence is recomputed.
	RecordOutcome(ctx context.Context, id string, success bool) error
	// PatternsForCategory returns active patterns targeting a category.
	PatternsForCategory(ctx context.Context, category models.Category) ([]*models.LearnedPattern, error)
}

// ConfirmationStorage persists human confirmations keyed on
// (source fingerprint, row index).
type ConfirmationStorage interface {
	UpsertConfirmation(ctx context.Context, c *models.Confirmation) error
	GetConfirmation(ctx context.Context, fingerprint string, rowIndex int) (*models.Confirmation, error)
	ListConfirmations(ctx context.Context, fingerprint string) ([]*models.Confirmation, error)
}

// StorageManager bundles the storage interfaces over the single embedded
// database file.
type StorageManager interface {
	JobStorage() JobStorage
	ResultStorage() ResultStorage
	ClassificationStorage() ClassificationStorage
	PatternStorage() PatternStorage
	ConfirmationStorage() ConfirmationStorage
	Close() error
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/leads"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/services/cascade"
	"github.com/ternarybob/prospect/internal/services/llm"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

// Classifier is the cascade as the engine sees it: one lead in, one result
// out.
type Classifier interface {
	Classify(ctx context.Context, lead *models.Lead) (*cascade.Result, error)
	Wait()
}

// Engine drives one classification run: job bookkeeping, the batch loop, the
// worker pool and completion validation. All durable state goes through the
// storage manager; the engine itself can die at any instant and lose at most
// one uncommitted batch.
type Engine struct {
	config     *common.Config
	store      interfaces.StorageManager
	classifier Classifier
	logger     arbor.ILogger
}

// NewEngine creates a job engine.
func NewEngine(config *common.Config, store interfaces.StorageManager, classifier Classifier, logger arbor.ILogger) *Engine {
	if logger == nil {
		logger = common.GetLogger()
	}

	return &Engine{
		config:     config,
		store:      store,
		classifier: classifier,
		logger:     logger,
	}
}

// Run processes a source workbook to completion, resuming a prior
// interrupted job for the same path when one exists. On cooperative
// cancellation the in-flight batch is drained and discarded, the job stays
// running in the store, and ctx.Err() is returned; a later Run re-executes
// that batch from the watermark.
func (e *Engine) Run(ctx context.Context, sourcePath string) (*models.Job, error) {
	fingerprint, err := Fingerprint(sourcePath)
	if err != nil {
		return nil, err
	}

	job, err := e.startOrResume(ctx, sourcePath, fingerprint)
	if err != nil {
		return nil, err
	}

	lock := &models.JobLock{
		SourcePath: sourcePath,
		JobID:      job.ID,
		Holder:     sqlite.LockHolder(),
		AcquiredAt: time.Now(),
	}
	if err := e.store.JobStorage().AcquireLock(ctx, lock); err != nil {
		return job, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.store.JobStorage().ReleaseLock(releaseCtx, sourcePath); err != nil {
			e.logger.Warn().Err(err).Str("source", sourcePath).Msg("Failed to release job lock")
		}
	}()

	runErr := e.processBatches(ctx, job, sourcePath)
	e.classifier.Wait()

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			// Interrupted: leave the job running so the next Run resumes it
			e.logger.Info().
				Str("job_id", job.ID).
				Int("last_committed_batch", job.LastCommittedBatch).
				Msg("Run interrupted; committed progress is resumable")
			return job, runErr
		}
		return job, e.failJob(ctx, job, runErr)
	}

	return job, e.completeJob(ctx, job)
}

// startOrResume finds the resumable job for the path or creates a fresh one.
// A running job whose fingerprint no longer matches the file is failed, not
// resumed; classifying rows of a changed file against a stale watermark
// would silently mix sources.
func (e *Engine) startOrResume(ctx context.Context, sourcePath, fingerprint string) (*models.Job, error) {
	jobStore := e.store.JobStorage()

	existing, err := jobStore.RunningJobForPath(ctx, sourcePath)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if existing.SourceFingerprint != fingerprint {
			existing.Status = models.JobStatusFailed
			existing.CompletedAt = time.Now()
			existing.Error = "source file changed since the job started"
			if uerr := jobStore.UpdateJobStatus(ctx, existing); uerr != nil {
				return nil, uerr
			}
			return nil, interfaces.ErrSourceChanged
		}
		e.logger.Info().
			Str("job_id", existing.ID).
			Int("resume_row", existing.ResumeRow()).
			Int("total_rows", existing.TotalRows).
			Msg("Resuming interrupted job")
		return existing, nil
	}

	total, err := leads.CountRows(sourcePath)
	if err != nil {
		return nil, err
	}

	job := models.NewJob(sourcePath, fingerprint, total, e.config.Pipeline.BatchSize)
	if err := jobStore.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Str("source", sourcePath).
		Int("total_rows", total).
		Int("batch_size", job.BatchSize).
		Msg("Job created")
	return job, nil
}

// processBatches runs the batch loop from the job's watermark to the end of
// the sheet. Each batch is classified by the worker pool and committed in
// one transaction; a batch interrupted by cancellation is never committed.
func (e *Engine) processBatches(ctx context.Context, job *models.Job, sourcePath string) error {
	reader, err := leads.Open(sourcePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if resume := job.ResumeRow(); resume > 0 {
		if err := reader.Skip(resume); err != nil {
			return fmt.Errorf("failed to seek to resume row %d: %w", resume, err)
		}
	}

	for batchIndex := job.LastCommittedBatch + 1; ; batchIndex++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := reader.ReadBatch(job.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		results := e.classifyBatch(ctx, job, batch)

		// Cancellation mid-batch aborts some leads with ctx errors; committing
		// those rows would advance the watermark past work that never ran.
		// Discard the whole batch so resume re-executes it.
		if err := ctx.Err(); err != nil {
			e.logger.Info().
				Str("job_id", job.ID).
				Int("batch", batchIndex).
				Msg("Cancelled mid-batch; batch discarded for re-execution on resume")
			return err
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		err = e.store.ResultStorage().RecordBatch(commitCtx, job.ID, batchIndex, results)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to commit batch %d: %w", batchIndex, err)
		}
		job.LastCommittedBatch = batchIndex

		var failed int
		for _, r := range results {
			if r.Failed() {
				failed++
			}
		}
		e.logger.Info().
			Str("job_id", job.ID).
			Int("batch", batchIndex).
			Int("rows", len(batch)).
			Int("failed", failed).
			Msg("Batch committed")

		if len(batch) < job.BatchSize {
			return nil
		}
	}
}

// classifyBatch fans the batch out over the worker pool. Per-lead failures
// land in the result rows; they never abort the batch.
func (e *Engine) classifyBatch(ctx context.Context, job *models.Job, batch []*models.Lead) []*models.LeadResult {
	results := make([]*models.LeadResult, len(batch))
	sem := make(chan struct{}, e.config.Pipeline.MaxConcurrent)
	var wg sync.WaitGroup

	for i, l := range batch {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, l *models.Lead) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.classifyLead(ctx, job, l)
		}(i, l)
	}
	wg.Wait()
	return results
}

func (e *Engine) classifyLead(ctx context.Context, job *models.Job, l *models.Lead) *models.LeadResult {
	result := &models.LeadResult{
		JobID:        job.ID,
		RowIndex:     l.RowIndex,
		EntityName:   l.EntityName,
		DirectorName: l.DirectorName,
		Address:      l.Address,
		City:         l.City,
		Province:     l.Province,
		Method:       models.MethodNone,
		CreatedAt:    time.Now(),
	}

	if err := l.Validate(); err != nil {
		result.ErrorKind = "lead-validation"
		result.ErrorMessage = err.Error()
		return result
	}

	start := time.Now()
	outcome, err := e.classifier.Classify(ctx, l)
	if err != nil {
		result.ProcessingTime = time.Since(start).Milliseconds()
		result.ErrorKind = errorKind(err)
		result.ErrorMessage = err.Error()
		e.logger.Warn().
			Err(err).
			Int("row", l.RowIndex).
			Str("kind", result.ErrorKind).
			Msg("Lead classification failed")
		return result
	}

	result.Category = outcome.Category
	result.Confidence = outcome.Confidence
	result.Method = outcome.Method
	result.Provider = outcome.Provider
	result.Cost = outcome.Cost
	result.Retries = outcome.Retries
	result.ProcessingTime = outcome.Elapsed.Milliseconds()
	return result
}

// errorKind maps a classification error to the kind recorded on the result
// row.
func errorKind(err error) string {
	if kind := llm.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "cancelled"
	}
	return "store-error"
}

// refreshCounters pulls the batch-accumulated counters back off the store so
// a status update does not clobber them with stale in-memory values.
func (e *Engine) refreshCounters(ctx context.Context, job *models.Job) {
	stored, err := e.store.JobStorage().GetJob(ctx, job.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to refresh job counters")
		return
	}
	job.ProcessedRows = stored.ProcessedRows
	job.FailedRows = stored.FailedRows
	job.LLMCost = stored.LLMCost
	job.ProcessingTime = stored.ProcessingTime
	job.LastCommittedBatch = stored.LastCommittedBatch
}

// completeJob validates the persisted row count against the source and moves
// the job to its terminal status.
func (e *Engine) completeJob(ctx context.Context, job *models.Job) error {
	count, err := e.store.ResultStorage().CountResults(ctx, job.ID)
	if err != nil {
		return err
	}

	e.refreshCounters(ctx, job)
	job.CompletedAt = time.Now()
	if count != job.TotalRows {
		job.Status = models.JobStatusFailed
		job.Error = fmt.Sprintf("completion validation failed: %d results for %d source rows", count, job.TotalRows)
		if uerr := e.store.JobStorage().UpdateJobStatus(ctx, job); uerr != nil {
			return uerr
		}
		return fmt.Errorf("%s", job.Error)
	}

	job.Status = models.JobStatusCompleted
	if err := e.store.JobStorage().UpdateJobStatus(ctx, job); err != nil {
		return err
	}

	e.logger.Info().
		Str("job_id", job.ID).
		Int("rows", count).
		Int("failed", job.FailedRows).
		Float64("llm_cost", job.LLMCost).
		Msg("Job completed")
	return nil
}

// failJob records a fatal run error on the job.
func (e *Engine) failJob(ctx context.Context, job *models.Job, runErr error) error {
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	e.refreshCounters(updateCtx, job)
	job.Status = models.JobStatusFailed
	job.CompletedAt = time.Now()
	job.Error = runErr.Error()
	if err := e.store.JobStorage().UpdateJobStatus(updateCtx, job); err != nil {
		e.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to record job failure")
	}
	return runErr
}

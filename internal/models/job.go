// -----------------------------------------------------------------------
// Classification Job - Durable state for a resumable pipeline run
// -----------------------------------------------------------------------

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a classification job.
// Terminal states (completed, failed, cancelled) are immutable; only a
// running job holds the source lock.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job represents one classification run over a spreadsheet source.
// LastCommittedBatch is the durable resume watermark: batch N committed means
// rows [0, (N+1)*BatchSize) are known to be persisted. It starts at -1 and
// never moves backwards.
type Job struct {
	ID                 string    `json:"id"`                   // job_{uuid}
	SourcePath         string    `json:"source_path"`          // Absolute input spreadsheet path
	SourceFingerprint  string    `json:"source_fingerprint"`   // size+mtime fingerprint at job start
	TotalRows          int       `json:"total_rows"`           // Planned row count from the reader
	BatchSize          int       `json:"batch_size"`           // Rows per committed batch
	LastCommittedBatch int       `json:"last_committed_batch"` // -1 until the first batch commits
	ProcessedRows      int       `json:"processed_rows"`
	FailedRows         int       `json:"failed_rows"`
	Status             JobStatus `json:"status"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at,omitempty"` // Zero until terminal
	LLMCost            float64   `json:"llm_cost"`               // Accumulated provider spend (USD)
	ProcessingTime     int64     `json:"processing_time_ms"`     // Accumulated wall time in milliseconds
	Error              string    `json:"error,omitempty"`
}

// NewJob creates a running job for a source path.
func NewJob(sourcePath, fingerprint string, totalRows, batchSize int) *Job {
	return &Job{
		ID:                 "job_" + uuid.New().String(),
		SourcePath:         sourcePath,
		SourceFingerprint:  fingerprint,
		TotalRows:          totalRows,
		BatchSize:          batchSize,
		LastCommittedBatch: -1,
		Status:             JobStatusRunning,
		StartedAt:          time.Now(),
	}
}

// ResumeRow returns the first row index not covered by a committed batch.
// An interrupted batch is re-executed entirely (conservative resume).
func (j *Job) ResumeRow() int {
	return (j.LastCommittedBatch + 1) * j.BatchSize
}

// IsTerminal reports whether the job has reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCancelled
}

// JobLock records exclusive ownership of a source path by a running job.
// At most one lock exists per path.
type JobLock struct {
	SourcePath string    `json:"source_path"`
	JobID      string    `json:"job_id"`
	Holder     string    `json:"holder"` // host:pid of the acquiring process
	AcquiredAt time.Time `json:"acquired_at"`
}

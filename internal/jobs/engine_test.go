package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/prospect/internal/common"
	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
	"github.com/ternarybob/prospect/internal/services/cascade"
	"github.com/ternarybob/prospect/internal/storage/sqlite"
)

// stubClassifier returns a fixed verdict and can trigger a cancellation when
// it reaches a chosen row, simulating a mid-batch kill. Once the context is
// cancelled it aborts like the real cascade does.
type stubClassifier struct {
	cancelAtRow int
	cancel      context.CancelFunc
}

func (s *stubClassifier) Classify(ctx context.Context, l *models.Lead) (*cascade.Result, error) {
	if s.cancel != nil && l.RowIndex == s.cancelAtRow {
		s.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &cascade.Result{
		Category:   models.CategoryAfrican,
		Confidence: 0.9,
		Method:     models.MethodRule,
	}, nil
}

func (s *stubClassifier) Wait() {}

func writeSource(t *testing.T, dir string, rows int) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := []interface{}{"Entity Name", "Director Name", "City", "Province"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	for i := 0; i < rows; i++ {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		row := []interface{}{fmt.Sprintf("Entity %d", i), fmt.Sprintf("Director %d", i), "Durban", "KwaZulu-Natal"}
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(dir, "leads.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func newTestEngine(t *testing.T, classifier Classifier) (*Engine, interfaces.StorageManager) {
	t.Helper()

	config := common.NewDefaultConfig()
	config.Pipeline.BatchSize = 100
	config.Pipeline.MaxConcurrent = 4

	store, err := sqlite.NewManager(arbor.NewLogger(), &common.SQLiteConfig{
		Path:          t.TempDir() + "/prospect.db",
		CacheSizeMB:   50,
		WALMode:       false,
		BusyTimeoutMS: 5000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewEngine(config, store, classifier, arbor.NewLogger()), store
}

func TestRun_ProcessesAllRows(t *testing.T) {
	engine, store := newTestEngine(t, &stubClassifier{})
	source := writeSource(t, t.TempDir(), 250)

	job, err := engine.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 250, job.ProcessedRows)
	assert.Equal(t, 0, job.FailedRows)

	count, err := store.ResultStorage().CountResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 250, count)
}

func TestRun_EmptySourceCompletesImmediately(t *testing.T) {
	engine, store := newTestEngine(t, &stubClassifier{})
	source := writeSource(t, t.TempDir(), 0)

	job, err := engine.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 0, job.TotalRows)
	assert.Equal(t, 0, job.ProcessedRows)

	count, err := store.ResultStorage().CountResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRun_InterruptedThenResumesWithoutGapsOrDuplicates(t *testing.T) {
	source := writeSource(t, t.TempDir(), 250)

	ctx, cancel := context.WithCancel(context.Background())
	classifier := &stubClassifier{cancelAtRow: 150, cancel: cancel}
	engine, store := newTestEngine(t, classifier)

	// First run dies during the second batch; only the first batch commits,
	// the interrupted batch is discarded rather than committed with aborted
	// rows
	job, err := engine.Run(ctx, source)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, job)

	stored, err := store.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, stored.Status)
	assert.Equal(t, 0, stored.LastCommittedBatch)
	assert.Equal(t, 100, stored.ResumeRow())

	count, err := store.ResultStorage().CountResults(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, count, "no rows from the interrupted batch are persisted")

	// Restart: same engine state machine, fresh context
	classifier.cancel = nil
	resumed, err := engine.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, job.ID, resumed.ID, "the interrupted job resumes, no new job is created")
	assert.Equal(t, models.JobStatusCompleted, resumed.Status)
	assert.Equal(t, 0, resumed.FailedRows)

	results, err := store.ResultStorage().GetResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 250)
	seen := make(map[int]bool, 250)
	for _, r := range results {
		assert.False(t, seen[r.RowIndex], "row %d classified twice", r.RowIndex)
		assert.False(t, r.Failed(), "row %d carried interruption residue: %s", r.RowIndex, r.ErrorKind)
		seen[r.RowIndex] = true
	}
	for i := 0; i < 250; i++ {
		assert.True(t, seen[i], "row %d missing", i)
	}
}

func TestRun_SourceChangedFailsFast(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, 120)

	ctx, cancel := context.WithCancel(context.Background())
	classifier := &stubClassifier{cancelAtRow: 50, cancel: cancel}
	engine, store := newTestEngine(t, classifier)

	job, err := engine.Run(ctx, source)
	require.ErrorIs(t, err, context.Canceled)

	// Rewrite the source with different content; size and mtime move
	time.Sleep(10 * time.Millisecond)
	writeSource(t, dir, 130)

	classifier.cancel = nil
	_, err = engine.Run(context.Background(), source)
	assert.ErrorIs(t, err, interfaces.ErrSourceChanged)

	stored, err := store.JobStorage().GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
}

func TestRun_LockContention(t *testing.T) {
	engine, store := newTestEngine(t, &stubClassifier{})
	source := writeSource(t, t.TempDir(), 10)

	// A live process already holds the path lock
	require.NoError(t, store.JobStorage().AcquireLock(context.Background(), &models.JobLock{
		SourcePath: source,
		JobID:      "job_other",
		Holder:     sqlite.LockHolder(),
		AcquiredAt: time.Now(),
	}))

	_, err := engine.Run(context.Background(), source)
	assert.ErrorIs(t, err, interfaces.ErrLockContention)
}

func TestRun_InvalidLeadsRecordedNotFatal(t *testing.T) {
	dir := t.TempDir()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	header := []interface{}{"Entity Name", "Director Name"}
	require.NoError(t, f.SetSheetRow(sheet, "A1", &header))
	rows := [][]interface{}{
		{"Entity 0", "Thabo Mthembu"},
		{"Entity 1", ""}, // Missing director name
		{"Entity 2", "Priya Naidoo"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	source := filepath.Join(dir, "leads.xlsx")
	require.NoError(t, f.SaveAs(source))
	f.Close()

	engine, store := newTestEngine(t, &stubClassifier{})
	job, err := engine.Run(context.Background(), source)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedRows)
	assert.Equal(t, 1, job.FailedRows)

	results, err := store.ResultStorage().GetResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "lead-validation", results[1].ErrorKind)
	assert.Equal(t, models.MethodNone, results[1].Method)
}

func TestFingerprint_ChangesWithContent(t *testing.T) {
	dir := t.TempDir()
	source := writeSource(t, dir, 5)

	fp1, err := Fingerprint(source)
	require.NoError(t, err)
	require.NotEmpty(t, fp1)

	time.Sleep(10 * time.Millisecond)
	writeSource(t, dir, 6)
	fp2, err := Fingerprint(source)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp2)
}

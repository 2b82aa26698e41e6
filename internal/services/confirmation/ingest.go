package confirmation

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// InvalidRow describes one reviewed row that could not be ingested.
type InvalidRow struct {
	SheetRow int    // 1-based row in the reviewed workbook
	Reason   string
}

// IngestReport summarizes one ingest pass over a reviewed workbook.
type IngestReport struct {
	Ingested int
	Skipped  int // Rows the reviewer left blank
	Invalid  []InvalidRow
}

// Ingestor reads a reviewed workbook back in and persists the confirmed
// verdicts. Blank confirmations are ignored; non-canonical values are
// reported per row and never stored.
type Ingestor struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
}

// NewIngestor creates a reviewed-workbook ingestor.
func NewIngestor(store interfaces.StorageManager, logger arbor.ILogger) *Ingestor {
	return &Ingestor{store: store, logger: logger}
}

// Ingest parses the reviewed workbook and upserts one confirmation per
// reviewed row. Re-ingesting the same workbook is idempotent.
func (in *Ingestor) Ingest(ctx context.Context, workbookPath, reviewedBy string) ([]*models.Confirmation, *IngestReport, error) {
	f, err := excelize.OpenFile(workbookPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open reviewed workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("reviewed workbook %s has no sheets", workbookPath)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to iterate reviewed sheet: %w", err)
	}
	defer rows.Close()

	report := &IngestReport{}
	var confirmations []*models.Confirmation
	var cols *reviewColumns
	jobs := newJobLookup(in.store)
	sheetRow := 0

	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return nil, nil, fmt.Errorf("failed reading reviewed row: %w", err)
		}
		sheetRow++

		if sheetRow == 1 {
			cols, err = mapReviewColumns(cells)
			if err != nil {
				return nil, nil, err
			}
			continue
		}

		confirmed := strings.TrimSpace(cols.cell(cells, cols.confirmed))
		if confirmed == "" {
			report.Skipped++
			continue
		}

		c, reason := in.buildConfirmation(ctx, jobs, cols, cells, confirmed, reviewedBy)
		if reason != "" {
			report.Invalid = append(report.Invalid, InvalidRow{SheetRow: sheetRow, Reason: reason})
			continue
		}

		if err := in.store.ConfirmationStorage().UpsertConfirmation(ctx, c); err != nil {
			return nil, nil, fmt.Errorf("failed to store confirmation for row %d: %w", sheetRow, err)
		}
		confirmations = append(confirmations, c)
		report.Ingested++
	}
	if err := rows.Error(); err != nil {
		return nil, nil, fmt.Errorf("failed iterating reviewed sheet: %w", err)
	}

	in.logger.Info().
		Str("workbook", workbookPath).
		Int("ingested", report.Ingested).
		Int("skipped", report.Skipped).
		Int("invalid", len(report.Invalid)).
		Msg("Reviewed workbook ingested")
	return confirmations, report, nil
}

// buildConfirmation resolves one reviewed row against the stored job and
// result. A non-empty reason means the row is invalid.
func (in *Ingestor) buildConfirmation(ctx context.Context, jobs *jobLookup, cols *reviewColumns, cells []string, confirmed, reviewedBy string) (*models.Confirmation, string) {
	category, ok := models.CategoryFromDisplayName(confirmed)
	if !ok {
		return nil, fmt.Sprintf("confirmed_ethnicity %q is not a canonical category", confirmed)
	}

	jobID := strings.TrimSpace(cols.cell(cells, cols.jobID))
	if jobID == "" {
		return nil, "job_id is empty"
	}
	rowIndex, err := strconv.Atoi(strings.TrimSpace(cols.cell(cells, cols.sourceRow)))
	if err != nil {
		return nil, fmt.Sprintf("source_row_number %q is not a number", cols.cell(cells, cols.sourceRow))
	}

	job, result, err := jobs.lookup(ctx, jobID, rowIndex)
	if err != nil {
		return nil, err.Error()
	}

	c := models.NewConfirmation(job.SourceFingerprint, rowIndex)
	c.ConfirmedCategory = category
	c.ConfirmedBy = reviewedBy
	c.ConfirmedAt = time.Now()
	c.Notes = strings.TrimSpace(cols.cell(cells, cols.notes))
	c.EntityName = result.EntityName
	c.DirectorName = result.DirectorName
	c.City = result.City
	c.Province = result.Province
	c.SpatialContext = joinSpatial(result.City, result.Province)
	c.Predicted = result.Category
	c.PredictedConf = result.Confidence
	c.PredictedMethod = result.Method
	return c, ""
}

// reviewColumns holds the 0-based indexes of the appended columns in a
// reviewed workbook.
type reviewColumns struct {
	confirmed int
	notes     int
	sourceRow int
	jobID     int
}

func mapReviewColumns(header []string) (*reviewColumns, error) {
	cols := &reviewColumns{confirmed: -1, notes: -1, sourceRow: -1, jobID: -1}
	for i, h := range header {
		switch strings.TrimSpace(strings.ToLower(h)) {
		case "confirmed_ethnicity":
			cols.confirmed = i
		case "confirmation_notes":
			cols.notes = i
		case "source_row_number":
			cols.sourceRow = i
		case "job_id":
			cols.jobID = i
		}
	}
	if cols.confirmed < 0 || cols.sourceRow < 0 || cols.jobID < 0 {
		return nil, fmt.Errorf("workbook is missing the confirmed_ethnicity, source_row_number or job_id column; was it produced by export?")
	}
	return cols, nil
}

func (c *reviewColumns) cell(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

// jobLookup caches jobs and their results across the rows of one workbook so
// each job is loaded once.
type jobLookup struct {
	store   interfaces.StorageManager
	jobs    map[string]*models.Job
	results map[string]map[int]*models.LeadResult
}

func newJobLookup(store interfaces.StorageManager) *jobLookup {
	return &jobLookup{
		store:   store,
		jobs:    make(map[string]*models.Job),
		results: make(map[string]map[int]*models.LeadResult),
	}
}

func (j *jobLookup) lookup(ctx context.Context, jobID string, rowIndex int) (*models.Job, *models.LeadResult, error) {
	job, ok := j.jobs[jobID]
	if !ok {
		loaded, err := j.store.JobStorage().GetJob(ctx, jobID)
		if err != nil {
			return nil, nil, fmt.Errorf("job %s is not known", jobID)
		}
		job = loaded
		j.jobs[jobID] = job

		results, err := j.store.ResultStorage().GetResults(ctx, jobID)
		if err != nil {
			return nil, nil, err
		}
		byRow := make(map[int]*models.LeadResult, len(results))
		for _, r := range results {
			byRow[r.RowIndex] = r
		}
		j.results[jobID] = byRow
	}

	result, ok := j.results[jobID][rowIndex]
	if !ok {
		return nil, nil, fmt.Errorf("job %s has no result for row %d", jobID, rowIndex)
	}
	return job, result, nil
}

package confirmation

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/prospect/internal/interfaces"
	"github.com/ternarybob/prospect/internal/models"
)

// Appended column headers, in output order, after the source's own columns.
var resultColumns = []string{
	"director_ethnicity",
	"ethnicity_confidence",
	"classification_method",
	"spatial_context",
	"processing_notes",
	"confirmed_ethnicity",
	"confirmation_notes",
	"source_row_number",
	"job_id",
	"processed_at",
}

// Exporter writes the review workbook: every source row verbatim, the
// classification verdict alongside, and a constrained confirmed_ethnicity
// column for the reviewer to fill in.
type Exporter struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
}

// NewExporter creates a review-workbook exporter.
func NewExporter(store interfaces.StorageManager, logger arbor.ILogger) *Exporter {
	return &Exporter{store: store, logger: logger}
}

// Export renders the review workbook for a finished job.
func (e *Exporter) Export(ctx context.Context, jobID, outputPath string) error {
	job, err := e.store.JobStorage().GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	results, err := e.store.ResultStorage().GetResults(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load results for %s: %w", jobID, err)
	}
	byRow := make(map[int]*models.LeadResult, len(results))
	for _, r := range results {
		byRow[r.RowIndex] = r
	}

	source, err := excelize.OpenFile(job.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source workbook: %w", err)
	}
	defer source.Close()

	sheets := source.GetSheetList()
	if len(sheets) == 0 {
		return fmt.Errorf("source workbook %s has no sheets", job.SourcePath)
	}
	rows, err := source.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("failed to iterate source sheet: %w", err)
	}
	defer rows.Close()

	out := excelize.NewFile()
	defer out.Close()
	outSheet := out.GetSheetName(0)

	var sourceWidth int
	outRow := 0
	dataRow := 0
	for rows.Next() {
		cells, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("failed reading source row: %w", err)
		}

		outRow++
		record := make([]interface{}, 0, len(cells)+len(resultColumns))
		for _, c := range cells {
			record = append(record, c)
		}

		if outRow == 1 {
			sourceWidth = len(cells)
			for _, h := range resultColumns {
				record = append(record, h)
			}
		} else {
			// Source rows can be ragged; pad to the header width
			for len(record) < sourceWidth {
				record = append(record, "")
			}
			record = append(record, e.resultCells(job, byRow[dataRow], dataRow)...)
			dataRow++
		}

		cell, err := excelize.CoordinatesToCellName(1, outRow)
		if err != nil {
			return err
		}
		if err := out.SetSheetRow(outSheet, cell, &record); err != nil {
			return fmt.Errorf("failed writing output row %d: %w", outRow, err)
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("failed iterating source sheet: %w", err)
	}

	if err := e.addConfirmationDropdown(out, outSheet, sourceWidth, outRow); err != nil {
		return err
	}

	if err := out.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save review workbook: %w", err)
	}

	e.logger.Info().
		Str("job_id", jobID).
		Str("output", outputPath).
		Int("rows", dataRow).
		Msg("Review workbook exported")
	return nil
}

// resultCells renders the appended verdict columns for one data row.
func (e *Exporter) resultCells(job *models.Job, r *models.LeadResult, rowIndex int) []interface{} {
	if r == nil {
		return []interface{}{
			"", "", "", "", "no result recorded", "", "", rowIndex, job.ID, "",
		}
	}

	var display string
	if r.Category != "" {
		display = models.CategoryDisplayName(r.Category)
	}
	var confidence interface{}
	if r.Category != "" {
		confidence = fmt.Sprintf("%.2f", r.Confidence)
	} else {
		confidence = ""
	}

	notes := ""
	if r.Failed() {
		notes = fmt.Sprintf("%s: %s", r.ErrorKind, r.ErrorMessage)
	} else if r.Method == models.MethodNone {
		notes = "unclassified"
	}

	spatial := joinSpatial(r.City, r.Province)

	return []interface{}{
		display,
		confidence,
		string(r.Method),
		spatial,
		notes,
		"", // confirmed_ethnicity, reviewer fills this in
		"", // confirmation_notes
		r.RowIndex,
		r.JobID,
		r.CreatedAt.Format(time.RFC3339),
	}
}

// addConfirmationDropdown constrains the confirmed_ethnicity column to the
// canonical display names.
func (e *Exporter) addConfirmationDropdown(f *excelize.File, sheet string, sourceWidth, lastRow int) error {
	if lastRow < 2 {
		return nil
	}

	col := sourceWidth + confirmedColumnOffset()
	first, err := excelize.CoordinatesToCellName(col, 2)
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(col, lastRow)
	if err != nil {
		return err
	}

	dv := excelize.NewDataValidation(true)
	dv.Sqref = first + ":" + last
	if err := dv.SetDropList(models.DisplayNames()); err != nil {
		return err
	}
	dv.SetError(excelize.DataValidationErrorStyleStop, "Invalid category", "Pick one of the listed ethnicity categories.")
	return f.AddDataValidation(sheet, dv)
}

// confirmedColumnOffset is the 1-based offset of confirmed_ethnicity within
// the appended columns.
func confirmedColumnOffset() int {
	for i, h := range resultColumns {
		if h == "confirmed_ethnicity" {
			return i + 1
		}
	}
	return 0
}

func joinSpatial(city, province string) string {
	switch {
	case city != "" && province != "":
		return city + ", " + province
	case city != "":
		return city
	default:
		return province
	}
}

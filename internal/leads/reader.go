package leads

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ternarybob/prospect/internal/models"
)

// Reader streams lead rows out of an XLSX workbook without loading the whole
// sheet. The first sheet is the data sheet; its first row is the header.
type Reader struct {
	file    *excelize.File
	sheet   string
	columns *columnMap
	rows    *excelize.Rows
	nextRow int // absolute zero-based data row index of the next Read
}

// Open opens the workbook, locates the header and prepares a forward-only row
// iterator positioned at data row zero.
func Open(path string) (*Reader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to iterate sheet %s: %w", sheet, err)
	}

	if !rows.Next() {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("workbook %s is empty", path)
	}
	header, err := rows.Columns()
	if err != nil {
		rows.Close()
		f.Close()
		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	columns, err := mapColumns(header)
	if err != nil {
		rows.Close()
		f.Close()
		return nil, err
	}

	return &Reader{
		file:    f,
		sheet:   sheet,
		columns: columns,
		rows:    rows,
	}, nil
}

// Skip advances past n data rows without materializing leads. Used to seek to
// the resume offset.
func (r *Reader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if !r.rows.Next() {
			if err := r.rows.Error(); err != nil {
				return fmt.Errorf("failed while skipping rows: %w", err)
			}
			return io.EOF
		}
		r.nextRow++
	}
	return nil
}

// ReadBatch returns up to size leads starting at the current position, each
// carrying its absolute data row index. A short (or empty) batch means the
// sheet is exhausted.
func (r *Reader) ReadBatch(size int) ([]*models.Lead, error) {
	batch := make([]*models.Lead, 0, size)
	for len(batch) < size {
		if !r.rows.Next() {
			if err := r.rows.Error(); err != nil {
				return batch, fmt.Errorf("failed reading row %d: %w", r.nextRow, err)
			}
			break
		}
		cells, err := r.rows.Columns()
		if err != nil {
			return batch, fmt.Errorf("failed reading row %d: %w", r.nextRow, err)
		}
		batch = append(batch, r.columns.lead(cells, r.nextRow))
		r.nextRow++
	}
	return batch, nil
}

// Close releases the iterator and the workbook.
func (r *Reader) Close() error {
	r.rows.Close()
	return r.file.Close()
}

// CountRows returns the number of data rows (header excluded) by streaming
// the sheet once.
func CountRows(path string) (int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return 0, fmt.Errorf("workbook %s has no sheets", path)
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return 0, fmt.Errorf("failed to iterate sheet: %w", err)
	}
	defer rows.Close()

	count := -1 // Discount the header
	for rows.Next() {
		count++
	}
	if err := rows.Error(); err != nil {
		return 0, fmt.Errorf("failed counting rows: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return count, nil
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

const defaultSheet = "Sheet1"

// WorkbookTable keeps sheets in a local .xlsx workbook. Every operation
// loads and saves the file, so separate processes see each other's writes
// as long as they hold the sheet lock.
type WorkbookTable struct {
	mu   sync.Mutex
	path string
}

func NewWorkbookTable(path string) (*WorkbookTable, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("workbook: create output dir: %w", err)
	}
	return &WorkbookTable{path: path}, nil
}

func (w *WorkbookTable) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("workbook: open %q: %w", w.path, err)
	}
	return f, nil
}

func (w *WorkbookTable) Exists(_ context.Context, sheet string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return false, err
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(sheet)
	if err != nil {
		return false, fmt.Errorf("workbook: sheet index: %w", err)
	}
	return idx >= 0, nil
}

func (w *WorkbookTable) Create(_ context.Context, sheet string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(sheet); idx >= 0 {
		return nil
	}
	if _, err := f.NewSheet(sheet); err != nil {
		return fmt.Errorf("workbook: new sheet %q: %w", sheet, err)
	}

	// A fresh workbook carries an empty default sheet.
	if sheet != defaultSheet {
		if rows, err := f.GetRows(defaultSheet); err == nil && len(rows) == 0 {
			_ = f.DeleteSheet(defaultSheet)
		}
	}
	if idx, err := f.GetSheetIndex(sheet); err == nil && idx >= 0 {
		f.SetActiveSheet(idx)
	}
	return w.save(f)
}

func (w *WorkbookTable) RowCount(_ context.Context, sheet string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return rowCount(f, sheet)
}

func rowCount(f *excelize.File, sheet string) (int, error) {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return 0, fmt.Errorf("workbook: read %q: %w", sheet, err)
	}
	return len(rows), nil
}

// Write stores rows from startRow on. Cells starting with "=" are stored as
// formulas, everything else as text so long ids keep every digit.
func (w *WorkbookTable) Write(_ context.Context, sheet string, startRow int, rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := w.open()
	if err != nil {
		return err
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return fmt.Errorf("workbook: sheet %q does not exist", sheet)
	}
	count, err := rowCount(f, sheet)
	if err != nil {
		return err
	}
	if count != startRow-1 {
		return fmt.Errorf("%w: %q has %d rows, write starts at %d", ErrSinkConflict, sheet, count, startRow)
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, startRow+r)
			if err != nil {
				return fmt.Errorf("workbook: cell name: %w", err)
			}
			if strings.HasPrefix(value, "=") {
				err = f.SetCellFormula(sheet, cell, strings.TrimPrefix(value, "="))
			} else {
				err = f.SetCellStr(sheet, cell, value)
			}
			if err != nil {
				return fmt.Errorf("workbook: set %s!%s: %w", sheet, cell, err)
			}
		}
	}
	return w.save(f)
}

func (w *WorkbookTable) save(f *excelize.File) error {
	if err := f.SaveAs(w.path); err != nil {
		return fmt.Errorf("workbook: save %q: %w", w.path, err)
	}
	return nil
}

func (w *WorkbookTable) Close() error { return nil }

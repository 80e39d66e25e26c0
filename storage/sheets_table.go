package storage

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"clip-metrics/utils"
)

// SheetsTable appends rows to tabs of a Google spreadsheet.
type SheetsTable struct {
	svc           *sheets.Service
	spreadsheetID string
	logger        *utils.Logger
}

// NewSheetsTable authenticates with a service-account key file. Extra
// client options are appended after the credentials.
func NewSheetsTable(ctx context.Context, spreadsheetID, credentialsFile string, logger *utils.Logger, opts ...option.ClientOption) (*SheetsTable, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("sheets: spreadsheet id is required")
	}

	var all []option.ClientOption
	if credentialsFile != "" {
		all = append(all, option.WithCredentialsFile(credentialsFile), option.WithScopes(sheets.SpreadsheetsScope))
	}
	all = append(all, opts...)

	svc, err := sheets.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &SheetsTable{svc: svc, spreadsheetID: spreadsheetID, logger: logger}, nil
}

func (s *SheetsTable) sheetID(ctx context.Context, sheet string) (int64, bool, error) {
	doc, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, false, fmt.Errorf("sheets: get spreadsheet: %w", err)
	}
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == sheet {
			return sh.Properties.SheetId, true, nil
		}
	}
	return 0, false, nil
}

func (s *SheetsTable) Exists(ctx context.Context, sheet string) (bool, error) {
	_, ok, err := s.sheetID(ctx, sheet)
	return ok, err
}

func (s *SheetsTable) Create(ctx context.Context, sheet string) error {
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: sheet}},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sheets: add sheet %q: %w", sheet, err)
	}
	return nil
}

func (s *SheetsTable) RowCount(ctx context.Context, sheet string) (int, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, quoteSheet(sheet)).
		MajorDimension("ROWS").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("sheets: read %q: %w", sheet, err)
	}
	return len(resp.Values), nil
}

// Write stores rows from startRow on. The header batch goes to row 1 with an
// update, later batches are appended as inserted rows. Formulas are entered
// as if typed by a user.
func (s *SheetsTable) Write(ctx context.Context, sheet string, startRow int, rows [][]string) error {
	count, err := s.RowCount(ctx, sheet)
	if err != nil {
		return err
	}
	if count != startRow-1 {
		return fmt.Errorf("%w: %q has %d rows, write starts at %d", ErrSinkConflict, sheet, count, startRow)
	}

	target := fmt.Sprintf("%s!A%d", quoteSheet(sheet), startRow)
	vr := &sheets.ValueRange{MajorDimension: "ROWS", Values: toValues(rows)}

	if startRow == 1 {
		_, err = s.svc.Spreadsheets.Values.Update(s.spreadsheetID, target, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
	} else {
		_, err = s.svc.Spreadsheets.Values.Append(s.spreadsheetID, target, vr).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("sheets: write %q at row %d: %w", sheet, startRow, err)
	}

	if len(rows) > 0 {
		s.autoResize(ctx, sheet, len(rows[0]))
	}
	return nil
}

func (s *SheetsTable) autoResize(ctx context.Context, sheet string, columns int) {
	id, ok, err := s.sheetID(ctx, sheet)
	if err != nil || !ok {
		s.logger.Warn("[sheets] Cannot resize %q: sheet id unavailable (%v)", sheet, err)
		return
	}
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    id,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   int64(columns),
				},
			},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		s.logger.Warn("[sheets] Resizing columns of %q: %v", sheet, err)
	}
}

func (s *SheetsTable) Close() error { return nil }

func quoteSheet(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// maxExactDigits is the longest integer a sheet cell stores without rounding.
const maxExactDigits = 15

// toValues forces integers too long for a double into text cells, which
// USER_ENTERED input would otherwise round.
func toValues(rows [][]string) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			if isDigits(v) && len(strings.TrimPrefix(v, "-")) > maxExactDigits {
				v = "'" + v
			}
			cells[j] = v
		}
		values[i] = cells
	}
	return values
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"clip-metrics/models"
	"clip-metrics/utils"
)

// HeaderVersion identifies the current column layout of every sheet.
const HeaderVersion = "v3"

var (
	// ErrSinkConflict means another writer changed the sheet between the
	// row count read and the write.
	ErrSinkConflict = errors.New("sink: destination row count changed")
	// ErrNoPendingUpload is returned when there is nothing, or more than one
	// thing, waiting to be uploaded.
	ErrNoPendingUpload = errors.New("sink: expected exactly one pending metrics file")
)

// linkColumns are rendered as hyperlink formulas.
var linkColumns = map[string]bool{
	"Song Link":     true,
	"Video Url":     true,
	"Thumbnail Url": true,
}

// AppendResult describes where rows landed.
type AppendResult struct {
	Sheet    string
	StartRow int
	Rows     int
	Header   bool
}

// Sink appends normalised records to the accumulating table.
type Sink struct {
	table   Table
	locker  Locker
	handoff *Handoff
	retry   *utils.RetryConfig
	logger  *utils.Logger
}

// NewSink creates a Sink. A conflicting append is retried up to maxRetries times.
func NewSink(table Table, locker Locker, handoff *Handoff, maxRetries int, logger *utils.Logger) *Sink {
	if locker == nil {
		locker = NopLocker{}
	}
	return &Sink{
		table:   table,
		locker:  locker,
		handoff: handoff,
		retry: &utils.RetryConfig{
			MaxAttempts: maxRetries,
			BaseDelay:   200 * time.Millisecond,
			Logger:      logger,
			Retryable:   func(err error) bool { return errors.Is(err, ErrSinkConflict) },
		},
		logger: logger,
	}
}

// Headers returns the display header row of platform.
func Headers(platform models.Platform) []string {
	names := models.FieldNames(platform)
	headers := make([]string, len(names))
	for i, n := range names {
		headers[i] = displayName(n)
	}
	return headers
}

func displayName(field string) string {
	if field == "ugc" {
		return "UGC"
	}
	words := strings.Split(field, "_")
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
}

// SheetName derives the sheet title from a metrics file name,
// e.g. tiktok_metrics.csv -> "Tiktok Metrics".
func SheetName(file string) string {
	stem := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	words := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

// AppendRecord appends one record to its platform sheet.
func (s *Sink) AppendRecord(ctx context.Context, rec models.Record) (*AppendResult, error) {
	platform := rec.Platform()
	return s.appendRows(ctx, SheetName(models.MetricsFile(platform)), platform, [][]string{RecordRow(rec)})
}

// UploadCSV appends the rows of a metrics CSV from the hand-off directory,
// then marks it uploaded and deletes it. A file that already carries a
// marker was uploaded by an earlier run and is only cleaned up.
func (s *Sink) UploadCSV(ctx context.Context, name string) (*AppendResult, error) {
	if s.handoff.HasMarker(name) {
		s.logger.Warn("[sink] %s already uploaded, cleaning up", name)
		return nil, s.cleanup(name)
	}

	platform, err := platformOf(name)
	if err != nil {
		return nil, err
	}

	header, rows, err := ReadCSV(s.handoff.Path(name))
	if err != nil {
		return nil, err
	}
	if want := models.FieldNames(platform); strings.Join(header, ",") != strings.Join(want, ",") {
		return nil, fmt.Errorf("sink: %s header %v does not match %s schema %s", name, header, platform, HeaderVersion)
	}
	if len(rows) == 0 {
		s.logger.Warn("[sink] %s has no data rows", name)
		return nil, s.handoff.Remove(name)
	}

	result, err := s.appendRows(ctx, SheetName(name), platform, rows)
	if err != nil {
		return nil, err
	}

	if err := s.handoff.CreateMarker(name); err != nil {
		return result, err
	}
	return result, s.cleanup(name)
}

// UploadPending uploads the single metrics CSV waiting in the hand-off directory.
func (s *Sink) UploadPending(ctx context.Context) (*AppendResult, error) {
	var pending []string
	for _, p := range models.Platforms {
		name := models.MetricsFile(p)
		if !s.handoff.Exists(name) {
			continue
		}
		if s.handoff.HasMarker(name) {
			if err := s.cleanup(name); err != nil {
				return nil, err
			}
			continue
		}
		pending = append(pending, name)
	}

	if len(pending) != 1 {
		return nil, fmt.Errorf("%w: found %d (%s)", ErrNoPendingUpload, len(pending), strings.Join(pending, ", "))
	}
	return s.UploadCSV(ctx, pending[0])
}

func (s *Sink) cleanup(name string) error {
	if err := s.handoff.Remove(name); err != nil {
		return err
	}
	return s.handoff.RemoveMarker(name)
}

func (s *Sink) appendRows(ctx context.Context, sheet string, platform models.Platform, rows [][]string) (*AppendResult, error) {
	cells := renderRows(platform, rows)

	release, err := s.locker.Acquire(ctx, sheet)
	if err != nil {
		return nil, fmt.Errorf("sink: lock %q: %w", sheet, err)
	}
	defer func() {
		if err := release(); err != nil {
			s.logger.Warn("[sink] Releasing lock on %q: %v", sheet, err)
		}
	}()

	exists, err := s.table.Exists(ctx, sheet)
	if err != nil {
		return nil, fmt.Errorf("sink: check sheet %q: %w", sheet, err)
	}
	if !exists {
		if err := s.table.Create(ctx, sheet); err != nil {
			return nil, fmt.Errorf("sink: create sheet %q: %w", sheet, err)
		}
		s.logger.Info("[sink] Created sheet %q", sheet)
	}

	var result *AppendResult
	err = s.retry.Do(ctx, "append to "+sheet, func() error {
		count, err := s.table.RowCount(ctx, sheet)
		if err != nil {
			return fmt.Errorf("sink: row count of %q: %w", sheet, err)
		}

		values, start := cells, count+1
		if count == 0 {
			values = append([][]string{Headers(platform)}, cells...)
			start = 1
		}
		if err := s.table.Write(ctx, sheet, start, values); err != nil {
			return err
		}

		result = &AppendResult{Sheet: sheet, StartRow: start, Rows: len(cells), Header: count == 0}
		if result.Header {
			result.StartRow = 2
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("[sink] Appended %d row(s) to %q at row %d", result.Rows, sheet, result.StartRow)
	return result, nil
}

// renderRows applies the link and fixed-point transforms to raw rows.
func renderRows(platform models.Platform, rows [][]string) [][]string {
	names := models.FieldNames(platform)
	headers := Headers(platform)
	numeric := numericFields(platform)

	out := make([][]string, len(rows))
	for r, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			switch {
			case i >= len(names):
				cells[i] = v
			case linkColumns[headers[i]]:
				cells[i] = Hyperlink(v, linkLabel(headers[i]))
			case numeric[names[i]]:
				cells[i] = FixedPoint(v)
			default:
				cells[i] = v
			}
		}
		out[r] = cells
	}
	return out
}

// numericFields names the integer-valued fields of a platform's records.
// Identifiers are strings and are never rewritten.
func numericFields(platform models.Platform) map[string]bool {
	numeric := make(map[string]bool)

	var rec models.Record
	switch platform {
	case models.TikTok:
		rec = &models.TikTokRecord{}
	case models.Instagram:
		rec = &models.InstagramRecord{}
	case models.YouTube:
		rec = &models.YouTubeRecord{}
	default:
		return numeric
	}
	for _, f := range rec.Fields() {
		switch f.Value.(type) {
		case int64, *int64:
			numeric[f.Name] = true
		}
	}
	return numeric
}

func linkLabel(header string) string {
	label := strings.Replace(header, " Url", "", 1)
	return strings.Replace(label, " Link", "", 1)
}

// Hyperlink renders url as a spreadsheet HYPERLINK formula. An empty url
// renders as an empty cell.
func Hyperlink(url, label string) string {
	if strings.TrimSpace(url) == "" {
		return ""
	}
	return fmt.Sprintf(`=HYPERLINK("%s", "%s")`, strings.ReplaceAll(url, `"`, `""`), label)
}

// maxFixedPointBits caps expansion at roughly 77 decimal digits.
const maxFixedPointBits = 256

// FixedPoint rewrites a number in exponent notation as plain digits. Other
// values are returned unchanged.
func FixedPoint(v string) string {
	if v == "" || isDigits(v) {
		return v
	}
	f, _, err := big.ParseFloat(v, 10, 256, big.ToNearestEven)
	if err != nil || f.IsInf() || f.MantExp(nil) > maxFixedPointBits {
		return v
	}
	return f.Text('f', 0)
}

func isDigits(v string) bool {
	v = strings.TrimPrefix(v, "-")
	if v == "" {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func platformOf(name string) (models.Platform, error) {
	for _, p := range models.Platforms {
		if filepath.Base(name) == models.MetricsFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("sink: %q is not a platform metrics file", name)
}

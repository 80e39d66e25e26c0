package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"clip-metrics/models"
)

// CSVWriter writes normalised records to a per-platform metrics CSV.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	header []string
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the raw field names of platform as header row. Intermediate
// directories are created automatically.
func NewCSVWriter(path string, platform models.Platform) (*CSVWriter, error) {
	header := models.FieldNames(platform)
	if header == nil {
		return nil, fmt.Errorf("csv: unsupported platform %q", platform)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w, header: header}, nil
}

// WriteRecord appends one record as a row.
func (c *CSVWriter) WriteRecord(rec models.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	row := RecordRow(rec)
	if len(row) != len(c.header) {
		return fmt.Errorf("csv: %s record has %d fields, header has %d", rec.Platform(), len(row), len(c.header))
	}
	if err := c.writer.Write(row); err != nil {
		return fmt.Errorf("csv: write row: %w", err)
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// WriteRecordFile writes rec to a fresh CSV at path.
func WriteRecordFile(path string, rec models.Record) error {
	w, err := NewCSVWriter(path, rec.Platform())
	if err != nil {
		return err
	}
	if err := w.WriteRecord(rec); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// ReadCSV returns the header and data rows of a CSV file.
func ReadCSV(path string) ([]string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("csv: read %q: %w", path, err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("csv: %q has no header", path)
	}
	return records[0], records[1:], nil
}

// RecordRow renders the fields of rec as CSV cells.
func RecordRow(rec models.Record) []string {
	fields := rec.Fields()
	row := make([]string, len(fields))
	for i, f := range fields {
		row[i] = FormatValue(f.Value)
	}
	return row
}

// FormatValue renders a field value: integers as plain digits, bools as
// true/false and nulls as an empty cell.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case *int64:
		if t == nil {
			return ""
		}
		return strconv.FormatInt(*t, 10)
	case *string:
		if t == nil {
			return ""
		}
		return *t
	}
	return fmt.Sprint(v)
}

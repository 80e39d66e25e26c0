package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"clip-metrics/utils"
)

// PostgresTable keeps sheets as rows of text cells in PostgreSQL.
type PostgresTable struct {
	db *sql.DB
}

// NewPostgresTable opens a connection to PostgreSQL, runs schema migrations,
// and returns a ready-to-use PostgresTable.
func NewPostgresTable(ctx context.Context, dsn string, logger *utils.Logger) (*PostgresTable, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	ping := &utils.RetryConfig{MaxAttempts: 10, BaseDelay: 2 * time.Second, Logger: logger}
	if err := ping.Do(ctx, "postgres ping", func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pt := &PostgresTable{db: db}
	if err := pt.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	return pt, nil
}

func (pt *PostgresTable) migrate() error {
	_, err := pt.db.Exec(`
		CREATE TABLE IF NOT EXISTS sheets (
			name       TEXT        PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS sheet_rows (
			sheet      TEXT        NOT NULL REFERENCES sheets(name) ON DELETE CASCADE,
			row_num    INTEGER     NOT NULL,
			cells      TEXT[]      NOT NULL,
			written_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (sheet, row_num)
		);
	`)
	return err
}

func (pt *PostgresTable) Exists(ctx context.Context, sheet string) (bool, error) {
	var exists bool
	err := pt.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sheets WHERE name = $1)`, sheet).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: sheet exists: %w", err)
	}
	return exists, nil
}

func (pt *PostgresTable) Create(ctx context.Context, sheet string) error {
	_, err := pt.db.ExecContext(ctx, `INSERT INTO sheets (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, sheet)
	if err != nil {
		return fmt.Errorf("postgres: create sheet: %w", err)
	}
	return nil
}

func (pt *PostgresTable) RowCount(ctx context.Context, sheet string) (int, error) {
	var n int
	err := pt.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheet_rows WHERE sheet = $1`, sheet).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: row count: %w", err)
	}
	return n, nil
}

// Write inserts rows starting at startRow in one transaction. The sheet row
// is locked for the duration, so concurrent writers are serialised and the
// loser sees a changed row count.
func (pt *PostgresTable) Write(ctx context.Context, sheet string, startRow int, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := pt.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	var name string
	err = tx.QueryRowContext(ctx, `SELECT name FROM sheets WHERE name = $1 FOR UPDATE`, sheet).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("postgres: sheet %q does not exist", sheet)
	}
	if err != nil {
		return fmt.Errorf("postgres: lock sheet: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sheet_rows WHERE sheet = $1`, sheet).Scan(&count); err != nil {
		return fmt.Errorf("postgres: row count: %w", err)
	}
	if count != startRow-1 {
		return fmt.Errorf("%w: %q has %d rows, write starts at %d", ErrSinkConflict, sheet, count, startRow)
	}

	const batchSize = 50
	for i := 0; i < len(rows); i += batchSize {
		end := i + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := pt.insertBatch(ctx, tx, sheet, startRow+i, rows[i:end]); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return fmt.Errorf("%w: %v", ErrSinkConflict, err)
			}
			return fmt.Errorf("postgres: insert rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (pt *PostgresTable) insertBatch(ctx context.Context, tx *sql.Tx, sheet string, firstRow int, batch [][]string) error {
	valueStrings := make([]string, 0, len(batch))
	valueArgs := make([]interface{}, 0, len(batch)*3)

	for idx, cells := range batch {
		base := idx * 3
		valueStrings = append(valueStrings, fmt.Sprintf("($%d,$%d,$%d)", base+1, base+2, base+3))
		valueArgs = append(valueArgs, sheet, firstRow+idx, pq.Array(cells))
	}

	query := fmt.Sprintf(`
		INSERT INTO sheet_rows (sheet, row_num, cells)
		VALUES %s
	`, strings.Join(valueStrings, ","))

	_, err := tx.ExecContext(ctx, query, valueArgs...)
	return err
}

// Rows returns every row of sheet in row order.
func (pt *PostgresTable) Rows(ctx context.Context, sheet string) ([][]string, error) {
	rows, err := pt.db.QueryContext(ctx, `
		SELECT cells
		FROM sheet_rows
		WHERE sheet = $1
		ORDER BY row_num
	`, sheet)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch rows: %w", err)
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		var cells []string
		if err := rows.Scan(pq.Array(&cells)); err != nil {
			return nil, fmt.Errorf("postgres: scan row: %w", err)
		}
		out = append(out, cells)
	}
	return out, rows.Err()
}

func (pt *PostgresTable) Close() error {
	return pt.db.Close()
}

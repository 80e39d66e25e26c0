package storage

import "context"

// Table is an accumulating, append-only store holding one sheet per platform.
// Row numbers are 1-based.
type Table interface {
	Exists(ctx context.Context, sheet string) (bool, error)
	Create(ctx context.Context, sheet string) error
	RowCount(ctx context.Context, sheet string) (int, error)

	// Write stores rows starting at startRow. It fails with ErrSinkConflict
	// when the sheet no longer holds exactly startRow-1 rows.
	Write(ctx context.Context, sheet string, startRow int, rows [][]string) error

	Close() error
}

// Locker serialises writers of the same sheet across runs.
type Locker interface {
	Acquire(ctx context.Context, name string) (release func() error, err error)
}

var (
	_ Table  = (*MemoryTable)(nil)
	_ Table  = (*WorkbookTable)(nil)
	_ Table  = (*SheetsTable)(nil)
	_ Table  = (*PostgresTable)(nil)
	_ Locker = NopLocker{}
	_ Locker = (*FileLock)(nil)
	_ Locker = (*RedisLock)(nil)
)

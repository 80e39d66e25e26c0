package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTable keeps sheets in memory. It backs dry runs.
type MemoryTable struct {
	mu     sync.Mutex
	sheets map[string][][]string
}

func NewMemoryTable() *MemoryTable {
	return &MemoryTable{sheets: make(map[string][][]string)}
}

func (m *MemoryTable) Exists(_ context.Context, sheet string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sheets[sheet]
	return ok, nil
}

func (m *MemoryTable) Create(_ context.Context, sheet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sheets[sheet]; !ok {
		m.sheets[sheet] = nil
	}
	return nil
}

func (m *MemoryTable) RowCount(_ context.Context, sheet string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sheets[sheet]), nil
}

func (m *MemoryTable) Write(_ context.Context, sheet string, startRow int, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sheets[sheet]
	if !ok {
		return fmt.Errorf("memory: sheet %q does not exist", sheet)
	}
	if len(existing) != startRow-1 {
		return fmt.Errorf("%w: %q has %d rows, write starts at %d", ErrSinkConflict, sheet, len(existing), startRow)
	}
	for _, row := range rows {
		m.sheets[sheet] = append(m.sheets[sheet], append([]string(nil), row...))
	}
	return nil
}

// Rows returns a copy of every row of sheet.
func (m *MemoryTable) Rows(sheet string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.sheets[sheet]))
	for i, row := range m.sheets[sheet] {
		out[i] = append([]string(nil), row...)
	}
	return out
}

func (m *MemoryTable) Close() error { return nil }

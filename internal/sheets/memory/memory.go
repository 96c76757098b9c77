// Package memory provides an in-memory TransactionWriter used in tests
// and when no Google spreadsheet is configured.
package memory

import (
	"context"
	"fmt"
	"sync"

	"financemate/internal/core"
	ports "financemate/internal/sheets"
)

type Writer struct {
	mu   sync.Mutex
	rows []core.Transaction
}

var _ ports.TransactionWriter = (*Writer)(nil)

func New() *Writer {
	return &Writer{}
}

func (w *Writer) Append(_ context.Context, t core.Transaction) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rows = append(w.rows, t)
	return fmt.Sprintf("mem:%d", len(w.rows)), nil
}

// Rows returns a copy of everything appended so far.
func (w *Writer) Rows() []core.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]core.Transaction, len(w.rows))
	copy(out, w.rows)
	return out
}

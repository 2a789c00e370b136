package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"feeledger/internal/core"
	ports "feeledger/internal/sheets"
)

var _ ports.Register = (*Register)(nil)

// Register keeps register rows in process memory.
type Register struct {
	mu   sync.Mutex
	rows []core.RegisterRow
}

func New() *Register {
	return &Register{}
}

// AppendRow stores the row and returns a synthetic row reference.
func (r *Register) AppendRow(_ context.Context, row core.RegisterRow) (string, error) {
	if row.ReceiptNumber <= 0 {
		return "", errors.New("register row has no receipt number")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return fmt.Sprintf("mem:%d", len(r.rows)), nil
}

// ListRows returns the rows of one session in append order.
func (r *Register) ListRows(_ context.Context, sessionName string) ([]core.RegisterRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.RegisterRow
	for _, row := range r.rows {
		if row.SessionName == sessionName {
			out = append(out, row)
		}
	}
	return out, nil
}

// Len returns the number of rows across all sessions.
func (r *Register) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

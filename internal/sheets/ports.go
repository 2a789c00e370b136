package sheets

import (
	"context"

	"feeledger/internal/core"
)

// Ports for outbound adapters.
type (
	// RegisterWriter appends rows to the receipt register.
	RegisterWriter interface {
		AppendRow(ctx context.Context, row core.RegisterRow) (rowRef string, err error)
	}

	// RegisterLister reads back the register of one academic session.
	RegisterLister interface {
		ListRows(ctx context.Context, sessionName string) ([]core.RegisterRow, error)
	}

	Register interface {
		RegisterWriter
		RegisterLister
	}
)

package backend

import (
	"context"

	"feeledger/internal/sheets"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// RegisterResult contains the register instance and optional cleanup function
type RegisterResult struct {
	Register sheets.Register
	Cleanup  CleanupFunc
}

// Factory creates receipt registers based on configuration
type Factory interface {
	// CreateRegister creates a register instance based on the provided config
	CreateRegister(ctx context.Context, config Config) (*RegisterResult, error)
}

// Config holds configuration for register creation
type Config struct {
	Type RegisterType

	// Google Sheets specific
	GoogleSpreadsheetID     string
	GoogleRegisterSheetName string
	HasCredentials          bool
}

// RegisterType names where the receipt register lives
type RegisterType string

const (
	SheetsRegister RegisterType = "sheets"
	MemoryRegister RegisterType = "memory"
)

// String implements fmt.Stringer
func (rt RegisterType) String() string {
	return string(rt)
}

// IsValid returns true if the register type is valid
func (rt RegisterType) IsValid() bool {
	switch rt {
	case SheetsRegister, MemoryRegister:
		return true
	default:
		return false
	}
}

package ledger

import (
	"fmt"

	"github.com/bobmcallan/fundterm/internal/models"
)

// InsufficientHoldingError is returned when a sell asks for more quantity
// than the position holds. The transaction is not recorded.
type InsufficientHoldingError struct {
	Symbol    string
	AssetType models.AssetType
	Requested float64
	Available float64
}

func (e *InsufficientHoldingError) Error() string {
	return fmt.Sprintf("insufficient holding for %s (%s): requested %.4f, available %.4f",
		e.Symbol, e.AssetType, e.Requested, e.Available)
}

// InconsistentReversalError is returned when reversing a transaction would
// leave the position in an impossible state. Nothing is mutated.
type InconsistentReversalError struct {
	TransactionID string
	Reason        string
}

func (e *InconsistentReversalError) Error() string {
	return fmt.Sprintf("cannot reverse transaction %s: %s", e.TransactionID, e.Reason)
}

// AtomicUpdateError is returned when a decision log and its coupled capital
// update could not commit together. Neither side persisted.
type AtomicUpdateError struct {
	Op  string
	Err error
}

func (e *AtomicUpdateError) Error() string {
	return fmt.Sprintf("atomic update failed during %s: %v", e.Op, e.Err)
}

func (e *AtomicUpdateError) Unwrap() error {
	return e.Err
}

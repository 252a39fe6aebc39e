package marketdata

import (
	"fmt"
	"strings"

	"github.com/bobmcallan/fundterm/internal/models"
)

// DataUnavailableError is returned when every provider in the failover chain
// failed for one call. Tried preserves the order providers were attempted;
// Causes holds the corresponding per-provider errors.
type DataUnavailableError struct {
	Op     string
	Symbol string
	Tried  []models.Source
	Causes []error
}

func (e *DataUnavailableError) Error() string {
	parts := make([]string, 0, len(e.Tried))
	for i, src := range e.Tried {
		cause := "unknown"
		if i < len(e.Causes) && e.Causes[i] != nil {
			cause = e.Causes[i].Error()
		}
		parts = append(parts, fmt.Sprintf("%s: %s", src, cause))
	}
	return fmt.Sprintf("%s %s: all providers failed (%s)", e.Op, e.Symbol, strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider causes to errors.Is/As.
func (e *DataUnavailableError) Unwrap() []error {
	return e.Causes
}

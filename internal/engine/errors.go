package engine

import (
	"errors"
	"fmt"
)

// InvalidArgumentError rejects a request before any write happens.
type InvalidArgumentError struct {
	Msg string
}

func (e InvalidArgumentError) Error() string { return e.Msg }

func invalidArgf(format string, args ...any) error {
	return InvalidArgumentError{Msg: fmt.Sprintf(format, args...)}
}

// InsufficientStockError means a grant asked for more than the product has
// on hand. Nothing was written.
type InsufficientStockError struct {
	ItemID    string
	ProductID string
	Granted   float64
}

func (e InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for item %s: cannot grant %g", e.ItemID, e.Granted)
}

// ErrConflict means a concurrent update won the race; the caller should
// re-read and retry.
var ErrConflict = errors.New("conflict: concurrent update")

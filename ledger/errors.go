package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// InvalidTradeError reports a malformed TradeEvent handed straight to the
// ledger without going through Validate.
type InvalidTradeError struct {
	Reason string
}

func (e *InvalidTradeError) Error() string { return "invalid trade: " + e.Reason }

// MissingFieldError reports a required payload field that is absent or empty.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string { return fmt.Sprintf("missing required field: %s", e.Field) }

// InvalidNumberError reports a numeric field that is not a finite number > 0.
type InvalidNumberError struct {
	Field string
	Value any
}

func (e *InvalidNumberError) Error() string {
	return fmt.Sprintf("%s must be a finite number greater than 0 (got %v)", e.Field, e.Value)
}

// UnknownActionError reports an action outside BUY/ADD/SELL/REDUCE.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q (use BUY|ADD|SELL|REDUCE)", e.Action)
}

// PositionNotFoundError is returned when selling a symbol that is not held.
type PositionNotFoundError struct {
	Symbol string
}

func (e *PositionNotFoundError) Error() string { return fmt.Sprintf("position not found: %s", e.Symbol) }

// InsufficientQuantityError is returned when a sell exceeds the held quantity.
type InsufficientQuantityError struct {
	Symbol    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient shares of %s: requested %s, available %s",
		e.Symbol, e.Requested.String(), e.Available.String())
}

// PersistenceError wraps a store failure that survived every retry.
type PersistenceError struct {
	Op       string
	Symbol   string
	Attempts int
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("store %s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("store %s %s failed after %d attempt(s): %v", e.Op, e.Symbol, e.Attempts, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound     = errors.New("product not found")
	ErrInvalidProduct      = errors.New("invalid product")
	ErrVariantNotFound     = errors.New("variant not found")
	ErrDuplicateVariant    = errors.New("duplicate variant")
	ErrOutOfStock          = errors.New("out of stock")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrReservationClosed   = errors.New("reservation is no longer active")
	ErrProductExists       = errors.New("product already exists")
	ErrOrderLineNotFound   = errors.New("order line not found")
	ErrInvariant           = errors.New("stock invariant violated")

	// ErrAlreadyFulfilled is returned when a deduction was already committed.
	// Callers treat it as success.
	ErrAlreadyFulfilled = errors.New("order line already fulfilled")
	// ErrInvalidTransition signals an integration bug and must alert.
	ErrInvalidTransition = errors.New("invalid order line transition")
	ErrDriftDetected     = errors.New("aggregate drift detected")
)

// OutOfStockError carries the availability observed under the product lock.
type OutOfStockError struct {
	ProductID string
	Key       VariantKey
	Available int
	Requested int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: product %s variant %s: only %d left, requested %d",
		e.ProductID, e.Key, e.Available, e.Requested)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

// InvariantError reports a stock line that would leave 0 <= reserved <= stock.
type InvariantError struct {
	Key      VariantKey
	Stock    int
	Reserved int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("stock invariant violated on %s: stock=%d reserved=%d", e.Key, e.Stock, e.Reserved)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// TransitionError describes a refused order line transition.
type TransitionError struct {
	OrderID string
	Index   int
	From    LineState
	Event   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s line %d: cannot apply %s in state %s", e.OrderID, e.Index, e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

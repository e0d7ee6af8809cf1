package inventory

import (
	"context"
	"time"
)

// Tx is the working view of one product held under its exclusive lock.
// Writes are buffered and only become visible if the surrounding
// Store.Atomically call commits.
type Tx interface {
	Product() *Product
	Reservation(id Token) (*Reservation, error)
	PutReservation(r *Reservation)
	OrderLine(orderID string, index int) (*OrderLine, error)
	PutOrderLine(l *OrderLine)
	Append(e LedgerEntry)
}

// Change is what a committed unit of work left behind.
type Change struct {
	Product *Product
	Entries []LedgerEntry
}

// Store persists products with their stock lines, reservations, order lines
// and the ledger.
//
// Atomically runs fn with the product locked against every other writer and
// applies its buffered writes plus the product (version bumped) in one step.
// If fn returns an error nothing is written. Reads never take the lock.
type Store interface {
	// CreateProduct stores a new product together with its opening entries.
	CreateProduct(ctx context.Context, p *Product, opening []LedgerEntry) error
	Product(ctx context.Context, id string) (*Product, error)
	// Products pages through products ordered by id, starting after the
	// given id.
	Products(ctx context.Context, after string, limit int) ([]*Product, error)
	Reservation(ctx context.Context, id Token) (*Reservation, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
	OrderLines(ctx context.Context, orderID string) ([]*OrderLine, error)
	// Ledger returns matching entries in append order. A non-positive
	// limit returns all of them.
	Ledger(ctx context.Context, f LedgerFilter) ([]LedgerEntry, error)
	Atomically(ctx context.Context, productID string, fn func(tx Tx) error) (*Change, error)
}

// Observer is told about every committed change, e.g. to refresh caches or
// publish the ledger. Observers must not block for long.
type Observer interface {
	Committed(ctx context.Context, c *Change)
}

type Observers []Observer

func (os Observers) Committed(ctx context.Context, c *Change) {
	if c == nil {
		return
	}
	for _, o := range os {
		o.Committed(ctx, c)
	}
}

type ObserverFunc func(ctx context.Context, c *Change)

func (f ObserverFunc) Committed(ctx context.Context, c *Change) { f(ctx, c) }

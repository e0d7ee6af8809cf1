package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultHoldTTL = 30 * time.Minute

// Recorder counts operation outcomes.
type Recorder interface {
	Outcome(op, result string)
}

type nopRecorder struct{}

func (nopRecorder) Outcome(string, string) {}

// Result classifies err for metrics labels.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrVariantNotFound):
		return "variant_not_found"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrAlreadyFulfilled):
		return "already_fulfilled"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidProduct),
		errors.Is(err, ErrReservationClosed), errors.Is(err, ErrReservationNotFound):
		return "rejected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

// Engine moves stock between available and reserved for single variants.
type Engine struct {
	store     Store
	observers Observers
	rec       Recorder
	log       *zap.Logger
	holdTTL   time.Duration
	now       func() time.Time
}

type EngineOption func(*Engine)

func WithHoldTTL(d time.Duration) EngineOption { return func(e *Engine) { e.holdTTL = d } }

func WithObservers(os ...Observer) EngineOption {
	return func(e *Engine) { e.observers = append(e.observers, os...) }
}

func WithRecorder(r Recorder) EngineOption { return func(e *Engine) { e.rec = r } }

func WithClock(now func() time.Time) EngineOption { return func(e *Engine) { e.now = now } }

func NewEngine(store Store, log *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		rec:     nopRecorder{},
		log:     log,
		holdTTL: DefaultHoldTTL,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Store() Store { return e.store }

// CreateProduct registers the stock lines of a catalog product.
func (e *Engine) CreateProduct(ctx context.Context, p *Product) error {
	var opening []LedgerEntry
	if p.HasVariants() {
		for _, r := range p.Variants() {
			if r.Stock == 0 && r.Reserved == 0 {
				continue
			}
			opening = append(opening, NewEntry(p.ID, r.Key, KindReceive, r.Stock, r.Reserved))
		}
	} else if p.TotalStock() > 0 || p.TotalReserved() > 0 {
		opening = append(opening, NewEntry(p.ID, DefaultKey, KindReceive, p.TotalStock(), p.TotalReserved()))
	}
	if err := e.store.CreateProduct(ctx, p, opening); err != nil {
		return err
	}
	e.log.Info("product registered",
		zap.String("product_id", p.ID),
		zap.Int("variants", len(p.Variants())),
		zap.Int("total_stock", p.TotalStock()))
	e.observers.Committed(ctx, &Change{Product: p.Clone(), Entries: opening})
	return nil
}

// Available is a lock-free read for display; it may be stale.
func (e *Engine) Available(ctx context.Context, productID string, key VariantKey) (int, error) {
	p, err := e.store.Product(ctx, productID)
	if err != nil {
		return 0, err
	}
	r, err := p.Record(key)
	if err != nil {
		return 0, err
	}
	return r.Available(), nil
}

// Reserve holds qty of the variant for a cart.
func (e *Engine) Reserve(ctx context.Context, productID string, key VariantKey, qty int, cartID string) (Token, error) {
	now := e.now()
	res := &Reservation{
		ID:        Token(uuid.NewString()),
		ProductID: productID,
		Quantity:  qty,
		CartID:    cartID,
		Status:    ReservationActive,
		CreatedAt: now,
		ExpiresAt: now.Add(e.holdTTL),
		UpdatedAt: now,
	}
	change, err := e.store.Atomically(ctx, productID, func(tx Tx) error {
		rec, err := tx.Product().Reserve(key, qty)
		if err != nil {
			return err
		}
		res.Key = rec.Key
		tx.PutReservation(res)
		en := NewEntry(productID, rec.Key, KindHold, 0, qty)
		en.Reference = string(res.ID)
		tx.Append(en)
		return nil
	})
	e.rec.Outcome("reserve", Result(err))
	if err != nil {
		e.log.Debug("reserve refused",
			zap.String("product_id", productID),
			zap.Stringer("variant", key),
			zap.Int("qty", qty),
			zap.Error(err))
		return "", err
	}
	e.observers.Committed(ctx, change)
	return res.ID, nil
}

// Release drops a hold. Releasing a hold that is no longer active is a
// logged no-op.
func (e *Engine) Release(ctx context.Context, token Token) error {
	_, err := e.closeHold(ctx, token, ReservationReleased, KindHoldRelease, nil)
	e.rec.Outcome("release", Result(err))
	return err
}

// ReleaseExpired releases up to limit holds whose expiry passed, returning
// how many were released.
func (e *Engine) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := e.store.ExpiredReservations(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list expired holds: %w", err)
	}
	n := 0
	for _, r := range expired {
		stillExpired := func(cur *Reservation) bool { return cur.Expired(now) }
		closed, err := e.closeHold(ctx, r.ID, ReservationExpired, KindHoldExpire, stillExpired)
		if err != nil {
			e.rec.Outcome("expire", Result(err))
			return n, fmt.Errorf("expire hold %s: %w", r.ID, err)
		}
		if closed {
			e.rec.Outcome("expire", "ok")
			n++
		}
	}
	return n, nil
}

func (e *Engine) closeHold(ctx context.Context, token Token, status ReservationStatus, kind LedgerKind, guard func(*Reservation) bool) (bool, error) {
	r, err := e.store.Reservation(ctx, token)
	if err != nil {
		return false, err
	}
	var skipped *Reservation
	change, err := e.store.Atomically(ctx, r.ProductID, func(tx Tx) error {
		cur, err := tx.Reservation(token)
		if err != nil {
			return err
		}
		if !cur.Active() || (guard != nil && !guard(cur)) {
			skipped = cur
			return nil
		}
		if _, err := tx.Product().Unreserve(cur.Key, cur.Quantity); err != nil {
			return err
		}
		cur.Status = status
		cur.UpdatedAt = e.now()
		tx.PutReservation(cur)
		en := NewEntry(cur.ProductID, cur.Key, kind, 0, -cur.Quantity)
		en.Reference = string(cur.ID)
		tx.Append(en)
		return nil
	})
	if err != nil {
		return false, err
	}
	if skipped != nil {
		if guard == nil {
			e.log.Warn("hold already closed, release ignored",
				zap.String("token", string(token)),
				zap.String("status", string(skipped.Status)))
		}
		return false, nil
	}
	e.observers.Committed(ctx, change)
	return true, nil
}

// AdjustQuantity changes the held quantity. An increase is checked against
// availability like a new hold; on failure the hold is left as it was.
func (e *Engine) AdjustQuantity(ctx context.Context, token Token, newQty int) error {
	if newQty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, newQty)
	}
	r, err := e.store.Reservation(ctx, token)
	if err != nil {
		return err
	}
	change, err := e.store.Atomically(ctx, r.ProductID, func(tx Tx) error {
		cur, err := tx.Reservation(token)
		if err != nil {
			return err
		}
		if !cur.Active() {
			return fmt.Errorf("%w: %s is %s", ErrReservationClosed, token, cur.Status)
		}
		delta := newQty - cur.Quantity
		switch {
		case delta > 0:
			_, err = tx.Product().Reserve(cur.Key, delta)
		case delta < 0:
			_, err = tx.Product().Unreserve(cur.Key, -delta)
		default:
			return nil
		}
		if err != nil {
			return err
		}
		now := e.now()
		cur.Quantity = newQty
		cur.ExpiresAt = now.Add(e.holdTTL)
		cur.UpdatedAt = now
		tx.PutReservation(cur)
		en := NewEntry(cur.ProductID, cur.Key, KindHoldAdjust, 0, delta)
		en.Reference = string(cur.ID)
		tx.Append(en)
		return nil
	})
	e.rec.Outcome("adjust", Result(err))
	if err != nil {
		return err
	}
	e.observers.Committed(ctx, change)
	return nil
}

// Receive books a stock intake (positive delta) or write-off (negative).
func (e *Engine) Receive(ctx context.Context, productID string, key VariantKey, delta int) (StockRecord, error) {
	var rec StockRecord
	change, err := e.store.Atomically(ctx, productID, func(tx Tx) error {
		var err error
		rec, err = tx.Product().Receive(key, delta)
		if err != nil {
			return err
		}
		tx.Append(NewEntry(productID, rec.Key, KindReceive, delta, 0))
		return nil
	})
	e.rec.Outcome("receive", Result(err))
	if err != nil {
		return StockRecord{}, err
	}
	e.log.Info("stock received",
		zap.String("product_id", productID),
		zap.Stringer("variant", rec.Key),
		zap.Int("delta", delta),
		zap.Int("stock", rec.Stock))
	e.observers.Committed(ctx, change)
	return rec, nil
}

package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

var (
	ErrEmptyOrder          = errors.New("order has no lines")
	ErrLineExists          = errors.New("order line already exists")
	ErrReplacementRequired = errors.New("exchange needs a replacement variant")
)

// DefaultExchangeHoldTTL covers the time a returned item takes to reach the
// warehouse before its replacement ships.
const DefaultExchangeHoldTTL = 14 * 24 * time.Hour

// Reason says why a line gives its stock back.
type Reason string

const (
	Cancelled        Reason = "CANCELLED"
	ReturnApproved   Reason = "RETURN_APPROVED"
	ExchangeApproved Reason = "EXCHANGE_APPROVED"
)

func (r Reason) event() (inventory.LineEvent, error) {
	switch r {
	case Cancelled:
		return inventory.EventCancelled, nil
	case ReturnApproved:
		return inventory.EventReturnApproved, nil
	case ExchangeApproved:
		return inventory.EventExchangeApproved, nil
	}
	return "", fmt.Errorf("unknown release reason %q", r)
}

// LineInput is one cart hold being turned into an order line.
type LineInput struct {
	Token          inventory.Token `json:"token"`
	UnitPriceCents int64           `json:"unit_price_cents"`
}

type ReleaseRequest struct {
	OrderID string
	Index   int
	Reason  Reason
	// Replacement is the variant of the same product that an exchange holds.
	Replacement *inventory.VariantKey
}

// Coordinator drives order lines through their states and moves stock with
// every transition.
type Coordinator struct {
	engine      *inventory.Engine
	store       inventory.Store
	observers   inventory.Observers
	rec         inventory.Recorder
	log         *zap.Logger
	exchangeTTL time.Duration
	now         func() time.Time
}

type Option func(*Coordinator)

func WithObservers(os ...inventory.Observer) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, os...) }
}

func WithRecorder(r inventory.Recorder) Option { return func(c *Coordinator) { c.rec = r } }

// WithExchangeHoldTTL sets how long an exchange replacement hold lives. It is
// separate from the cart hold TTL.
func WithExchangeHoldTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.exchangeTTL = d
		}
	}
}

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func NewCoordinator(engine *inventory.Engine, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		engine:      engine,
		store:       engine.Store(),
		rec:         noRecorder{},
		log:         log,
		exchangeTTL: DefaultExchangeHoldTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type noRecorder struct{}

func (noRecorder) Outcome(string, string) {}

func (c *Coordinator) Lines(ctx context.Context, orderID string) ([]*inventory.OrderLine, error) {
	return c.store.OrderLines(ctx, orderID)
}

// Checkout converts cart holds into order lines, one line per hold in input
// order. When any hold cannot be converted the lines already created are
// cancelled, the remaining holds are released and the error is returned.
func (c *Coordinator) Checkout(ctx context.Context, orderID string, in []LineInput) ([]*inventory.OrderLine, error) {
	if orderID == "" || len(in) == 0 {
		return nil, ErrEmptyOrder
	}
	out := make([]*inventory.OrderLine, 0, len(in))
	for i, li := range in {
		l, err := c.convert(ctx, orderID, i, li)
		if err != nil {
			c.rec.Outcome("checkout", inventory.Result(err))
			c.unwind(orderID, out, in[i:])
			return nil, fmt.Errorf("checkout order %s line %d: %w", orderID, i, err)
		}
		out = append(out, l)
	}
	c.rec.Outcome("checkout", "ok")
	c.log.Info("order placed", zap.String("order_id", orderID), zap.Int("lines", len(out)))
	return out, nil
}

func (c *Coordinator) convert(ctx context.Context, orderID string, index int, li LineInput) (*inventory.OrderLine, error) {
	r, err := c.store.Reservation(ctx, li.Token)
	if err != nil {
		return nil, err
	}
	var line *inventory.OrderLine
	change, err := c.store.Atomically(ctx, r.ProductID, func(tx inventory.Tx) error {
		cur, err := tx.Reservation(li.Token)
		if err != nil {
			return err
		}
		if cur.Status == inventory.ReservationConverted && cur.OrderID == orderID {
			existing, err := tx.OrderLine(orderID, index)
			if err == nil && existing.ReservationID == string(cur.ID) {
				line = existing
				return nil
			}
		}
		if !cur.Active() {
			return fmt.Errorf("%w: %s is %s", inventory.ErrReservationClosed, li.Token, cur.Status)
		}
		if _, err := tx.OrderLine(orderID, index); err == nil {
			return fmt.Errorf("%w: order %s line %d", ErrLineExists, orderID, index)
		} else if !errors.Is(err, inventory.ErrOrderLineNotFound) {
			return err
		}

		now := c.now()
		cur.Status = inventory.ReservationConverted
		cur.OrderID = orderID
		cur.UpdatedAt = now
		tx.PutReservation(cur)

		line = &inventory.OrderLine{
			OrderID:        orderID,
			Index:          index,
			ProductID:      cur.ProductID,
			Key:            cur.Key,
			Quantity:       cur.Quantity,
			UnitPriceCents: li.UnitPriceCents,
			State:          inventory.LineAwaitingFulfillment,
			ReservationID:  string(cur.ID),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		tx.PutOrderLine(line)
		tx.Append(c.entry(line, inventory.KindCheckout, 0, 0, string(cur.ID)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.observers.Committed(ctx, change)
	return line, nil
}

// unwind runs on a fresh context: the caller's may be the reason checkout
// failed.
func (c *Coordinator) unwind(orderID string, converted []*inventory.OrderLine, pending []LineInput) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, l := range converted {
		if _, err := c.Release(ctx, ReleaseRequest{OrderID: orderID, Index: l.Index, Reason: Cancelled}); err != nil {
			c.log.Error("checkout unwind: cancel line failed",
				zap.String("order_id", orderID), zap.Int("index", l.Index), zap.Error(err))
		}
	}
	for _, li := range pending {
		if err := c.engine.Release(ctx, li.Token); err != nil && !errors.Is(err, inventory.ErrReservationNotFound) {
			c.log.Error("checkout unwind: release hold failed",
				zap.String("order_id", orderID), zap.String("token", string(li.Token)), zap.Error(err))
		}
	}
}

// CommitDeduction books the delivered quantity out of stock. A repeat returns
// ErrAlreadyFulfilled without changing anything.
func (c *Coordinator) CommitDeduction(ctx context.Context, orderID string, index int) error {
	_, err := c.transition(ctx, orderID, index, inventory.EventDeliveryConfirmed, nil)
	c.rec.Outcome("commit", inventory.Result(err))
	return err
}

// Release gives a line's stock back. For exchanges it returns the token of
// the hold placed on the replacement variant.
func (c *Coordinator) Release(ctx context.Context, req ReleaseRequest) (inventory.Token, error) {
	ev, err := req.Reason.event()
	if err != nil {
		return "", err
	}
	if ev == inventory.EventExchangeApproved && req.Replacement == nil {
		return "", ErrReplacementRequired
	}
	tok, err := c.transition(ctx, req.OrderID, req.Index, ev, req.Replacement)
	c.rec.Outcome("release_line", inventory.Result(err))
	return tok, err
}

func (c *Coordinator) locate(ctx context.Context, orderID string, index int) (*inventory.OrderLine, error) {
	lines, err := c.store.OrderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for _, l := range lines {
		if l.Index == index {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: order %s line %d", inventory.ErrOrderLineNotFound, orderID, index)
}

func (c *Coordinator) transition(ctx context.Context, orderID string, index int, ev inventory.LineEvent, replacement *inventory.VariantKey) (inventory.Token, error) {
	found, err := c.locate(ctx, orderID, index)
	if err != nil {
		return "", err
	}

	var (
		done    *inventory.OrderLine
		token   inventory.Token
		applied *inventory.OrderLine
	)
	change, err := c.store.Atomically(ctx, found.ProductID, func(tx inventory.Tx) error {
		l, err := tx.OrderLine(orderID, index)
		if err != nil {
			return err
		}
		next, ok := l.State.Next(ev)
		if !ok {
			if l.State.Applied(ev) {
				done = l
				return nil
			}
			return &inventory.TransitionError{OrderID: orderID, Index: index, From: l.State, Event: string(ev)}
		}

		p := tx.Product()
		q := l.Quantity
		switch ev {
		case inventory.EventDeliveryConfirmed:
			if _, err := p.Deduct(l.Key, q); err != nil {
				return err
			}
			l.Fulfilled = true
			tx.Append(c.entry(l, inventory.KindCommit, -q, -q, l.ReservationID))
		case inventory.EventCancelled:
			if _, err := p.Unreserve(l.Key, q); err != nil {
				return err
			}
			tx.Append(c.entry(l, inventory.KindCancel, 0, -q, l.ReservationID))
		case inventory.EventReturnApproved:
			if _, err := p.Restock(l.Key, q); err != nil {
				return err
			}
			tx.Append(c.entry(l, inventory.KindReturnRestock, q, 0, l.ReservationID))
		case inventory.EventExchangeApproved:
			if _, err := p.Restock(l.Key, q); err != nil {
				return err
			}
			tx.Append(c.entry(l, inventory.KindExchangeRestock, q, 0, l.ReservationID))
			rec, err := p.Reserve(*replacement, q)
			if err != nil {
				return err
			}
			now := c.now()
			hold := &inventory.Reservation{
				ID:        inventory.Token(uuid.NewString()),
				ProductID: l.ProductID,
				Key:       rec.Key,
				Quantity:  q,
				CartID:    "exchange:" + orderID,
				Status:    inventory.ReservationActive,
				CreatedAt: now,
				ExpiresAt: now.Add(c.exchangeTTL),
				UpdatedAt: now,
			}
			tx.PutReservation(hold)
			en := inventory.NewEntry(l.ProductID, rec.Key, inventory.KindExchangeHold, 0, q)
			en.OrderID = orderID
			en.Reference = string(hold.ID)
			tx.Append(en)
			l.ReplacementID = string(hold.ID)
			token = hold.ID
		}
		l.State = next
		l.UpdatedAt = c.now()
		tx.PutOrderLine(l)
		applied = l
		return nil
	})
	if err != nil {
		if errors.Is(err, inventory.ErrInvalidTransition) {
			c.log.Error("order line transition refused",
				zap.String("order_id", orderID), zap.Int("index", index),
				zap.String("event", string(ev)), zap.Error(err))
		}
		return "", err
	}

	if done != nil {
		if ev == inventory.EventDeliveryConfirmed {
			c.log.Debug("delivery already committed",
				zap.String("order_id", orderID), zap.Int("index", index))
			return "", inventory.ErrAlreadyFulfilled
		}
		c.log.Warn("order line event repeated, ignored",
			zap.String("order_id", orderID), zap.Int("index", index),
			zap.String("event", string(ev)), zap.String("state", string(done.State)))
		return inventory.Token(done.ReplacementID), nil
	}

	c.log.Info("order line transitioned",
		zap.String("order_id", orderID), zap.Int("index", index),
		zap.String("event", string(ev)), zap.String("state", string(applied.State)))
	c.observers.Committed(ctx, change)
	return token, nil
}

func (c *Coordinator) entry(l *inventory.OrderLine, kind inventory.LedgerKind, dStock, dReserved int, ref string) inventory.LedgerEntry {
	en := inventory.NewEntry(l.ProductID, l.Key, kind, dStock, dReserved)
	en.OrderID = l.OrderID
	en.Reference = ref
	return en
}

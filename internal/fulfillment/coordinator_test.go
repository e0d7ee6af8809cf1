package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

var (
	blueS = inventory.Key("S", "Blue")
	redM  = inventory.Key("M", "Red")
)

type fixture struct {
	engine *inventory.Engine
	coord  *Coordinator
	store  *inventory.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := inventory.NewMemoryStore()
	log := zaptest.NewLogger(t)
	e := inventory.NewEngine(store, log)
	p, err := inventory.NewProduct("P", []inventory.StockRecord{
		{Key: blueS, Stock: 10},
		{Key: redM, Stock: 3},
	})
	require.NoError(t, err)
	require.NoError(t, e.CreateProduct(context.Background(), p))
	return &fixture{engine: e, coord: NewCoordinator(e, log), store: store}
}

func (f *fixture) record(t *testing.T, key inventory.VariantKey) inventory.StockRecord {
	t.Helper()
	p, err := f.store.Product(context.Background(), "P")
	require.NoError(t, err)
	r, err := p.Record(key)
	require.NoError(t, err)
	stock, reserved := p.Sums()
	require.Equal(t, stock, p.TotalStock())
	require.Equal(t, reserved, p.TotalReserved())
	return r
}

// placeOrder reserves qty of blueS and checks it out as order O, line 0.
func (f *fixture) placeOrder(t *testing.T, qty int) {
	t.Helper()
	ctx := context.Background()
	tok, err := f.engine.Reserve(ctx, "P", blueS, qty, "cart")
	require.NoError(t, err)
	lines, err := f.coord.Checkout(ctx, "O", []LineInput{{Token: tok, UnitPriceCents: 1999}})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, inventory.LineAwaitingFulfillment, lines[0].State)
	assert.False(t, lines[0].Fulfilled)
}

func TestCommitDeductionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)
	r := f.record(t, blueS)
	require.Equal(t, 10, r.Stock)
	require.Equal(t, 2, r.Reserved)

	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))
	r = f.record(t, blueS)
	assert.Equal(t, 8, r.Stock)
	assert.Equal(t, 0, r.Reserved)

	err := f.coord.CommitDeduction(ctx, "O", 0)
	assert.ErrorIs(t, err, inventory.ErrAlreadyFulfilled)
	r = f.record(t, blueS)
	assert.Equal(t, 8, r.Stock)
	assert.Equal(t, 0, r.Reserved)

	lines, err := f.coord.Lines(ctx, "O")
	require.NoError(t, err)
	assert.True(t, lines[0].Fulfilled)
	assert.Equal(t, inventory.LineFulfilled, lines[0].State)
}

func TestCancelBeforeFulfillment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)

	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: Cancelled})
	require.NoError(t, err)
	r := f.record(t, blueS)
	assert.Equal(t, 10, r.Stock)
	assert.Equal(t, 0, r.Reserved)

	// repeat is a no-op
	_, err = f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: Cancelled})
	require.NoError(t, err)
	assert.Equal(t, 0, f.record(t, blueS).Reserved)

	// a cancelled line can not be delivered
	err = f.coord.CommitDeduction(ctx, "O", 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)
}

func TestReturnAfterDelivery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))

	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ReturnApproved})
	require.NoError(t, err)
	r := f.record(t, blueS)
	assert.Equal(t, 10, r.Stock)
	assert.Equal(t, 0, r.Reserved)

	_, err = f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ReturnApproved})
	require.NoError(t, err)
	assert.Equal(t, 10, f.record(t, blueS).Stock)

	lines, err := f.coord.Lines(ctx, "O")
	require.NoError(t, err)
	assert.Equal(t, inventory.LineRestocked, lines[0].State)
	assert.True(t, lines[0].Fulfilled, "fulfilled is never reset")
}

func TestInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)

	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ReturnApproved})
	assert.ErrorIs(t, err, inventory.ErrInvalidTransition)

	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))
	_, err = f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: Cancelled})
	var te *inventory.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, inventory.LineFulfilled, te.From)

	_, err = f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 7, Reason: Cancelled})
	assert.ErrorIs(t, err, inventory.ErrOrderLineNotFound)

	_, err = f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: "LOST"})
	assert.Error(t, err)
}

func TestExchangeHoldsReplacement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))

	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ExchangeApproved})
	assert.ErrorIs(t, err, ErrReplacementRequired)

	repl := inventory.Key("m", "red")
	tok, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ExchangeApproved, Replacement: &repl})
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	assert.Equal(t, 10, f.record(t, blueS).Stock)
	r := f.record(t, redM)
	assert.Equal(t, 3, r.Stock)
	assert.Equal(t, 2, r.Reserved)

	hold, err := f.store.Reservation(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationActive, hold.Status)
	assert.Equal(t, "M", hold.Key.Size)

	// the cart sweeper leaves the replacement alone
	n, err := f.engine.ReleaseExpired(ctx, time.Now().UTC().Add(2*time.Hour), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 2, f.record(t, redM).Reserved)

	again, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ExchangeApproved, Replacement: &repl})
	require.NoError(t, err)
	assert.Equal(t, tok, again)
	assert.Equal(t, 2, f.record(t, redM).Reserved)
}

func TestExchangeHoldTTL(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.coord = NewCoordinator(f.engine, zaptest.NewLogger(t),
		WithClock(func() time.Time { return now }),
		WithExchangeHoldTTL(72*time.Hour))
	f.placeOrder(t, 1)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))

	tok, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ExchangeApproved, Replacement: &redM})
	require.NoError(t, err)
	hold, err := f.store.Reservation(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, now.Add(72*time.Hour), hold.ExpiresAt)
	assert.Equal(t, "exchange:O", hold.CartID)
}

func TestExchangeOutOfStockChangesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 4)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))

	repl := redM
	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ExchangeApproved, Replacement: &repl})
	assert.ErrorIs(t, err, inventory.ErrOutOfStock)

	assert.Equal(t, 6, f.record(t, blueS).Stock)
	assert.Equal(t, 0, f.record(t, redM).Reserved)
	lines, err := f.coord.Lines(ctx, "O")
	require.NoError(t, err)
	assert.Equal(t, inventory.LineFulfilled, lines[0].State)
}

func TestCheckoutUnwindsOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	t1, err := f.engine.Reserve(ctx, "P", blueS, 2, "cart")
	require.NoError(t, err)
	t2, err := f.engine.Reserve(ctx, "P", redM, 1, "cart")
	require.NoError(t, err)
	t3, err := f.engine.Reserve(ctx, "P", redM, 1, "cart")
	require.NoError(t, err)
	require.NoError(t, f.engine.Release(ctx, t2))

	_, err = f.coord.Checkout(ctx, "O", []LineInput{{Token: t1}, {Token: t2}, {Token: t3}})
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)

	assert.Equal(t, 0, f.record(t, blueS).Reserved)
	assert.Equal(t, 0, f.record(t, redM).Reserved)

	lines, err := f.coord.Lines(ctx, "O")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, inventory.LineReleased, lines[0].State)

	r, err := f.store.Reservation(ctx, t3)
	require.NoError(t, err)
	assert.Equal(t, inventory.ReservationReleased, r.Status)
}

func TestCheckoutRetryIsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tok, err := f.engine.Reserve(ctx, "P", blueS, 2, "cart")
	require.NoError(t, err)

	in := []LineInput{{Token: tok, UnitPriceCents: 500}}
	first, err := f.coord.Checkout(ctx, "O", in)
	require.NoError(t, err)
	second, err := f.coord.Checkout(ctx, "O", in)
	require.NoError(t, err)
	assert.Equal(t, first[0].ReservationID, second[0].ReservationID)
	assert.Equal(t, 2, f.record(t, blueS).Reserved)

	// the converted hold can not be checked out into another order
	_, err = f.coord.Checkout(ctx, "O2", in)
	assert.ErrorIs(t, err, inventory.ErrReservationClosed)
	assert.Equal(t, 2, f.record(t, blueS).Reserved)

	_, err = f.coord.Checkout(ctx, "", in)
	assert.ErrorIs(t, err, ErrEmptyOrder)
}

func TestLedgerRecordsEveryTransition(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))
	_, err := f.coord.Release(ctx, ReleaseRequest{OrderID: "O", Index: 0, Reason: ReturnApproved})
	require.NoError(t, err)

	entries, err := f.store.Ledger(ctx, inventory.LedgerFilter{OrderID: "O"})
	require.NoError(t, err)
	var kinds []inventory.LedgerKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []inventory.LedgerKind{inventory.KindCheckout, inventory.KindCommit, inventory.KindReturnRestock}, kinds)
	assert.Equal(t, -2, entries[1].StockDelta)
	assert.Equal(t, -2, entries[1].ReservedDelta)
}

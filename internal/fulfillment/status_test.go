package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	kafkax "github.com/ariefcatur/go-variant-inventory/internal/kafka"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
)

func TestApplyStatusFollowsOrderLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)

	res, err := f.coord.ApplyStatus(ctx, "O", orders.StatusPlaced, orders.StatusShipped, nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.coord.ApplyStatus(ctx, "O", orders.StatusShipped, orders.StatusDelivered, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, string(inventory.LineFulfilled), res[0].State)
	assert.Equal(t, 8, f.record(t, blueS).Stock)

	// redelivered webhook
	res, err = f.coord.ApplyStatus(ctx, "O", "", orders.StatusDelivered, nil)
	require.NoError(t, err)
	assert.True(t, res[0].Noop)
	assert.Equal(t, 8, f.record(t, blueS).Stock)

	_, err = f.coord.ApplyStatus(ctx, "O", orders.StatusDelivered, orders.StatusCancelled, nil)
	assert.ErrorIs(t, err, ErrStatusTransition)

	_, err = f.coord.ApplyStatus(ctx, "O", orders.StatusDelivered, orders.StatusReturnApproved, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, f.record(t, blueS).Stock)
}

func TestApplyStatusCancelsEveryLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	t1, err := f.engine.Reserve(ctx, "P", blueS, 2, "cart")
	require.NoError(t, err)
	t2, err := f.engine.Reserve(ctx, "P", redM, 1, "cart")
	require.NoError(t, err)
	_, err = f.coord.Checkout(ctx, "O", []LineInput{{Token: t1}, {Token: t2}})
	require.NoError(t, err)

	res, err := f.coord.ApplyStatus(ctx, "O", orders.StatusPaid, orders.StatusCancelled, nil)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		assert.Equal(t, string(inventory.LineReleased), r.State)
	}
	assert.Equal(t, 0, f.record(t, blueS).Reserved)
	assert.Equal(t, 0, f.record(t, redM).Reserved)
}

func TestApplyStatusExchangeNeedsReplacements(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 1)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))

	res, err := f.coord.ApplyStatus(ctx, "O", orders.StatusDelivered, orders.StatusExchangeApproved, nil)
	assert.ErrorIs(t, err, ErrReplacementRequired)
	require.Len(t, res, 1)
	assert.NotEmpty(t, res[0].Error)

	res, err = f.coord.ApplyStatus(ctx, "O", orders.StatusExchangeRequested, orders.StatusExchangeApproved,
		map[int]inventory.VariantKey{0: redM})
	require.NoError(t, err)
	assert.NotEmpty(t, res[0].Replacement)
	assert.Equal(t, 1, f.record(t, redM).Reserved)
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) First(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

func statusMessage(t *testing.T, eventID string, p orders.OrderStatusChangedPayload) kafkago.Message {
	t.Helper()
	env := kafkax.NewEnvelope(orders.EventOrderStatusChanged, "test", p.OrderID, p)
	env.EventID = eventID
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return kafkago.Message{Key: orders.PartitionKey(p.OrderID), Value: b}
}

func TestStatusHandlerDedupsEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 2)
	dedup := &memDedup{seen: map[string]bool{}}
	h := &StatusHandler{Coordinator: f.coord, Dedup: dedup, Log: zaptest.NewLogger(t)}

	msg := statusMessage(t, "ev-1", orders.OrderStatusChangedPayload{OrderID: "O", From: orders.StatusShipped, To: orders.StatusDelivered})
	require.NoError(t, h.HandleMessage(ctx, msg))
	require.NoError(t, h.HandleMessage(ctx, msg))
	assert.Equal(t, 8, f.record(t, blueS).Stock)
	assert.True(t, dedup.seen["ev-1"])

	// rejected transitions are not retried
	bad := statusMessage(t, "ev-2", orders.OrderStatusChangedPayload{OrderID: "O", From: orders.StatusDelivered, To: orders.StatusCancelled})
	require.NoError(t, h.HandleMessage(ctx, bad))

	require.NoError(t, h.HandleMessage(ctx, kafkago.Message{Value: []byte("not json")}))
}

func TestStatusHandlerForgetsOnRetryableFailure(t *testing.T) {
	f := newFixture(t)
	f.placeOrder(t, 2)
	dedup := &memDedup{seen: map[string]bool{}}
	h := &StatusHandler{Coordinator: f.coord, Dedup: dedup, Log: zaptest.NewLogger(t)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := statusMessage(t, "ev-3", orders.OrderStatusChangedPayload{OrderID: "O", To: orders.StatusDelivered})
	err := h.HandleMessage(ctx, msg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, dedup.seen["ev-3"], "mark dropped so the redelivery is applied")

	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.Equal(t, 8, f.record(t, blueS).Stock)
}

// flakyStore fails every write to the product named by down.
type flakyStore struct {
	*inventory.MemoryStore
	mu   sync.Mutex
	down string
}

func (s *flakyStore) setDown(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = productID
}

func (s *flakyStore) Atomically(ctx context.Context, productID string, fn func(tx inventory.Tx) error) (*inventory.Change, error) {
	s.mu.Lock()
	down := s.down == productID
	s.mu.Unlock()
	if down {
		return nil, errors.New("connection reset by peer")
	}
	return s.MemoryStore.Atomically(ctx, productID, fn)
}

func TestStatusHandlerRetriesMixedLineFailures(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)
	store := &flakyStore{MemoryStore: inventory.NewMemoryStore()}
	e := inventory.NewEngine(store, log)
	for id, stock := range map[string]int{"P": 10, "Q": 5} {
		p, err := inventory.NewProduct(id, []inventory.StockRecord{{Key: blueS, Stock: stock}, {Key: redM, Stock: 5}})
		require.NoError(t, err)
		require.NoError(t, e.CreateProduct(ctx, p))
	}
	coord := NewCoordinator(e, log)
	t1, err := e.Reserve(ctx, "P", blueS, 1, "cart")
	require.NoError(t, err)
	t2, err := e.Reserve(ctx, "Q", blueS, 1, "cart")
	require.NoError(t, err)
	_, err = coord.Checkout(ctx, "O", []LineInput{{Token: t1}, {Token: t2}})
	require.NoError(t, err)
	require.NoError(t, coord.CommitDeduction(ctx, "O", 0))
	require.NoError(t, coord.CommitDeduction(ctx, "O", 1))

	dedup := &memDedup{seen: map[string]bool{}}
	h := &StatusHandler{Coordinator: coord, Dedup: dedup, Log: log}
	// line 0 has no replacement, line 1 hits a store outage
	msg := statusMessage(t, "ev-x", orders.OrderStatusChangedPayload{
		OrderID: "O", From: orders.StatusExchangeRequested, To: orders.StatusExchangeApproved,
		Replacements: []orders.Replacement{{Index: 1, Size: "M", Color: "Red"}},
	})

	store.setDown("Q")
	err = h.HandleMessage(ctx, msg)
	require.Error(t, err, "the transient line keeps the offset uncommitted")
	assert.ErrorIs(t, err, ErrReplacementRequired)
	assert.False(t, dedup.seen["ev-x"])

	q, err := store.Product(ctx, "Q")
	require.NoError(t, err)
	r, err := q.Record(blueS)
	require.NoError(t, err)
	assert.Equal(t, 4, r.Stock, "nothing restocked during the outage")

	store.setDown("")
	require.NoError(t, h.HandleMessage(ctx, msg), "only the permanent line is left failing")

	q, err = store.Product(ctx, "Q")
	require.NoError(t, err)
	r, err = q.Record(blueS)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Stock)
	r, err = q.Record(redM)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Reserved)

	lines, err := coord.Lines(ctx, "O")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	for _, l := range lines {
		if l.Index == 1 {
			assert.Equal(t, inventory.LineRestocked, l.State)
			assert.NotEmpty(t, l.ReplacementID)
		} else {
			assert.Equal(t, inventory.LineFulfilled, l.State)
		}
	}
}

func TestStatusHandlerAppliesCorrectedResend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.placeOrder(t, 1)
	require.NoError(t, f.coord.CommitDeduction(ctx, "O", 0))
	dedup := &memDedup{seen: map[string]bool{}}
	h := &StatusHandler{Coordinator: f.coord, Dedup: dedup, Log: zaptest.NewLogger(t)}

	p := orders.OrderStatusChangedPayload{OrderID: "O", From: orders.StatusExchangeRequested, To: orders.StatusExchangeApproved}
	require.NoError(t, h.HandleMessage(ctx, statusMessage(t, "ev-ex", p)))
	assert.False(t, dedup.seen["ev-ex"])
	assert.Equal(t, 0, f.record(t, redM).Reserved)

	p.Replacements = []orders.Replacement{{Index: 0, Size: "M", Color: "Red"}}
	require.NoError(t, h.HandleMessage(ctx, statusMessage(t, "ev-ex", p)))
	assert.True(t, dedup.seen["ev-ex"])
	assert.Equal(t, 1, f.record(t, redM).Reserved)
	assert.Equal(t, 10, f.record(t, blueS).Stock)
}

func TestPermanent(t *testing.T) {
	transient := errors.New("connection reset by peer")
	line := func(i int, err error) error { return fmt.Errorf("line %d: %w", i, err) }

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transient", transient, false},
		{"replacement missing", ErrReplacementRequired, true},
		{"status transition", fmt.Errorf("%w: DELIVERED -> CANCELLED", ErrStatusTransition), true},
		{"all lines permanent", errors.Join(line(0, ErrReplacementRequired), line(1, inventory.ErrOutOfStock)), true},
		{"one line transient", errors.Join(line(0, ErrReplacementRequired), line(1, transient)), false},
		{"wrapped mixed join", fmt.Errorf("apply: %w", errors.Join(line(0, transient), line(1, ErrReplacementRequired))), false},
		{"cancelled", line(0, context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Permanent(tt.err))
		})
	}
}

package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

type countAlerts struct{ n int }

func (c *countAlerts) Drift(context.Context, reconcile.DriftReport) { c.n++ }

func newScheduler(t *testing.T, opts ...inventory.EngineOption) (*Scheduler, *countAlerts) {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := inventory.NewMemoryStore()
	a := &countAlerts{}
	return &Scheduler{
		Engine:     inventory.NewEngine(store, log, opts...),
		Reconciler: reconcile.New(store, log),
		Alerts:     []reconcile.Alerter{a},
		Log:        log,
	}, a
}

func TestSweepReleasesExpiredHolds(t *testing.T) {
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	s, _ := newScheduler(t, inventory.WithClock(func() time.Time { return past }))

	p, err := inventory.NewSimpleProduct("S", 10)
	require.NoError(t, err)
	require.NoError(t, s.Engine.CreateProduct(ctx, p))
	for range 3 {
		_, err := s.Engine.Reserve(ctx, "S", inventory.DefaultKey, 2, "cart")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.Sweep(ctx))
	got, err := s.Engine.Store().Product(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalReserved())

	assert.Zero(t, s.Sweep(ctx))
}

func TestCheckAlertsOnDrift(t *testing.T) {
	ctx := context.Background()
	s, a := newScheduler(t)
	p := inventory.RestoreProduct("P", []inventory.StockRecord{{Key: inventory.Key("S", "Blue"), Stock: 10}}, 999, 0, 1, time.Now())
	require.NoError(t, s.Engine.CreateProduct(ctx, p))

	assert.Equal(t, 1, s.Check(ctx))
	assert.Equal(t, 1, a.n)
}

func TestStartRejectsBadSpec(t *testing.T) {
	s, _ := newScheduler(t)
	err := s.Start(context.Background(), "every tuesday", "@every 1m")
	assert.Error(t, err)

	require.NoError(t, s.Start(context.Background(), "@every 1h", "*/30 * * * * *"))
	s.Stop()
}

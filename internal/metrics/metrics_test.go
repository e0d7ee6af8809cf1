package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

func TestEngineFeedsMetrics(t *testing.T) {
	ctx := context.Background()
	m := New(prometheus.NewRegistry())
	e := inventory.NewEngine(inventory.NewMemoryStore(), zaptest.NewLogger(t),
		inventory.WithRecorder(m), inventory.WithObservers(m))

	blueS := inventory.Key("S", "Blue")
	p, err := inventory.NewProduct("P", []inventory.StockRecord{{Key: blueS, Stock: 2}})
	require.NoError(t, err)
	require.NoError(t, e.CreateProduct(ctx, p))

	_, err = e.Reserve(ctx, "P", blueS, 2, "a")
	require.NoError(t, err)
	_, err = e.Reserve(ctx, "P", blueS, 1, "b")
	require.ErrorIs(t, err, inventory.ErrOutOfStock)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("reserve", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("reserve", "out_of_stock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerEntries.WithLabelValues("RECEIVE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LedgerEntries.WithLabelValues("HOLD")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Available.WithLabelValues("P")))
}

func TestDriftAndConsumed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Drift(context.Background(), reconcile.DriftReport{ProductID: "P"})
	m.Consumed(nil)
	m.Consumed(errors.New("store down"))
	m.Consumed(nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.DriftDetected))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsumedEvents.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumedEvents.WithLabelValues("retry")))

	n, err := testutil.GatherAndCount(reg, "inventory_drift_detected_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

// Package metrics exposes inventory counters to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

type Metrics struct {
	// Operations by name and result (ok, out_of_stock, invalid_transition, ...).
	Operations *prometheus.CounterVec

	// LedgerEntries by kind.
	LedgerEntries *prometheus.CounterVec

	// Available units per product after its last committed change.
	Available *prometheus.GaugeVec

	DriftDetected prometheus.Counter

	// ConsumedEvents by result (ok, retry).
	ConsumedEvents *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_operations_total",
			Help: "Inventory operations by result.",
		}, []string{"op", "result"}),
		LedgerEntries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_ledger_entries_total",
			Help: "Ledger entries appended by kind.",
		}, []string{"kind"}),
		Available: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "inventory_available_units",
			Help: "Available units per product.",
		}, []string{"product_id"}),
		DriftDetected: f.NewCounter(prometheus.CounterOpts{
			Name: "inventory_drift_detected_total",
			Help: "Products found with totals not matching their variant lines.",
		}),
		ConsumedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inventory_consumed_events_total",
			Help: "Order status events handled by result.",
		}, []string{"result"}),
	}
}

// Outcome implements inventory.Recorder.
func (m *Metrics) Outcome(op, result string) {
	m.Operations.WithLabelValues(op, result).Inc()
}

// Committed implements inventory.Observer.
func (m *Metrics) Committed(_ context.Context, c *inventory.Change) {
	for _, e := range c.Entries {
		m.LedgerEntries.WithLabelValues(string(e.Kind)).Inc()
	}
	m.Available.WithLabelValues(c.Product.ID).Set(float64(c.Product.Available()))
}

// Drift implements reconcile.Alerter.
func (m *Metrics) Drift(context.Context, reconcile.DriftReport) {
	m.DriftDetected.Inc()
}

func (m *Metrics) Consumed(err error) {
	if err != nil {
		m.ConsumedEvents.WithLabelValues("retry").Inc()
		return
	}
	m.ConsumedEvents.WithLabelValues("ok").Inc()
}

package kafka

import (
	"context"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
	"github.com/ariefcatur/go-variant-inventory/internal/orders"
	"github.com/ariefcatur/go-variant-inventory/internal/reconcile"
)

// LedgerPublisher streams every committed change to the ledger topic, keyed
// by product id.
type LedgerPublisher struct {
	Out         Publisher
	ServiceName string
}

func (p *LedgerPublisher) Committed(_ context.Context, c *inventory.Change) {
	if len(c.Entries) == 0 {
		return
	}
	payload := orders.LedgerAppendedPayload{
		ProductID:     c.Product.ID,
		Version:       c.Product.Version,
		TotalStock:    c.Product.TotalStock(),
		TotalReserved: c.Product.TotalReserved(),
		Entries:       make([]orders.LedgerEntryPayload, 0, len(c.Entries)),
	}
	for _, e := range c.Entries {
		payload.Entries = append(payload.Entries, LedgerPayload(e))
	}
	env := NewEnvelope(orders.EventLedgerAppended, p.ServiceName, c.Product.ID, payload)
	p.Out.Publish(orders.PartitionKey(c.Product.ID), MustMarshal(env), Headers(env)...)
}

func LedgerPayload(e inventory.LedgerEntry) orders.LedgerEntryPayload {
	return orders.LedgerEntryPayload{
		ID:            e.ID,
		OrderID:       e.OrderID,
		ProductID:     e.ProductID,
		Size:          e.Key.Size,
		Color:         e.Key.Color,
		Kind:          string(e.Kind),
		StockDelta:    e.StockDelta,
		ReservedDelta: e.ReservedDelta,
		Reference:     e.Reference,
		CreatedAt:     e.CreatedAt,
	}
}

// DriftAlerts publishes detected aggregate drift to the drift topic.
type DriftAlerts struct {
	Out         Publisher
	ServiceName string
}

func (a *DriftAlerts) Drift(_ context.Context, r reconcile.DriftReport) {
	p := orders.DriftDetectedPayload{
		ProductID:             r.ProductID,
		ExpectedTotalStock:    r.ExpectedTotalStock,
		ActualTotalStock:      r.ActualTotalStock,
		ExpectedTotalReserved: r.ExpectedTotalReserved,
		ActualTotalReserved:   r.ActualTotalReserved,
	}
	env := NewEnvelope(orders.EventDriftDetected, a.ServiceName, p.ProductID, p)
	a.Out.Publish(orders.PartitionKey(p.ProductID), MustMarshal(env), Headers(env)...)
}

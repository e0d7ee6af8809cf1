// Package reconcile finds and repairs products whose cached totals no longer
// match their variant lines, and checks stock lines against the ledger.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-variant-inventory/internal/inventory"
)

var (
	ErrActiveReservations = errors.New("product has reserved stock")
	ErrEmptyGrid          = errors.New("migration grid is empty")
)

const DefaultPageSize = 200

// DriftReport compares the stored totals of a product with the sums of its
// variant lines.
type DriftReport struct {
	ProductID             string `json:"product_id"`
	ExpectedTotalStock    int    `json:"expected_total_stock"`
	ActualTotalStock      int    `json:"actual_total_stock"`
	ExpectedTotalReserved int    `json:"expected_total_reserved"`
	ActualTotalReserved   int    `json:"actual_total_reserved"`
}

func Inspect(p *inventory.Product) DriftReport {
	stock, reserved := p.Sums()
	return DriftReport{
		ProductID:             p.ID,
		ExpectedTotalStock:    stock,
		ActualTotalStock:      p.TotalStock(),
		ExpectedTotalReserved: reserved,
		ActualTotalReserved:   p.TotalReserved(),
	}
}

func (r DriftReport) Drifted() bool {
	return r.ExpectedTotalStock != r.ActualTotalStock || r.ExpectedTotalReserved != r.ActualTotalReserved
}

// Err is nil for a clean report and wraps ErrDriftDetected otherwise.
func (r DriftReport) Err() error {
	if !r.Drifted() {
		return nil
	}
	return fmt.Errorf("%w: product %s stock %d (expected %d) reserved %d (expected %d)",
		inventory.ErrDriftDetected, r.ProductID,
		r.ActualTotalStock, r.ExpectedTotalStock, r.ActualTotalReserved, r.ExpectedTotalReserved)
}

type Reconciler struct {
	store     inventory.Store
	observers inventory.Observers
	log       *zap.Logger
	pageSize  int
}

type Option func(*Reconciler)

func WithObservers(os ...inventory.Observer) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, os...) }
}

func WithPageSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.pageSize = n
		}
	}
}

func New(store inventory.Store, log *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{store: store, log: log, pageSize: DefaultPageSize}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Scan yields a report for every drifted product, paging through products by
// id. It only reads; stopping early and scanning again is safe.
func (r *Reconciler) Scan(ctx context.Context) iter.Seq2[DriftReport, error] {
	return func(yield func(DriftReport, error) bool) {
		after := ""
		for {
			page, err := r.store.Products(ctx, after, r.pageSize)
			if err != nil {
				yield(DriftReport{}, fmt.Errorf("scan after %q: %w", after, err))
				return
			}
			for _, p := range page {
				rep := Inspect(p)
				if !rep.Drifted() {
					continue
				}
				if !yield(rep, nil) {
					return
				}
			}
			if len(page) < r.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

// Alerter is told about drift a scan found.
type Alerter interface {
	Drift(ctx context.Context, r DriftReport)
}

// Check scans every product and raises each drift report with the alerters.
// It returns how many products drifted.
func (r *Reconciler) Check(ctx context.Context, alerts ...Alerter) (int, error) {
	n := 0
	for rep, err := range r.Scan(ctx) {
		if err != nil {
			return n, err
		}
		n++
		r.log.Error("aggregate drift detected", zap.Error(rep.Err()))
		for _, a := range alerts {
			a.Drift(ctx, rep)
		}
	}
	return n, nil
}

// Repair overwrites the totals of a product with the sums of its variant
// lines under the product lock. The variant lines are never touched. It
// returns the report as it was before the repair.
func (r *Reconciler) Repair(ctx context.Context, productID string) (DriftReport, error) {
	var before DriftReport
	change, err := r.store.Atomically(ctx, productID, func(tx inventory.Tx) error {
		p := tx.Product()
		before = Inspect(p)
		if !before.Drifted() {
			return nil
		}
		p.Recount()
		en := inventory.NewEntry(productID, inventory.DefaultKey, inventory.KindRepair, 0, 0)
		en.Reference = fmt.Sprintf("total_stock %d->%d total_reserved %d->%d",
			before.ActualTotalStock, before.ExpectedTotalStock,
			before.ActualTotalReserved, before.ExpectedTotalReserved)
		tx.Append(en)
		return nil
	})
	if err != nil {
		return DriftReport{}, err
	}
	if before.Drifted() {
		r.log.Warn("product totals repaired",
			zap.String("product_id", productID),
			zap.Int("total_stock_was", before.ActualTotalStock),
			zap.Int("total_stock", before.ExpectedTotalStock),
			zap.Int("total_reserved_was", before.ActualTotalReserved),
			zap.Int("total_reserved", before.ExpectedTotalReserved))
		r.observers.Committed(ctx, change)
	}
	return before, nil
}

// Mismatch is a stock line whose numbers differ from the ledger's running sum.
type Mismatch struct {
	Key            inventory.VariantKey `json:"key"`
	LedgerStock    int                  `json:"ledger_stock"`
	LedgerReserved int                  `json:"ledger_reserved"`
	Stock          int                  `json:"stock"`
	Reserved       int                  `json:"reserved"`
}

type ReplayReport struct {
	ProductID  string     `json:"product_id"`
	Entries    int        `json:"entries"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

func (r ReplayReport) Consistent() bool { return len(r.Mismatches) == 0 }

// Replay sums the ledger of a product per variant from zero and compares the
// result with the current stock lines.
func (r *Reconciler) Replay(ctx context.Context, productID string) (ReplayReport, error) {
	p, err := r.store.Product(ctx, productID)
	if err != nil {
		return ReplayReport{}, err
	}
	entries, err := r.store.Ledger(ctx, inventory.LedgerFilter{ProductID: productID})
	if err != nil {
		return ReplayReport{}, err
	}

	type sums struct {
		key             inventory.VariantKey
		stock, reserved int
	}
	ledger := make(map[string]*sums)
	for _, e := range entries {
		s, ok := ledger[e.Key.Normalized()]
		if !ok {
			s = &sums{key: e.Key}
			ledger[e.Key.Normalized()] = s
		}
		s.stock += e.StockDelta
		s.reserved += e.ReservedDelta
	}

	current := p.Variants()
	if !p.HasVariants() {
		current = []inventory.StockRecord{{Key: inventory.DefaultKey, Stock: p.TotalStock(), Reserved: p.TotalReserved()}}
	}
	rep := ReplayReport{ProductID: productID, Entries: len(entries)}
	for _, rec := range current {
		s := ledger[rec.Key.Normalized()]
		delete(ledger, rec.Key.Normalized())
		if s == nil {
			s = &sums{key: rec.Key}
		}
		if s.stock != rec.Stock || s.reserved != rec.Reserved {
			rep.Mismatches = append(rep.Mismatches, Mismatch{
				Key: rec.Key, LedgerStock: s.stock, LedgerReserved: s.reserved,
				Stock: rec.Stock, Reserved: rec.Reserved,
			})
		}
	}
	// keys the product no longer has must have netted out to zero
	for _, s := range ledger {
		if s.stock != 0 || s.reserved != 0 {
			rep.Mismatches = append(rep.Mismatches, Mismatch{Key: s.key, LedgerStock: s.stock, LedgerReserved: s.reserved})
		}
	}
	sort.Slice(rep.Mismatches, func(i, j int) bool {
		return rep.Mismatches[i].Key.Normalized() < rep.Mismatches[j].Key.Normalized()
	})
	if !rep.Consistent() {
		r.log.Warn("ledger replay mismatch",
			zap.String("product_id", productID), zap.Int("mismatches", len(rep.Mismatches)))
	}
	return rep, nil
}

// MigrateToVariants gives a product without variants one stock line per
// size and color combination. Stock is split evenly; the remainder goes one
// unit each to the first lines so the total is unchanged. A product that
// already has variants is left alone and reported as not migrated.
func (r *Reconciler) MigrateToVariants(ctx context.Context, productID string, sizes, colors []string) (bool, error) {
	if len(sizes) == 0 {
		sizes = []string{inventory.DefaultSize}
	}
	if len(colors) == 0 {
		colors = []string{inventory.DefaultColor}
	}
	migrated := false
	change, err := r.store.Atomically(ctx, productID, func(tx inventory.Tx) error {
		p := tx.Product()
		if p.HasVariants() {
			return nil
		}
		if p.TotalReserved() > 0 {
			return fmt.Errorf("%w: product %s has %d reserved", ErrActiveReservations, productID, p.TotalReserved())
		}
		records := Distribute(p.TotalStock(), sizes, colors)
		if len(records) == 0 {
			return ErrEmptyGrid
		}
		if err := p.AdoptVariants(records); err != nil {
			return err
		}
		if p.TotalStock() > 0 {
			tx.Append(inventory.NewEntry(productID, inventory.DefaultKey, inventory.KindMigrate, -p.TotalStock(), 0))
		}
		for _, rec := range p.Variants() {
			if rec.Stock > 0 {
				tx.Append(inventory.NewEntry(productID, rec.Key, inventory.KindMigrate, rec.Stock, 0))
			}
		}
		if p.TotalStock() == 0 {
			// nothing moved, but the new lines still need committing
			tx.Append(inventory.NewEntry(productID, inventory.DefaultKey, inventory.KindMigrate, 0, 0))
		}
		migrated = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if migrated {
		r.log.Info("product migrated to variants",
			zap.String("product_id", productID),
			zap.Int("sizes", len(sizes)), zap.Int("colors", len(colors)))
		r.observers.Committed(ctx, change)
	}
	return migrated, nil
}

// Distribute splits stock over the sizes x colors grid, sizes outermost.
func Distribute(stock int, sizes, colors []string) []inventory.StockRecord {
	n := len(sizes) * len(colors)
	if n == 0 {
		return nil
	}
	base, rem := stock/n, stock%n
	out := make([]inventory.StockRecord, 0, n)
	for _, s := range sizes {
		for _, c := range colors {
			q := base
			if rem > 0 {
				q++
				rem--
			}
			out = append(out, inventory.StockRecord{Key: inventory.Key(s, c), Stock: q})
		}
	}
	return out
}

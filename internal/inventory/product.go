package inventory

import (
	"encoding/json"
	"fmt"
	"time"
)

// Product is the aggregate root owning a product's stock lines.
//
// The totals are cached sums of the variant lines. They are only written by
// the mutators below (which move a line and its total in the same step) and by
// Recount. A product without variants has a single implicit DefaultKey line
// whose numbers are the totals themselves.
type Product struct {
	ID        string
	Version   int64
	UpdatedAt time.Time

	variants      []StockRecord
	totalStock    int
	totalReserved int
}

// NewProduct validates the stock lines and derives the totals from them.
func NewProduct(id string, records []StockRecord) (*Product, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty product id", ErrInvalidProduct)
	}
	p := &Product{ID: id, Version: 1, UpdatedAt: time.Now().UTC()}
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		r.Key = Key(r.Key.Size, r.Key.Color)
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Key.Normalized()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateVariant, r.Key)
		}
		seen[r.Key.Normalized()] = true
		p.variants = append(p.variants, r)
		p.totalStock += r.Stock
		p.totalReserved += r.Reserved
	}
	return p, nil
}

// NewSimpleProduct creates a product without size/color lines.
func NewSimpleProduct(id string, stock int) (*Product, error) {
	if stock < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, stock)
	}
	p, err := NewProduct(id, nil)
	if err != nil {
		return nil, err
	}
	p.totalStock = stock
	return p, nil
}

// RestoreProduct rebuilds a product exactly as persisted, stored totals
// included, so drift stays observable.
func RestoreProduct(id string, records []StockRecord, totalStock, totalReserved int, version int64, updatedAt time.Time) *Product {
	vs := make([]StockRecord, len(records))
	copy(vs, records)
	return &Product{
		ID:            id,
		Version:       version,
		UpdatedAt:     updatedAt,
		variants:      vs,
		totalStock:    totalStock,
		totalReserved: totalReserved,
	}
}

func (p *Product) TotalStock() int    { return p.totalStock }
func (p *Product) TotalReserved() int { return p.totalReserved }
func (p *Product) Available() int     { return p.totalStock - p.totalReserved }
func (p *Product) HasVariants() bool  { return len(p.variants) > 0 }

// Variants returns a copy of the stock lines.
func (p *Product) Variants() []StockRecord {
	out := make([]StockRecord, len(p.variants))
	copy(out, p.variants)
	return out
}

func (p *Product) Clone() *Product {
	c := *p
	c.variants = p.Variants()
	return &c
}

// Record returns the stock line for key.
func (p *Product) Record(key VariantKey) (StockRecord, error) {
	i, err := p.index(key)
	if err != nil {
		return StockRecord{}, err
	}
	if i < 0 {
		return p.implicit(), nil
	}
	return p.variants[i], nil
}

func (p *Product) implicit() StockRecord {
	return StockRecord{Key: DefaultKey, Stock: p.totalStock, Reserved: p.totalReserved}
}

// index returns -1 for the implicit line of a product without variants.
func (p *Product) index(key VariantKey) (int, error) {
	if len(p.variants) == 0 {
		if key.IsDefault() {
			return -1, nil
		}
		return 0, fmt.Errorf("%w: product %s has no variant %s", ErrVariantNotFound, p.ID, key)
	}
	for i, r := range p.variants {
		if r.Key.Matches(key) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: product %s has no variant %s", ErrVariantNotFound, p.ID, key)
}

// move applies deltas to one line and to the totals, or to nothing if the
// result would break 0 <= reserved <= stock.
func (p *Product) move(key VariantKey, dStock, dReserved int) (StockRecord, error) {
	i, err := p.index(key)
	if err != nil {
		return StockRecord{}, err
	}
	var next StockRecord
	if i < 0 {
		next = p.implicit()
	} else {
		next = p.variants[i]
	}
	next.Stock += dStock
	next.Reserved += dReserved
	if err := next.Validate(); err != nil {
		return StockRecord{}, err
	}
	if i >= 0 {
		p.variants[i] = next
	}
	p.totalStock += dStock
	p.totalReserved += dReserved
	return next, nil
}

// Reserve moves qty from available to reserved.
func (p *Product) Reserve(key VariantKey, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	r, err := p.Record(key)
	if err != nil {
		return StockRecord{}, err
	}
	if r.Available() < qty {
		return StockRecord{}, &OutOfStockError{ProductID: p.ID, Key: r.Key, Available: r.Available(), Requested: qty}
	}
	return p.move(key, 0, qty)
}

// Unreserve returns qty of held stock to available.
func (p *Product) Unreserve(key VariantKey, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return p.move(key, 0, -qty)
}

// Deduct permanently removes qty of held stock.
func (p *Product) Deduct(key VariantKey, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return p.move(key, -qty, -qty)
}

// Restock puts qty of previously removed stock back.
func (p *Product) Restock(key VariantKey, qty int) (StockRecord, error) {
	if qty <= 0 {
		return StockRecord{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	return p.move(key, qty, 0)
}

// Receive changes physical stock by delta. A write-off can not go below the
// reserved quantity.
func (p *Product) Receive(key VariantKey, delta int) (StockRecord, error) {
	if delta == 0 {
		return StockRecord{}, fmt.Errorf("%w: %d", ErrInvalidQuantity, delta)
	}
	return p.move(key, delta, 0)
}

// Sums returns the totals derived from the variant lines. For a product
// without variants the stored totals are the ground truth.
func (p *Product) Sums() (stock, reserved int) {
	if len(p.variants) == 0 {
		return p.totalStock, p.totalReserved
	}
	for _, r := range p.variants {
		stock += r.Stock
		reserved += r.Reserved
	}
	return stock, reserved
}

// Recount overwrites the cached totals with the sums of the variant lines.
func (p *Product) Recount() {
	p.totalStock, p.totalReserved = p.Sums()
}

// AdoptVariants gives a product without variants its first stock lines. The
// lines must carry exactly the current totals.
func (p *Product) AdoptVariants(records []StockRecord) error {
	if len(p.variants) > 0 {
		return fmt.Errorf("%w: product %s already has variants", ErrDuplicateVariant, p.ID)
	}
	np, err := NewProduct(p.ID, records)
	if err != nil {
		return err
	}
	if np.totalStock != p.totalStock || np.totalReserved != p.totalReserved {
		return fmt.Errorf("%w: variant lines sum to %d/%d, product holds %d/%d", ErrInvariant,
			np.totalStock, np.totalReserved, p.totalStock, p.totalReserved)
	}
	p.variants = np.variants
	return nil
}

type productJSON struct {
	ID            string        `json:"product_id"`
	Variants      []StockRecord `json:"variants"`
	TotalStock    int           `json:"total_stock"`
	TotalReserved int           `json:"total_reserved"`
	Available     int           `json:"available"`
	Version       int64         `json:"version"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (p *Product) MarshalJSON() ([]byte, error) {
	vs := p.Variants()
	if vs == nil {
		vs = []StockRecord{}
	}
	return json.Marshal(productJSON{
		ID:            p.ID,
		Variants:      vs,
		TotalStock:    p.totalStock,
		TotalReserved: p.totalReserved,
		Available:     p.Available(),
		Version:       p.Version,
		UpdatedAt:     p.UpdatedAt,
	})
}

package inventory

import "strings"

const (
	DefaultSize  = "One Size"
	DefaultColor = "Default"
)

// VariantKey identifies one sellable size/color line of a product.
// Values keep the casing they were stored with; matching ignores case.
type VariantKey struct {
	Size  string `json:"size"`
	Color string `json:"color"`
}

// DefaultKey is the implicit variant of a product without size/color lines.
var DefaultKey = VariantKey{Size: DefaultSize, Color: DefaultColor}

func Key(size, color string) VariantKey {
	k := VariantKey{Size: strings.TrimSpace(size), Color: strings.TrimSpace(color)}
	if k.Size == "" {
		k.Size = DefaultSize
	}
	if k.Color == "" {
		k.Color = DefaultColor
	}
	return k
}

// Matches reports whether k and o name the same variant.
func (k VariantKey) Matches(o VariantKey) bool {
	a, b := Key(k.Size, k.Color), Key(o.Size, o.Color)
	return strings.EqualFold(a.Size, b.Size) && strings.EqualFold(a.Color, b.Color)
}

// Normalized is the form used for map keys and cache fields.
func (k VariantKey) Normalized() string {
	n := Key(k.Size, k.Color)
	return strings.ToLower(n.Size) + "|" + strings.ToLower(n.Color)
}

func (k VariantKey) IsDefault() bool { return k.Matches(DefaultKey) }

func (k VariantKey) String() string {
	n := Key(k.Size, k.Color)
	return n.Size + "/" + n.Color
}

// StockRecord is the stock line of one variant.
type StockRecord struct {
	Key      VariantKey `json:"key"`
	SKU      string     `json:"sku,omitempty"`
	Stock    int        `json:"stock"`
	Reserved int        `json:"reserved"`
}

func (r StockRecord) Available() int { return r.Stock - r.Reserved }

func (r StockRecord) Validate() error {
	if r.Stock < 0 || r.Reserved < 0 || r.Reserved > r.Stock {
		return &InvariantError{Key: r.Key, Stock: r.Stock, Reserved: r.Reserved}
	}
	return nil
}

package inventory

import (
	"time"

	"github.com/google/uuid"
)

type LedgerKind string

const (
	KindReceive         LedgerKind = "RECEIVE"
	KindHold            LedgerKind = "HOLD"
	KindHoldAdjust      LedgerKind = "HOLD_ADJUST"
	KindHoldRelease     LedgerKind = "HOLD_RELEASE"
	KindHoldExpire      LedgerKind = "HOLD_EXPIRE"
	KindCheckout        LedgerKind = "CHECKOUT"
	KindCommit          LedgerKind = "COMMIT"
	KindCancel          LedgerKind = "CANCEL"
	KindReturnRestock   LedgerKind = "RETURN_RESTOCK"
	KindExchangeRestock LedgerKind = "EXCHANGE_RESTOCK"
	KindExchangeHold    LedgerKind = "EXCHANGE_HOLD"
	KindMigrate         LedgerKind = "MIGRATE"
	KindRepair          LedgerKind = "REPAIR"
)

// LedgerEntry is an immutable record of one stock-affecting transition.
// Replaying every entry of a product from zero rebuilds its stock lines.
type LedgerEntry struct {
	ID            string     `json:"id"`
	OrderID       string     `json:"order_id,omitempty"`
	ProductID     string     `json:"product_id"`
	Key           VariantKey `json:"key"`
	Kind          LedgerKind `json:"kind"`
	StockDelta    int        `json:"stock_delta"`
	ReservedDelta int        `json:"reserved_delta"`
	// Reference is the reservation token or line the entry belongs to.
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEntry(productID string, key VariantKey, kind LedgerKind, dStock, dReserved int) LedgerEntry {
	return LedgerEntry{
		ID:            uuid.NewString(),
		ProductID:     productID,
		Key:           Key(key.Size, key.Color),
		Kind:          kind,
		StockDelta:    dStock,
		ReservedDelta: dReserved,
		CreatedAt:     time.Now().UTC(),
	}
}

// LedgerFilter selects audit entries. Zero fields do not filter.
type LedgerFilter struct {
	OrderID   string
	ProductID string
	Key       *VariantKey
	Since     time.Time
	Until     time.Time
	Limit     int
}

const DefaultLedgerLimit = 100

func (f LedgerFilter) Matches(e LedgerEntry) bool {
	if f.OrderID != "" && e.OrderID != f.OrderID {
		return false
	}
	if f.ProductID != "" && e.ProductID != f.ProductID {
		return false
	}
	if f.Key != nil && !f.Key.Matches(e.Key) {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !e.CreatedAt.Before(f.Until) {
		return false
	}
	return true
}

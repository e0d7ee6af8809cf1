package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderStatusChanged = "OrderStatusChanged"
	EventLedgerAppended     = "InventoryLedgerAppended"
	EventDriftDetected      = "InventoryDriftDetected"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "inventory-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id or product_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type Replacement struct {
	Index int    `json:"index"`
	Size  string `json:"size"`
	Color string `json:"color"`
}

type OrderStatusChangedPayload struct {
	OrderID      string        `json:"order_id"`
	From         Status        `json:"from,omitempty"`
	To           Status        `json:"to"`
	Reason       string        `json:"reason,omitempty"`
	Replacements []Replacement `json:"replacements,omitempty"` // for EXCHANGE_APPROVED
}

type LedgerEntryPayload struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id,omitempty"`
	ProductID     string    `json:"product_id"`
	Size          string    `json:"size"`
	Color         string    `json:"color"`
	Kind          string    `json:"kind"`
	StockDelta    int       `json:"stock_delta"`
	ReservedDelta int       `json:"reserved_delta"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type LedgerAppendedPayload struct {
	ProductID     string               `json:"product_id"`
	Version       int64                `json:"version"`
	TotalStock    int                  `json:"total_stock"`
	TotalReserved int                  `json:"total_reserved"`
	Entries       []LedgerEntryPayload `json:"entries"`
}

type DriftDetectedPayload struct {
	ProductID             string `json:"product_id"`
	ExpectedTotalStock    int    `json:"expected_total_stock"`
	ActualTotalStock      int    `json:"actual_total_stock"`
	ExpectedTotalReserved int    `json:"expected_total_reserved"`
	ActualTotalReserved   int    `json:"actual_total_reserved"`
}

package inventory

import "time"

type LineState string

const (
	LineAwaitingFulfillment LineState = "AWAITING_FULFILLMENT"
	LineFulfilled           LineState = "FULFILLED"
	LineReleased            LineState = "RELEASED"
	LineRestocked           LineState = "RESTOCKED"
)

type LineEvent string

const (
	EventDeliveryConfirmed LineEvent = "delivery-confirmed"
	EventCancelled         LineEvent = "cancelled"
	EventReturnApproved    LineEvent = "return-approved"
	EventExchangeApproved  LineEvent = "exchange-approved"
)

var lineNext = map[LineState]map[LineEvent]LineState{
	LineAwaitingFulfillment: {
		EventDeliveryConfirmed: LineFulfilled,
		EventCancelled:         LineReleased,
	},
	LineFulfilled: {
		EventReturnApproved:   LineRestocked,
		EventExchangeApproved: LineRestocked,
	},
	LineReleased:  {},
	LineRestocked: {},
}

// lineDone lists, per event, the states in which the event has already taken
// effect. Repeating it there is a no-op.
var lineDone = map[LineEvent]map[LineState]bool{
	EventDeliveryConfirmed: {LineFulfilled: true, LineRestocked: true},
	EventCancelled:         {LineReleased: true},
	EventReturnApproved:    {LineRestocked: true},
	EventExchangeApproved:  {LineRestocked: true},
}

// Next returns the state ev leads to from s.
func (s LineState) Next(ev LineEvent) (LineState, bool) {
	to, ok := lineNext[s][ev]
	return to, ok
}

// Applied reports whether ev already happened to a line in state s.
func (s LineState) Applied(ev LineEvent) bool {
	return lineDone[ev][s]
}

// OrderLine is one product/variant line of a placed order. Everything but the
// state, the fulfilled flag and the replacement hold is fixed at checkout.
type OrderLine struct {
	OrderID        string     `json:"order_id"`
	Index          int        `json:"index"`
	ProductID      string     `json:"product_id"`
	Key            VariantKey `json:"key"`
	Quantity       int        `json:"quantity"`
	UnitPriceCents int64      `json:"unit_price_cents"`
	State          LineState  `json:"state"`
	Fulfilled      bool       `json:"fulfilled"`
	ReservationID  string     `json:"reservation_id"`
	ReplacementID  string     `json:"replacement_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

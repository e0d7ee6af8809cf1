package inventory

import "time"

// Token identifies a reservation (a cart hold).
type Token string

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
	ReservationConverted ReservationStatus = "CONVERTED"
)

type Reservation struct {
	ID        Token             `json:"token"`
	ProductID string            `json:"product_id"`
	Key       VariantKey        `json:"key"`
	Quantity  int               `json:"quantity"`
	CartID    string            `json:"cart_id,omitempty"`
	Status    ReservationStatus `json:"status"`
	// OrderID is set once the hold has been converted into an order line.
	OrderID   string    `json:"order_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *Reservation) Active() bool { return r.Status == ReservationActive }

func (r *Reservation) Expired(now time.Time) bool {
	return r.Active() && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

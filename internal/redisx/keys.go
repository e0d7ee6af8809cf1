package redisx

import "time"

const (
	// Available units of one variant: avail:{product_id}:{size|color} -> int
	KeyAvailability = "avail:%s:%s"

	// Available units of a whole product: avail:{product_id} -> int
	KeyProductAvailability = "avail:%s"

	// Product version the availability keys were written from: availver:{product_id} -> int
	KeyAvailabilityVersion = "availver:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLAvailability = 30 * time.Second
	TTLDedup        = 48 * time.Hour
)

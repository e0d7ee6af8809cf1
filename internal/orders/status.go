package orders

// Status is the storefront order status carried on order events.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusPaid              Status = "PAID"
	StatusConfirmed         Status = "CONFIRMED"
	StatusPlaced            Status = "PLACED"
	StatusShipped           Status = "SHIPPED"
	StatusDelivered         Status = "DELIVERED"
	StatusFailed            Status = "FAILED"
	StatusCancelled         Status = "CANCELLED"
	StatusReturnRequested   Status = "RETURN_REQUESTED"
	StatusReturnApproved    Status = "RETURN_APPROVED"
	StatusReturnRejected    Status = "RETURN_REJECTED"
	StatusExchangeRequested Status = "EXCHANGE_REQUESTED"
	StatusExchangeApproved  Status = "EXCHANGE_APPROVED"
	StatusExchangeRejected  Status = "EXCHANGE_REJECTED"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusPaid: true, StatusPlaced: true, StatusFailed: true, StatusCancelled: true},
	StatusPaid:      {StatusConfirmed: true, StatusPlaced: true, StatusShipped: true, StatusCancelled: true},
	StatusConfirmed: {StatusPlaced: true, StatusShipped: true, StatusCancelled: true},
	StatusPlaced:    {StatusConfirmed: true, StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered: {
		StatusReturnRequested: true, StatusReturnApproved: true,
		StatusExchangeRequested: true, StatusExchangeApproved: true,
	},
	StatusReturnRequested:   {StatusReturnApproved: true, StatusReturnRejected: true},
	StatusExchangeRequested: {StatusExchangeApproved: true, StatusExchangeRejected: true},
	StatusFailed:            {},
	StatusCancelled:         {},
	StatusReturnApproved:    {},
	StatusReturnRejected:    {},
	StatusExchangeApproved:  {},
	StatusExchangeRejected:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

package orders

const (
	TopicOrderStatus     = "order.status.changed"
	TopicInventoryLedger = "inventory.ledger"
	TopicInventoryDrift  = "inventory.drift"
)

// Partition key = order_id (or product_id for inventory topics) so events of
// one aggregate keep their order.
func PartitionKey(id string) []byte { return []byte(id) }

package kafka

// EventType определяет тип события
type EventType string

const (
	// События продажи
	EventTypeSaleCompleted EventType = "sale.completed"
	EventTypeSaleFailed    EventType = "sale.failed"

	// События платежа
	EventTypePaymentInitiated EventType = "payment.initiated"

	// Складские события
	EventTypeStockLow     EventType = "stock.low"
	EventTypeStockReorder EventType = "stock.reorder"
)

// Topics для Kafka
const (
	TopicSaleEvents      = "pos.sale.events"
	TopicStockAlerts     = "pos.stock.alerts"
	TopicDeadLetterQueue = "pos.dlq" // Dead Letter Queue для failed messages
)

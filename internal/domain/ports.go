package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SaleItemRequest — запрошенная позиция корзины: товар и количество.
type SaleItemRequest struct {
	ProductID string
	Quantity  int32
}

// StockManager управляет резервированием складских остатков.
// Reserve — первый побочный эффект обработки продажи, Release — последнее
// компенсирующее действие на любом пути отказа.
type StockManager interface {
	// Reserve атомарно удерживает количество под продажу по каждому товару.
	// Частично выполненный резерв многострочной корзины снимается перед возвратом ошибки.
	Reserve(ctx context.Context, items []SaleItemRequest) error
	// Release снимает резерв; идемпотентен относительно повторного вызова.
	Release(ctx context.Context, items []SaleItemRequest) error
	// Commit списывает проданные единицы из физического остатка и резерва.
	// Вызывается только при финальном успехе продажи.
	Commit(ctx context.Context, items []SaleItemRequest) error
}

// PaymentGateway скрывает двухфазный push/callback протокол платёжного провайдера
// и владеет state machine транзакции.
type PaymentGateway interface {
	// Initiate получает токен, создаёт PENDING-транзакцию и отправляет push-запрос.
	Initiate(ctx context.Context, amount decimal.Decimal, phone, currency, description, saleID string) (Transaction, error)
	// AwaitTerminal ждёт терминального статуса транзакции не дольше timeout.
	// Ожидание не держит никаких блокировок по товарам.
	AwaitTerminal(ctx context.Context, transactionID string, timeout time.Duration) (TransactionStatus, error)
	// QueryStatus — активная сверка статуса у провайдера по корреляционному идентификатору.
	QueryStatus(ctx context.Context, checkoutRequestID string) (TransactionStatus, error)
}

// Notifier доставляет операционные уведомления. Сама доставка — внешняя
// подсистема; здесь только граница.
type Notifier interface {
	NotifyAdmin(ctx context.Context, message string) error
	NotifyPurchasing(ctx context.Context, message string) error
}

// RateProvider конвертирует суммы между валютами.
// Инжектируется в движок ценообразования, чтобы таблицу курсов можно было
// заменить без изменения расчётной логики.
type RateProvider interface {
	Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

// OutboxPublisher публикует события из transactional outbox.
// Должен быть идемпотентным.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

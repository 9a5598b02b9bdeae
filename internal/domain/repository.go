package domain

import "time"

// ProductRepository описывает требования к хранилищу товаров.
// Резервирование и списание атомарны на уровне строки товара: конкурентные
// продажи одного товара сериализуются реализацией (мьютекс или блокировка строки).
type ProductRepository interface {
	// Create сохраняет новый товар. Дубликат ID — ErrProductConflict.
	Create(product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(id string) (Product, error)
	// Reserve атомарно проверяет доступный остаток и увеличивает резерв.
	// При нехватке возвращает *InsufficientStockError с фактической доступностью.
	Reserve(id string, qty int32) (Product, error)
	// Release уменьшает резерв на qty с нижней границей 0.
	Release(id string, qty int32) error
	// CommitSale списывает qty из Stock и ReservedStock (резерв — с нижней границей 0)
	// и возвращает обновлённый товар для оценки политики низкого остатка.
	CommitSale(id string, qty int32) (Product, error)
}

// SaleRepository хранит зафиксированные продажи вместе с позициями.
type SaleRepository interface {
	// Create сохраняет продажу и её позиции одной единицей работы.
	Create(sale Sale) error
	// Get возвращает продажу с позициями или ErrSaleNotFound.
	Get(id string) (Sale, error)
	// Delete удаляет продажу вместе с позициями. Используется как
	// компенсация, когда фиксация сорвалась после сохранения.
	Delete(id string) error
}

// TransactionRepository хранит платёжные транзакции и обеспечивает
// идемпотентность терминальных переходов.
type TransactionRepository interface {
	Create(txn Transaction) error
	Get(id string) (Transaction, error)
	// GetByCheckoutRequestID находит транзакцию по корреляционному идентификатору провайдера.
	GetByCheckoutRequestID(checkoutRequestID string) (Transaction, error)
	// SetCheckoutRequestID записывает корреляционный идентификатор после push-запроса.
	SetCheckoutRequestID(id, checkoutRequestID string) error
	// MarkTerminal переводит транзакцию в терминальный статус compare-and-set'ом.
	// Если статус уже терминален, возвращает (false, nil): гонка callback/опроса
	// разрешается в пользу первого писателя, второй наблюдает no-op.
	MarkTerminal(id string, status TransactionStatus, resultCode, resultDesc, receiptID string) (bool, error)
	// LinkSale проставляет обратную ссылку на продажу.
	LinkSale(id, saleID string) error
	// ListPendingOlderThan возвращает зависшие PENDING-транзакции для фоновой сверки.
	ListPendingOlderThan(cutoff time.Time, limit int) ([]Transaction, error)
}

// CustomerRepository хранит покупателей; обновление баланса баллов
// защищено optimistic locking по версии.
type CustomerRepository interface {
	Create(customer Customer) error
	Get(id string) (Customer, error)
	// Save применяет обновление с проверкой версии; несовпадение — ErrCustomerConflict.
	Save(customer Customer) error
}

// UserRepository отдаёт пользователей системы. Управление учётками — внешняя подсистема.
type UserRepository interface {
	Get(id string) (User, error)
}

// AuditRepository хранит журнал аудита.
type AuditRepository interface {
	Append(record AuditRecord) error
	List(entityType, entityID string) ([]AuditRecord, error)
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — некорректный запрос на продажу (пустая корзина, неверные проценты и т.п.).
	ErrValidation = errors.New("sale request validation failed")
	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrCustomerNotFound возвращается, если покупатель не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrUserNotFound возвращается, если пользователь (кассир) не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrSaleNotFound возвращается, если продажа не найдена.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrTransactionNotFound возвращается, если платёжная транзакция не найдена.
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrInsufficientStock — недостаточно доступного остатка для резервирования.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrUnsupportedCurrency — конвертация для пары валют не поддерживается.
	ErrUnsupportedCurrency = errors.New("unsupported currency conversion")
	// ErrPaymentInitiation — не удалось инициировать платёж у провайдера.
	ErrPaymentInitiation = errors.New("payment initiation failed")
	// ErrPaymentTimeout — платёж не достиг терминального статуса за отведённое время.
	ErrPaymentTimeout = errors.New("payment confirmation timed out")
	// ErrPaymentFailed — провайдер отклонил платёж.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrCallbackValidation — callback провайдера не прошёл валидацию структуры.
	ErrCallbackValidation = errors.New("invalid payment callback payload")
	// ErrTransactionFinal — попытка изменить транзакцию в терминальном статусе.
	ErrTransactionFinal = errors.New("transaction already in terminal state")
	// ErrSaleConflict сигнализирует о дубликате идентификатора продажи.
	ErrSaleConflict = errors.New("sale already exists")
	// ErrProductConflict — конфликт версий или дубликат при сохранении товара.
	ErrProductConflict = errors.New("product version conflict")
	// ErrCustomerConflict — конфликт версий при обновлении покупателя.
	ErrCustomerConflict = errors.New("customer version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой хэш запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — тот же ключ использован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу не найдена.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// InsufficientStockError уточняет ErrInsufficientStock: какой товар,
// сколько доступно и сколько запрошено.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int32
	Requested   int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d",
		e.ProductName, e.Available, e.Requested)
}

// Is позволяет проверять ошибку через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// CurrencyError уточняет ErrUnsupportedCurrency парой валют, для которой нет курса.
type CurrencyError struct {
	From string
	To   string
}

func (e *CurrencyError) Error() string {
	return fmt.Sprintf("unsupported currency conversion: %s to %s", e.From, e.To)
}

func (e *CurrencyError) Is(target error) bool {
	return target == ErrUnsupportedCurrency
}

// SaleProcessingError оборачивает первопричину провала пайплайна продажи.
// Вызывающая сторона всегда получает одну ошибку с доступной через Unwrap причиной.
type SaleProcessingError struct {
	Cause error
}

func (e *SaleProcessingError) Error() string {
	return fmt.Sprintf("failed to process sale: %v", e.Cause)
}

func (e *SaleProcessingError) Unwrap() error {
	return e.Cause
}

// IsNotFound проверяет, относится ли ошибка к отсутствию сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCustomerNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrSaleNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

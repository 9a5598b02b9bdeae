package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// transactionRepositoryInMemory — in-memory реализация TransactionRepository.
// Терминальные переходы применяются compare-and-set'ом под мьютексом,
// поэтому гонка callback/опроса разрешается в пользу первого писателя.
type transactionRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Transaction
}

// NewTransactionRepository возвращает in-memory репозиторий транзакций.
func NewTransactionRepository() domain.TransactionRepository {
	return &transactionRepositoryInMemory{
		items: make(map[string]domain.Transaction),
	}
}

// Create сохраняет новую транзакцию.
func (r *transactionRepositoryInMemory) Create(txn domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[txn.ID]; exists {
		return domain.ErrTransactionFinal
	}
	r.items[txn.ID] = txn
	return nil
}

// Get возвращает транзакцию или ErrTransactionNotFound.
func (r *transactionRepositoryInMemory) Get(id string) (domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	txn, ok := r.items[id]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return txn, nil
}

// GetByCheckoutRequestID находит транзакцию по корреляционному идентификатору.
func (r *transactionRepositoryInMemory) GetByCheckoutRequestID(checkoutRequestID string) (domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, txn := range r.items {
		if txn.CheckoutRequestID != "" && txn.CheckoutRequestID == checkoutRequestID {
			return txn, nil
		}
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

// SetCheckoutRequestID записывает корреляционный идентификатор провайдера.
func (r *transactionRepositoryInMemory) SetCheckoutRequestID(id, checkoutRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.items[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	txn.CheckoutRequestID = checkoutRequestID
	txn.UpdatedAt = time.Now().UTC()
	r.items[id] = txn
	return nil
}

// MarkTerminal переводит транзакцию в терминальный статус, если она ещё PENDING.
// Уже терминальная запись не меняется: возвращается (false, nil).
func (r *transactionRepositoryInMemory) MarkTerminal(id string, status domain.TransactionStatus, resultCode, resultDesc, receiptID string) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrTransactionFinal
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.items[id]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if txn.Status.Terminal() {
		return false, nil
	}

	txn.Status = status
	txn.ResultCode = resultCode
	txn.ResultDesc = resultDesc
	if receiptID != "" {
		txn.ReceiptID = receiptID
	}
	txn.UpdatedAt = time.Now().UTC()
	r.items[id] = txn
	return true, nil
}

// LinkSale проставляет обратную ссылку на продажу.
func (r *transactionRepositoryInMemory) LinkSale(id, saleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	txn, ok := r.items[id]
	if !ok {
		return domain.ErrTransactionNotFound
	}

	txn.SaleID = saleID
	txn.UpdatedAt = time.Now().UTC()
	r.items[id] = txn
	return nil
}

// ListPendingOlderThan возвращает PENDING-транзакции, созданные до cutoff.
func (r *transactionRepositoryInMemory) ListPendingOlderThan(cutoff time.Time, limit int) ([]domain.Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Transaction, 0)
	for _, txn := range r.items {
		if txn.Status == domain.TransactionPending && txn.CreatedAt.Before(cutoff) {
			result = append(result, txn)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

var _ domain.TransactionRepository = (*transactionRepositoryInMemory)(nil)

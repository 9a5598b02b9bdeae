package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// saleRepositoryInMemory — in-memory реализация SaleRepository.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Sale
}

// NewSaleRepository возвращает in-memory репозиторий продаж.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{
		items: make(map[string]domain.Sale),
	}
}

// Create сохраняет продажу вместе с позициями.
func (r *saleRepositoryInMemory) Create(sale domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleConflict
	}

	// Копируем позиции, чтобы избежать мутаций извне после фиксации.
	items := make([]domain.SaleLineItem, len(sale.Items))
	copy(items, sale.Items)
	sale.Items = items

	r.items[sale.ID] = sale
	return nil
}

// Get возвращает продажу с копией позиций или ErrSaleNotFound.
func (r *saleRepositoryInMemory) Get(id string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}

	items := make([]domain.SaleLineItem, len(sale.Items))
	copy(items, sale.Items)
	sale.Items = items
	return sale, nil
}

// Delete удаляет продажу или возвращает ErrSaleNotFound.
func (r *saleRepositoryInMemory) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; !ok {
		return domain.ErrSaleNotFound
	}
	delete(r.items, id)
	return nil
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)

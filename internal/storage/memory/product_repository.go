package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// productRepositoryInMemory — in-memory реализация ProductRepository.
// Мьютекс репозитория сериализует конкурентные резервы: два чекаута одного
// товара никогда не увидят один и тот же доступный остаток одновременно.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{
		items: make(map[string]domain.Product),
	}
}

// Create сохраняет новый товар, если ID ещё не занят.
func (r *productRepositoryInMemory) Create(product domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[product.ID]; exists {
		return domain.ErrProductConflict
	}
	r.items[product.ID] = product
	return nil
}

// Get возвращает копию товара или ErrProductNotFound.
func (r *productRepositoryInMemory) Get(id string) (domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// Reserve атомарно проверяет доступный остаток и увеличивает резерв.
func (r *productRepositoryInMemory) Reserve(id string, qty int32) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	if product.Available() < qty {
		return domain.Product{}, &domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.Available(),
			Requested:   qty,
		}
	}

	product.ReservedStock += qty
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return product, nil
}

// Release уменьшает резерв с нижней границей 0; повторное снятие безопасно.
func (r *productRepositoryInMemory) Release(id string, qty int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}

	product.ReservedStock -= qty
	if product.ReservedStock < 0 {
		product.ReservedStock = 0
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return nil
}

// CommitSale списывает qty из физического остатка и резерва.
func (r *productRepositoryInMemory) CommitSale(id string, qty int32) (domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	product, ok := r.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	product.Stock -= qty
	product.ReservedStock -= qty
	if product.ReservedStock < 0 {
		product.ReservedStock = 0
	}
	product.Version++
	product.UpdatedAt = time.Now().UTC()
	r.items[id] = product
	return product, nil
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)

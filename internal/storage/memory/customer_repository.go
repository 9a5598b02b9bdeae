package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// customerRepositoryInMemory — in-memory реализация CustomerRepository
// с optimistic locking по версии для обновлений баланса баллов.
type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository возвращает in-memory репозиторий покупателей.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{
		items: make(map[string]domain.Customer),
	}
}

// Create сохраняет нового покупателя, если ID ещё не занят.
func (r *customerRepositoryInMemory) Create(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[customer.ID]; exists {
		return domain.ErrCustomerConflict
	}
	r.items[customer.ID] = customer
	return nil
}

// Get возвращает покупателя или ErrCustomerNotFound.
func (r *customerRepositoryInMemory) Get(id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	customer, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

// Save перезаписывает покупателя с проверкой версии.
func (r *customerRepositoryInMemory) Save(customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[customer.ID]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	if current.Version != customer.Version {
		return domain.ErrCustomerConflict
	}

	customer.Version++
	customer.UpdatedAt = time.Now().UTC()
	r.items[customer.ID] = customer
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)

// userRepositoryInMemory — простое in-memory хранилище пользователей.
type userRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.User
}

// NewUserRepository возвращает in-memory репозиторий пользователей.
func NewUserRepository() *userRepositoryInMemory {
	return &userRepositoryInMemory{
		items: make(map[string]domain.User),
	}
}

// Add регистрирует пользователя (используется при инициализации и в тестах).
func (r *userRepositoryInMemory) Add(user domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[user.ID] = user
}

// Get возвращает пользователя или ErrUserNotFound.
func (r *userRepositoryInMemory) Get(id string) (domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.items[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

var _ domain.UserRepository = (*userRepositoryInMemory)(nil)

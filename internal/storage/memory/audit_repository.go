package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// auditRepositoryInMemory хранит журнал аудита в памяти (для разработки/тестов).
type auditRepositoryInMemory struct {
	mu      sync.RWMutex
	records []domain.AuditRecord
}

// NewAuditRepository создаёт in-memory реализацию AuditRepository.
func NewAuditRepository() domain.AuditRepository {
	return &auditRepositoryInMemory{}
}

// Append добавляет запись в журнал.
func (r *auditRepositoryInMemory) Append(record domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, record)
	return nil
}

// List возвращает записи по сущности в хронологическом порядке.
func (r *auditRepositoryInMemory) List(entityType, entityID string) ([]domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.AuditRecord, 0)
	for _, record := range r.records {
		if record.EntityType == entityType && record.EntityID == entityID {
			result = append(result, record)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Occurred.Before(result[j].Occurred)
	})

	return result, nil
}

var _ domain.AuditRepository = (*auditRepositoryInMemory)(nil)

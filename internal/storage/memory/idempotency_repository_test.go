package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func TestIdempotencyRepository_CreateProcessing(t *testing.T) {
	repo := NewIdempotencyRepository()

	record, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if record.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("expected processing status, got %s", record.Status)
	}
	if record.TTLAt.IsZero() {
		t.Fatal("expected default TTL to be set")
	}

	// Повтор с тем же телом: запись уже существует.
	existing, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	if !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if existing.Key != "key-1" {
		t.Fatalf("expected existing record, got %+v", existing)
	}

	// Тот же ключ с другим телом запроса.
	if _, err := repo.CreateProcessing("key-1", "hash-2", time.Time{}); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected hash mismatch, got %v", err)
	}
}

func TestIdempotencyRepository_MarkDoneStoresResponse(t *testing.T) {
	repo := NewIdempotencyRepository()

	if _, err := repo.CreateProcessing("key-1", "hash-1", time.Time{}); err != nil {
		t.Fatalf("create: %v", err)
	}

	body := []byte(`{"id":"sale-1"}`)
	if err := repo.MarkDone("key-1", body, 201); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	record, err := repo.Get("key-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected done, got %s", record.Status)
	}
	if record.HTTPStatus != 201 {
		t.Fatalf("expected status 201, got %d", record.HTTPStatus)
	}
	if string(record.ResponseBody) != string(body) {
		t.Fatalf("expected stored body %s, got %s", body, record.ResponseBody)
	}
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	repo := NewIdempotencyRepository()
	now := time.Now().UTC()

	if _, err := repo.CreateProcessing("expired-1", "h", now.Add(-time.Hour)); err != nil {
		t.Fatalf("create expired-1: %v", err)
	}
	if _, err := repo.CreateProcessing("expired-2", "h", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create expired-2: %v", err)
	}
	if _, err := repo.CreateProcessing("alive", "h", now.Add(time.Hour)); err != nil {
		t.Fatalf("create alive: %v", err)
	}

	removed, err := repo.DeleteExpired(now, 0)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	if _, err := repo.Get("alive"); err != nil {
		t.Fatalf("alive record must survive: %v", err)
	}
	if _, err := repo.Get("expired-1"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired-1 removed, got %v", err)
	}
}

func TestOutboxRepository_PullPendingFIFO(t *testing.T) {
	repo := NewOutboxRepository()

	for _, id := range []string{"m1", "m2", "m3"} {
		if _, err := repo.Enqueue(domain.OutboxMessage{ID: id, EventType: "sale.completed", Payload: []byte("{}")}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if pending[i].ID != want {
			t.Fatalf("expected %s at position %d, got %s", want, i, pending[i].ID)
		}
	}

	if err := repo.MarkSent("m1"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed("m2"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	pending, err = repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull after marks: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "m3" {
		t.Fatalf("expected only m3 pending, got %v", pending)
	}

	stats, err := repo.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.PendingCount != 1 {
		t.Fatalf("expected pending count 1, got %d", stats.PendingCount)
	}
}

func TestCustomerRepository_SaveVersionConflict(t *testing.T) {
	repo := NewCustomerRepository()
	now := time.Now().UTC()

	if err := repo.Create(domain.Customer{ID: "c1", Name: "Jane", LoyaltyPoints: 100, Version: 1, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create: %v", err)
	}

	current, err := repo.Get("c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	current.LoyaltyPoints = 150
	if err := repo.Save(current); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Сохранение с устаревшей версией отклоняется.
	stale := current
	stale.LoyaltyPoints = 200
	if err := repo.Save(stale); !errors.Is(err, domain.ErrCustomerConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	updated, _ := repo.Get("c1")
	if updated.LoyaltyPoints != 150 {
		t.Fatalf("expected points 150, got %d", updated.LoyaltyPoints)
	}
}

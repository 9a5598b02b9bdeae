package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

// stubPublisher считает вызовы и отдаёт заранее заданное число ошибок.
type stubPublisher struct {
	mu        sync.Mutex
	failFirst int
	published []domain.OutboxMessage
	calls     int
}

func (s *stubPublisher) Publish(event domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("broker unavailable")
	}
	s.published = append(s.published, event)
	return nil
}

func (s *stubPublisher) snapshot() (int, []domain.OutboxMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]domain.OutboxMessage(nil), s.published...)
}

func enqueue(t *testing.T, repo domain.OutboxRepository, id, eventType string) {
	t.Helper()
	if _, err := repo.Enqueue(domain.OutboxMessage{
		ID:            id,
		AggregateType: "sale",
		AggregateID:   "sale-1",
		EventType:     eventType,
		Payload:       []byte(`{"total":"1044"}`),
	}); err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func testOptions(t *testing.T) Options {
	return Options{
		Logger:      log.New().WithField("test", t.Name()),
		MaxAttempts: 2,
	}
}

func TestWorker_ProcessOncePublishesAndMarksSent(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{}

	enqueue(t, repo, "m1", "sale.completed")
	enqueue(t, repo, "m2", "payment.initiated")

	worker := NewWorker(repo, publisher, testOptions(t))
	worker.ProcessOnce(context.Background())

	_, published := publisher.snapshot()
	if len(published) != 2 {
		t.Fatalf("expected 2 published events, got %d", len(published))
	}
	if published[0].ID != "m1" || published[1].ID != "m2" {
		t.Fatalf("expected FIFO publish order, got %s then %s", published[0].ID, published[1].ID)
	}

	pending, err := repo.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d pending", len(pending))
	}
}

func TestWorker_RetriesTransientFailure(t *testing.T) {
	repo := memory.NewOutboxRepository()
	// Первая попытка падает, вторая проходит в том же цикле.
	publisher := &stubPublisher{failFirst: 1}

	enqueue(t, repo, "m1", "sale.completed")

	worker := NewWorker(repo, publisher, testOptions(t))
	worker.ProcessOnce(context.Background())

	calls, published := publisher.snapshot()
	if calls != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", calls)
	}
	if len(published) != 1 || published[0].ID != "m1" {
		t.Fatalf("expected m1 published after retry, got %v", published)
	}

	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("expected message marked sent, got %d pending", len(pending))
	}
}

func TestWorker_ExhaustedRetriesGoToDLQ(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{failFirst: 1000}
	dlq := &stubPublisher{}

	enqueue(t, repo, "m1", "sale.completed")

	opts := testOptions(t)
	opts.DLQPublisher = dlq
	worker := NewWorker(repo, publisher, opts)
	worker.ProcessOnce(context.Background())

	calls, _ := publisher.snapshot()
	if calls != 2 {
		t.Fatalf("expected MaxAttempts=2 publish attempts, got %d", calls)
	}

	_, dlqEvents := dlq.snapshot()
	if len(dlqEvents) != 1 {
		t.Fatalf("expected 1 DLQ event, got %d", len(dlqEvents))
	}

	// DLQ-сообщение несёт исходный payload и текст ошибки публикации.
	var envelope map[string]interface{}
	if err := json.Unmarshal(dlqEvents[0].Payload, &envelope); err != nil {
		t.Fatalf("decode dlq payload: %v", err)
	}
	if envelope["outbox_id"] != "m1" {
		t.Fatalf("expected outbox_id m1, got %v", envelope["outbox_id"])
	}
	if envelope["publish_error"] != "broker unavailable" {
		t.Fatalf("expected publish error in dlq payload, got %v", envelope["publish_error"])
	}

	// Сообщение помечено failed и больше не попадает в выборку.
	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("expected no pending after failure, got %d", len(pending))
	}

	stats, _ := repo.Stats()
	if stats.PendingCount != 0 {
		t.Fatalf("expected pending count 0, got %d", stats.PendingCount)
	}
}

func TestWorker_FailureWithoutDLQStillMarksFailed(t *testing.T) {
	repo := memory.NewOutboxRepository()
	publisher := &stubPublisher{failFirst: 1000}

	enqueue(t, repo, "m1", "sale.completed")

	worker := NewWorker(repo, publisher, testOptions(t))
	worker.ProcessOnce(context.Background())

	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("expected message marked failed, got %d pending", len(pending))
	}
}

func TestWorker_FailedMessageDoesNotBlockOthers(t *testing.T) {
	repo := memory.NewOutboxRepository()
	// Первое сообщение исчерпает 2 попытки, второе уйдёт с первой.
	publisher := &stubPublisher{failFirst: 2}

	enqueue(t, repo, "m1", "sale.completed")
	enqueue(t, repo, "m2", "sale.completed")

	worker := NewWorker(repo, publisher, testOptions(t))
	worker.ProcessOnce(context.Background())

	_, published := publisher.snapshot()
	if len(published) != 1 || published[0].ID != "m2" {
		t.Fatalf("expected m2 published despite m1 failure, got %v", published)
	}

	pending, _ := repo.PullPending(10)
	if len(pending) != 0 {
		t.Fatalf("expected empty backlog, got %d pending", len(pending))
	}
}

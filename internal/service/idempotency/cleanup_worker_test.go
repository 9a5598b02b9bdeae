package idempotency

import (
	"context"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestCleanupWorker_DeleteExpired(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		key := fmt.Sprintf("expired-%d", i)
		if _, err := repo.CreateProcessing(key, "h", now.Add(-time.Hour)); err != nil {
			t.Fatalf("create %s: %v", key, err)
		}
	}
	if _, err := repo.CreateProcessing("alive", "h", now.Add(time.Hour)); err != nil {
		t.Fatalf("create alive: %v", err)
	}

	worker := NewCleanupWorker(repo, CleanupOptions{
		Logger: log.New().WithField("test", t.Name()),
		// Маленький батч: удаление идёт в несколько проходов.
		BatchSize: 2,
	})

	deleted, err := worker.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("expected 5 deleted, got %d", deleted)
	}

	if _, err := repo.Get("alive"); err != nil {
		t.Fatalf("alive record must survive: %v", err)
	}
}

func TestCleanupWorker_NothingToDelete(t *testing.T) {
	repo := memory.NewIdempotencyRepository()

	worker := NewCleanupWorker(repo, CleanupOptions{Logger: log.New().WithField("test", t.Name())})

	deleted, err := worker.DeleteExpired(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deleted, got %d", deleted)
	}
}

func TestCleanupWorker_CancelledContext(t *testing.T) {
	repo := memory.NewIdempotencyRepository()
	worker := NewCleanupWorker(repo, CleanupOptions{Logger: log.New().WithField("test", t.Name())})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := worker.DeleteExpired(ctx, time.Now().UTC()); err == nil {
		t.Fatal("expected context error")
	}
}

package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func pendingTxn(id string, createdAt time.Time) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		PhoneNumber: "254712345678",
		Amount:      decimal.NewFromInt(100),
		Currency:    "KES",
		Status:      domain.TransactionPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
}

func TestTransactionRepository_MarkTerminalFirstWriterWins(t *testing.T) {
	repo := NewTransactionRepository()
	if err := repo.Create(pendingTxn("txn-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := repo.MarkTerminal("txn-1", domain.TransactionSuccess, "0", "ok", "RCP123")
	if err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if !applied {
		t.Fatal("expected first terminal transition to apply")
	}

	// Второй писатель (гонка callback/опроса) наблюдает no-op.
	applied, err = repo.MarkTerminal("txn-1", domain.TransactionTimeout, "", "deadline", "")
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if applied {
		t.Fatal("expected second terminal transition to be a no-op")
	}

	txn, err := repo.Get("txn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if txn.Status != domain.TransactionSuccess {
		t.Fatalf("expected status SUCCESS, got %s", txn.Status)
	}
	if txn.ReceiptID != "RCP123" {
		t.Fatalf("expected receipt RCP123, got %s", txn.ReceiptID)
	}
}

func TestTransactionRepository_MarkTerminalRejectsNonTerminalTarget(t *testing.T) {
	repo := NewTransactionRepository()
	if err := repo.Create(pendingTxn("txn-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := repo.MarkTerminal("txn-1", domain.TransactionPending, "", "", "")
	if !errors.Is(err, domain.ErrTransactionFinal) {
		t.Fatalf("expected ErrTransactionFinal, got %v", err)
	}
}

func TestTransactionRepository_GetByCheckoutRequestID(t *testing.T) {
	repo := NewTransactionRepository()
	if err := repo.Create(pendingTxn("txn-1", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetCheckoutRequestID("txn-1", "ws_CO_abc"); err != nil {
		t.Fatalf("set checkout request id: %v", err)
	}

	txn, err := repo.GetByCheckoutRequestID("ws_CO_abc")
	if err != nil {
		t.Fatalf("get by checkout request id: %v", err)
	}
	if txn.ID != "txn-1" {
		t.Fatalf("expected txn-1, got %s", txn.ID)
	}

	if _, err := repo.GetByCheckoutRequestID("unknown"); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransactionRepository_ListPendingOlderThan(t *testing.T) {
	repo := NewTransactionRepository()
	now := time.Now().UTC()

	if err := repo.Create(pendingTxn("old-1", now.Add(-10*time.Minute))); err != nil {
		t.Fatalf("create old-1: %v", err)
	}
	if err := repo.Create(pendingTxn("old-2", now.Add(-7*time.Minute))); err != nil {
		t.Fatalf("create old-2: %v", err)
	}
	if err := repo.Create(pendingTxn("fresh", now)); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	// Терминальные не возвращаются независимо от возраста.
	if err := repo.Create(pendingTxn("done", now.Add(-time.Hour))); err != nil {
		t.Fatalf("create done: %v", err)
	}
	if _, err := repo.MarkTerminal("done", domain.TransactionFailed, "1", "declined", ""); err != nil {
		t.Fatalf("mark done: %v", err)
	}

	stale, err := repo.ListPendingOlderThan(now.Add(-5*time.Minute), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale transactions, got %d", len(stale))
	}
	if stale[0].ID != "old-1" || stale[1].ID != "old-2" {
		t.Fatalf("expected oldest-first order, got %s, %s", stale[0].ID, stale[1].ID)
	}

	limited, err := repo.ListPendingOlderThan(now.Add(-5*time.Minute), 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "old-1" {
		t.Fatalf("expected only oldest transaction, got %v", limited)
	}
}

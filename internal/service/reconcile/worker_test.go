package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

// stubGateway имитирует платёжный шлюз: как и настоящий, он сам фиксирует
// терминальный статус в репозитории при успешной сверке.
type stubGateway struct {
	mu       sync.Mutex
	txns     domain.TransactionRepository
	status   domain.TransactionStatus
	queryCnt int
}

func (s *stubGateway) Initiate(context.Context, decimal.Decimal, string, string, string, string) (domain.Transaction, error) {
	return domain.Transaction{}, nil
}

func (s *stubGateway) AwaitTerminal(context.Context, string, time.Duration) (domain.TransactionStatus, error) {
	return domain.TransactionPending, nil
}

func (s *stubGateway) QueryStatus(_ context.Context, checkoutRequestID string) (domain.TransactionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queryCnt++

	if s.status.Terminal() {
		txn, err := s.txns.GetByCheckoutRequestID(checkoutRequestID)
		if err != nil {
			return "", err
		}
		if _, err := s.txns.MarkTerminal(txn.ID, s.status, "0", "resolved by query", ""); err != nil {
			return "", err
		}
	}
	return s.status, nil
}

func (s *stubGateway) queries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryCnt
}

func seedPending(t *testing.T, txns domain.TransactionRepository, id, checkoutRequestID string, age time.Duration) {
	t.Helper()
	now := time.Now().UTC()
	err := txns.Create(domain.Transaction{
		ID:                id,
		CheckoutRequestID: checkoutRequestID,
		PhoneNumber:       "254712345678",
		Amount:            decimal.NewFromInt(100),
		Currency:          "KES",
		Status:            domain.TransactionPending,
		CreatedAt:         now.Add(-age),
		UpdatedAt:         now.Add(-age),
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
}

func newTestWorker(t *testing.T, txns domain.TransactionRepository, gw domain.PaymentGateway) *Worker {
	t.Helper()
	return NewWorker(txns, gw, Options{
		Logger:    log.New().WithField("test", t.Name()),
		Staleness: time.Minute,
		BatchSize: 10,
	})
}

func TestWorker_ResolvesStaleViaProviderQuery(t *testing.T) {
	txns := memory.NewTransactionRepository()
	gw := &stubGateway{txns: txns, status: domain.TransactionSuccess}

	seedPending(t, txns, "txn-1", "ws_CO_1", 10*time.Minute)

	newTestWorker(t, txns, gw).ProcessOnce(context.Background())

	if gw.queries() != 1 {
		t.Fatalf("expected one provider query, got %d", gw.queries())
	}

	stored, err := txns.Get("txn-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != domain.TransactionSuccess {
		t.Fatalf("expected SUCCESS from provider query, got %s", stored.Status)
	}
}

func TestWorker_MarksTimeoutWithoutCheckoutID(t *testing.T) {
	txns := memory.NewTransactionRepository()
	gw := &stubGateway{txns: txns, status: domain.TransactionSuccess}

	// Push-запрос не дошёл до провайдера: сверять нечего.
	seedPending(t, txns, "txn-1", "", 10*time.Minute)

	newTestWorker(t, txns, gw).ProcessOnce(context.Background())

	if gw.queries() != 0 {
		t.Fatalf("provider must not be queried without checkout id, got %d queries", gw.queries())
	}

	stored, _ := txns.Get("txn-1")
	if stored.Status != domain.TransactionTimeout {
		t.Fatalf("expected TIMEOUT, got %s", stored.Status)
	}
	if stored.ResultDesc != "resolved as timeout by reconcile worker" {
		t.Fatalf("unexpected result desc: %q", stored.ResultDesc)
	}
}

func TestWorker_MarksTimeoutWhenProviderStillPending(t *testing.T) {
	txns := memory.NewTransactionRepository()
	gw := &stubGateway{txns: txns, status: domain.TransactionPending}

	seedPending(t, txns, "txn-1", "ws_CO_1", 10*time.Minute)

	newTestWorker(t, txns, gw).ProcessOnce(context.Background())

	stored, _ := txns.Get("txn-1")
	if stored.Status != domain.TransactionTimeout {
		t.Fatalf("expected TIMEOUT for unresolved stale transaction, got %s", stored.Status)
	}
}

func TestWorker_LeavesFreshPendingAlone(t *testing.T) {
	txns := memory.NewTransactionRepository()
	gw := &stubGateway{txns: txns, status: domain.TransactionSuccess}

	// Моложе окна Staleness: её ещё ждёт оркестратор.
	seedPending(t, txns, "txn-fresh", "ws_CO_1", 10*time.Second)
	seedPending(t, txns, "txn-stale", "", 10*time.Minute)

	newTestWorker(t, txns, gw).ProcessOnce(context.Background())

	fresh, _ := txns.Get("txn-fresh")
	if fresh.Status != domain.TransactionPending {
		t.Fatalf("fresh transaction must stay pending, got %s", fresh.Status)
	}

	stale, _ := txns.Get("txn-stale")
	if stale.Status != domain.TransactionTimeout {
		t.Fatalf("stale transaction must be resolved, got %s", stale.Status)
	}
}

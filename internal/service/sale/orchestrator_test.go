package sale

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
	"github.com/vladislavdragonenkov/pos/internal/service/stock"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

// stubGateway управляет исходом платёжного цикла без реального провайдера.
type stubGateway struct {
	mu          sync.Mutex
	txns        domain.TransactionRepository
	initiateErr error
	awaitStatus domain.TransactionStatus
	awaitErr    error

	initiateCnt int
	awaitCnt    int
}

func (s *stubGateway) Initiate(_ context.Context, amount decimal.Decimal, phone, currency, _, saleID string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initiateCnt++
	if s.initiateErr != nil {
		return domain.Transaction{}, s.initiateErr
	}

	now := time.Now().UTC()
	txn := domain.Transaction{
		ID:          "txn-1",
		PhoneNumber: phone,
		Amount:      amount,
		Currency:    currency,
		Status:      domain.TransactionPending,
		SaleID:      saleID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.txns.Create(txn); err != nil {
		return domain.Transaction{}, err
	}
	return txn, nil
}

func (s *stubGateway) AwaitTerminal(_ context.Context, transactionID string, _ time.Duration) (domain.TransactionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaitCnt++
	if s.awaitErr != nil {
		return "", s.awaitErr
	}

	if s.awaitStatus.Terminal() {
		if _, err := s.txns.MarkTerminal(transactionID, s.awaitStatus, "0", "stub", "RCP001"); err != nil {
			return "", err
		}
	}
	return s.awaitStatus, nil
}

func (s *stubGateway) QueryStatus(context.Context, string) (domain.TransactionStatus, error) {
	return s.awaitStatus, nil
}

type testEnv struct {
	orch      *Orchestrator
	products  domain.ProductRepository
	sales     domain.SaleRepository
	customers domain.CustomerRepository
	txns      domain.TransactionRepository
	outbox    domain.OutboxRepository
	audit     domain.AuditRepository
	gateway   *stubGateway
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	products := memory.NewProductRepository()
	sales := memory.NewSaleRepository()
	customers := memory.NewCustomerRepository()
	users := memory.NewUserRepository()
	txns := memory.NewTransactionRepository()
	outboxRepo := memory.NewOutboxRepository()
	auditRepo := memory.NewAuditRepository()

	now := time.Now().UTC()
	users.Add(domain.User{ID: "user-1", Username: "cashier", CreatedAt: now})

	if err := products.Create(domain.Product{
		ID: "p1", Name: "Maize flour", Price: decimal.NewFromInt(300), Stock: 10, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create p1: %v", err)
	}
	if err := products.Create(domain.Product{
		ID: "p2", Name: "Cooking oil", Price: decimal.NewFromInt(400), Stock: 5, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create p2: %v", err)
	}

	if err := customers.Create(domain.Customer{
		ID: "cust-1", Name: "Jane", LoyaltyPoints: 500, Version: 1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("create customer: %v", err)
	}

	rates := pricing.NewStaticRates()
	gateway := &stubGateway{txns: txns, awaitStatus: domain.TransactionSuccess}
	logger := log.New().WithField("test", t.Name())

	orch := NewOrchestratorWithoutMetrics(Deps{
		Products:  products,
		Sales:     sales,
		Customers: customers,
		Users:     users,
		Txns:      txns,
		Stock:     stock.NewManager(products, &nopNotifier{}, logger),
		Gateway:   gateway,
		Pricer:    pricing.NewEngine(rates),
		Rates:     rates,
		Outbox:    outboxRepo,
		Audit:     auditRepo,
	}, time.Second, logger)

	return &testEnv{
		orch:      orch,
		products:  products,
		sales:     sales,
		customers: customers,
		txns:      txns,
		outbox:    outboxRepo,
		audit:     auditRepo,
		gateway:   gateway,
	}
}

type nopNotifier struct{}

func (nopNotifier) NotifyAdmin(context.Context, string) error      { return nil }
func (nopNotifier) NotifyPurchasing(context.Context, string) error { return nil }

func cashRequest() Request {
	return Request{
		UserID:          "user-1",
		CustomerID:      "cust-1",
		PaymentMethod:   domain.PaymentMethodCash,
		Currency:        "KES",
		DiscountPercent: decimal.NewFromInt(10),
		TaxPercent:      decimal.NewFromInt(16),
		Items: []domain.SaleItemRequest{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 1},
		},
	}
}

func outboxEventTypes(t *testing.T, repo domain.OutboxRepository) []string {
	t.Helper()
	pending, err := repo.PullPending(100)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	types := make([]string, 0, len(pending))
	for _, msg := range pending {
		types = append(types, msg.EventType)
	}
	return types
}

func findOutboxEvent(t *testing.T, repo domain.OutboxRepository, eventType string) domain.OutboxMessage {
	t.Helper()
	pending, err := repo.PullPending(100)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	for _, msg := range pending {
		if msg.EventType == eventType {
			return msg
		}
	}
	t.Fatalf("expected %s event in outbox", eventType)
	return domain.OutboxMessage{}
}

func TestOrchestrator_CashSale(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.orch.ProcessSale(context.Background(), cashRequest())
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	// 2*300 + 400 = 1000, скидка 10%, налог 16% от 900.
	if !result.Sale.TotalAmount.Equal(decimal.NewFromInt(1044)) {
		t.Fatalf("expected total 1044, got %s", result.Sale.TotalAmount)
	}
	if result.Transaction != nil {
		t.Fatal("cash sale must not create a payment transaction")
	}

	stored, err := env.sales.Get(result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(stored.Items) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(stored.Items))
	}

	// Остатки списаны, резерв снят.
	p1, _ := env.products.Get("p1")
	if p1.Stock != 8 || p1.ReservedStock != 0 {
		t.Fatalf("expected p1 stock=8 reserved=0, got stock=%d reserved=%d", p1.Stock, p1.ReservedStock)
	}

	// Начислены баллы: floor(900/100) = 9.
	customer, _ := env.customers.Get("cust-1")
	if customer.LoyaltyPoints != 509 {
		t.Fatalf("expected 509 loyalty points, got %d", customer.LoyaltyPoints)
	}

	types := outboxEventTypes(t, env.outbox)
	found := false
	for _, et := range types {
		if et == "sale.completed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected sale.completed event, got %v", types)
	}

	records, err := env.audit.List("sale", result.Sale.ID)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one audit record, got %d", len(records))
	}
}

func TestOrchestrator_CashSaleWithoutCashier(t *testing.T) {
	env := newTestEnv(t)

	// Киоск самообслуживания: кассир не указан.
	req := cashRequest()
	req.UserID = ""

	result, err := env.orch.ProcessSale(context.Background(), req)
	if err != nil {
		t.Fatalf("process sale without cashier: %v", err)
	}

	stored, err := env.sales.Get(result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if stored.UserID != "" {
		t.Fatalf("expected empty user id, got %q", stored.UserID)
	}

	p1, _ := env.products.Get("p1")
	if p1.Stock != 8 || p1.ReservedStock != 0 {
		t.Fatalf("expected p1 stock=8 reserved=0, got stock=%d reserved=%d", p1.Stock, p1.ReservedStock)
	}
}

func TestOrchestrator_LoyaltyRedemption(t *testing.T) {
	env := newTestEnv(t)

	req := cashRequest()
	req.DiscountPercent = decimal.Zero
	req.TaxPercent = decimal.Zero
	req.LoyaltyPointsToRedeem = 200

	result, err := env.orch.ProcessSale(context.Background(), req)
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	if !result.Sale.LoyaltyDiscount.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected loyalty discount 200, got %s", result.Sale.LoyaltyDiscount)
	}
	if !result.Sale.TotalAmount.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected total 800, got %s", result.Sale.TotalAmount)
	}

	// Баланс: 500 - 200 списанных + 8 начисленных (floor(800/100)).
	customer, _ := env.customers.Get("cust-1")
	if customer.LoyaltyPoints != 308 {
		t.Fatalf("expected 308 loyalty points, got %d", customer.LoyaltyPoints)
	}
}

func TestOrchestrator_MobileMoneySuccess(t *testing.T) {
	env := newTestEnv(t)

	req := cashRequest()
	req.PaymentMethod = domain.PaymentMethodMpesa
	req.PhoneNumber = "254712345678"

	result, err := env.orch.ProcessSale(context.Background(), req)
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	if result.Transaction == nil {
		t.Fatal("expected a payment transaction")
	}
	if result.Transaction.Status != domain.TransactionSuccess {
		t.Fatalf("expected SUCCESS, got %s", result.Transaction.Status)
	}
	if result.Sale.TransactionID != result.Transaction.ID {
		t.Fatalf("sale must reference the transaction")
	}

	// Транзакция связана с продажей обратной ссылкой.
	txn, _ := env.txns.Get(result.Transaction.ID)
	if txn.SaleID != result.Sale.ID {
		t.Fatalf("expected sale link %s, got %s", result.Sale.ID, txn.SaleID)
	}

	types := outboxEventTypes(t, env.outbox)
	hasInitiated := false
	for _, et := range types {
		if et == "payment.initiated" {
			hasInitiated = true
		}
	}
	if !hasInitiated {
		t.Fatalf("expected payment.initiated event, got %v", types)
	}
}

func TestOrchestrator_PaymentFailureRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.awaitStatus = domain.TransactionFailed

	req := cashRequest()
	req.PaymentMethod = domain.PaymentMethodMpesa
	req.PhoneNumber = "254712345678"

	_, err := env.orch.ProcessSale(context.Background(), req)
	if !errors.Is(err, domain.ErrPaymentFailed) {
		t.Fatalf("expected payment failed, got %v", err)
	}

	var procErr *domain.SaleProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *domain.SaleProcessingError, got %T", err)
	}

	// Резерв снят, продажа не сохранена.
	p1, _ := env.products.Get("p1")
	if p1.ReservedStock != 0 || p1.Stock != 10 {
		t.Fatalf("expected reservation released, got stock=%d reserved=%d", p1.Stock, p1.ReservedStock)
	}

	// Событие отказа несёт идентификатор продажи и первопричину.
	failed := findOutboxEvent(t, env.outbox, "sale.failed")
	if failed.AggregateID == "" {
		t.Fatal("sale.failed event must carry the sale id")
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(failed.Payload, &payload); err != nil {
		t.Fatalf("unmarshal sale.failed payload: %v", err)
	}
	if payload.Reason == "" {
		t.Fatal("sale.failed payload must carry a reason")
	}
}

// failingCommitStock подменяет списание резерва, остальное делегирует.
type failingCommitStock struct {
	domain.StockManager
	commitErr error
}

func (f *failingCommitStock) Commit(context.Context, []domain.SaleItemRequest) error {
	return f.commitErr
}

func TestOrchestrator_StockCommitFailureRemovesSale(t *testing.T) {
	env := newTestEnv(t)
	env.orch.deps.Stock = &failingCommitStock{
		StockManager: env.orch.deps.Stock,
		commitErr:    errors.New("stock commit unavailable"),
	}

	_, err := env.orch.ProcessSale(context.Background(), cashRequest())
	if err == nil {
		t.Fatal("expected sale processing to fail")
	}
	var procErr *domain.SaleProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected *domain.SaleProcessingError, got %T", err)
	}

	// Продажа не должна остаться читаемой после сорванной фиксации.
	failed := findOutboxEvent(t, env.outbox, "sale.failed")
	if failed.AggregateID == "" {
		t.Fatal("sale.failed event must carry the sale id")
	}
	if _, err := env.orch.GetSale(context.Background(), failed.AggregateID); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected sale not found after failed commit, got %v", err)
	}

	// Резерв снят, остатки не тронуты.
	p1, _ := env.products.Get("p1")
	if p1.Stock != 10 || p1.ReservedStock != 0 {
		t.Fatalf("expected p1 stock=10 reserved=0, got stock=%d reserved=%d", p1.Stock, p1.ReservedStock)
	}

	// Баллы не начислены.
	customer, _ := env.customers.Get("cust-1")
	if customer.LoyaltyPoints != 500 {
		t.Fatalf("expected loyalty balance untouched, got %d", customer.LoyaltyPoints)
	}
}

func TestOrchestrator_PaymentTimeoutRollsBack(t *testing.T) {
	env := newTestEnv(t)
	env.gateway.awaitStatus = domain.TransactionTimeout

	req := cashRequest()
	req.PaymentMethod = domain.PaymentMethodMpesa
	req.PhoneNumber = "254712345678"

	_, err := env.orch.ProcessSale(context.Background(), req)
	if !errors.Is(err, domain.ErrPaymentTimeout) {
		t.Fatalf("expected payment timeout, got %v", err)
	}

	p1, _ := env.products.Get("p1")
	if p1.ReservedStock != 0 {
		t.Fatalf("expected reservation released, got %d", p1.ReservedStock)
	}
}

func TestOrchestrator_InsufficientStock(t *testing.T) {
	env := newTestEnv(t)

	req := cashRequest()
	req.Items = []domain.SaleItemRequest{{ProductID: "p2", Quantity: 50}}

	_, err := env.orch.ProcessSale(context.Background(), req)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	// Продажа не состоялась, платёж не инициировался.
	if env.gateway.initiateCnt != 0 {
		t.Fatalf("payment must not be initiated, got %d calls", env.gateway.initiateCnt)
	}
}

func TestOrchestrator_ValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"empty basket", func(r *Request) { r.Items = nil }, domain.ErrValidation},
		{"zero quantity", func(r *Request) { r.Items[0].Quantity = 0 }, domain.ErrValidation},
		{"bad payment method", func(r *Request) { r.PaymentMethod = "CHEQUE" }, domain.ErrValidation},
		{"mpesa without phone", func(r *Request) { r.PaymentMethod = domain.PaymentMethodMpesa }, domain.ErrValidation},
		{"discount above 100", func(r *Request) { r.DiscountPercent = decimal.NewFromInt(150) }, domain.ErrValidation},
		{"negative tax", func(r *Request) { r.TaxPercent = decimal.NewFromInt(-1) }, domain.ErrValidation},
		{"negative loyalty", func(r *Request) { r.LoyaltyPointsToRedeem = -5 }, domain.ErrValidation},
		{"loyalty without customer", func(r *Request) { r.CustomerID = ""; r.LoyaltyPointsToRedeem = 10 }, domain.ErrValidation},
		{"unsupported currency", func(r *Request) { r.Currency = "EUR" }, domain.ErrUnsupportedCurrency},
		{"unknown user", func(r *Request) { r.UserID = "ghost" }, domain.ErrUserNotFound},
		{"unknown customer", func(r *Request) { r.CustomerID = "ghost" }, domain.ErrCustomerNotFound},
		{"unknown product", func(r *Request) { r.Items[0].ProductID = "ghost" }, domain.ErrProductNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := cashRequest()
			tc.mutate(&req)

			_, err := env.orch.ProcessSale(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	// Валидация не оставляет побочных эффектов.
	p1, _ := env.products.Get("p1")
	if p1.ReservedStock != 0 {
		t.Fatalf("validation must not reserve stock, got %d", p1.ReservedStock)
	}
}

func TestOrchestrator_GetSale(t *testing.T) {
	env := newTestEnv(t)

	result, err := env.orch.ProcessSale(context.Background(), cashRequest())
	if err != nil {
		t.Fatalf("process sale: %v", err)
	}

	found, err := env.orch.GetSale(context.Background(), result.Sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if found.ID != result.Sale.ID {
		t.Fatalf("expected sale %s, got %s", result.Sale.ID, found.ID)
	}

	if _, err := env.orch.GetSale(context.Background(), "ghost"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected sale not found, got %v", err)
	}
}

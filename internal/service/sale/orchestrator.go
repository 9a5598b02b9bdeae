package sale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
)

// DefaultPaymentTimeout — сколько ждать подтверждения платежа у провайдера.
const DefaultPaymentTimeout = 180 * time.Second

// Request — входные параметры обработки продажи.
type Request struct {
	UserID        string
	CustomerID    string
	PaymentMethod domain.PaymentMethod
	Currency      string
	// PhoneNumber обязателен для мобильных денег.
	PhoneNumber           string
	DiscountPercent       decimal.Decimal
	TaxPercent            decimal.Decimal
	LoyaltyPointsToRedeem int32
	Items                 []domain.SaleItemRequest
}

// Result — итог обработки: зафиксированная продажа и платёжная транзакция,
// если способ оплаты требовал подтверждения.
type Result struct {
	Sale        domain.Sale
	Transaction *domain.Transaction
}

// Deps — зависимости оркестратора.
type Deps struct {
	Products  domain.ProductRepository
	Sales     domain.SaleRepository
	Customers domain.CustomerRepository
	Users     domain.UserRepository
	Txns      domain.TransactionRepository
	Stock     domain.StockManager
	Gateway   domain.PaymentGateway
	Pricer    *pricing.Engine
	Rates     domain.RateProvider
	Outbox    domain.OutboxRepository
	Audit     domain.AuditRepository
}

// Orchestrator последовательно проводит продажу через пайплайн:
// валидация -> резерв -> расчёт цены -> платёж (для мобильных денег) ->
// фиксация. Любой отказ после резерва компенсируется снятием резерва,
// наружу уходит одна обёрнутая ошибка с доступной первопричиной.
type Orchestrator struct {
	deps           Deps
	paymentTimeout time.Duration
	logger         *log.Entry
	metrics        *metrics.SaleMetrics
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(deps Deps, paymentTimeout time.Duration, logger *log.Entry) *Orchestrator {
	o := newOrchestrator(deps, paymentTimeout, logger)
	o.metrics = metrics.NewSaleMetrics()
	return o
}

// NewOrchestratorWithoutMetrics создаёт оркестратор без метрик (для тестов).
func NewOrchestratorWithoutMetrics(deps Deps, paymentTimeout time.Duration, logger *log.Entry) *Orchestrator {
	return newOrchestrator(deps, paymentTimeout, logger)
}

func newOrchestrator(deps Deps, paymentTimeout time.Duration, logger *log.Entry) *Orchestrator {
	if paymentTimeout <= 0 {
		paymentTimeout = DefaultPaymentTimeout
	}
	if logger == nil {
		logger = log.New().WithField("component", "sale")
	}
	return &Orchestrator{
		deps:           deps,
		paymentTimeout: paymentTimeout,
		logger:         logger,
	}
}

// ProcessSale проводит продажу от запроса до фиксации.
// До успешного резерва побочных эффектов нет; после провала любого
// последующего шага резерв снимается и продажа не сохраняется.
func (o *Orchestrator) ProcessSale(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if o.metrics != nil {
		o.metrics.RecordSaleStarted()
	}
	defer func() {
		if o.metrics != nil {
			o.metrics.RecordSaleFinished()
			o.metrics.RecordSaleDuration(time.Since(start))
		}
	}()

	customer, err := o.validate(ctx, req)
	if err != nil {
		o.recordFailure()
		return Result{}, &domain.SaleProcessingError{Cause: err}
	}

	saleID := uuid.NewString()
	logger := o.logger.WithField("sale_id", saleID)

	stepStart := time.Now()
	if err := o.deps.Stock.Reserve(ctx, req.Items); err != nil {
		logger.WithError(err).Warn("stock reservation failed")
		o.recordFailure()
		return Result{}, &domain.SaleProcessingError{Cause: err}
	}
	o.recordStep("reserve", stepStart)

	quote, err := o.price(req, customer)
	if err != nil {
		logger.WithError(err).Warn("pricing failed")
		o.rollback(ctx, logger, saleID, req.Items, nil, err)
		return Result{}, &domain.SaleProcessingError{Cause: err}
	}

	var txn *domain.Transaction
	if req.PaymentMethod.RequiresConfirmation() {
		txn, err = o.collectPayment(ctx, logger, saleID, req, quote)
		if err != nil {
			o.rollback(ctx, logger, saleID, req.Items, txn, err)
			return Result{}, &domain.SaleProcessingError{Cause: err}
		}
	}

	sale, err := o.finalize(ctx, logger, saleID, req, quote, customer, txn)
	if err != nil {
		o.rollback(ctx, logger, saleID, req.Items, txn, err)
		return Result{}, &domain.SaleProcessingError{Cause: err}
	}

	if o.metrics != nil {
		o.metrics.RecordSaleCompleted()
	}
	logger.WithFields(log.Fields{
		"total":          sale.TotalAmount.String(),
		"currency":       sale.Currency,
		"payment_method": sale.PaymentMethod,
	}).Info("Sale completed")

	return Result{Sale: sale, Transaction: txn}, nil
}

// GetSale возвращает продажу по идентификатору.
func (o *Orchestrator) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return o.deps.Sales.Get(id)
}

// validate проверяет запрос до каких-либо побочных эффектов.
// Возвращает покупателя, если он указан.
func (o *Orchestrator) validate(ctx context.Context, req Request) (*domain.Customer, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale must contain at least one item", domain.ErrValidation)
	}
	for _, item := range req.Items {
		if item.ProductID == "" {
			return nil, fmt.Errorf("%w: item product id is required", domain.ErrValidation)
		}
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", domain.ErrValidation)
		}
	}

	if !req.PaymentMethod.Valid() {
		return nil, fmt.Errorf("%w: unsupported payment method %q", domain.ErrValidation, req.PaymentMethod)
	}
	if req.PaymentMethod.RequiresConfirmation() && req.PhoneNumber == "" {
		return nil, fmt.Errorf("%w: phone number is required for mobile money payment", domain.ErrValidation)
	}

	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domain.ErrValidation)
	}
	if _, err := o.deps.Rates.Convert(decimal.Zero, pricing.BaseCurrency, req.Currency); err != nil {
		return nil, err
	}

	if err := validPercent(req.DiscountPercent); err != nil {
		return nil, fmt.Errorf("%w: discount percent out of range", domain.ErrValidation)
	}
	if err := validPercent(req.TaxPercent); err != nil {
		return nil, fmt.Errorf("%w: tax percent out of range", domain.ErrValidation)
	}
	if req.LoyaltyPointsToRedeem < 0 {
		return nil, fmt.Errorf("%w: loyalty points to redeem must not be negative", domain.ErrValidation)
	}

	// Кассир необязателен: продажа самообслуживания проходит без пользователя.
	if req.UserID != "" {
		if _, err := o.deps.Users.Get(req.UserID); err != nil {
			return nil, err
		}
	}

	var customer *domain.Customer
	if req.CustomerID != "" {
		c, err := o.deps.Customers.Get(req.CustomerID)
		if err != nil {
			return nil, err
		}
		customer = &c
	} else if req.LoyaltyPointsToRedeem > 0 {
		return nil, fmt.Errorf("%w: loyalty redemption requires a customer", domain.ErrValidation)
	}

	// Существование товаров проверяется здесь, чтобы не резервировать
	// корзину с заведомо неизвестной позицией.
	for _, item := range req.Items {
		if _, err := o.deps.Products.Get(item.ProductID); err != nil {
			return nil, err
		}
	}

	return customer, nil
}

func validPercent(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(decimal.NewFromInt(100)) {
		return domain.ErrValidation
	}
	return nil
}

// price собирает входы движка ценообразования из каталога.
func (o *Orchestrator) price(req Request, customer *domain.Customer) (pricing.Quote, error) {
	in := pricing.Input{
		DiscountPercent:       req.DiscountPercent,
		TaxPercent:            req.TaxPercent,
		LoyaltyPointsToRedeem: req.LoyaltyPointsToRedeem,
		Currency:              req.Currency,
	}
	if customer != nil {
		in.CustomerBalance = customer.LoyaltyPoints
	}

	for _, item := range req.Items {
		product, err := o.deps.Products.Get(item.ProductID)
		if err != nil {
			return pricing.Quote{}, err
		}
		in.Items = append(in.Items, pricing.LineInput{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   product.Price,
		})
	}

	return o.deps.Pricer.Price(in)
}

// collectPayment инициирует платёж и ждёт терминального статуса.
// Возвращает транзакцию даже при ошибке, чтобы откат мог её залогировать.
func (o *Orchestrator) collectPayment(ctx context.Context, logger *log.Entry, saleID string, req Request, quote pricing.Quote) (*domain.Transaction, error) {
	stepStart := time.Now()
	txn, err := o.deps.Gateway.Initiate(ctx, quote.Total, req.PhoneNumber, req.Currency, "POS sale", saleID)
	if err != nil {
		logger.WithError(err).Warn("payment initiation failed")
		return nil, err
	}
	o.recordStep("initiate_payment", stepStart)

	o.emitEvent(logger, "sale", saleID, string(kafka.EventTypePaymentInitiated), map[string]interface{}{
		"transaction_id": txn.ID,
		"amount":         quote.Total.String(),
		"currency":       quote.Currency,
	})

	waitStart := time.Now()
	status, err := o.deps.Gateway.AwaitTerminal(ctx, txn.ID, o.paymentTimeout)
	o.recordStep("await_payment", waitStart)
	if err != nil {
		logger.WithError(err).Warn("payment wait interrupted")
		return &txn, err
	}

	if o.metrics != nil {
		o.metrics.RecordPaymentOutcome(string(status))
	}

	switch status {
	case domain.TransactionSuccess:
		current, err := o.deps.Txns.Get(txn.ID)
		if err != nil {
			return &txn, err
		}
		return &current, nil
	case domain.TransactionTimeout:
		logger.Warn("payment confirmation timed out")
		return &txn, domain.ErrPaymentTimeout
	default:
		logger.WithField("status", status).Warn("payment failed")
		return &txn, domain.ErrPaymentFailed
	}
}

// finalize фиксирует продажу: сохраняет её, списывает остатки, применяет
// бонусные баллы, связывает транзакцию и эмитит события.
func (o *Orchestrator) finalize(ctx context.Context, logger *log.Entry, saleID string, req Request, quote pricing.Quote, customer *domain.Customer, txn *domain.Transaction) (domain.Sale, error) {
	now := time.Now().UTC()
	sale := domain.Sale{
		ID:              saleID,
		SaleDate:        now,
		UserID:          req.UserID,
		CustomerID:      req.CustomerID,
		PaymentMethod:   req.PaymentMethod,
		Currency:        quote.Currency,
		Subtotal:        quote.Subtotal,
		DiscountAmount:  quote.Discount,
		LoyaltyDiscount: quote.LoyaltyDiscount,
		TaxAmount:       quote.Tax,
		TotalAmount:     quote.Total,
		Items:           quote.Lines,
		CreatedAt:       now,
	}
	if txn != nil {
		sale.TransactionID = txn.ID
	}

	if errs := sale.ValidateInvariants(); len(errs) > 0 {
		return domain.Sale{}, fmt.Errorf("%w: sale invariants violated", domain.ErrValidation)
	}

	stepStart := time.Now()
	if err := o.deps.Sales.Create(sale); err != nil {
		return domain.Sale{}, fmt.Errorf("persist sale: %w", err)
	}
	o.recordStep("persist", stepStart)

	if err := o.deps.Stock.Commit(ctx, req.Items); err != nil {
		logger.WithError(err).Error("stock commit failed after sale persisted")
		// Компенсация: без списания остатков продажа не должна остаться читаемой.
		if delErr := o.deps.Sales.Delete(saleID); delErr != nil {
			logger.WithError(delErr).Error("delete sale during compensation failed")
		}
		return domain.Sale{}, err
	}

	if txn != nil {
		if err := o.deps.Txns.LinkSale(txn.ID, saleID); err != nil {
			logger.WithError(err).Warn("link transaction to sale failed")
		}
	}

	if customer != nil {
		if err := o.applyLoyalty(customer.ID, quote.PointsRedeemed, quote.PointsEarned); err != nil {
			// Продажа уже зафиксирована; баллы досчитает сверка, откат не нужен.
			logger.WithError(err).Error("loyalty balance update failed")
		}
	}

	o.appendAudit(logger, sale)
	o.emitEvent(logger, "sale", saleID, string(kafka.EventTypeSaleCompleted), map[string]interface{}{
		"user_id":        sale.UserID,
		"customer_id":    sale.CustomerID,
		"total":          sale.TotalAmount.String(),
		"currency":       sale.Currency,
		"payment_method": string(sale.PaymentMethod),
		"points_earned":  quote.PointsEarned,
	})

	return sale, nil
}

// applyLoyalty атомарно применяет списание и начисление баллов
// с retry на конфликт версий.
func (o *Orchestrator) applyLoyalty(customerID string, redeemed, earned int32) error {
	if redeemed == 0 && earned == 0 {
		return nil
	}

	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		customer, err := o.deps.Customers.Get(customerID)
		if err != nil {
			return err
		}

		customer.LoyaltyPoints = customer.LoyaltyPoints - redeemed + earned
		if customer.LoyaltyPoints < 0 {
			customer.LoyaltyPoints = 0
		}

		err = o.deps.Customers.Save(customer)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrCustomerConflict) {
			return err
		}

		o.logger.WithFields(log.Fields{
			"customer_id": customerID,
			"attempt":     attempt + 1,
		}).Warn("customer version conflict, retrying")
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	return domain.ErrCustomerConflict
}

// rollback компенсирует частично выполненную продажу: снимает резерв
// и переводит незавершённую транзакцию в FAILED.
func (o *Orchestrator) rollback(ctx context.Context, logger *log.Entry, saleID string, items []domain.SaleItemRequest, txn *domain.Transaction, cause error) {
	o.recordFailure()
	if o.metrics != nil {
		o.metrics.RecordSaleRolledBack()
	}

	if err := o.deps.Stock.Release(ctx, items); err != nil {
		logger.WithError(err).Error("release reservation during rollback failed")
	}

	if txn != nil {
		applied, err := o.deps.Txns.MarkTerminal(txn.ID, domain.TransactionFailed, "", "sale rolled back", "")
		if err != nil {
			logger.WithError(err).WithField("transaction_id", txn.ID).Warn("mark transaction failed during rollback")
		} else if applied {
			logger.WithField("transaction_id", txn.ID).Info("transaction marked failed during rollback")
		}
	}

	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	o.emitEvent(logger, "sale", saleID, string(kafka.EventTypeSaleFailed), map[string]interface{}{
		"reason": reason,
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
	})
	logger.Info("sale rolled back")
}

func (o *Orchestrator) recordFailure() {
	if o.metrics != nil {
		o.metrics.RecordSaleFailed()
	}
}

func (o *Orchestrator) recordStep(step string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordStepDuration(step, time.Since(start))
	}
}

func (o *Orchestrator) appendAudit(logger *log.Entry, sale domain.Sale) {
	details, err := json.Marshal(map[string]interface{}{
		"total":          sale.TotalAmount.String(),
		"currency":       sale.Currency,
		"payment_method": string(sale.PaymentMethod),
		"items":          len(sale.Items),
	})
	if err != nil {
		logger.WithError(err).Warn("marshal audit details failed")
		return
	}

	record := domain.AuditRecord{
		EntityType: "sale",
		EntityID:   sale.ID,
		Action:     "sale.completed",
		Actor:      sale.UserID,
		Details:    string(details),
		Occurred:   sale.CreatedAt,
	}
	if err := o.deps.Audit.Append(record); err != nil {
		logger.WithError(err).Warn("append audit record failed")
	} else if o.metrics != nil {
		o.metrics.RecordAuditEvent()
	}
}

// emitEvent ставит событие в transactional outbox.
func (o *Orchestrator) emitEvent(logger *log.Entry, aggregateType, aggregateID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	if aggregateID != "" {
		payload["sale_id"] = aggregateID
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.WithError(err).WithField("event", eventType).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.deps.Outbox.Enqueue(msg); err != nil {
		logger.WithError(err).WithField("event", eventType).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}
}

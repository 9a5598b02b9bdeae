package mpesa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultPollInterval = 5 * time.Second

// Gateway реализует платёжный шлюз поверх Daraja API и владеет
// state machine транзакции: PENDING -> SUCCESS | FAILED | TIMEOUT.
// Гонка callback/опроса разрешается compare-and-set'ом в репозитории,
// ожидающие горутины будятся через канал.
type Gateway struct {
	api          DarajaAPI
	txns         domain.TransactionRepository
	pollInterval time.Duration
	logger       *log.Entry

	mu      sync.Mutex
	waiters map[string][]chan domain.TransactionStatus
}

// NewGateway создаёт шлюз. pollInterval <= 0 означает интервал по умолчанию (5s).
func NewGateway(api DarajaAPI, txns domain.TransactionRepository, pollInterval time.Duration, logger *log.Entry) *Gateway {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = log.New().WithField("component", "mpesa-gateway")
	}

	return &Gateway{
		api:          api,
		txns:         txns,
		pollInterval: pollInterval,
		logger:       logger,
		waiters:      make(map[string][]chan domain.TransactionStatus),
	}
}

// Initiate создаёт PENDING-транзакцию и отправляет push-запрос на телефон
// плательщика. Отказ провайдера переводит транзакцию в FAILED.
func (g *Gateway) Initiate(ctx context.Context, amount decimal.Decimal, phone, currency, description, saleID string) (domain.Transaction, error) {
	if phone == "" {
		return domain.Transaction{}, fmt.Errorf("%w: phone number is required for mobile money payment", domain.ErrValidation)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return domain.Transaction{}, fmt.Errorf("%w: payment amount must be positive", domain.ErrValidation)
	}

	now := time.Now().UTC()
	txn := domain.Transaction{
		ID:          uuid.NewString(),
		PhoneNumber: phone,
		Amount:      amount,
		Currency:    currency,
		Status:      domain.TransactionPending,
		SaleID:      saleID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.txns.Create(txn); err != nil {
		return domain.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}

	// Провайдер принимает только целые единицы валюты; округляем вверх,
	// чтобы не недосписать.
	push := PushRequest{
		Amount:      amount.RoundCeil(0).IntPart(),
		PhoneNumber: phone,
		Reference:   txn.ID,
		Description: description,
	}

	resp, err := g.api.STKPush(ctx, push)
	if err != nil {
		if _, markErr := g.txns.MarkTerminal(txn.ID, domain.TransactionFailed, "", err.Error(), ""); markErr != nil {
			g.logger.WithFields(log.Fields{
				"transaction_id": txn.ID,
				"error":          markErr,
			}).Error("Failed to mark transaction FAILED after push rejection")
		}
		return domain.Transaction{}, err
	}

	if err := g.txns.SetCheckoutRequestID(txn.ID, resp.CheckoutRequestID); err != nil {
		return domain.Transaction{}, fmt.Errorf("store checkout request id: %w", err)
	}
	txn.CheckoutRequestID = resp.CheckoutRequestID

	g.logger.WithFields(log.Fields{
		"transaction_id":      txn.ID,
		"checkout_request_id": resp.CheckoutRequestID,
		"amount":              amount.String(),
		"currency":            currency,
	}).Info("Payment initiated")

	return txn, nil
}

// AwaitTerminal блокируется до терминального статуса транзакции, но не дольше
// timeout. Разбудить ожидание может callback, периодический опрос хранилища
// или активная сверка у провайдера перед самым дедлайном. По истечении
// дедлайна транзакция переводится в TIMEOUT.
func (g *Gateway) AwaitTerminal(ctx context.Context, transactionID string, timeout time.Duration) (domain.TransactionStatus, error) {
	txn, err := g.txns.Get(transactionID)
	if err != nil {
		return "", err
	}
	if txn.Status.Terminal() {
		return txn.Status, nil
	}

	wake := g.registerWaiter(transactionID)
	defer g.unregisterWaiter(transactionID, wake)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()

		case status := <-wake:
			return status, nil

		case <-ticker.C:
			current, err := g.txns.Get(transactionID)
			if err != nil {
				return "", err
			}
			if current.Status.Terminal() {
				return current.Status, nil
			}

		case <-deadline.C:
			return g.expire(ctx, txn)
		}
	}
}

// expire даёт транзакции последний шанс через активную сверку у провайдера
// и переводит её в TIMEOUT, если терминального статуса так и нет.
func (g *Gateway) expire(ctx context.Context, txn domain.Transaction) (domain.TransactionStatus, error) {
	if txn.CheckoutRequestID != "" {
		status, err := g.QueryStatus(ctx, txn.CheckoutRequestID)
		if err != nil {
			g.logger.WithFields(log.Fields{
				"transaction_id": txn.ID,
				"error":          err,
			}).Warn("Last-chance status query failed")
		} else if status.Terminal() {
			return status, nil
		}
	}

	applied, err := g.txns.MarkTerminal(txn.ID, domain.TransactionTimeout, "", "payment confirmation deadline exceeded", "")
	if err != nil {
		return "", err
	}
	if !applied {
		// Callback успел первым; возвращаем фактический статус.
		current, err := g.txns.Get(txn.ID)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	g.logger.WithField("transaction_id", txn.ID).Warn("Payment confirmation timed out")
	g.notifyTerminal(txn.ID, domain.TransactionTimeout)
	return domain.TransactionTimeout, nil
}

// HandleCallback применяет уведомление провайдера к транзакции.
// Возвращает транзакцию и признак того, что переход был применён;
// повторное или опоздавшее уведомление — no-op.
func (g *Gateway) HandleCallback(ctx context.Context, env CallbackEnvelope) (domain.Transaction, bool, error) {
	if err := env.Validate(); err != nil {
		return domain.Transaction{}, false, err
	}

	cb := env.Body.StkCallback
	txn, err := g.txns.GetByCheckoutRequestID(cb.CheckoutRequestID)
	if err != nil {
		return domain.Transaction{}, false, err
	}

	status := domain.TransactionFailed
	receipt := ""
	if env.Success() {
		status = domain.TransactionSuccess
		receipt = env.Receipt()
	}

	applied, err := g.txns.MarkTerminal(txn.ID, status, fmt.Sprintf("%d", cb.ResultCode), cb.ResultDesc, receipt)
	if err != nil {
		return domain.Transaction{}, false, err
	}
	if !applied {
		g.logger.WithFields(log.Fields{
			"transaction_id":      txn.ID,
			"checkout_request_id": cb.CheckoutRequestID,
			"incoming_status":     status,
			"current_status":      txn.Status,
		}).Warn("Callback for already terminal transaction ignored")
		return txn, false, nil
	}

	g.logger.WithFields(log.Fields{
		"transaction_id": txn.ID,
		"status":         status,
		"result_code":    cb.ResultCode,
	}).Info("Payment callback applied")

	g.notifyTerminal(txn.ID, status)

	txn, err = g.txns.Get(txn.ID)
	if err != nil {
		return domain.Transaction{}, true, err
	}
	return txn, true, nil
}

// QueryStatus активно сверяет статус у провайдера и применяет терминальный
// результат к транзакции.
func (g *Gateway) QueryStatus(ctx context.Context, checkoutRequestID string) (domain.TransactionStatus, error) {
	resp, err := g.api.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		return "", err
	}

	// Пустой ResultCode означает, что провайдер ещё обрабатывает транзакцию.
	if resp.ResultCode == "" {
		return domain.TransactionPending, nil
	}

	status := domain.TransactionFailed
	if resp.ResultCode == "0" {
		status = domain.TransactionSuccess
	}

	txn, err := g.txns.GetByCheckoutRequestID(checkoutRequestID)
	if err != nil {
		return "", err
	}

	applied, err := g.txns.MarkTerminal(txn.ID, status, resp.ResultCode, resp.ResultDesc, "")
	if err != nil {
		return "", err
	}
	if applied {
		g.notifyTerminal(txn.ID, status)
	} else {
		current, err := g.txns.Get(txn.ID)
		if err != nil {
			return "", err
		}
		return current.Status, nil
	}

	return status, nil
}

func (g *Gateway) registerWaiter(transactionID string) chan domain.TransactionStatus {
	ch := make(chan domain.TransactionStatus, 1)
	g.mu.Lock()
	g.waiters[transactionID] = append(g.waiters[transactionID], ch)
	g.mu.Unlock()
	return ch
}

func (g *Gateway) unregisterWaiter(transactionID string, ch chan domain.TransactionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := g.waiters[transactionID][:0]
	for _, w := range g.waiters[transactionID] {
		if w != ch {
			remaining = append(remaining, w)
		}
	}
	if len(remaining) == 0 {
		delete(g.waiters, transactionID)
	} else {
		g.waiters[transactionID] = remaining
	}
}

// notifyTerminal будит все горутины, ожидающие транзакцию.
func (g *Gateway) notifyTerminal(transactionID string, status domain.TransactionStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, ch := range g.waiters[transactionID] {
		select {
		case ch <- status:
		default:
		}
	}
	delete(g.waiters, transactionID)
}

var _ domain.PaymentGateway = (*Gateway)(nil)

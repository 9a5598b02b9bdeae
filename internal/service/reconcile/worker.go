package reconcile

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	defaultInterval  = 1 * time.Minute
	defaultStaleness = 5 * time.Minute
	defaultBatchSize = 50
)

var (
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_reconcile_runs_total",
		Help: "Total number of payment reconcile runs grouped by result.",
	}, []string{"result"})
	reconcileResolvedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_payment_reconcile_resolved_total",
		Help: "Transactions resolved by reconcile worker grouped by terminal status.",
	}, []string{"status"})
)

// Options задаёт параметры воркера сверки платежей.
type Options struct {
	Logger *log.Entry
	// Interval — период между циклами сверки.
	Interval time.Duration
	// Staleness — минимальный возраст PENDING-транзакции для сверки.
	// Свежие транзакции ещё ждёт оркестратор, их трогать нельзя.
	Staleness time.Duration
	BatchSize int
}

// Worker досматривает зависшие PENDING-транзакции: активно сверяет статус
// у провайдера и переводит безнадёжные в TIMEOUT. Закрывает дыру, когда
// процесс упал между push-запросом и получением callback.
type Worker struct {
	txns    domain.TransactionRepository
	gateway domain.PaymentGateway
	opts    Options
}

// NewWorker создаёт воркер сверки.
func NewWorker(txns domain.TransactionRepository, gateway domain.PaymentGateway, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "payment-reconcile")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Staleness <= 0 {
		opts.Staleness = defaultStaleness
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{txns: txns, gateway: gateway, opts: opts}
}

// Run запускает периодическую сверку до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.txns == nil || w.gateway == nil {
		w.opts.Logger.Warn("payment reconcile worker is disabled: repo or gateway is nil")
		return
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один цикл сверки.
func (w *Worker) ProcessOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-w.opts.Staleness)

	stale, err := w.txns.ListPendingOlderThan(cutoff, w.opts.BatchSize)
	if err != nil {
		reconcileRunsTotal.WithLabelValues("error").Inc()
		w.opts.Logger.WithError(err).Warn("failed to list stale pending transactions")
		return
	}

	for _, txn := range stale {
		if ctx.Err() != nil {
			return
		}
		w.reconcile(ctx, txn)
	}

	reconcileRunsTotal.WithLabelValues("ok").Inc()
	if len(stale) > 0 {
		w.opts.Logger.WithField("count", len(stale)).Info("payment reconcile cycle completed")
	}
}

// reconcile разрешает одну зависшую транзакцию.
func (w *Worker) reconcile(ctx context.Context, txn domain.Transaction) {
	logger := w.opts.Logger.WithField("transaction_id", txn.ID)

	if txn.CheckoutRequestID != "" {
		status, err := w.gateway.QueryStatus(ctx, txn.CheckoutRequestID)
		if err != nil {
			logger.WithError(err).Warn("provider status query failed")
		} else if status.Terminal() {
			reconcileResolvedTotal.WithLabelValues(string(status)).Inc()
			logger.WithField("status", status).Info("stale transaction resolved by provider query")
			return
		}
	}

	// Провайдер не дал терминального ответа; транзакция старше окна
	// ожидания и уже никем не ждётся.
	applied, err := w.txns.MarkTerminal(txn.ID, domain.TransactionTimeout, "", "resolved as timeout by reconcile worker", "")
	if err != nil {
		logger.WithError(err).Warn("failed to mark stale transaction as timeout")
		return
	}
	if applied {
		reconcileResolvedTotal.WithLabelValues(string(domain.TransactionTimeout)).Inc()
		logger.Warn("stale transaction marked as timeout")
	}
}

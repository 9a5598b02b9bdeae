package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics содержит метрики обработки продаж.
type SaleMetrics struct {
	// Счётчики исходов продаж
	saleStarted    prometheus.Counter
	saleCompleted  prometheus.Counter
	saleFailed     prometheus.Counter
	saleRolledBack prometheus.Counter

	// Гистограммы времени выполнения
	saleDuration prometheus.Histogram
	stepDuration *prometheus.HistogramVec

	// Исходы платежей по терминальному статусу
	paymentOutcomes *prometheus.CounterVec

	// Складские события
	lowStockAlerts prometheus.Counter

	// События outbox и журнала аудита
	outboxEvents prometheus.Counter
	auditEvents  prometheus.Counter

	// Gauge для продаж в обработке
	activeSales prometheus.Gauge
}

// NewSaleMetrics создаёт новый экземпляр метрик продаж.
func NewSaleMetrics() *SaleMetrics {
	return newSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SaleMetrics{
		saleStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sale_started_total",
			Help: "Total number of sale pipelines started",
		}),
		saleCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sale_completed_total",
			Help: "Total number of sales completed successfully",
		}),
		saleFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sale_failed_total",
			Help: "Total number of sales failed",
		}),
		saleRolledBack: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sale_rolled_back_total",
			Help: "Total number of sales rolled back after payment failure",
		}),
		saleDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_duration_seconds",
			Help:    "Duration of sale processing in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_step_duration_seconds",
			Help:    "Duration of individual sale pipeline steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		paymentOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_payment_outcomes_total",
			Help: "Terminal payment transaction outcomes by status",
		}, []string{"status"}),
		lowStockAlerts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_low_stock_alerts_total",
			Help: "Total number of low stock alerts raised",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		auditEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_audit_events_total",
			Help: "Total number of audit records appended",
		}),
		activeSales: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_active_sales",
			Help: "Number of sales currently in processing",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSaleStarted увеличивает счётчик запущенных продаж.
func (m *SaleMetrics) RecordSaleStarted() {
	m.saleStarted.Inc()
	m.activeSales.Inc()
}

// RecordSaleFinished уменьшает количество продаж в обработке.
func (m *SaleMetrics) RecordSaleFinished() {
	m.activeSales.Dec()
}

// RecordSaleCompleted увеличивает счётчик успешных продаж.
func (m *SaleMetrics) RecordSaleCompleted() {
	m.saleCompleted.Inc()
}

// RecordSaleFailed увеличивает счётчик неудачных продаж.
func (m *SaleMetrics) RecordSaleFailed() {
	m.saleFailed.Inc()
}

// RecordSaleRolledBack увеличивает счётчик откаченных продаж.
func (m *SaleMetrics) RecordSaleRolledBack() {
	m.saleRolledBack.Inc()
}

// RecordSaleDuration записывает время обработки продажи.
func (m *SaleMetrics) RecordSaleDuration(duration time.Duration) {
	m.saleDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага пайплайна.
func (m *SaleMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordPaymentOutcome фиксирует терминальный исход платежа.
func (m *SaleMetrics) RecordPaymentOutcome(status string) {
	m.paymentOutcomes.WithLabelValues(status).Inc()
}

// RecordLowStockAlert увеличивает счётчик складских алертов.
func (m *SaleMetrics) RecordLowStockAlert() {
	m.lowStockAlerts.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SaleMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordAuditEvent увеличивает счётчик записей аудита.
func (m *SaleMetrics) RecordAuditEvent() {
	m.auditEvents.Inc()
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/messaging"
	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
	idemsvc "github.com/vladislavdragonenkov/pos/internal/service/idempotency"
	"github.com/vladislavdragonenkov/pos/internal/service/mpesa"
	"github.com/vladislavdragonenkov/pos/internal/service/outbox"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
	"github.com/vladislavdragonenkov/pos/internal/service/reconcile"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
	"github.com/vladislavdragonenkov/pos/internal/service/stock"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
	httpapi "github.com/vladislavdragonenkov/pos/internal/transport/http"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

// repositories группирует все хранилища одной storage-реализации.
type repositories struct {
	Products    domain.ProductRepository
	Sales       domain.SaleRepository
	Customers   domain.CustomerRepository
	Users       domain.UserRepository
	Txns        domain.TransactionRepository
	Outbox      domain.OutboxRepository
	Audit       domain.AuditRepository
	Idempotency domain.IdempotencyRepository
}

// Dependencies содержит все собранные компоненты приложения.
type Dependencies struct {
	repositories

	Store         *postgres.Store
	KafkaProducer *kafka.Producer

	Gateway      *mpesa.Gateway
	Orchestrator *sale.Orchestrator
	API          *httpapi.API

	OutboxWorker    *outbox.Worker
	ReconcileWorker *reconcile.Worker
	CleanupWorker   *idemsvc.CleanupWorker

	Health *health.Handler
	Logger *log.Entry
}

// NewDependencies собирает граф зависимостей по конфигурации.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	if err := deps.initStorage(ctx, cfg, logger); err != nil {
		return nil, err
	}
	deps.initKafka(cfg, logger)

	rates := pricing.NewStaticRates()
	pricer := pricing.NewEngine(rates)

	notifier := messaging.NewOutboxNotifier(deps.Outbox, logger.WithField("component", "notifier"))
	stockManager := stock.NewManager(deps.Products, notifier, logger.WithField("component", "stock"))

	api := deps.initMpesaAPI(cfg, logger)
	deps.Gateway = mpesa.NewGateway(api, deps.Txns, cfg.PaymentPollInterval, logger.WithField("component", "mpesa-gateway"))
	if mock, ok := api.(*mpesa.MockAPI); ok {
		gateway := deps.Gateway
		mock.Deliver = func(env mpesa.CallbackEnvelope) {
			if _, _, err := gateway.HandleCallback(context.Background(), env); err != nil {
				logger.WithError(err).Warn("mock callback delivery failed")
			}
		}
	}

	deps.Orchestrator = sale.NewOrchestrator(sale.Deps{
		Products:  deps.Products,
		Sales:     deps.Sales,
		Customers: deps.Customers,
		Users:     deps.Users,
		Txns:      deps.Txns,
		Stock:     stockManager,
		Gateway:   deps.Gateway,
		Pricer:    pricer,
		Rates:     rates,
		Outbox:    deps.Outbox,
		Audit:     deps.Audit,
	}, cfg.PaymentTimeout, logger.WithField("component", "sale"))

	deps.API = httpapi.NewAPI(deps.Orchestrator, deps.Gateway, deps.Idempotency, logger.WithField("component", "http"))

	deps.initWorkers(cfg, logger)
	deps.initHealth()

	return deps, nil
}

// Close освобождает внешние ресурсы.
func (d *Dependencies) Close() {
	if d.KafkaProducer != nil {
		if err := d.KafkaProducer.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka producer")
		}
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

func (d *Dependencies) initStorage(ctx context.Context, cfg Config, logger *log.Entry) error {
	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("postgres storage selected but POS_POSTGRES_DSN is empty")
		}
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("apply migrations: %w", err)
		}

		d.Store = store
		d.repositories = repositories{
			Products:    postgres.NewProductRepository(store),
			Sales:       postgres.NewSaleRepository(store),
			Customers:   postgres.NewCustomerRepository(store),
			Users:       postgres.NewUserRepository(store),
			Txns:        postgres.NewTransactionRepository(store),
			Outbox:      postgres.NewOutboxRepository(store),
			Audit:       postgres.NewAuditRepository(store),
			Idempotency: postgres.NewIdempotencyRepository(store),
		}
		logger.Info("postgres storage initialized")
		return nil

	case StorageMemory:
		users := memory.NewUserRepository()
		d.repositories = repositories{
			Products:    memory.NewProductRepository(),
			Sales:       memory.NewSaleRepository(),
			Customers:   memory.NewCustomerRepository(),
			Users:       users,
			Txns:        memory.NewTransactionRepository(),
			Outbox:      memory.NewOutboxRepository(),
			Audit:       memory.NewAuditRepository(),
			Idempotency: memory.NewIdempotencyRepository(),
		}
		if cfg.SeedDemoData {
			seedDemoData(users, d.Products, d.Customers, logger)
		}
		logger.Info("in-memory storage initialized")
		return nil

	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func (d *Dependencies) initKafka(cfg Config, logger *log.Entry) {
	if len(cfg.KafkaBrokers) == 0 {
		return
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return
	}

	d.KafkaProducer = producer
	logger.WithField("brokers", cfg.KafkaBrokers).Info("kafka producer initialized")
}

// initMpesaAPI выбирает реального клиента Daraja либо заглушку,
// когда учётные данные провайдера не заданы.
func (d *Dependencies) initMpesaAPI(cfg Config, logger *log.Entry) mpesa.DarajaAPI {
	if cfg.MpesaConfigured() {
		return mpesa.NewClient(mpesa.Config{
			BaseURL:        cfg.MpesaBaseURL,
			ConsumerKey:    cfg.MpesaConsumerKey,
			ConsumerSecret: cfg.MpesaConsumerSecret,
			ShortCode:      cfg.MpesaShortCode,
			Passkey:        cfg.MpesaPasskey,
			CallbackURL:    cfg.MpesaCallbackURL,
		}, mpesa.DefaultRetryConfig(), logger.WithField("component", "mpesa-client"))
	}

	logger.Warn("mpesa credentials are not configured, using mock provider")
	return mpesa.NewMockAPI(2*time.Second, logger.WithField("component", "mpesa-mock"))
}

func (d *Dependencies) initWorkers(cfg Config, logger *log.Entry) {
	var publisher domain.OutboxPublisher
	var dlq domain.OutboxPublisher
	if d.KafkaProducer != nil {
		publisher = kafka.NewOutboxPublisher(d.KafkaProducer, kafka.TopicSaleEvents, kafka.TopicStockAlerts)
		dlq = kafka.NewOutboxPublisher(d.KafkaProducer, kafka.TopicDeadLetterQueue, kafka.TopicDeadLetterQueue)
	} else {
		publisher = messaging.NewLogPublisher(logger.WithField("component", "log-publisher"))
	}

	d.OutboxWorker = outbox.NewWorker(d.Outbox, publisher, outbox.Options{
		Logger:       logger.WithField("component", "outbox-worker"),
		DLQPublisher: dlq,
		PollInterval: cfg.OutboxPollInterval,
	})

	d.ReconcileWorker = reconcile.NewWorker(d.Txns, d.Gateway, reconcile.Options{
		Logger:    logger.WithField("component", "payment-reconcile"),
		Interval:  cfg.ReconcileInterval,
		Staleness: cfg.ReconcileStaleness,
	})

	d.CleanupWorker = idemsvc.NewCleanupWorker(d.Idempotency, idemsvc.CleanupOptions{
		Logger:   logger.WithField("component", "idempotency-cleanup-worker"),
		Interval: cfg.CleanupInterval,
	})
}

func (d *Dependencies) initHealth() {
	v, _, _ := version.Info()
	handler := health.NewHandler(v)

	if d.Store != nil {
		store := d.Store
		handler.RegisterChecker("postgres", health.NewSimpleChecker("postgres", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return store.Ping(ctx)
		}))
	}

	d.Health = handler
}

// seedDemoData наполняет in-memory хранилище данными для локальной разработки.
func seedDemoData(users interface{ Add(domain.User) }, products domain.ProductRepository, customers domain.CustomerRepository, logger *log.Entry) {
	now := time.Now().UTC()

	users.Add(domain.User{
		ID:        "user-1",
		Username:  "cashier",
		Email:     "cashier@example.com",
		CreatedAt: now,
	})

	demoProducts := []domain.Product{
		{
			ID: "prod-1", Name: "Maize flour 2kg", Barcode: "6161100000017",
			Price: decimal.NewFromInt(185), Stock: 120, LowStockThreshold: 20,
			LowStockMinimumOrder: 48, SupplierID: "supplier-1",
		},
		{
			ID: "prod-2", Name: "Cooking oil 1L", Barcode: "6161100000024",
			Price: decimal.NewFromInt(320), Stock: 60, LowStockThreshold: 10,
			LowStockMinimumOrder: 24, SupplierID: "supplier-1",
		},
		{
			ID: "prod-3", Name: "Milk 500ml", Barcode: "6161100000031",
			Price: decimal.NewFromInt(65), Stock: 200, LowStockThreshold: 40,
		},
	}
	for i := range demoProducts {
		demoProducts[i].CreatedAt = now
		demoProducts[i].UpdatedAt = now
		if err := products.Create(demoProducts[i]); err != nil {
			logger.WithError(err).WithField("product_id", demoProducts[i].ID).Warn("seed product failed")
		}
	}

	if err := customers.Create(domain.Customer{
		ID:            "cust-1",
		Name:          "Jane Wambui",
		Phone:         "254712345678",
		LoyaltyPoints: 500,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		logger.WithError(err).Warn("seed customer failed")
	}

	logger.Info("demo data seeded")
}

package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers, поддерживаемые приложением.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config — настройки приложения. Все значения читаются из переменных
// окружения с префиксом POS_; .env подхватывается автоматически.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver string
	PostgresDSN   string

	KafkaBrokers []string

	MpesaBaseURL        string
	MpesaConsumerKey    string
	MpesaConsumerSecret string
	MpesaShortCode      string
	MpesaPasskey        string
	MpesaCallbackURL    string

	// PaymentTimeout — окно ожидания подтверждения платежа.
	PaymentTimeout time.Duration
	// PaymentPollInterval — период опроса статуса транзакции при ожидании.
	PaymentPollInterval time.Duration

	OutboxPollInterval time.Duration
	ReconcileInterval  time.Duration
	// ReconcileStaleness — минимальный возраст PENDING-транзакции для сверки.
	ReconcileStaleness time.Duration
	CleanupInterval    time.Duration

	// SeedDemoData наполняет in-memory хранилище демонстрационными данными.
	SeedDemoData bool
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:            ":8080",
		MetricsAddr:         ":9090",
		StorageDriver:       StorageMemory,
		PaymentTimeout:      180 * time.Second,
		PaymentPollInterval: 5 * time.Second,
		OutboxPollInterval:  time.Second,
		ReconcileInterval:   time.Minute,
		ReconcileStaleness:  5 * time.Minute,
		CleanupInterval:     time.Hour,
		SeedDemoData:        true,
	}
}

// LoadConfig читает конфигурацию из окружения поверх умолчаний.
func LoadConfig() Config {
	// Отсутствие .env не ошибка: в контейнере переменные приходят извне.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("POS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("POS_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = strings.ToLower(envString("POS_STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = envString("POS_POSTGRES_DSN", cfg.PostgresDSN)

	if v := strings.TrimSpace(os.Getenv("POS_KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = strings.Split(v, ",")
	}

	cfg.MpesaBaseURL = envString("POS_MPESA_BASE_URL", cfg.MpesaBaseURL)
	cfg.MpesaConsumerKey = envString("POS_MPESA_CONSUMER_KEY", cfg.MpesaConsumerKey)
	cfg.MpesaConsumerSecret = envString("POS_MPESA_CONSUMER_SECRET", cfg.MpesaConsumerSecret)
	cfg.MpesaShortCode = envString("POS_MPESA_SHORTCODE", cfg.MpesaShortCode)
	cfg.MpesaPasskey = envString("POS_MPESA_PASSKEY", cfg.MpesaPasskey)
	cfg.MpesaCallbackURL = envString("POS_MPESA_CALLBACK_URL", cfg.MpesaCallbackURL)

	cfg.PaymentTimeout = envDuration("POS_PAYMENT_TIMEOUT", cfg.PaymentTimeout)
	cfg.PaymentPollInterval = envDuration("POS_PAYMENT_POLL_INTERVAL", cfg.PaymentPollInterval)
	cfg.OutboxPollInterval = envDuration("POS_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.ReconcileInterval = envDuration("POS_RECONCILE_INTERVAL", cfg.ReconcileInterval)
	cfg.ReconcileStaleness = envDuration("POS_RECONCILE_STALENESS", cfg.ReconcileStaleness)
	cfg.CleanupInterval = envDuration("POS_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.CleanupInterval)

	cfg.SeedDemoData = envBool("POS_SEED_DEMO_DATA", cfg.SeedDemoData)

	return cfg
}

// MpesaConfigured сообщает, заданы ли учётные данные реального провайдера.
func (c Config) MpesaConfigured() bool {
	return c.MpesaConsumerKey != "" && c.MpesaConsumerSecret != "" &&
		c.MpesaShortCode != "" && c.MpesaPasskey != ""
}

func envString(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func envBool(name string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

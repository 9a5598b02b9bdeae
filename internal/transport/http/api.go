package httpapi

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/mpesa"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

// SaleProcessor — операции продаж, которые выставляет API.
type SaleProcessor interface {
	ProcessSale(ctx context.Context, req sale.Request) (sale.Result, error)
	GetSale(ctx context.Context, id string) (domain.Sale, error)
}

// CallbackHandler применяет уведомление платёжного провайдера.
type CallbackHandler interface {
	HandleCallback(ctx context.Context, env mpesa.CallbackEnvelope) (domain.Transaction, bool, error)
}

// API — HTTP-слой сервиса точки продаж.
type API struct {
	sales       SaleProcessor
	gateway     CallbackHandler
	idempotency domain.IdempotencyRepository
	logger      *log.Entry
}

// NewAPI создаёт HTTP API. idempotency может быть nil: тогда заголовок
// Idempotency-Key игнорируется и каждый запрос обрабатывается заново.
func NewAPI(sales SaleProcessor, gateway CallbackHandler, idempotency domain.IdempotencyRepository, logger *log.Entry) *API {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	return &API{
		sales:       sales,
		gateway:     gateway,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Routes собирает маршруты API.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sales", a.handleCreateSale)
		r.Get("/sales/{id}", a.handleGetSale)
		r.Post("/payments/mpesa/callback", a.handleMpesaCallback)
	})

	return r
}

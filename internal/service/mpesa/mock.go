package mpesa

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// MockAPI — заглушка Daraja для разработки и демо-стендов без учётных
// данных провайдера. После push-запроса асинхронно доставляет callback
// через заданную задержку, имитируя подтверждение на телефоне.
type MockAPI struct {
	// Delay — пауза перед доставкой callback.
	Delay time.Duration
	// ResultCode — код результата в callback: 0 означает успех.
	ResultCode int
	// Deliver вызывается с готовым конвертом callback; обычно это
	// обёртка над Gateway.HandleCallback.
	Deliver func(env CallbackEnvelope)
	Logger  *log.Entry

	pushes atomic.Int64
}

// NewMockAPI создаёт заглушку, подтверждающую каждый платёж через delay.
func NewMockAPI(delay time.Duration, logger *log.Entry) *MockAPI {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	if logger == nil {
		logger = log.WithField("component", "mpesa-mock")
	}
	return &MockAPI{Delay: delay, Logger: logger}
}

// STKPush имитирует успешный приём push-запроса провайдером.
func (m *MockAPI) STKPush(_ context.Context, req PushRequest) (PushResponse, error) {
	checkoutRequestID := "ws_CO_" + uuid.NewString()
	m.pushes.Add(1)

	m.Logger.WithFields(log.Fields{
		"checkout_request_id": checkoutRequestID,
		"phone":               req.PhoneNumber,
		"amount":              req.Amount,
	}).Info("mock STK push accepted")

	if m.Deliver != nil {
		go func() {
			time.Sleep(m.Delay)
			m.Deliver(m.buildCallback(checkoutRequestID, req.Amount))
		}()
	}

	return PushResponse{
		MerchantRequestID:   uuid.NewString(),
		CheckoutRequestID:   checkoutRequestID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

// QueryStatus отдаёт терминальный результат в соответствии с ResultCode.
func (m *MockAPI) QueryStatus(_ context.Context, checkoutRequestID string) (QueryResponse, error) {
	resultDesc := "The service request is processed successfully."
	if m.ResultCode != 0 {
		resultDesc = "Request cancelled by user"
	}
	return QueryResponse{
		ResponseCode:      "0",
		ResultCode:        fmt.Sprintf("%d", m.ResultCode),
		ResultDesc:        resultDesc,
		CheckoutRequestID: checkoutRequestID,
	}, nil
}

// Pushes возвращает число принятых push-запросов.
func (m *MockAPI) Pushes() int64 {
	return m.pushes.Load()
}

func (m *MockAPI) buildCallback(checkoutRequestID string, amount int64) CallbackEnvelope {
	cb := StkCallback{
		MerchantRequestID: uuid.NewString(),
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        m.ResultCode,
		ResultDesc:        "The service request is processed successfully.",
	}
	if m.ResultCode == 0 {
		cb.CallbackMetadata = &CallbackMetadata{Item: []MetadataItem{
			{Name: "Amount", Value: amount},
			{Name: "MpesaReceiptNumber", Value: "MOCK" + uuid.NewString()[:8]},
		}}
	} else {
		cb.ResultDesc = "Request cancelled by user"
	}

	return CallbackEnvelope{Body: CallbackBody{StkCallback: cb}}
}

var _ DarajaAPI = (*MockAPI)(nil)

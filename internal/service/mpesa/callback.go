package mpesa

import (
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// CallbackEnvelope — тело POST-уведомления провайдера о результате push-транзакции.
type CallbackEnvelope struct {
	Body CallbackBody `json:"Body"`
}

// CallbackBody — вложенный уровень конверта.
type CallbackBody struct {
	StkCallback StkCallback `json:"stkCallback"`
}

// StkCallback — результат push-транзакции. ResultCode 0 означает успех,
// любой другой код — отказ (отмена плательщиком, нехватка средств и т.д.).
type StkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

// CallbackMetadata присутствует только в успешных уведомлениях.
type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

// MetadataItem — пара имя/значение из метаданных уведомления.
// Value приходит то строкой, то числом, поэтому тип не фиксируется.
type MetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

// Validate проверяет структурную целостность конверта.
func (e CallbackEnvelope) Validate() error {
	if e.Body.StkCallback.CheckoutRequestID == "" {
		return fmt.Errorf("%w: missing checkout request id", domain.ErrCallbackValidation)
	}
	return nil
}

// Success сообщает, завершилась ли транзакция успехом.
func (e CallbackEnvelope) Success() bool {
	return e.Body.StkCallback.ResultCode == 0
}

// Receipt извлекает номер квитанции провайдера из метаданных.
// Для неуспешных уведомлений возвращает пустую строку.
func (e CallbackEnvelope) Receipt() string {
	meta := e.Body.StkCallback.CallbackMetadata
	if meta == nil {
		return ""
	}
	for _, item := range meta.Item {
		if item.Name != "MpesaReceiptNumber" {
			continue
		}
		if s, ok := item.Value.(string); ok {
			return s
		}
	}
	return ""
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/mpesa"
)

// callbackAck — тело подтверждения в формате, который ожидает провайдер.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// handleMpesaCallback обрабатывает POST /api/v1/payments/mpesa/callback.
// Провайдер повторяет доставку при любом не-200 ответе, поэтому все
// валидные уведомления подтверждаются, даже опоздавшие или неизвестные.
// 400 уходит только на структурно некорректный конверт.
func (a *API) handleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	var env mpesa.CallbackEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, callbackAck{ResultCode: 1, ResultDesc: "Invalid callback payload"})
		return
	}

	txn, applied, err := a.gateway.HandleCallback(r.Context(), env)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrCallbackValidation):
			writeJSON(w, http.StatusBadRequest, callbackAck{ResultCode: 1, ResultDesc: "Invalid callback payload"})
		case errors.Is(err, domain.ErrTransactionNotFound):
			// Неизвестный CheckoutRequestID: транзакция могла быть создана
			// другим инстансом до сбоя. Подтверждаем, чтобы провайдер не
			// ретраил бесконечно.
			a.logger.WithField("checkout_request_id", env.Body.StkCallback.CheckoutRequestID).
				Warn("callback for unknown transaction acknowledged")
			writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
		default:
			a.logger.WithError(err).Error("payment callback processing failed")
			writeJSON(w, http.StatusInternalServerError, callbackAck{ResultCode: 1, ResultDesc: "Internal error"})
		}
		return
	}

	if !applied {
		a.logger.WithFields(log.Fields{
			"transaction_id": txn.ID,
			"status":         txn.Status,
		}).Info("duplicate payment callback acknowledged")
	}

	writeJSON(w, http.StatusOK, callbackAck{ResultCode: 0, ResultDesc: "Accepted"})
}

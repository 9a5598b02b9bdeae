package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

const maxBodySize = 1 << 20

type saleItemPayload struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

type saleRequestPayload struct {
	UserID                string            `json:"user_id"`
	CustomerID            string            `json:"customer_id,omitempty"`
	PaymentMethod         string            `json:"payment_method"`
	Currency              string            `json:"currency"`
	PhoneNumber           string            `json:"phone_number,omitempty"`
	DiscountPercent       decimal.Decimal   `json:"discount_percent"`
	TaxPercent            decimal.Decimal   `json:"tax_percent"`
	LoyaltyPointsToRedeem int32             `json:"loyalty_points_to_redeem"`
	Items                 []saleItemPayload `json:"items"`
}

type saleLinePayload struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int32           `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

type transactionPayload struct {
	ID                string          `json:"id"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	ReceiptID         string          `json:"receipt_id,omitempty"`
	Status            string          `json:"status"`
	ResultCode        string          `json:"result_code,omitempty"`
	ResultDesc        string          `json:"result_desc,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
}

type saleResponse struct {
	ID              string              `json:"id"`
	SaleDate        time.Time           `json:"sale_date"`
	UserID          string              `json:"user_id"`
	CustomerID      string              `json:"customer_id,omitempty"`
	PaymentMethod   string              `json:"payment_method"`
	Currency        string              `json:"currency"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	DiscountAmount  decimal.Decimal     `json:"discount_amount"`
	LoyaltyDiscount decimal.Decimal     `json:"loyalty_discount"`
	TaxAmount       decimal.Decimal     `json:"tax_amount"`
	TotalAmount     decimal.Decimal     `json:"total_amount"`
	Items           []saleLinePayload   `json:"items"`
	Transaction     *transactionPayload `json:"transaction,omitempty"`
}

// handleCreateSale обрабатывает POST /api/v1/sales.
// Заголовок Idempotency-Key включает защиту от повторной обработки:
// первый запрос выполняется, конкурентный дубликат получает 409,
// повторный после завершения — сохранённый ответ.
func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	var payload saleRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && a.idempotency != nil {
		if done := a.beginIdempotent(w, key, body); done {
			return
		}
	}

	result, err := a.sales.ProcessSale(r.Context(), sale.Request{
		UserID:                payload.UserID,
		CustomerID:            payload.CustomerID,
		PaymentMethod:         domain.PaymentMethod(payload.PaymentMethod),
		Currency:              payload.Currency,
		PhoneNumber:           payload.PhoneNumber,
		DiscountPercent:       payload.DiscountPercent,
		TaxPercent:            payload.TaxPercent,
		LoyaltyPointsToRedeem: payload.LoyaltyPointsToRedeem,
		Items:                 toItemRequests(payload.Items),
	})
	if err != nil {
		status := statusFromError(err)
		respBody, _ := json.Marshal(errorResponse{Error: err.Error()})
		a.finishIdempotent(key, false, respBody, status)
		writeRaw(w, status, respBody)
		return
	}

	resp := toSaleResponse(result.Sale, result.Transaction)
	respBody, err := json.Marshal(resp)
	if err != nil {
		a.logger.WithError(err).Error("marshal sale response failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	a.finishIdempotent(key, true, respBody, http.StatusCreated)
	writeRaw(w, http.StatusCreated, respBody)
}

// handleGetSale обрабатывает GET /api/v1/sales/{id}.
func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	found, err := a.sales.GetSale(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSaleResponse(found, nil))
}

// beginIdempotent регистрирует ключ идемпотентности. Возвращает true,
// если ответ уже записан и обработку продолжать не нужно.
func (a *API) beginIdempotent(w http.ResponseWriter, key string, body []byte) bool {
	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	record, err := a.idempotency.CreateProcessing(key, requestHash, time.Time{})
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "idempotency key reused with different request"})
		return true
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "request with this idempotency key is being processed"})
			return true
		}
		writeRaw(w, record.HTTPStatus, record.ResponseBody)
		return true
	default:
		a.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency registration failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return true
	}
}

// finishIdempotent сохраняет итоговый ответ под ключом идемпотентности.
func (a *API) finishIdempotent(key string, success bool, body []byte, status int) {
	if key == "" || a.idempotency == nil {
		return
	}

	var err error
	if success {
		err = a.idempotency.MarkDone(key, body, status)
	} else {
		err = a.idempotency.MarkFailed(key, body, status)
	}
	if err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key).Warn("store idempotent response failed")
	}
}

func toItemRequests(items []saleItemPayload) []domain.SaleItemRequest {
	result := make([]domain.SaleItemRequest, 0, len(items))
	for _, item := range items {
		result = append(result, domain.SaleItemRequest{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}
	return result
}

func toSaleResponse(s domain.Sale, txn *domain.Transaction) saleResponse {
	resp := saleResponse{
		ID:              s.ID,
		SaleDate:        s.SaleDate,
		UserID:          s.UserID,
		CustomerID:      s.CustomerID,
		PaymentMethod:   string(s.PaymentMethod),
		Currency:        s.Currency,
		Subtotal:        s.Subtotal,
		DiscountAmount:  s.DiscountAmount,
		LoyaltyDiscount: s.LoyaltyDiscount,
		TaxAmount:       s.TaxAmount,
		TotalAmount:     s.TotalAmount,
		Items:           make([]saleLinePayload, 0, len(s.Items)),
	}

	for _, item := range s.Items {
		resp.Items = append(resp.Items, saleLinePayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}

	if txn != nil {
		resp.Transaction = &transactionPayload{
			ID:                txn.ID,
			CheckoutRequestID: txn.CheckoutRequestID,
			ReceiptID:         txn.ReceiptID,
			Status:            string(txn.Status),
			ResultCode:        txn.ResultCode,
			ResultDesc:        txn.ResultDesc,
			Amount:            txn.Amount,
			Currency:          txn.Currency,
		}
	}

	return resp
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentMethod описывает способ оплаты продажи.
type PaymentMethod string

const (
	// PaymentMethodCash — наличные, подтверждение не требуется.
	PaymentMethodCash PaymentMethod = "CASH"
	// PaymentMethodMpesa — мобильные деньги через STK push с асинхронным подтверждением.
	PaymentMethodMpesa PaymentMethod = "MPESA"
	// PaymentMethodCard — карта; терминал подтверждает оплату до вызова API.
	PaymentMethodCard PaymentMethod = "CARD"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodMpesa, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// RequiresConfirmation сообщает, нужен ли платёжный цикл с провайдером.
func (m PaymentMethod) RequiresConfirmation() bool {
	return m == PaymentMethodMpesa
}

// SaleLineItem — одна позиция продажи. Создаётся на этапе расчёта цены
// и неизменна после фиксации продажи.
type SaleLineItem struct {
	ProductID   string
	ProductName string
	Quantity    int32
	// UnitPrice — снапшот цены за единицу в валюте продажи на момент расчёта.
	UnitPrice decimal.Decimal
	// LineTotal = Quantity * UnitPrice.
	LineTotal decimal.Decimal
}

// Sale агрегирует зафиксированную продажу и её позиции.
// Позиции принадлежат продаже целиком (каскадный жизненный цикл).
type Sale struct {
	ID            string
	SaleDate      time.Time
	UserID        string
	CustomerID    string
	PaymentMethod PaymentMethod
	Currency      string
	Subtotal      decimal.Decimal
	// DiscountAmount — скидка по проценту из запроса.
	DiscountAmount decimal.Decimal
	// LoyaltyDiscount — денежный эквивалент списанных бонусных баллов.
	LoyaltyDiscount decimal.Decimal
	TaxAmount       decimal.Decimal
	// TotalAmount = Subtotal - DiscountAmount - LoyaltyDiscount + TaxAmount.
	TotalAmount decimal.Decimal
	Items       []SaleLineItem
	// TransactionID связывает продажу с платёжной транзакцией.
	// Пустой для способов оплаты без подтверждения.
	TransactionID string
	CreatedAt     time.Time
}

// ValidateInvariants сверяет суммы продажи с позициями и формулой итога.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if len(s.Items) == 0 {
		errs = append(errs, ErrValidation)
	}

	subtotal := decimal.Zero
	for _, item := range s.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrValidation)
		}
		subtotal = subtotal.Add(item.LineTotal)
	}
	if !subtotal.Equal(s.Subtotal) {
		errs = append(errs, ErrValidation)
	}

	total := s.Subtotal.Sub(s.DiscountAmount).Sub(s.LoyaltyDiscount).Add(s.TaxAmount)
	if !total.Equal(s.TotalAmount) {
		errs = append(errs, ErrValidation)
	}

	return errs
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus описывает состояние платёжной транзакции.
// SUCCESS, FAILED и TIMEOUT терминальны: из них нет переходов.
type TransactionStatus string

const (
	// TransactionPending — push-запрос отправлен, ждём callback или результат опроса.
	TransactionPending TransactionStatus = "PENDING"
	// TransactionSuccess — провайдер подтвердил списание.
	TransactionSuccess TransactionStatus = "SUCCESS"
	// TransactionFailed — провайдер отклонил платёж или инициирование сорвалось.
	TransactionFailed TransactionStatus = "FAILED"
	// TransactionTimeout — терминальный статус не пришёл за отведённое окно.
	TransactionTimeout TransactionStatus = "TIMEOUT"
)

// Terminal сообщает, достигнут ли финальный статус.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionSuccess, TransactionFailed, TransactionTimeout:
		return true
	default:
		return false
	}
}

// Transaction — запись о платеже мобильными деньгами, связанная с продажей.
type Transaction struct {
	ID string
	// CheckoutRequestID — корреляционный идентификатор провайдера,
	// по нему сопоставляются callback и статусные запросы.
	CheckoutRequestID string
	// ReceiptID — номер квитанции провайдера, заполняется при успехе.
	ReceiptID   string
	PhoneNumber string
	Amount      decimal.Decimal
	Currency    string
	Status      TransactionStatus
	ResultCode  string
	ResultDesc  string
	// SaleID — обратная ссылка на продажу; проставляется оркестратором
	// одним явным шагом связывания.
	SaleID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет ключевые поля транзакции.
func (t *Transaction) Validate() []error {
	var errs []error

	if t.PhoneNumber == "" {
		errs = append(errs, ErrValidation)
	}
	if t.Amount.IsNegative() {
		errs = append(errs, ErrValidation)
	}
	if t.Currency == "" {
		errs = append(errs, ErrValidation)
	}

	return errs
}

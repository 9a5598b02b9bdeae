package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// BaseCurrency — валюта каталога и бонусных баллов.
const BaseCurrency = "KES"

// StaticRates — таблица курсов с фиксированными значениями по парам валют.
// Реализует domain.RateProvider; в проде заменяется источником с живыми курсами.
type StaticRates struct {
	rates map[string]decimal.Decimal
}

// NewStaticRates возвращает таблицу с поддерживаемыми парами конвертации.
func NewStaticRates() *StaticRates {
	return &StaticRates{
		rates: map[string]decimal.Decimal{
			"KES-USD": decimal.NewFromFloat(0.0078),
			"USD-KES": decimal.NewFromFloat(128.50),
		},
	}
}

// Convert переводит сумму из одной валюты в другую с округлением до 2 знаков.
// Неизвестная пара — *domain.CurrencyError.
func (r *StaticRates) Convert(amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}

	rate, ok := r.rates[from+"-"+to]
	if !ok {
		return decimal.Decimal{}, &domain.CurrencyError{From: from, To: to}
	}

	return amount.Mul(rate).Round(2), nil
}

var _ domain.RateProvider = (*StaticRates)(nil)

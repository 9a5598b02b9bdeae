package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product описывает товар на складе точки продаж.
// Физический остаток и резерв ведутся раздельно: Stock — единицы на полке,
// ReservedStock — единицы, временно удержанные под незавершённые продажи.
type Product struct {
	ID      string
	Name    string
	Barcode string
	// Price — цена за единицу в базовой валюте системы.
	Price decimal.Decimal
	// Stock — физический остаток. Инвариант: 0 <= ReservedStock <= Stock.
	Stock         int32
	ReservedStock int32
	// LowStockThreshold — порог, ниже которого уходит уведомление администратору.
	LowStockThreshold int32
	// LowStockMinimumOrder — минимальный объём дозаказа у поставщика.
	LowStockMinimumOrder int32
	CategoryID           string
	SupplierID           string
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Available возвращает количество, доступное к продаже.
func (p *Product) Available() int32 {
	return p.Stock - p.ReservedStock
}

// Validate проверяет базовые инварианты товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrValidation)
	}
	if p.Price.IsNegative() {
		errs = append(errs, ErrValidation)
	}
	if p.ReservedStock < 0 || p.ReservedStock > p.Stock {
		errs = append(errs, ErrValidation)
	}

	return errs
}

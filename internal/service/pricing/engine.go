package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// pointsPerUnit — сколько единиц базовой валюты стоит один начисляемый балл:
// за каждые 100 KES облагаемой суммы покупатель получает 1 балл.
var pointsPerUnit = decimal.NewFromInt(100)

// LineInput — позиция корзины с ценой из каталога (в базовой валюте).
type LineInput struct {
	ProductID   string
	ProductName string
	Quantity    int32
	UnitPrice   decimal.Decimal
}

// Input — параметры расчёта цены одной продажи.
type Input struct {
	Items []LineInput
	// DiscountPercent и TaxPercent игнорируются, если <= 0.
	DiscountPercent decimal.Decimal
	TaxPercent      decimal.Decimal
	// LoyaltyPointsToRedeem — запрошенное списание; фактическое ограничено балансом.
	LoyaltyPointsToRedeem int32
	CustomerBalance       int32
	// Currency — валюта продажи; цены каталога конвертируются в неё.
	Currency string
}

// Quote — результат расчёта: позиции со снапшотами цен и производные суммы.
// Все значения округлены до 2 знаков (half-up) на каждом шаге.
type Quote struct {
	Lines           []domain.SaleLineItem
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	LoyaltyDiscount decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	// PointsRedeemed — фактически списанные баллы: min(запрошено, баланс).
	PointsRedeemed int32
	// PointsEarned — баллы к начислению при успешном завершении продажи.
	PointsEarned int32
	Currency     string
}

// Engine — чистый движок ценообразования. Не выполняет I/O и не пишет состояние:
// списание/начисление баллов применяет оркестратор и только при успехе продажи.
type Engine struct {
	rates domain.RateProvider
}

// NewEngine создаёт движок с инжектированным источником курсов.
func NewEngine(rates domain.RateProvider) *Engine {
	return &Engine{rates: rates}
}

// Price вычисляет полную раскладку сумм продажи:
// subtotal -> скидка -> бонусная скидка -> налог -> итог.
func (e *Engine) Price(in Input) (Quote, error) {
	quote := Quote{Currency: in.Currency}

	for _, item := range in.Items {
		unitPrice, err := e.rates.Convert(item.UnitPrice, BaseCurrency, in.Currency)
		if err != nil {
			return Quote{}, err
		}
		unitPrice = unitPrice.Round(2)
		lineTotal := unitPrice.Mul(decimal.NewFromInt32(item.Quantity)).Round(2)

		quote.Lines = append(quote.Lines, domain.SaleLineItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		})
		quote.Subtotal = quote.Subtotal.Add(lineTotal)
	}
	quote.Subtotal = quote.Subtotal.Round(2)

	quote.Discount = decimal.Zero
	if in.DiscountPercent.IsPositive() {
		quote.Discount = quote.Subtotal.Mul(in.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
	}

	quote.LoyaltyDiscount = decimal.Zero
	if in.LoyaltyPointsToRedeem > 0 && in.CustomerBalance > 0 {
		points := in.LoyaltyPointsToRedeem
		if in.CustomerBalance < points {
			points = in.CustomerBalance
		}
		// Один балл эквивалентен одной единице базовой валюты.
		converted, err := e.rates.Convert(decimal.NewFromInt32(points), BaseCurrency, in.Currency)
		if err != nil {
			return Quote{}, err
		}
		quote.LoyaltyDiscount = converted.Round(2)
		quote.PointsRedeemed = points
	}

	taxable := quote.Subtotal.Sub(quote.Discount).Sub(quote.LoyaltyDiscount)

	quote.Tax = decimal.Zero
	if in.TaxPercent.IsPositive() {
		quote.Tax = taxable.Mul(in.TaxPercent).Div(decimal.NewFromInt(100)).Round(2)
	}

	quote.Total = taxable.Add(quote.Tax).Round(2)

	earned, err := e.pointsEarned(taxable, in.Currency)
	if err != nil {
		return Quote{}, err
	}
	quote.PointsEarned = earned

	return quote, nil
}

// pointsEarned считает начисление: floor(облагаемая сумма в базовой валюте / 100).
func (e *Engine) pointsEarned(taxable decimal.Decimal, currency string) (int32, error) {
	inBase, err := e.rates.Convert(taxable, currency, BaseCurrency)
	if err != nil {
		return 0, err
	}
	if inBase.IsNegative() {
		return 0, nil
	}
	return int32(inBase.Div(pointsPerUnit).IntPart()), nil
}

package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func line(id string, qty int32, price int64) LineInput {
	return LineInput{
		ProductID:   id,
		ProductName: "product " + id,
		Quantity:    qty,
		UnitPrice:   decimal.NewFromInt(price),
	}
}

func TestEngine_DiscountThenTax(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	quote, err := engine.Price(Input{
		Items:           []LineInput{line("p1", 2, 300), line("p2", 1, 400)},
		DiscountPercent: decimal.NewFromInt(10),
		TaxPercent:      decimal.NewFromInt(16),
		Currency:        BaseCurrency,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	if !quote.Subtotal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected subtotal 1000, got %s", quote.Subtotal)
	}
	if !quote.Discount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected discount 100, got %s", quote.Discount)
	}
	// Налог считается от суммы после скидки: (1000-100) * 16% = 144.
	if !quote.Tax.Equal(decimal.NewFromInt(144)) {
		t.Fatalf("expected tax 144, got %s", quote.Tax)
	}
	if !quote.Total.Equal(decimal.NewFromInt(1044)) {
		t.Fatalf("expected total 1044, got %s", quote.Total)
	}
	// 1 балл за каждые 100 KES облагаемой суммы: floor(900/100) = 9.
	if quote.PointsEarned != 9 {
		t.Fatalf("expected 9 points earned, got %d", quote.PointsEarned)
	}
}

func TestEngine_LoyaltyRedemptionCappedByBalance(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	quote, err := engine.Price(Input{
		Items:                 []LineInput{line("p1", 1, 1000)},
		LoyaltyPointsToRedeem: 500,
		CustomerBalance:       300,
		Currency:              BaseCurrency,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	if quote.PointsRedeemed != 300 {
		t.Fatalf("expected 300 points redeemed, got %d", quote.PointsRedeemed)
	}
	if !quote.LoyaltyDiscount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected loyalty discount 300, got %s", quote.LoyaltyDiscount)
	}
	if !quote.Total.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected total 700, got %s", quote.Total)
	}
}

func TestEngine_NoLoyaltyWithoutBalance(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	quote, err := engine.Price(Input{
		Items:                 []LineInput{line("p1", 1, 100)},
		LoyaltyPointsToRedeem: 50,
		CustomerBalance:       0,
		Currency:              BaseCurrency,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	if quote.PointsRedeemed != 0 {
		t.Fatalf("expected 0 points redeemed, got %d", quote.PointsRedeemed)
	}
	if !quote.LoyaltyDiscount.IsZero() {
		t.Fatalf("expected zero loyalty discount, got %s", quote.LoyaltyDiscount)
	}
}

func TestEngine_CurrencyConversion(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	quote, err := engine.Price(Input{
		Items:    []LineInput{line("p1", 2, 1000)},
		Currency: "USD",
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	// 1000 KES * 0.0078 = 7.80 USD за единицу.
	if !quote.Lines[0].UnitPrice.Equal(decimal.NewFromFloat(7.8)) {
		t.Fatalf("expected unit price 7.80, got %s", quote.Lines[0].UnitPrice)
	}
	if !quote.Subtotal.Equal(decimal.NewFromFloat(15.6)) {
		t.Fatalf("expected subtotal 15.60, got %s", quote.Subtotal)
	}
	if quote.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", quote.Currency)
	}
}

func TestEngine_UnsupportedCurrency(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	_, err := engine.Price(Input{
		Items:    []LineInput{line("p1", 1, 100)},
		Currency: "EUR",
	})
	if !errors.Is(err, domain.ErrUnsupportedCurrency) {
		t.Fatalf("expected unsupported currency error, got %v", err)
	}

	var currencyErr *domain.CurrencyError
	if !errors.As(err, &currencyErr) {
		t.Fatalf("expected *domain.CurrencyError, got %T", err)
	}
	if currencyErr.To != "EUR" {
		t.Fatalf("expected target currency EUR, got %s", currencyErr.To)
	}
}

func TestEngine_RoundingHalfUp(t *testing.T) {
	engine := NewEngine(NewStaticRates())

	quote, err := engine.Price(Input{
		Items:           []LineInput{{ProductID: "p1", ProductName: "p1", Quantity: 3, UnitPrice: decimal.NewFromFloat(33.335)}},
		DiscountPercent: decimal.NewFromFloat(7.5),
		TaxPercent:      decimal.NewFromInt(16),
		Currency:        BaseCurrency,
	})
	if err != nil {
		t.Fatalf("price: %v", err)
	}

	// Каждая производная сумма округляется до 2 знаков half-up.
	if quote.Subtotal.Exponent() < -2 || quote.Discount.Exponent() < -2 ||
		quote.Tax.Exponent() < -2 || quote.Total.Exponent() < -2 {
		t.Fatalf("expected all amounts rounded to 2 decimal places: subtotal=%s discount=%s tax=%s total=%s",
			quote.Subtotal, quote.Discount, quote.Tax, quote.Total)
	}

	expectedTotal := quote.Subtotal.Sub(quote.Discount).Add(quote.Tax).Round(2)
	if !quote.Total.Equal(expectedTotal) {
		t.Fatalf("total %s does not match components %s", quote.Total, expectedTotal)
	}
}

func TestStaticRates_SameCurrencyIsIdentity(t *testing.T) {
	rates := NewStaticRates()

	amount := decimal.NewFromFloat(123.456)
	got, err := rates.Convert(amount, "KES", "KES")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !got.Equal(amount) {
		t.Fatalf("expected identity conversion, got %s", got)
	}
}

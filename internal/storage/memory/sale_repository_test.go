package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

func storedSale(id string) domain.Sale {
	now := time.Now().UTC()
	return domain.Sale{
		ID:            id,
		SaleDate:      now,
		PaymentMethod: domain.PaymentMethodCash,
		Currency:      "KES",
		Subtotal:      decimal.NewFromInt(300),
		TotalAmount:   decimal.NewFromInt(300),
		Items: []domain.SaleLineItem{
			{ProductID: "p1", ProductName: "Maize flour", Quantity: 1, UnitPrice: decimal.NewFromInt(300), LineTotal: decimal.NewFromInt(300)},
		},
		CreatedAt: now,
	}
}

func TestSaleRepository_CreateAndGet(t *testing.T) {
	repo := NewSaleRepository()

	if err := repo.Create(storedSale("s1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(storedSale("s1")); !errors.Is(err, domain.ErrSaleConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}

	sale, err := repo.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(sale.Items) != 1 {
		t.Fatalf("expected 1 line item, got %d", len(sale.Items))
	}
}

func TestSaleRepository_Delete(t *testing.T) {
	repo := NewSaleRepository()

	if err := repo.Create(storedSale("s1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.Delete("s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Get("s1"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected sale not found after delete, got %v", err)
	}

	// Повторное удаление сообщает об отсутствии записи.
	if err := repo.Delete("s1"); !errors.Is(err, domain.ErrSaleNotFound) {
		t.Fatalf("expected sale not found, got %v", err)
	}
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type saleRepository struct {
	db *sql.DB
}

// NewSaleRepository создаёт PostgreSQL-реализацию SaleRepository.
func NewSaleRepository(store *Store) domain.SaleRepository {
	return &saleRepository{db: store.DB()}
}

// Create сохраняет продажу и её позиции одной транзакцией.
func (r *saleRepository) Create(sale domain.Sale) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, sale_date, user_id, customer_id, payment_method, currency,
			subtotal, discount_amount, loyalty_discount, tax_amount, total_amount,
			transaction_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		sale.ID, sale.SaleDate, sale.UserID, sale.CustomerID,
		string(sale.PaymentMethod), sale.Currency,
		sale.Subtotal, sale.DiscountAmount, sale.LoyaltyDiscount,
		sale.TaxAmount, sale.TotalAmount,
		sale.TransactionID, sale.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSaleConflict
		}
		return fmt.Errorf("insert sale: %w", err)
	}

	for _, item := range sale.Items {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (
				sale_id, product_id, product_name, quantity, unit_price, line_total
			) VALUES ($1,$2,$3,$4,$5,$6)
		`,
			sale.ID, item.ProductID, item.ProductName,
			item.Quantity, item.UnitPrice, item.LineTotal,
		); err != nil {
			return fmt.Errorf("insert sale item: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create sale: %w", err)
	}

	return nil
}

func (r *saleRepository) Get(id string) (domain.Sale, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		sale   domain.Sale
		method string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, sale_date, user_id, customer_id, payment_method, currency,
		       subtotal, discount_amount, loyalty_discount, tax_amount, total_amount,
		       transaction_id, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(
		&sale.ID, &sale.SaleDate, &sale.UserID, &sale.CustomerID,
		&method, &sale.Currency,
		&sale.Subtotal, &sale.DiscountAmount, &sale.LoyaltyDiscount,
		&sale.TaxAmount, &sale.TotalAmount,
		&sale.TransactionID, &sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Sale{}, domain.ErrSaleNotFound
		}
		return domain.Sale{}, fmt.Errorf("select sale: %w", err)
	}
	sale.PaymentMethod = domain.PaymentMethod(method)

	items, err := r.loadItems(ctx, sale.ID)
	if err != nil {
		return domain.Sale{}, err
	}
	sale.Items = items

	return sale, nil
}

// Delete удаляет продажу; позиции уходят каскадом по внешнему ключу.
func (r *saleRepository) Delete(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sale: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete sale rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrSaleNotFound
	}
	return nil
}

func (r *saleRepository) loadItems(ctx context.Context, saleID string) ([]domain.SaleLineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, product_name, quantity, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("load sale items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.SaleLineItem, 0)
	for rows.Next() {
		var item domain.SaleLineItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, fmt.Errorf("scan sale item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale items: %w", err)
	}

	return items, nil
}

var _ domain.SaleRepository = (*saleRepository)(nil)

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	opTimeout = 5 * time.Second
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Create(product domain.Product) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO products (
			id, name, barcode, price, stock, reserved_stock,
			low_stock_threshold, low_stock_minimum_order,
			category_id, supplier_id, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		product.ID, product.Name, product.Barcode, product.Price,
		product.Stock, product.ReservedStock,
		product.LowStockThreshold, product.LowStockMinimumOrder,
		product.CategoryID, product.SupplierID,
		product.Version, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}

	return nil
}

func (r *productRepository) Get(id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		SELECT id, name, barcode, price, stock, reserved_stock,
		       low_stock_threshold, low_stock_minimum_order,
		       category_id, supplier_id, version, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id))
}

// Reserve атомарно увеличивает резерв одним UPDATE с проверкой доступного
// остатка в условии. Конкурентные резервы одного товара сериализуются
// блокировкой строки на стороне базы.
func (r *productRepository) Reserve(id string, qty int32) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	product, err := r.scanOne(r.db.QueryRowContext(ctx, `
		UPDATE products
		SET reserved_stock = reserved_stock + $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock - reserved_stock >= $2
		RETURNING id, name, barcode, price, stock, reserved_stock,
		          low_stock_threshold, low_stock_minimum_order,
		          category_id, supplier_id, version, created_at, updated_at
	`, id, qty))
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, err
	}

	// UPDATE не затронул строку: либо товара нет, либо не хватает остатка.
	current, getErr := r.Get(id)
	if getErr != nil {
		return domain.Product{}, getErr
	}
	return domain.Product{}, &domain.InsufficientStockError{
		ProductID:   current.ID,
		ProductName: current.Name,
		Available:   current.Available(),
		Requested:   qty,
	}
}

func (r *productRepository) Release(id string, qty int32) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET reserved_stock = GREATEST(reserved_stock - $2, 0),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
	`, id, qty)
	if err != nil {
		return fmt.Errorf("release reservation: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}

	return nil
}

func (r *productRepository) CommitSale(id string, qty int32) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	product, err := r.scanOne(r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $2,
		    reserved_stock = GREATEST(reserved_stock - $2, 0),
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id, name, barcode, price, stock, reserved_stock,
		          low_stock_threshold, low_stock_minimum_order,
		          category_id, supplier_id, version, created_at, updated_at
	`, id, qty))
	if err != nil {
		return domain.Product{}, err
	}

	return product, nil
}

func (r *productRepository) scanOne(row *sql.Row) (domain.Product, error) {
	var product domain.Product
	err := row.Scan(
		&product.ID, &product.Name, &product.Barcode, &product.Price,
		&product.Stock, &product.ReservedStock,
		&product.LowStockThreshold, &product.LowStockMinimumOrder,
		&product.CategoryID, &product.SupplierID,
		&product.Version, &product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("scan product: %w", err)
	}
	return product, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.ProductRepository = (*productRepository)(nil)

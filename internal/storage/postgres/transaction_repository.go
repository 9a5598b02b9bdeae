package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type transactionRepository struct {
	db *sql.DB
}

// NewTransactionRepository создаёт PostgreSQL-реализацию TransactionRepository.
func NewTransactionRepository(store *Store) domain.TransactionRepository {
	return &transactionRepository{db: store.DB()}
}

func (r *transactionRepository) Create(txn domain.Transaction) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, checkout_request_id, receipt_id, phone_number, amount, currency,
			status, result_code, result_desc, sale_id, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		txn.ID, txn.CheckoutRequestID, txn.ReceiptID, txn.PhoneNumber,
		txn.Amount, txn.Currency,
		string(txn.Status), txn.ResultCode, txn.ResultDesc,
		txn.SaleID, txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrTransactionFinal
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionRepository) Get(id string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, selectTransaction+` WHERE id = $1`, id))
}

func (r *transactionRepository) GetByCheckoutRequestID(checkoutRequestID string) (domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx,
		selectTransaction+` WHERE checkout_request_id = $1 AND checkout_request_id <> ''`,
		checkoutRequestID))
}

func (r *transactionRepository) SetCheckoutRequestID(id, checkoutRequestID string) error {
	return r.update(id, `
		UPDATE transactions
		SET checkout_request_id = $2, updated_at = NOW()
		WHERE id = $1
	`, checkoutRequestID)
}

// MarkTerminal переводит транзакцию в терминальный статус одним UPDATE
// с условием status = 'PENDING'. Проигравший гонку наблюдает (false, nil).
func (r *transactionRepository) MarkTerminal(id string, status domain.TransactionStatus, resultCode, resultDesc, receiptID string) (bool, error) {
	if !status.Terminal() {
		return false, domain.ErrTransactionFinal
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET status = $2,
		    result_code = $3,
		    result_desc = $4,
		    receipt_id = CASE WHEN $5 <> '' THEN $5 ELSE receipt_id END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status = $6
	`, id, string(status), resultCode, resultDesc, receiptID, string(domain.TransactionPending))
	if err != nil {
		return false, fmt.Errorf("mark transaction terminal: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	// Строка не изменилась: либо транзакции нет, либо она уже терминальна.
	if _, err := r.Get(id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *transactionRepository) LinkSale(id, saleID string) error {
	return r.update(id, `
		UPDATE transactions
		SET sale_id = $2, updated_at = NOW()
		WHERE id = $1
	`, saleID)
}

func (r *transactionRepository) ListPendingOlderThan(cutoff time.Time, limit int) ([]domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		selectTransaction+`
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, string(domain.TransactionPending), cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		var txn domain.Transaction
		var status string
		if err := rows.Scan(
			&txn.ID, &txn.CheckoutRequestID, &txn.ReceiptID, &txn.PhoneNumber,
			&txn.Amount, &txn.Currency, &status, &txn.ResultCode, &txn.ResultDesc,
			&txn.SaleID, &txn.CreatedAt, &txn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		txn.Status = domain.TransactionStatus(status)
		result = append(result, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}

	return result, nil
}

const selectTransaction = `
	SELECT id, checkout_request_id, receipt_id, phone_number, amount, currency,
	       status, result_code, result_desc, sale_id, created_at, updated_at
	FROM transactions`

func (r *transactionRepository) scanOne(row *sql.Row) (domain.Transaction, error) {
	var txn domain.Transaction
	var status string
	err := row.Scan(
		&txn.ID, &txn.CheckoutRequestID, &txn.ReceiptID, &txn.PhoneNumber,
		&txn.Amount, &txn.Currency, &status, &txn.ResultCode, &txn.ResultDesc,
		&txn.SaleID, &txn.CreatedAt, &txn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Transaction{}, domain.ErrTransactionNotFound
		}
		return domain.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	txn.Status = domain.TransactionStatus(status)
	return txn, nil
}

func (r *transactionRepository) update(id, query string, arg any) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, query, id, arg)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTransactionNotFound
	}

	return nil
}

var _ domain.TransactionRepository = (*transactionRepository)(nil)

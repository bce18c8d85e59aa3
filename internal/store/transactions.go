package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

// AppendTransaction records one payment outcome. Transactions are never updated.
func (s *Store) AppendTransaction(ctx context.Context, t domain.Transaction) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return err
	}
	_, err = s.Db.Exec(ctx, `
INSERT INTO transactions (id, order_id, session_id, customer_mobile, customer_name, status, currency,
	items, payment_type, amount_paid, amount_after_charges, is_successful, payment_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.OrderID, t.SessionID, t.CustomerMobile, t.CustomerName, t.Status, t.Currency,
		items, t.PaymentType, t.AmountPaid, t.AmountAfterCharges, t.IsSuccessful, nullTime(t.PaymentDate))
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", t.OrderID, err)
	}
	return nil
}

func (s *Store) TransactionsByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
SELECT id, order_id, session_id, customer_mobile, customer_name, status, currency, items,
	payment_type, amount_paid, amount_after_charges, is_successful, payment_date, created_at
FROM transactions WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			t     domain.Transaction
			items []byte
			paid  *time.Time
		)
		err := rows.Scan(&t.ID, &t.OrderID, &t.SessionID, &t.CustomerMobile, &t.CustomerName, &t.Status,
			&t.Currency, &items, &t.PaymentType, &t.AmountPaid, &t.AmountAfterCharges, &t.IsSuccessful,
			&paid, &t.CreatedAt)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			if err := json.Unmarshal(items, &t.Items); err != nil {
				return nil, fmt.Errorf("decode items of %s: %w", t.ID, err)
			}
		}
		if paid != nil {
			t.PaymentDate = *paid
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

const voucherColumns = "id, voucher_type, serial, pin, consumed, order_id, consumed_at"

// AllocateVouchers marks qty unused vouchers of a type as consumed by an
// order. A second call for the same order returns the first allocation.
func (s *Store) AllocateVouchers(ctx context.Context, orderID, voucherType string, qty int) ([]domain.VoucherCode, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", orderID); err != nil {
		return nil, fmt.Errorf("allocation lock failed: %w", err)
	}

	rows, err := tx.Query(ctx, "SELECT "+voucherColumns+" FROM voucher_codes WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, err
	}
	existing, err := collectVouchers(rows)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, tx.Commit(ctx)
	}

	rows, err = tx.Query(ctx, `
UPDATE voucher_codes SET consumed = true, order_id = $1, consumed_at = now()
WHERE id IN (
	SELECT id FROM voucher_codes
	WHERE voucher_type = $2 AND NOT consumed
	ORDER BY id
	LIMIT $3
	FOR UPDATE SKIP LOCKED)
RETURNING `+voucherColumns, orderID, voucherType, qty)
	if err != nil {
		return nil, fmt.Errorf("allocate vouchers: %w", err)
	}
	allocated, err := collectVouchers(rows)
	if err != nil {
		return nil, err
	}
	if len(allocated) < qty {
		return nil, fmt.Errorf("%w: wanted %d %s, found %d", ErrVouchersExhausted, qty, voucherType, len(allocated))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return allocated, nil
}

// ImportVouchers bulk loads unused voucher codes.
func (s *Store) ImportVouchers(ctx context.Context, codes []domain.VoucherCode) (int64, error) {
	rows := make([][]any, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, []any{c.VoucherType, c.Serial, c.Pin})
	}
	return s.Db.CopyFrom(ctx,
		pgx.Identifier{"voucher_codes"},
		[]string{"voucher_type", "serial", "pin"},
		pgx.CopyFromRows(rows),
	)
}

func collectVouchers(rows pgx.Rows) ([]domain.VoucherCode, error) {
	defer rows.Close()

	var out []domain.VoucherCode
	for rows.Next() {
		var (
			v       domain.VoucherCode
			orderID *string
		)
		if err := rows.Scan(&v.ID, &v.VoucherType, &v.Serial, &v.Pin, &v.Consumed, &orderID, &v.ConsumedAt); err != nil {
			return nil, err
		}
		if orderID != nil {
			v.OrderID = *orderID
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

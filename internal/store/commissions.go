package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
)

const commissionColumns = `client_reference, mobile, product_type, destination, network, provider, bundle,
	account_number, email, order_id, amount, commission, status, commission_service_status,
	retry_count, is_retryable, message, transaction_id, external_transaction_id, created_at, updated_at`

// The ON CONFLICT branch mirrors ledger.Merge: payment status leaves Pending
// once, delivered is terminal and freezes the commission, and empty values
// keep what is stored.
const upsertCommissionSQL = `
INSERT INTO commission_logs AS c (
	client_reference, mobile, product_type, destination, network, provider, bundle,
	account_number, email, order_id, transaction_id, external_transaction_id,
	amount, commission, status, commission_service_status, is_retryable, message)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	COALESCE($13::bigint, 0), COALESCE($14::bigint, 0),
	COALESCE($15::text, 'Pending'), COALESCE($16::text, 'pending'),
	CASE WHEN $16::text = 'delivered' THEN false ELSE COALESCE($17::boolean, false) END,
	COALESCE($18::text, ''))
ON CONFLICT (client_reference) DO UPDATE SET
	mobile = COALESCE(NULLIF(EXCLUDED.mobile, ''), c.mobile),
	product_type = COALESCE(NULLIF(EXCLUDED.product_type, ''), c.product_type),
	destination = COALESCE(NULLIF(EXCLUDED.destination, ''), c.destination),
	network = COALESCE(NULLIF(EXCLUDED.network, ''), c.network),
	provider = COALESCE(NULLIF(EXCLUDED.provider, ''), c.provider),
	bundle = COALESCE(NULLIF(EXCLUDED.bundle, ''), c.bundle),
	account_number = COALESCE(NULLIF(EXCLUDED.account_number, ''), c.account_number),
	email = COALESCE(NULLIF(EXCLUDED.email, ''), c.email),
	order_id = COALESCE(NULLIF(EXCLUDED.order_id, ''), c.order_id),
	transaction_id = COALESCE(NULLIF(EXCLUDED.transaction_id, ''), c.transaction_id),
	external_transaction_id = COALESCE(NULLIF(EXCLUDED.external_transaction_id, ''), c.external_transaction_id),
	amount = COALESCE($13::bigint, c.amount),
	commission = CASE
		WHEN c.commission_service_status = 'delivered' THEN c.commission
		ELSE COALESCE($14::bigint, c.commission) END,
	status = CASE WHEN c.status = 'Pending' AND $15::text IS NOT NULL THEN $15::text ELSE c.status END,
	commission_service_status = CASE
		WHEN c.commission_service_status <> 'delivered' AND $16::text IS NOT NULL THEN $16::text
		ELSE c.commission_service_status END,
	is_retryable = CASE
		WHEN c.commission_service_status = 'delivered' OR $16::text = 'delivered' THEN false
		ELSE COALESCE($17::boolean, c.is_retryable) END,
	message = COALESCE($18::text, c.message),
	updated_at = now()
RETURNING ` + commissionColumns + `, (xmax = 0) AS inserted`

func textPtr[T ~string](p *T) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func (s *Store) UpsertCommission(ctx context.Context, ref string, f ledger.Fields) (domain.CommissionEntry, bool, error) {
	var inserted bool
	e, err := scanCommission(s.Db.QueryRow(ctx, upsertCommissionSQL,
		ref, f.Mobile, string(f.ProductType), f.Destination, f.Network, f.Provider, f.Bundle,
		f.AccountNumber, f.Email, f.OrderID, f.TransactionID, f.ExternalTransactionID,
		f.Amount, f.Commission, textPtr(f.Status), textPtr(f.ServiceStatus), f.IsRetryable, f.Message,
	), &inserted)
	if err != nil {
		return domain.CommissionEntry{}, false, fmt.Errorf("upsert commission %s: %w", ref, err)
	}
	return e, inserted, nil
}

func (s *Store) GetCommission(ctx context.Context, ref string) (domain.CommissionEntry, error) {
	e, err := scanCommission(s.Db.QueryRow(ctx,
		"SELECT "+commissionColumns+" FROM commission_logs WHERE client_reference = $1", ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CommissionEntry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) ListCommissions(ctx context.Context, mobile string, limit int) ([]domain.CommissionEntry, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+commissionColumns+" FROM commission_logs WHERE mobile = $1 ORDER BY created_at DESC LIMIT $2",
		mobile, limit)
	if err != nil {
		return nil, err
	}
	return collectCommissions(rows)
}

const earningsSQL = `
SELECT
	COALESCE(SUM(commission) FILTER (WHERE status = 'Paid' AND product_type NOT IN ('withdrawal_deduction', 'withdrawal_refund')), 0)::bigint,
	COALESCE(SUM(amount) FILTER (WHERE product_type = 'withdrawal_deduction'), 0)::bigint,
	COALESCE(SUM(amount) FILTER (WHERE product_type = 'withdrawal_refund'), 0)::bigint,
	COUNT(*) FILTER (WHERE status = 'Paid' AND product_type NOT IN ('withdrawal_deduction', 'withdrawal_refund')),
	COUNT(*) FILTER (WHERE status = 'Pending' AND product_type NOT IN ('withdrawal_deduction', 'withdrawal_refund'))
FROM commission_logs WHERE mobile = $1`

func (s *Store) Earnings(ctx context.Context, mobile string) (domain.Earnings, error) {
	return earnings(ctx, s.Db, mobile)
}

func earnings(ctx context.Context, q querier, mobile string) (domain.Earnings, error) {
	out := domain.Earnings{Mobile: mobile}
	var paid, pending int64
	err := q.QueryRow(ctx, earningsSQL, mobile).Scan(
		&out.TotalEarned, &out.TotalWithdrawn, &out.TotalRefunded, &paid, &pending)
	if err != nil {
		return domain.Earnings{}, fmt.Errorf("earnings for %s: %w", mobile, err)
	}
	out.PaidCount, out.PendingCount = int(paid), int(pending)
	out.Available = out.TotalEarned - out.TotalWithdrawn + out.TotalRefunded
	return out, nil
}

const claimRetryableSQL = `
UPDATE commission_logs SET retry_count = retry_count + 1, updated_at = now()
WHERE client_reference IN (
	SELECT client_reference FROM commission_logs
	WHERE commission_service_status = 'failed'
		AND is_retryable
		AND retry_count < $1
		AND status = 'Paid'
		AND product_type NOT IN ('withdrawal_deduction', 'withdrawal_refund')
	ORDER BY updated_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED)
RETURNING ` + commissionColumns

func (s *Store) ClaimRetryable(ctx context.Context, limit int) ([]domain.CommissionEntry, error) {
	rows, err := s.Db.Query(ctx, claimRetryableSQL, domain.MaxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("claim retryable: %w", err)
	}
	return collectCommissions(rows)
}

// InsertWithdrawal serializes withdrawals per mobile with a transaction-scoped
// advisory lock, so the balance check and the deduction insert cannot interleave.
func (s *Store) InsertWithdrawal(ctx context.Context, e domain.CommissionEntry) (domain.Earnings, bool, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Earnings{}, false, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", e.Mobile); err != nil {
		return domain.Earnings{}, false, fmt.Errorf("withdrawal lock failed: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM commission_logs WHERE client_reference = $1)",
		e.ClientReference).Scan(&exists)
	if err != nil {
		return domain.Earnings{}, false, err
	}
	if exists {
		bal, err := earnings(ctx, tx, e.Mobile)
		if err != nil {
			return domain.Earnings{}, false, err
		}
		return bal, false, tx.Commit(ctx)
	}

	bal, err := earnings(ctx, tx, e.Mobile)
	if err != nil {
		return domain.Earnings{}, false, err
	}
	if bal.Available < e.Amount {
		return bal, false, ledger.ErrInsufficientEarnings
	}

	_, err = tx.Exec(ctx, `
INSERT INTO commission_logs (client_reference, mobile, product_type, destination, amount, status, commission_service_status)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ClientReference, e.Mobile, string(e.ProductType), e.Destination, e.Amount,
		string(e.Status), string(e.ServiceStatus))
	if err != nil {
		return domain.Earnings{}, false, fmt.Errorf("withdrawal insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Earnings{}, false, fmt.Errorf("tx commit failed: %w", err)
	}

	bal.TotalWithdrawn += e.Amount
	bal.Available -= e.Amount
	return bal, true, nil
}

func scanCommission(row pgx.Row, extra ...any) (domain.CommissionEntry, error) {
	var (
		e                    domain.CommissionEntry
		product, status, svc string
	)
	dest := []any{
		&e.ClientReference, &e.Mobile, &product, &e.Destination, &e.Network, &e.Provider, &e.Bundle,
		&e.AccountNumber, &e.Email, &e.OrderID, &e.Amount, &e.Commission, &status, &svc,
		&e.RetryCount, &e.IsRetryable, &e.Message, &e.TransactionID, &e.ExternalTransactionID,
		&e.CreatedAt, &e.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.CommissionEntry{}, err
	}
	e.ProductType = domain.Product(product)
	e.Status = domain.PaymentStatus(status)
	e.ServiceStatus = domain.ServiceStatus(svc)
	return e, nil
}

func collectCommissions(rows pgx.Rows) ([]domain.CommissionEntry, error) {
	defer rows.Close()

	var out []domain.CommissionEntry
	for rows.Next() {
		e, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

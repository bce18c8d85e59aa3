// Package ledger is the commission reconciliation log. Rows are keyed by a
// client reference and only ever merged, so redelivered events cannot create
// duplicates. Balances are always derived by summing rows.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

var (
	ErrNotFound             = errors.New("ledger entry not found")
	ErrInsufficientEarnings = errors.New("insufficient earnings")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
)

// Fields is a partial update of a ledger row. Empty strings and nil pointers
// leave the stored value untouched.
type Fields struct {
	Mobile                string
	ProductType           domain.Product
	Destination           string
	Network               string
	Provider              string
	Bundle                string
	AccountNumber         string
	Email                 string
	OrderID               string
	TransactionID         string
	ExternalTransactionID string

	Amount        *int64
	Commission    *int64
	Status        *domain.PaymentStatus
	ServiceStatus *domain.ServiceStatus
	IsRetryable   *bool
	Message       *string
}

// Repository is the storage side of the ledger. UpsertCommission must be a
// single atomic conditional write; created reports whether this call inserted
// the row.
type Repository interface {
	UpsertCommission(ctx context.Context, ref string, f Fields) (entry domain.CommissionEntry, created bool, err error)
	GetCommission(ctx context.Context, ref string) (domain.CommissionEntry, error)
	ListCommissions(ctx context.Context, mobile string, limit int) ([]domain.CommissionEntry, error)
	Earnings(ctx context.Context, mobile string) (domain.Earnings, error)

	// ClaimRetryable selects up to limit failed, retryable product rows with
	// fewer than domain.MaxRetries attempts and increments their retry count
	// in the same statement.
	ClaimRetryable(ctx context.Context, limit int) ([]domain.CommissionEntry, error)

	// InsertWithdrawal writes a withdrawal_deduction row only if its amount is
	// covered by the balance computed before the write, atomically with it.
	// A repeated reference returns the existing row's effect with created=false.
	InsertWithdrawal(ctx context.Context, e domain.CommissionEntry) (domain.Earnings, bool, error)
}

// Merge applies f to the current row (nil for a first sighting) and returns
// the new row. Payment status leaves Pending exactly once. Delivered is a
// terminal service status, and the commission of a delivered row is frozen.
func Merge(current *domain.CommissionEntry, ref string, f Fields, now time.Time) domain.CommissionEntry {
	var e domain.CommissionEntry
	delivered := current != nil && current.ServiceStatus == domain.ServiceDelivered
	if current != nil {
		e = *current
	} else {
		e = domain.CommissionEntry{
			ClientReference: ref,
			Status:          domain.PaymentPending,
			ServiceStatus:   domain.ServicePending,
			CreatedAt:       now,
		}
	}

	setString(&e.Mobile, f.Mobile)
	if f.ProductType != "" {
		e.ProductType = f.ProductType
	}
	setString(&e.Destination, f.Destination)
	setString(&e.Network, f.Network)
	setString(&e.Provider, f.Provider)
	setString(&e.Bundle, f.Bundle)
	setString(&e.AccountNumber, f.AccountNumber)
	setString(&e.Email, f.Email)
	setString(&e.OrderID, f.OrderID)
	setString(&e.TransactionID, f.TransactionID)
	setString(&e.ExternalTransactionID, f.ExternalTransactionID)

	if f.Amount != nil {
		e.Amount = *f.Amount
	}
	if f.Commission != nil && !delivered {
		e.Commission = *f.Commission
	}
	if f.Message != nil {
		e.Message = *f.Message
	}
	if f.Status != nil && e.Status == domain.PaymentPending {
		e.Status = *f.Status
	}
	if f.ServiceStatus != nil && e.ServiceStatus != domain.ServiceDelivered {
		e.ServiceStatus = *f.ServiceStatus
	}
	if f.IsRetryable != nil {
		e.IsRetryable = *f.IsRetryable
	}
	if e.ServiceStatus == domain.ServiceDelivered {
		e.IsRetryable = false
	}

	e.UpdatedAt = now
	return e
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// ComputeEarnings derives a subscriber's balance from their ledger rows:
// commission on Paid sales, minus withdrawal deductions, plus refunds.
func ComputeEarnings(mobile string, rows []domain.CommissionEntry) domain.Earnings {
	out := domain.Earnings{Mobile: mobile}
	for _, r := range rows {
		switch r.ProductType {
		case domain.ProductWithdrawalDeduction:
			out.TotalWithdrawn += r.Amount
		case domain.ProductWithdrawalRefund:
			out.TotalRefunded += r.Amount
		default:
			switch r.Status {
			case domain.PaymentPaid:
				out.TotalEarned += r.Commission
				out.PaidCount++
			case domain.PaymentPending:
				out.PendingCount++
			}
		}
	}
	out.Available = out.TotalEarned - out.TotalWithdrawn + out.TotalRefunded
	return out
}

// RefundReference names the refund row that reverses a deduction.
func RefundReference(deductionRef string) string {
	return deductionRef + "-refund"
}

// DeductionReference names the deduction row of a withdrawal request.
func DeductionReference(reference string) string {
	return "wd-" + reference
}

// Helpers for building Fields.

func Int64(v int64) *int64 { return &v }
func Bool(v bool) *bool    { return &v }
func String(v string) *string {
	return &v
}
func Payment(s domain.PaymentStatus) *domain.PaymentStatus { return &s }
func ServiceStatus(s domain.ServiceStatus) *domain.ServiceStatus { return &s }

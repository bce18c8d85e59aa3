package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

// Withdrawal statuses.
const (
	WithdrawalCompleted = "completed"
	WithdrawalPending   = "pending"
	WithdrawalFailed    = "failed"
)

type Withdrawal struct {
	Reference string          `json:"reference"`
	Mobile    string          `json:"mobile"`
	Amount    int64           `json:"amount"`
	Status    string          `json:"status"`
	Replayed  bool            `json:"replayed"`
	Earnings  domain.Earnings `json:"earnings"`
}

type Service struct {
	repo   Repository
	payout vas.Fulfiller
	logger *slog.Logger
}

func NewService(repo Repository, payout vas.Fulfiller, logger *slog.Logger) *Service {
	return &Service{repo: repo, payout: payout, logger: logger}
}

func (s *Service) Earnings(ctx context.Context, mobile string) (domain.Earnings, error) {
	return s.repo.Earnings(ctx, mobile)
}

func (s *Service) Statement(ctx context.Context, mobile string, limit int) ([]domain.CommissionEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListCommissions(ctx, mobile, limit)
}

// Withdraw pays out commission to the subscriber's wallet. The deduction row
// is written first, gated on the balance before it. A failed payout is
// reversed by a refund row, never by deleting the deduction.
func (s *Service) Withdraw(ctx context.Context, mobile string, amount int64, reference string) (Withdrawal, error) {
	if amount <= 0 {
		return Withdrawal{}, ErrInvalidAmount
	}
	ref := DeductionReference(reference)
	w := Withdrawal{Reference: reference, Mobile: mobile, Amount: amount}

	_, created, err := s.repo.InsertWithdrawal(ctx, domain.CommissionEntry{
		ClientReference: ref,
		Mobile:          mobile,
		ProductType:     domain.ProductWithdrawalDeduction,
		Destination:     mobile,
		Amount:          amount,
		Status:          domain.PaymentPaid,
		ServiceStatus:   domain.ServicePending,
	})
	if err != nil {
		return Withdrawal{}, err
	}

	if !created {
		return s.replay(ctx, w)
	}

	s.logger.Info("withdrawal started", "mobile", mobile, "amount", amount, "client_reference", ref)

	res, err := s.payout.Fulfill(ctx, vas.Order{
		ClientReference: ref,
		Product:         domain.ProductWithdrawalDeduction,
		Destination:     mobile,
		Amount:          amount,
	})
	if err != nil {
		s.logger.Warn("withdrawal payout failed", "client_reference", ref, "error", err)
		if rerr := s.Reverse(ctx, ref, err.Error()); rerr != nil {
			return Withdrawal{}, rerr
		}
		w.Status = WithdrawalFailed
	} else {
		_, _, err = s.repo.UpsertCommission(ctx, ref, Fields{
			ServiceStatus: ServiceStatus(res.Status),
			IsRetryable:   Bool(false),
			TransactionID: res.TransactionID,
			Message:       String(res.Message),
		})
		if err != nil {
			return Withdrawal{}, fmt.Errorf("recording payout: %w", err)
		}
		w.Status = WithdrawalCompleted
		if res.Status == domain.ServicePending {
			w.Status = WithdrawalPending
		}
	}

	w.Earnings, err = s.repo.Earnings(ctx, mobile)
	if err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

// Reverse marks a deduction failed and writes its refund row. Both writes are
// upserts, so reversing twice refunds once.
func (s *Service) Reverse(ctx context.Context, deductionRef, reason string) error {
	d, _, err := s.repo.UpsertCommission(ctx, deductionRef, Fields{
		ServiceStatus: ServiceStatus(domain.ServiceFailed),
		IsRetryable:   Bool(false),
		Message:       String(reason),
	})
	if err != nil {
		return fmt.Errorf("marking deduction failed: %w", err)
	}
	if d.ProductType != domain.ProductWithdrawalDeduction {
		return fmt.Errorf("%s is not a withdrawal deduction", deductionRef)
	}
	if d.ServiceStatus == domain.ServiceDelivered {
		// Already paid out; nothing to refund.
		return nil
	}

	_, created, err := s.repo.UpsertCommission(ctx, RefundReference(deductionRef), Fields{
		Mobile:        d.Mobile,
		ProductType:   domain.ProductWithdrawalRefund,
		Destination:   d.Destination,
		Amount:        Int64(d.Amount),
		Status:        Payment(domain.PaymentPaid),
		ServiceStatus: ServiceStatus(domain.ServiceDelivered),
		Message:       String("refund of " + deductionRef),
	})
	if err != nil {
		return fmt.Errorf("writing refund: %w", err)
	}
	if created {
		s.logger.Info("withdrawal refunded", "client_reference", deductionRef, "amount", d.Amount)
	}
	return nil
}

func (s *Service) replay(ctx context.Context, w Withdrawal) (Withdrawal, error) {
	ref := DeductionReference(w.Reference)
	d, err := s.repo.GetCommission(ctx, ref)
	if err != nil {
		return Withdrawal{}, err
	}
	w.Replayed = true
	w.Amount = d.Amount

	switch d.ServiceStatus {
	case domain.ServiceDelivered:
		w.Status = WithdrawalCompleted
	case domain.ServiceFailed:
		w.Status = WithdrawalFailed
	default:
		w.Status = WithdrawalPending
	}
	if _, err := s.repo.GetCommission(ctx, RefundReference(ref)); err == nil {
		w.Status = WithdrawalFailed
	} else if !errors.Is(err, ErrNotFound) {
		return Withdrawal{}, err
	}

	w.Earnings, err = s.repo.Earnings(ctx, w.Mobile)
	if err != nil {
		return Withdrawal{}, err
	}
	return w, nil
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
)

// Memory is an in-process implementation of the store, used with STORAGE=memory
// and in tests. A single mutex gives every method the atomicity the SQL
// statements have.
type Memory struct {
	mu           sync.Mutex
	commissions  map[string]domain.CommissionEntry
	transactions []domain.Transaction
	vouchers     []domain.VoucherCode
	now          func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		commissions: make(map[string]domain.CommissionEntry),
		now:         time.Now,
	}
}

func (m *Memory) UpsertCommission(_ context.Context, ref string, f ledger.Fields) (domain.CommissionEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var current *domain.CommissionEntry
	if e, ok := m.commissions[ref]; ok {
		current = &e
	}
	e := ledger.Merge(current, ref, f, m.now())
	m.commissions[ref] = e
	return e, current == nil, nil
}

func (m *Memory) GetCommission(_ context.Context, ref string) (domain.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.commissions[ref]
	if !ok {
		return domain.CommissionEntry{}, ledger.ErrNotFound
	}
	return e, nil
}

func (m *Memory) ListCommissions(_ context.Context, mobile string, limit int) ([]domain.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.byMobile(mobile)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) Earnings(_ context.Context, mobile string) (domain.Earnings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return ledger.ComputeEarnings(mobile, m.byMobile(mobile)), nil
}

func (m *Memory) ClaimRetryable(_ context.Context, limit int) ([]domain.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []domain.CommissionEntry
	for _, e := range m.commissions {
		if e.Retryable() && e.Status == domain.PaymentPaid && !e.ProductType.IsWithdrawal() {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].UpdatedAt.Before(due[j].UpdatedAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	now := m.now()
	for i := range due {
		due[i].RetryCount++
		due[i].UpdatedAt = now
		m.commissions[due[i].ClientReference] = due[i]
	}
	return due, nil
}

func (m *Memory) InsertWithdrawal(_ context.Context, e domain.CommissionEntry) (domain.Earnings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := ledger.ComputeEarnings(e.Mobile, m.byMobile(e.Mobile))
	if _, ok := m.commissions[e.ClientReference]; ok {
		return bal, false, nil
	}
	if bal.Available < e.Amount {
		return bal, false, ledger.ErrInsufficientEarnings
	}

	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now
	m.commissions[e.ClientReference] = e

	bal.TotalWithdrawn += e.Amount
	bal.Available -= e.Amount
	return bal, true, nil
}

func (m *Memory) byMobile(mobile string) []domain.CommissionEntry {
	var out []domain.CommissionEntry
	for _, e := range m.commissions {
		if e.Mobile == mobile {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) AppendTransaction(_ context.Context, t domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	t.Items = append([]domain.LineItem(nil), t.Items...)
	m.transactions = append(m.transactions, t)
	return nil
}

func (m *Memory) TransactionsByOrder(_ context.Context, orderID string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Transaction
	for _, t := range m.transactions {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) ImportVouchers(_ context.Context, codes []domain.VoucherCode) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range codes {
		c.ID = int64(len(m.vouchers) + 1)
		c.Consumed, c.OrderID, c.ConsumedAt = false, "", nil
		m.vouchers = append(m.vouchers, c)
	}
	return int64(len(codes)), nil
}

func (m *Memory) AllocateVouchers(_ context.Context, orderID, voucherType string, qty int) ([]domain.VoucherCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var existing []domain.VoucherCode
	for _, v := range m.vouchers {
		if v.OrderID == orderID {
			existing = append(existing, v)
		}
	}
	if len(existing) > 0 {
		return existing, nil
	}

	var idx []int
	for i, v := range m.vouchers {
		if len(idx) == qty {
			break
		}
		if v.VoucherType == voucherType && !v.Consumed {
			idx = append(idx, i)
		}
	}
	if len(idx) < qty {
		return nil, fmt.Errorf("%w: wanted %d %s, found %d", ErrVouchersExhausted, qty, voucherType, len(idx))
	}

	now := m.now()
	out := make([]domain.VoucherCode, 0, qty)
	for _, i := range idx {
		v := &m.vouchers[i]
		v.Consumed, v.OrderID, v.ConsumedAt = true, orderID, &now
		out = append(out, *v)
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close()                     {}

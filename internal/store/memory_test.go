package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
)

func TestMemoryUpsertCreatesOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := m.UpsertCommission(ctx, "ref-1", ledger.Fields{
				Mobile: "0241234567",
				Status: ledger.Payment(domain.PaymentPaid),
			})
			assert.NoError(t, err)
			created <- c
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for c := range created {
		if c {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestMemoryClaimRetryable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	failed := ledger.Fields{
		Mobile:        "0241234567",
		ProductType:   domain.ProductAirtime,
		Status:        ledger.Payment(domain.PaymentPaid),
		ServiceStatus: ledger.ServiceStatus(domain.ServiceFailed),
		IsRetryable:   ledger.Bool(true),
	}
	_, _, err := m.UpsertCommission(ctx, "retry-me", failed)
	require.NoError(t, err)

	permanent := failed
	permanent.IsRetryable = ledger.Bool(false)
	_, _, err = m.UpsertCommission(ctx, "leave-me", permanent)
	require.NoError(t, err)

	for attempt := 1; attempt <= domain.MaxRetries; attempt++ {
		rows, err := m.ClaimRetryable(ctx, 10)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "retry-me", rows[0].ClientReference)
		assert.Equal(t, attempt, rows[0].RetryCount)
	}

	rows, err := m.ClaimRetryable(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryWithdrawalIsGated(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _, err := m.UpsertCommission(ctx, "sale", ledger.Fields{
		Mobile:      "0241234567",
		ProductType: domain.ProductVoucher,
		Status:      ledger.Payment(domain.PaymentPaid),
		Commission:  ledger.Int64(1000),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := m.InsertWithdrawal(ctx, domain.CommissionEntry{
				ClientReference: "wd-" + string(rune('a'+i)),
				Mobile:          "0241234567",
				ProductType:     domain.ProductWithdrawalDeduction,
				Amount:          400,
				Status:          domain.PaymentPaid,
			})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ledger.ErrInsufficientEarnings)
		}
	}
	assert.Equal(t, 2, ok)

	e, err := m.Earnings(ctx, "0241234567")
	require.NoError(t, err)
	assert.Equal(t, int64(200), e.Available)
}

func TestMemoryVoucherAllocationIsIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.ImportVouchers(ctx, []domain.VoucherCode{
		{VoucherType: "BECE", Serial: "S1", Pin: "P1"},
		{VoucherType: "WASSCE", Serial: "S2", Pin: "P2"},
		{VoucherType: "BECE", Serial: "S3", Pin: "P3"},
		{VoucherType: "BECE", Serial: "S4", Pin: "P4"},
	})
	require.NoError(t, err)

	first, err := m.AllocateVouchers(ctx, "ord-1", "BECE", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "S1", first[0].Serial)
	assert.Equal(t, "S3", first[1].Serial)

	again, err := m.AllocateVouchers(ctx, "ord-1", "BECE", 2)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	_, err = m.AllocateVouchers(ctx, "ord-2", "BECE", 2)
	assert.ErrorIs(t, err, ErrVouchersExhausted)
}

func TestMemoryListCommissionsNewestFirst(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, ref := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		m.now = func() time.Time { return at }
		_, _, err := m.UpsertCommission(ctx, ref, ledger.Fields{Mobile: "0241234567"})
		require.NoError(t, err)
	}

	rows, err := m.ListCommissions(ctx, "0241234567", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].ClientReference)
	assert.Equal(t, "b", rows[1].ClientReference)
}

func TestMemoryTransactionsAppendOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.AppendTransaction(ctx, domain.Transaction{ID: "1", OrderID: "ord", Status: domain.TransactionSuccess}))
	require.NoError(t, m.AppendTransaction(ctx, domain.Transaction{ID: "2", OrderID: "ord", Status: domain.TransactionSuccess}))
	require.NoError(t, m.AppendTransaction(ctx, domain.Transaction{ID: "3", OrderID: "other"}))

	txs, err := m.TransactionsByOrder(ctx, "ord")
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestMemoryClaimRetryableRespectsRetryLimit(t *testing.T) {
	m := NewMemory()
	row := domain.CommissionEntry{
		Mobile:        "0241234567",
		ProductType:   domain.ProductBundle,
		Status:        domain.PaymentPaid,
		ServiceStatus: domain.ServiceFailed,
		IsRetryable:   true,
	}
	two, three := row, row
	two.ClientReference, two.RetryCount = "two", 2
	three.ClientReference, three.RetryCount = "three", 3
	m.commissions["two"] = two
	m.commissions["three"] = three

	rows, err := m.ClaimRetryable(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "two", rows[0].ClientReference)
	assert.Equal(t, 3, rows[0].RetryCount)
}

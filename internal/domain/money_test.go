package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	cases := map[string]int64{
		"10":     1000,
		"12.5":   1250,
		"0.01":   1,
		"99.99":  9999,
		"12.500": 1250,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAmount("1.234")
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = ParseAmount("ten")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmountConversions(t *testing.T) {
	assert.Equal(t, int64(1999), AmountFromFloat(19.99))
	assert.Equal(t, 19.99, AmountToFloat(1999))
	assert.Equal(t, "5.00", FormatAmount(500))
	assert.Equal(t, "0.05", FormatAmount(5))
	assert.Equal(t, int64(50), Percent(1000, decimal.RequireFromString("0.05")))
}

func TestSessionRecipient(t *testing.T) {
	s := &Session{Mobile: "0241234567"}
	assert.Equal(t, "0241234567", s.Recipient())

	s.Buyer = BuyerOther
	s.RecipientMobile = "0207654321"
	assert.Equal(t, "0207654321", s.Recipient())
}

func TestCommissionEntryRetryable(t *testing.T) {
	e := CommissionEntry{ServiceStatus: ServiceFailed, IsRetryable: true, RetryCount: 2}
	assert.True(t, e.Retryable())

	e.RetryCount = MaxRetries
	assert.False(t, e.Retryable())

	e.RetryCount = 0
	e.IsRetryable = false
	assert.False(t, e.Retryable())
}

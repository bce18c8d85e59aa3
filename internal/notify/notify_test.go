package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

func TestVoucherMessage(t *testing.T) {
	one := VoucherMessage([]domain.VoucherCode{{Serial: "S1", Pin: "1111"}})
	assert.Equal(t, "Your results checker voucher:\n1. Serial: S1 PIN: 1111", one)

	two := VoucherMessage([]domain.VoucherCode{{Serial: "S1", Pin: "1111"}, {Serial: "S2", Pin: "2222"}})
	assert.Contains(t, two, "vouchers:")
	assert.Contains(t, two, "2. Serial: S2 PIN: 2222")
}

func TestLogSenderOmitsPins(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := s.SendVouchers(context.Background(), "0241234567", "ord-1",
		[]domain.VoucherCode{{Serial: "S1", Pin: "9876"}})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"order_id":"ord-1"`)
	assert.Contains(t, buf.String(), "S1")
	assert.Contains(t, buf.String(), `"segments":1`)
	assert.NotContains(t, buf.String(), "9876")
}

func TestSegments(t *testing.T) {
	assert.Equal(t, 1, Segments(""))
	assert.Equal(t, 1, Segments(strings.Repeat("a", 160)))
	assert.Equal(t, 2, Segments(strings.Repeat("a", 161)))
	assert.Equal(t, 2, Segments(strings.Repeat("a", 306)))
	assert.Equal(t, 3, Segments(strings.Repeat("a", 307)))

	codes := make([]domain.VoucherCode, 5)
	for i := range codes {
		codes[i] = domain.VoucherCode{Serial: "SERIAL00000" + string(rune('1'+i)), Pin: "123456789012"}
	}
	assert.Greater(t, Segments(VoucherMessage(codes)), 1)
}

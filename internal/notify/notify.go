// Package notify delivers purchase receipts to subscribers.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

// Sender hands voucher codes to the subscriber they were bought for.
type Sender interface {
	SendVouchers(ctx context.Context, mobile, orderID string, codes []domain.VoucherCode) error
}

// VoucherMessage renders codes as the SMS body.
func VoucherMessage(codes []domain.VoucherCode) string {
	var b strings.Builder
	b.WriteString("Your results checker voucher")
	if len(codes) > 1 {
		b.WriteString("s")
	}
	b.WriteString(":")
	for i, c := range codes {
		fmt.Fprintf(&b, "\n%d. Serial: %s PIN: %s", i+1, c.Serial, c.Pin)
	}
	return b.String()
}

// LogSender writes receipts to the structured log. It stands in for an SMS
// provider in development and in memory mode.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// SendVouchers logs the serials and the size of the SMS that would carry
// them. Pins never reach the log.
func (s *LogSender) SendVouchers(ctx context.Context, mobile, orderID string, codes []domain.VoucherCode) error {
	serials := make([]string, len(codes))
	for i, c := range codes {
		serials[i] = c.Serial
	}
	body := VoucherMessage(codes)
	s.logger.InfoContext(ctx, "vouchers sent",
		"mobile", mobile,
		"order_id", orderID,
		"serials", serials,
		"length", len(body),
		"segments", Segments(body),
	)
	return nil
}

// Segments is the number of SMS parts body needs: 160 characters fit in one,
// concatenated parts carry 153 each.
func Segments(body string) int {
	n := len([]rune(body))
	if n <= 160 {
		return 1
	}
	return (n + 152) / 153
}

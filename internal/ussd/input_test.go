package ussd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0241234567", want: "0241234567"},
		{in: "233241234567", want: "0241234567"},
		{in: "+233241234567", want: "0241234567"},
		{in: " +233 24 123-4567 ", want: "0241234567"},
		{in: "241234567", wantErr: true},
		{in: "02412345678", wantErr: true},
		{in: "1241234567", wantErr: true},
		{in: "02412x4567", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizePhone(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in     string
		want   int64
		reason string
	}{
		{in: "12.50", want: 1250},
		{in: "12.5", want: 1250},
		{in: "7", want: 700},
		{in: "100", want: 10000},
		{in: "100.01", reason: "Enter an amount up to 100.00."},
		{in: "0", reason: "Enter an amount up to 100.00."},
		{in: "-5", reason: "Enter an amount up to 100.00."},
		{in: "1.005", reason: "Use at most 2 decimal places."},
		{in: "ten", reason: "Enter a valid amount."},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseMoney(tt.in, 100_00)
			if tt.reason != "" {
				var ie *InputError
				require.ErrorAs(t, err, &ie)
				assert.Equal(t, tt.reason, ie.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEmail(t *testing.T) {
	got, err := parseEmail("  Kojo.Mensah@Example.COM ")
	require.NoError(t, err)
	assert.Equal(t, "kojo.mensah@example.com", got)

	for _, in := range []string{"", "kojo", "kojo@", "@example.com", "kojo mensah@example.com"} {
		_, err := parseEmail(in)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

func TestParseName(t *testing.T) {
	got, err := parseName("  Ama   O'Neil-Mensah ")
	require.NoError(t, err)
	assert.Equal(t, "Ama O'Neil-Mensah", got)

	_, err = parseName("A")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = parseName("Ama2")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseChoice(t *testing.T) {
	idx, err := parseChoice("3", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	for _, in := range []string{"", "6", "#", "1a", "-1"} {
		_, err := parseChoice(in, 5)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

func TestParseAccount(t *testing.T) {
	got, err := parseAccount(" GW-12345 ")
	require.NoError(t, err)
	assert.Equal(t, "GW-12345", got)

	for _, in := range []string{"123", "ACC 123", "123456789012345678901", "ab/cd"} {
		_, err := parseAccount(in)
		assert.ErrorIs(t, err, ErrInvalidInput, in)
	}
}

package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVouchers(t *testing.T) {
	in := "voucher_type,serial,pin\nbece, S1 ,1111\nWASSCE,S2,2222\n"

	codes, err := readVouchers(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, codes, 2)
	assert.Equal(t, "BECE", codes[0].VoucherType)
	assert.Equal(t, "S1", codes[0].Serial)
	assert.Equal(t, "2222", codes[1].Pin)
}

func TestReadVouchersRejectsBadRows(t *testing.T) {
	_, err := readVouchers(strings.NewReader("BECE,S1,\n"))
	assert.ErrorContains(t, err, "line 1")

	_, err = readVouchers(strings.NewReader("BECE,S1\n"))
	assert.Error(t, err)
}

package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

func TestLoadDefault(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "GHS", c.Currency)
	require.NotEmpty(t, c.Networks)

	mtn, ok := c.Network("mtn")
	require.True(t, ok)
	daily, ok := mtn.Category("Daily")
	require.True(t, ok)
	assert.Equal(t, int64(500), daily.Bundles[3].Price)

	bece, ok := c.Voucher("BECE")
	require.True(t, ok)
	assert.Equal(t, int64(1800), bece.UnitPrice)
	assert.Equal(t, "0.05", bece.CommissionRate.String())
}

func TestServiceID(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	id, err := c.ServiceID(domain.ProductBundle, "mtn", "")
	require.NoError(t, err)
	assert.Equal(t, "b230733cd56b4a0fad820e39f66bc27c", id)

	id, err = c.ServiceID(domain.ProductTVBill, "", "gotv")
	require.NoError(t, err)
	assert.Equal(t, "e6ceac7f3880435cb30b048e9617eb41", id)

	_, err = c.ServiceID(domain.ProductAirtime, "unknown", "")
	assert.Error(t, err)
}

func TestParseRejectsMissingServiceID(t *testing.T) {
	data := []byte(`
currency: GHS
payout_service_id: p1
tv_providers:
  - code: dstv
    name: DStv
`)
	_, err := Parse(data)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "dstv")
}

func TestParseRejectsBadPrice(t *testing.T) {
	data := []byte(`
currency: GHS
payout_service_id: p1
vouchers:
  - code: BECE
    name: BECE
    unit_price: "1.234"
`)
	_, err := Parse(data)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsUnknownLookupKind(t *testing.T) {
	data := []byte(`
currency: GHS
payout_service_id: p1
utility_providers:
  - code: ecg
    name: ECG
    service_id: s1
    lookup: meter
`)
	_, err := Parse(data)
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
currency: GHS
payout_service_id: p1
vouchers:
  - code: BECE
    name: BECE Checker
    unit_price: "10"
`), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Vouchers, 1)
	assert.Equal(t, int64(1000), c.Vouchers[0].UnitPrice)
	assert.True(t, c.CommissionRate("BECE").IsZero())
}

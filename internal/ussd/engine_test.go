package ussd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/session"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

type fakeLooker struct {
	res   vas.Lookup
	err   error
	calls []string
}

func (f *fakeLooker) Lookup(_ context.Context, product domain.Product, provider, destination string) (vas.Lookup, error) {
	f.calls = append(f.calls, fmt.Sprintf("%s/%s/%s", product, provider, destination))
	return f.res, f.err
}

type harness struct {
	t      *testing.T
	engine *Engine
	store  *session.MemoryStore
	looker *fakeLooker
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cat, err := catalog.Load("")
	require.NoError(t, err)

	store := session.NewMemoryStore(time.Minute, 0)
	t.Cleanup(func() { store.Close() })

	looker := &fakeLooker{}
	refs := 0
	engine := NewEngine(store, cat, looker, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithCheckoutTTL(30*time.Minute),
		WithReferences(func() string {
			refs++
			return fmt.Sprintf("ref-%d", refs)
		}))
	return &harness{t: t, engine: engine, store: store, looker: looker}
}

// dialog is one subscriber session driven through the engine.
type dialog struct {
	h   *harness
	id  string
	seq int
}

func (h *harness) dial(id string) (*dialog, models.DialogResponse) {
	d := &dialog{h: h, id: id, seq: 1}
	r := h.engine.Handle(context.Background(), models.DialogRequest{
		Type:      models.TypeInitiation,
		SessionID: id,
		Mobile:    "233241234567",
		Message:   "*713#",
		Sequence:  d.seq,
	})
	return d, r
}

func (d *dialog) send(msgs ...string) models.DialogResponse {
	var r models.DialogResponse
	for _, m := range msgs {
		d.seq++
		r = d.h.engine.Handle(context.Background(), models.DialogRequest{
			Type:      models.TypeResponse,
			SessionID: d.id,
			Mobile:    "233241234567",
			Message:   m,
			Sequence:  d.seq,
		})
	}
	return r
}

func (d *dialog) session() *domain.Session {
	s, err := d.h.store.Get(context.Background(), d.id)
	require.NoError(d.h.t, err)
	return s
}

func TestInitiationShowsMainMenu(t *testing.T) {
	h := newHarness(t)
	d, r := h.dial("s1")

	assert.Equal(t, "s1", r.SessionID)
	assert.Equal(t, models.TypeResponse, r.Type)
	assert.Equal(t, "Kiosk", r.Label)
	assert.Contains(t, r.Message, "1. Results Checker")
	assert.Contains(t, r.Message, "2. Data Bundles")
	assert.Contains(t, r.Message, "5. Utility Bills")
	assert.NotContains(t, r.Message, "99. Back")
	assert.Equal(t, "0241234567", d.session().Mobile)
}

func TestBundleCheckoutForSelf(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("2", "1", "1", "4", "1")
	assert.Contains(t, r.Message, "Product: MTN 1GB Daily")
	assert.Contains(t, r.Message, "Recipient: 0241234567")
	assert.Contains(t, r.Message, "Total: GHS 5.00")
	assert.True(t, strings.HasSuffix(r.Message, "1. Confirm\n2. Cancel"))

	r = d.send("1")
	assert.Equal(t, models.TypeAddToCart, r.Type)
	require.NotNil(t, r.Item)
	assert.Equal(t, "MTN 1GB Daily", r.Item.Name)
	assert.Equal(t, 1, r.Item.Quantity)
	assert.Equal(t, 5.0, r.Item.Amount)

	s := d.session()
	assert.Equal(t, string(stateCheckout), s.State)
	assert.Equal(t, "ref-1", s.ClientReference)
	assert.Equal(t, domain.ProductBundle, s.Product)
	assert.Equal(t, "mtn", s.Network)
	assert.Equal(t, "DAILY_1GB", s.Item.Code)
	assert.Equal(t, int64(500), s.Amount)
	assert.Equal(t, domain.BuyerSelf, s.Buyer)
}

func TestVoucherForSomeoneElse(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("1", "2", "2", "Ama Mensah", "+233 24 555 1234")
	assert.Contains(t, r.Message, "How many WASSCE Results Checker vouchers?")

	r = d.send("11")
	assert.True(t, strings.HasPrefix(r.Message, "Enter a quantity from 1 to 10."))

	r = d.send("3")
	assert.Contains(t, r.Message, "Recipient: Ama Mensah 0245551234")
	assert.Contains(t, r.Message, "Quantity: 3")
	assert.Contains(t, r.Message, "Total: GHS 60.00")

	s := d.session()
	assert.Equal(t, domain.BuyerOther, s.Buyer)
	assert.Equal(t, "0245551234", s.Recipient())
	assert.Equal(t, 3, s.Quantity)
	assert.Equal(t, "WASSCE", s.Item.Code)
}

func TestAirtimeAmountValidation(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("3", "1", "0201234567")
	assert.Equal(t, models.FieldDecimal, r.FieldType)

	r = d.send("150")
	assert.True(t, strings.HasPrefix(r.Message, "Enter an amount up to 100.00."))
	assert.Equal(t, string(airtimeAmount), d.session().State)

	r = d.send("12.345")
	assert.True(t, strings.HasPrefix(r.Message, "Use at most 2 decimal places."))

	r = d.send("0")
	assert.True(t, strings.HasPrefix(r.Message, "Enter an amount up to"))

	r = d.send("12.50")
	assert.Contains(t, r.Message, "Product: MTN Airtime")
	assert.Contains(t, r.Message, "Recipient: 0201234567")
	assert.Contains(t, r.Message, "Total: GHS 12.50")
	assert.Equal(t, int64(1250), d.session().Amount)
}

func TestAirtimeRejectsBadMobile(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("3", "2", "12345")
	assert.True(t, strings.HasPrefix(r.Message, "Enter a valid mobile number."))
	assert.Equal(t, string(airtimeRecipient), d.session().State)
}

func TestTVBillLookup(t *testing.T) {
	h := newHarness(t)
	h.looker.res = vas.Lookup{Name: "KOFI MENSAH", AmountDue: 12050}
	d, _ := h.dial("s1")

	r := d.send("4", "1", "7012345678")
	assert.Contains(t, r.Message, "Account: KOFI MENSAH")
	assert.Contains(t, r.Message, "Amount due: GHS 120.50")
	assert.Equal(t, []string{"tv_bill/dstv/7012345678"}, h.looker.calls)

	r = d.send("120.50")
	assert.Contains(t, r.Message, "Product: DStv 7012345678")
	assert.Contains(t, r.Message, "Account: KOFI MENSAH")

	r = d.send("1")
	require.NotNil(t, r.Item)
	assert.Equal(t, 120.5, r.Item.Amount)
}

func TestTVBillAccountNotFoundReprompts(t *testing.T) {
	h := newHarness(t)
	h.looker.err = vas.ErrAccountNotFound
	d, _ := h.dial("s1")

	r := d.send("4", "2", "1234567")
	assert.Equal(t, models.TypeResponse, r.Type)
	assert.True(t, strings.HasPrefix(r.Message, "Account not found."))
	assert.Equal(t, string(tvAccount), d.session().State)
}

func TestTVBillLookupFailureReleases(t *testing.T) {
	h := newHarness(t)
	h.looker.err = &vas.UpstreamError{Retryable: true, Err: errors.New("timeout")}
	d, _ := h.dial("s1")

	r := d.send("4", "1", "7012345678")
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, MsgServiceUnavailable, r.Message)

	_, err := h.store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestUtilityMeterSelection(t *testing.T) {
	h := newHarness(t)
	h.looker.res = vas.Lookup{Options: []domain.AccountOption{{Number: "P1234", Name: "Home"}, {Number: "P5678", Name: "Shop"}}}
	d, _ := h.dial("s1")

	r := d.send("5", "1", "0241234567")
	assert.Contains(t, r.Message, "1. P1234 Home")
	assert.Contains(t, r.Message, "2. P5678 Shop")

	r = d.send("2")
	assert.Contains(t, r.Message, "Account: Shop")

	r = d.send("50")
	assert.Contains(t, r.Message, "Product: ECG Prepaid P5678")
	assert.Contains(t, r.Message, "Total: GHS 50.00")
}

func TestUtilityEmailForAccountProviders(t *testing.T) {
	h := newHarness(t)
	h.looker.res = vas.Lookup{Name: "AMA SERWAA"}
	d, _ := h.dial("s1")

	r := d.send("5", "2", "GW-12345")
	assert.Equal(t, models.FieldEmail, r.FieldType)
	assert.Contains(t, r.Message, "Account: AMA SERWAA")

	r = d.send("not-an-email")
	assert.True(t, strings.HasPrefix(r.Message, "Enter a valid email address."))

	r = d.send("Ama@Example.com", "75.00")
	assert.Contains(t, r.Message, "Total: GHS 75.00")

	s := d.session()
	assert.Equal(t, "ama@example.com", s.Email)
	assert.Equal(t, "GW-12345", s.AccountNumber)
	assert.Equal(t, "gwcl", s.Provider)
}

func TestPaginationBoundary(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("2", "1", "1")
	assert.Contains(t, r.Message, "5. 2GB Daily")
	assert.NotContains(t, r.Message, "6. 3GB Daily")
	assert.Contains(t, r.Message, "0. Next")

	r = d.send("0")
	assert.Contains(t, r.Message, "6. 3GB Daily")
	assert.Contains(t, r.Message, "00. Previous")
	assert.NotContains(t, r.Message, "0. Next")

	r = d.send("0")
	assert.True(t, strings.HasPrefix(r.Message, "No more options.\n"))
	assert.Contains(t, r.Message, "6. 3GB Daily")
	assert.Equal(t, 1, d.session().Page)

	r = d.send("00", "00")
	assert.Contains(t, r.Message, "1. 100MB Daily")
	assert.Equal(t, 0, d.session().Page)

	r = d.send("6")
	assert.Equal(t, string(bundleBuyer), d.session().State)
	assert.Equal(t, "DAILY_3GB", d.session().Item.Code)
}

func TestHashIsInvalid(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("#")
	assert.True(t, strings.HasPrefix(r.Message, "Please select an option."))
	assert.Equal(t, string(stateMain), d.session().State)
}

func TestBackNavigation(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("2", "99")
	assert.Contains(t, r.Message, "Welcome to Kiosk")
	assert.Equal(t, domain.Product(""), d.session().Product)

	r = d.send("2", "1", "99")
	assert.Contains(t, r.Message, "Select network")
	assert.Equal(t, string(bundleNetwork), d.session().State)

	r = d.send("99", "1", "1", "99")
	assert.Contains(t, r.Message, "Select checker type")
}

func TestUnknownSessionIsExpired(t *testing.T) {
	h := newHarness(t)
	r := h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeResponse, SessionID: "ghost", Mobile: "233241234567", Message: "1", Sequence: 2,
	})
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, MsgSessionExpired, r.Message)
	assert.Equal(t, "ghost", r.SessionID)
}

func TestCancelDeletesSession(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	r := d.send("3", "1", "0241234567", "10", "2")
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, MsgCancelled, r.Message)

	_, err := h.store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestGatewayRetryReplaysReply(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")

	first := d.send("2")
	retry := h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeResponse, SessionID: "s1", Mobile: "233241234567", Message: "2", Sequence: d.seq,
	})
	assert.Equal(t, first, retry)
	assert.Equal(t, string(bundleNetwork), d.session().State)
	assert.Empty(t, d.session().Network)
}

func TestInitiationKeepsCheckoutSession(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")
	d.send("2", "1", "1", "4", "1", "1")

	r := h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeInitiation, SessionID: "s1", Mobile: "233241234567", Message: "*713#", Sequence: d.seq + 1,
	})
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, MsgCompletePayment, r.Message)

	s := d.session()
	assert.Equal(t, string(stateCheckout), s.State)
	assert.Equal(t, "ref-1", s.ClientReference)
}

func TestInitiationRepeatsLivePrompt(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")
	prompt := d.send("2")

	r := h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeInitiation, SessionID: "s1", Mobile: "233241234567", Message: "*713#", Sequence: 7,
	})
	assert.Equal(t, prompt, r)
	assert.Equal(t, string(bundleNetwork), d.session().State)
}

func TestCheckoutAckKeepsSession(t *testing.T) {
	h := newHarness(t)
	d, _ := h.dial("s1")
	d.send("2", "1", "1", "4", "1", "1")

	r := h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeAddToCart, SessionID: "s1", Mobile: "233241234567", Sequence: d.seq + 1,
	})
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, MsgCompletePayment, r.Message)

	r = h.engine.Handle(context.Background(), models.DialogRequest{
		Type: models.TypeRelease, SessionID: "s1", Mobile: "233241234567", Sequence: d.seq + 2,
	})
	assert.Equal(t, models.TypeRelease, r.Type)
	assert.Equal(t, "ref-1", d.session().ClientReference)
}

func TestStepIsDeterministic(t *testing.T) {
	h := newHarness(t)
	base := &domain.Session{
		ID:       "s1",
		Mobile:   "0241234567",
		Product:  domain.ProductBundle,
		State:    string(bundleItem),
		Network:  "mtn",
		Category: "Daily",
	}

	a, b := base.Clone(), base.Clone()
	ra := h.engine.Step(context.Background(), a, "4")
	rb := h.engine.Step(context.Background(), b, "4")
	assert.Equal(t, ra, rb)
	assert.Equal(t, a, b)
	assert.Equal(t, string(bundleBuyer), a.State)
}

func TestInvalidInputLeavesSessionUntouched(t *testing.T) {
	h := newHarness(t)
	s := &domain.Session{ID: "s1", Mobile: "0241234567", Product: domain.ProductVoucher, State: string(voucherName)}
	before := s.Clone()

	r := h.engine.Step(context.Background(), s, "1")
	assert.True(t, strings.HasPrefix(r.Message, "Name must be 2 to 50 characters."))
	assert.Equal(t, before, s)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/gateway"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/notify"
	"github.com/punchamoorthee/ussdops/internal/session"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

var (
	ErrSessionMissing   = errors.New("session missing for payment callback")
	ErrMissingClientRef = errors.New("session has no client reference")
)

var paymentCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ussd_payment_callbacks_total",
	Help: "Payment callbacks by product and acknowledged service status",
}, []string{"product", "service_status"})

// Store is the persistence the callback path needs beyond the ledger.
type Store interface {
	ledger.Repository
	AppendTransaction(ctx context.Context, t domain.Transaction) error
	AllocateVouchers(ctx context.Context, orderID, voucherType string, qty int) ([]domain.VoucherCode, error)
}

// PaymentProcessor turns the gateway's payment outcome into a transaction
// record, a ledger row and, for a first delivery, one fulfillment attempt.
type PaymentProcessor struct {
	store    Store
	sessions session.Store
	catalog  *catalog.Catalog
	vas      vas.Fulfiller
	notifier notify.Sender
	gateway  gateway.Acknowledger
	logger   *slog.Logger
	now      func() time.Time
}

func NewPaymentProcessor(
	store Store,
	sessions session.Store,
	cat *catalog.Catalog,
	fulfiller vas.Fulfiller,
	notifier notify.Sender,
	ack gateway.Acknowledger,
	logger *slog.Logger,
) *PaymentProcessor {
	return &PaymentProcessor{
		store:    store,
		sessions: sessions,
		catalog:  cat,
		vas:      fulfiller,
		notifier: notifier,
		gateway:  ack,
		logger:   logger,
		now:      time.Now,
	}
}

// Process handles one payment callback delivery and returns the service
// status acknowledged to the gateway. Errors are logged, never returned: the
// gateway always gets its acknowledgement.
func (p *PaymentProcessor) Process(ctx context.Context, cb models.PaymentCallback) string {
	log := p.logger.With("session_id", cb.SessionID, "order_id", cb.OrderID)

	tx := transactionFrom(cb, p.now())
	if err := p.store.AppendTransaction(ctx, tx); err != nil {
		log.Error("recording transaction failed", "error", err)
	}

	status, product := p.settle(ctx, log, cb)
	paymentCallbacks.WithLabelValues(string(product), status).Inc()

	ack := models.ServiceFulfillment{SessionID: cb.SessionID, OrderID: cb.OrderID, ServiceStatus: status}
	if err := p.gateway.Acknowledge(ctx, ack); err != nil {
		log.Error("gateway acknowledgement failed", "service_status", status, "error", err)
	}
	return status
}

func (p *PaymentProcessor) settle(ctx context.Context, log *slog.Logger, cb models.PaymentCallback) (string, domain.Product) {
	s, err := p.sessions.Get(ctx, cb.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			log.Error("loading session failed", "error", err)
		} else {
			log.Warn(ErrSessionMissing.Error())
		}
		return models.ServiceFailed, ""
	}
	if s.ClientReference == "" {
		log.Error(ErrMissingClientRef.Error(), "state", s.State)
		return models.ServiceFailed, s.Product
	}
	log = log.With("client_reference", s.ClientReference, "product", s.Product)

	// The session outlives every ledger write failure so a redelivered
	// callback can still settle the order.
	base := entryFields(s, cb.OrderID)
	if !cb.OrderInfo.Payment.IsSuccessful {
		base.Status = ledger.Payment(domain.PaymentUnpaid)
		if _, _, err := p.store.UpsertCommission(ctx, s.ClientReference, base); err != nil {
			log.Error("recording unpaid order failed", "error", err)
			return models.ServiceFailed, s.Product
		}
		p.release(ctx, log, s.ID)
		log.Info("payment unsuccessful")
		return models.ServiceFailed, s.Product
	}

	base.Status = ledger.Payment(domain.PaymentPaid)
	entry, created, err := p.store.UpsertCommission(ctx, s.ClientReference, base)
	if err != nil {
		log.Error("recording paid order failed", "error", err)
		return models.ServiceFailed, s.Product
	}
	if !created {
		p.release(ctx, log, s.ID)
		log.Info("duplicate payment callback", "service_status", entry.ServiceStatus)
		return ackStatus(entry), s.Product
	}

	if s.Product == domain.ProductVoucher {
		entry, err = p.deliverVouchers(ctx, s, cb.OrderID)
	} else {
		entry, err = p.fulfill(ctx, orderFromSession(s))
	}
	if err != nil {
		log.Error("settling order failed", "error", err)
		return models.ServiceFailed, s.Product
	}
	p.release(ctx, log, s.ID)
	log.Info("payment settled", "service_status", entry.ServiceStatus, "retryable", entry.IsRetryable)
	return ackStatus(entry), s.Product
}

func (p *PaymentProcessor) release(ctx context.Context, log *slog.Logger, id string) {
	if err := p.sessions.Delete(ctx, id); err != nil {
		log.Warn("session delete failed", "error", err)
	}
}

// deliverVouchers hands out pre-issued codes. Commission on vouchers is a
// catalog rate, since no provider reports it.
func (p *PaymentProcessor) deliverVouchers(ctx context.Context, s *domain.Session, orderID string) (domain.CommissionEntry, error) {
	codes, err := p.store.AllocateVouchers(ctx, orderID, s.Item.Code, s.Quantity)
	if err != nil {
		p.logger.Error("voucher allocation failed", "order_id", orderID, "voucher_type", s.Item.Code, "error", err)
		entry, _, uerr := p.store.UpsertCommission(ctx, s.ClientReference, ledger.Fields{
			ServiceStatus: ledger.ServiceStatus(domain.ServiceFailed),
			IsRetryable:   ledger.Bool(false),
			Message:       ledger.String(err.Error()),
		})
		return entry, uerr
	}

	msg := fmt.Sprintf("%d voucher(s) issued", len(codes))
	if err := p.notifier.SendVouchers(ctx, s.Recipient(), orderID, codes); err != nil {
		p.logger.Warn("voucher notification failed", "order_id", orderID, "error", err)
		msg += ", notification failed"
	}

	entry, _, err := p.store.UpsertCommission(ctx, s.ClientReference, ledger.Fields{
		Commission:    ledger.Int64(domain.Percent(s.Amount, p.catalog.CommissionRate(s.Item.Code))),
		ServiceStatus: ledger.ServiceStatus(domain.ServiceDelivered),
		Message:       ledger.String(msg),
	})
	return entry, err
}

func (p *PaymentProcessor) fulfill(ctx context.Context, o vas.Order) (domain.CommissionEntry, error) {
	res, err := p.vas.Fulfill(ctx, o)
	if err != nil {
		p.logger.Warn("fulfillment failed", "client_reference", o.ClientReference, "error", err)
	}
	entry, _, err := p.store.UpsertCommission(ctx, o.ClientReference, resultFields(res, err))
	return entry, err
}

// entryFields snapshots the order for the ledger row.
func entryFields(s *domain.Session, orderID string) ledger.Fields {
	f := ledger.Fields{
		Mobile:        s.Mobile,
		ProductType:   s.Product,
		Destination:   destination(s),
		Network:       s.Network,
		Provider:      s.Provider,
		AccountNumber: s.AccountNumber,
		Email:         s.Email,
		OrderID:       orderID,
		Amount:        ledger.Int64(s.Amount),
	}
	if s.Product == domain.ProductBundle {
		f.Bundle = s.Item.Code
	}
	return f
}

func destination(s *domain.Session) string {
	switch s.Product {
	case domain.ProductTVBill, domain.ProductUtility:
		return s.AccountNumber
	}
	return s.Recipient()
}

func orderFromSession(s *domain.Session) vas.Order {
	o := vas.Order{
		ClientReference: s.ClientReference,
		Product:         s.Product,
		Network:         s.Network,
		Provider:        s.Provider,
		Destination:     destination(s),
		Amount:          s.Amount,
		Email:           s.Email,
	}
	if s.Product == domain.ProductBundle {
		o.Bundle = s.Item.Code
	}
	return o
}

// resultFields records a fulfillment attempt. Commission is credited only
// on delivery.
func resultFields(res vas.Result, err error) ledger.Fields {
	if err != nil && res.Status == "" {
		res.Status = domain.ServiceFailed
		var ue *vas.UpstreamError
		res.Retryable = errors.As(err, &ue) && ue.Retryable
	}
	if res.Message == "" && err != nil {
		res.Message = err.Error()
	}

	f := ledger.Fields{
		TransactionID:         res.TransactionID,
		ExternalTransactionID: res.ExternalTransactionID,
		ServiceStatus:         ledger.ServiceStatus(res.Status),
		IsRetryable:           ledger.Bool(res.Retryable),
		Message:               ledger.String(res.Message),
	}
	if res.Status == domain.ServiceDelivered {
		f.Commission = ledger.Int64(res.Commission)
	}
	return f
}

// ackStatus is success while the order is delivered, on its way, or will be
// retried.
func ackStatus(e domain.CommissionEntry) string {
	if e.Status != domain.PaymentPaid {
		return models.ServiceFailed
	}
	switch e.ServiceStatus {
	case domain.ServiceDelivered, domain.ServicePending:
		return models.ServiceSuccess
	case domain.ServiceFailed:
		if e.IsRetryable {
			return models.ServiceSuccess
		}
	}
	return models.ServiceFailed
}

func transactionFrom(cb models.PaymentCallback, now time.Time) domain.Transaction {
	info := cb.OrderInfo
	t := domain.Transaction{
		ID:                 uuid.NewString(),
		OrderID:            cb.OrderID,
		SessionID:          cb.SessionID,
		CustomerMobile:     info.CustomerMobileNumber,
		CustomerName:       info.CustomerName,
		Status:             domain.TransactionFailed,
		Currency:           info.Currency,
		PaymentType:        info.Payment.PaymentType,
		AmountPaid:         domain.AmountFromFloat(info.Payment.AmountPaid),
		AmountAfterCharges: domain.AmountFromFloat(info.Payment.AmountAfterCharges),
		IsSuccessful:       info.Payment.IsSuccessful,
		PaymentDate:        parseDate(info.Payment.PaymentDate),
		CreatedAt:          now,
	}
	if t.IsSuccessful {
		t.Status = domain.TransactionSuccess
	}
	for _, it := range info.Items {
		t.Items = append(t.Items, domain.LineItem{
			ItemID:    it.ItemID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: domain.AmountFromFloat(it.UnitPrice),
		})
	}
	return t
}

// parseDate accepts the gateway's timestamps with or without a zone.
func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

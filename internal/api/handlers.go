package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/service"
	"github.com/punchamoorthee/ussdops/internal/ussd"
)

// Dialog answers USSD gateway events. *ussd.Engine implements it.
type Dialog interface {
	Handle(ctx context.Context, req models.DialogRequest) models.DialogResponse
}

type PaymentProcessor interface {
	Process(ctx context.Context, cb models.PaymentCallback) string
}

type FulfillmentProcessor interface {
	Process(ctx context.Context, cb models.FulfillmentCallback) (domain.CommissionEntry, error)
}

// Ledger is the read and withdrawal side of the commission ledger.
type Ledger interface {
	Earnings(ctx context.Context, mobile string) (domain.Earnings, error)
	Statement(ctx context.Context, mobile string, limit int) ([]domain.CommissionEntry, error)
	Withdraw(ctx context.Context, mobile string, amount int64, reference string) (ledger.Withdrawal, error)
}

type TransactionReader interface {
	TransactionsByOrder(ctx context.Context, orderID string) ([]domain.Transaction, error)
}

// Pinger is a dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	dialog       Dialog
	payments     PaymentProcessor
	fulfillments FulfillmentProcessor
	ledger       Ledger
	transactions TransactionReader
	health       map[string]Pinger
	logger       *slog.Logger
	validate     *validator.Validate
}

func NewHandler(
	dialog Dialog,
	payments PaymentProcessor,
	fulfillments FulfillmentProcessor,
	ledger Ledger,
	transactions TransactionReader,
	health map[string]Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		dialog:       dialog,
		payments:     payments,
		fulfillments: fulfillments,
		ledger:       ledger,
		transactions: transactions,
		health:       health,
		logger:       logger,
		validate:     validator.New(),
	}
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	for name, p := range h.health {
		if err := p.Ping(r.Context()); err != nil {
			h.log(r).Warn("health check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	respondWithJSON(w, code, status)
}

// DialogHandler answers one USSD event. Dialog failures are already folded
// into the reply, so anything past decoding is a 200.
func (h *Handler) DialogHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DialogRequest
	if !h.decode(w, r, &req) {
		return
	}
	respondWithJSON(w, http.StatusOK, h.dialog.Handle(r.Context(), req))
}

// PaymentCallbackHandler settles a payment outcome. Settlement outlives the
// gateway's connection: a disconnect must not abandon a half-written order.
func (h *Handler) PaymentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb models.PaymentCallback
	if !h.decode(w, r, &cb) {
		return
	}
	status := h.payments.Process(context.WithoutCancel(r.Context()), cb)
	respondWithJSON(w, http.StatusOK, map[string]string{
		"order_id":       cb.OrderID,
		"service_status": status,
	})
}

func (h *Handler) CommissionCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb models.FulfillmentCallback
	if !h.decode(w, r, &cb) {
		return
	}
	entry, err := h.fulfillments.Process(context.WithoutCancel(r.Context()), cb)
	switch {
	case errors.Is(err, service.ErrNoClientReference):
		respondWithError(w, http.StatusBadRequest, "ClientReference is required")
	case errors.Is(err, ledger.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Unknown client reference")
	case err != nil:
		h.log(r).Error("fulfillment callback failed", "client_reference", cb.Data.ClientReference, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
	default:
		respondWithJSON(w, http.StatusOK, entry)
	}
}

func (h *Handler) CreateWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.WithdrawalRequest
	if !h.decode(w, r, &req) {
		return
	}
	mobile, err := ussd.NormalizePhone(req.Mobile)
	if err != nil {
		respondWithError(w, http.StatusUnprocessableEntity, "Invalid mobile number")
		return
	}

	wd, err := h.ledger.Withdraw(r.Context(), mobile, domain.AmountFromFloat(req.Amount), req.Reference)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientEarnings):
			respondWithError(w, http.StatusUnprocessableEntity, "Insufficient earnings")
		case errors.Is(err, ledger.ErrInvalidAmount):
			respondWithError(w, http.StatusUnprocessableEntity, "Positive amount required")
		default:
			h.log(r).Error("withdrawal failed", "mobile", mobile, "reference", req.Reference, "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		}
		return
	}

	// Idempotent replay
	if wd.Replayed {
		respondWithJSON(w, http.StatusOK, wd)
		return
	}
	w.Header().Set("Location", "/api/v1/commissions/"+mobile)
	respondWithJSON(w, http.StatusCreated, wd)
}

func (h *Handler) GetEarningsHandler(w http.ResponseWriter, r *http.Request) {
	mobile, ok := mobileVar(w, r)
	if !ok {
		return
	}
	earnings, err := h.ledger.Earnings(r.Context(), mobile)
	if err != nil {
		h.log(r).Error("earnings query failed", "mobile", mobile, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	respondWithJSON(w, http.StatusOK, earnings)
}

func (h *Handler) GetCommissionsHandler(w http.ResponseWriter, r *http.Request) {
	mobile, ok := mobileVar(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.ledger.Statement(r.Context(), mobile, limit)
	if err != nil {
		h.log(r).Error("statement query failed", "mobile", mobile, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if entries == nil {
		entries = []domain.CommissionEntry{}
	}
	respondWithJSON(w, http.StatusOK, entries)
}

func (h *Handler) GetTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	txs, err := h.transactions.TransactionsByOrder(r.Context(), orderID)
	if err != nil {
		h.log(r).Error("transactions query failed", "order_id", orderID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if len(txs) == 0 {
		respondWithError(w, http.StatusNotFound, "Order not found")
		return
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return ve[0].Field() + " failed " + ve[0].Tag() + " validation"
	}
	return "Invalid request"
}

func mobileVar(w http.ResponseWriter, r *http.Request) (string, bool) {
	mobile, err := ussd.NormalizePhone(mux.Vars(r)["mobile"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid mobile number")
		return "", false
	}
	return mobile, true
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func (h *Handler) log(r *http.Request) *slog.Logger {
	return h.logger.With("request_id", GetRequestID(r.Context()))
}

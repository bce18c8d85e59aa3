// Package ussd drives the menu conversation of a USSD session: one inbound
// gateway event in, one reply out, with the conversation state kept in a
// session.Store between events.
package ussd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/session"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

// Messages shown when a turn cannot continue.
const (
	MsgSessionExpired     = "Session expired. Please dial again."
	MsgServiceUnavailable = "Service unavailable, please retry."
	MsgCancelled          = "Transaction cancelled."
	MsgCompletePayment    = "Please complete payment on your phone."
	MsgInvalidRequest     = "Invalid request."
)

// Optimistic updates retry this many times before giving up on a turn.
const maxAttempts = 3

var (
	dialogEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ussd_dialog_events_total",
		Help: "Inbound dialog events by type and reply type",
	}, []string{"type", "reply"})

	dialogReplays = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ussd_dialog_replays_total",
		Help: "Gateway retries answered from the stored reply",
	})
)

type Engine struct {
	store       session.Store
	catalog     *catalog.Catalog
	lookup      vas.Looker
	logger      *slog.Logger
	checkoutTTL time.Duration
	newRef      func() string
}

type Option func(*Engine)

// WithReferences overrides client reference generation.
func WithReferences(f func() string) Option {
	return func(e *Engine) { e.newRef = f }
}

// WithCheckoutTTL sets how long a session lives after checkout is emitted.
func WithCheckoutTTL(d time.Duration) Option {
	return func(e *Engine) { e.checkoutTTL = d }
}

func NewEngine(store session.Store, cat *catalog.Catalog, lookup vas.Looker, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		catalog: cat,
		lookup:  lookup,
		logger:  logger,
		newRef:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle answers one dialog event. It never fails: every error degrades to a
// release message.
func (e *Engine) Handle(ctx context.Context, req models.DialogRequest) models.DialogResponse {
	var reply models.DialogResponse
	switch strings.ToLower(req.Type) {
	case models.TypeInitiation:
		reply = e.initiate(ctx, req)
	case models.TypeResponse:
		reply = e.respond(ctx, req)
	case models.TypeAddToCart:
		reply = e.checkoutAck(ctx, req)
	case models.TypeRelease:
		reply = e.end(ctx, req)
	default:
		reply = e.release(MsgInvalidRequest)
	}
	reply.SessionID = req.SessionID
	dialogEvents.WithLabelValues(strings.ToLower(req.Type), reply.Type).Inc()
	return reply
}

func (e *Engine) initiate(ctx context.Context, req models.DialogRequest) models.DialogResponse {
	if s, err := e.store.Get(ctx, req.SessionID); err == nil {
		return e.rejoin(s, req)
	}

	mobile, err := NormalizePhone(req.Mobile)
	if err != nil {
		mobile = req.Mobile
	}
	s := &domain.Session{ID: req.SessionID, Mobile: mobile}
	goTo(s, stateMain)

	reply := e.render(s, "")
	remember(s, req.Sequence, reply)
	if err := e.store.Create(ctx, s); err != nil {
		if errors.Is(err, session.ErrExists) {
			if live, gerr := e.store.Get(ctx, req.SessionID); gerr == nil {
				return e.rejoin(live, req)
			}
		}
		e.logger.Error("session create failed", "session_id", req.SessionID, "error", err)
		return e.release(MsgServiceUnavailable)
	}
	e.logger.Info("session started", "session_id", s.ID, "mobile", s.Mobile)
	return reply
}

// rejoin answers an initiation for a session that is already live and leaves
// it untouched. A checkout keeps waiting for its payment; any other state
// repeats its last prompt.
func (e *Engine) rejoin(s *domain.Session, req models.DialogRequest) models.DialogResponse {
	if r, ok := replay(s, req); ok {
		return r
	}
	e.logger.Warn("initiation for live session", "session_id", s.ID, "state", s.State)
	if State(s.State) == stateCheckout {
		return e.release(MsgCompletePayment)
	}
	var r models.DialogResponse
	if len(s.LastReply) == 0 || json.Unmarshal(s.LastReply, &r) != nil {
		return e.release(MsgServiceUnavailable)
	}
	return r
}

func (e *Engine) respond(ctx context.Context, req models.DialogRequest) models.DialogResponse {
	in := strings.TrimSpace(req.Message)

	for attempt := 0; attempt < maxAttempts; attempt++ {
		s, err := e.store.Get(ctx, req.SessionID)
		if errors.Is(err, session.ErrNotFound) {
			return e.release(MsgSessionExpired)
		}
		if err != nil {
			e.logger.Error("session load failed", "session_id", req.SessionID, "error", err)
			return e.release(MsgServiceUnavailable)
		}
		if r, ok := replay(s, req); ok {
			return r
		}

		work := s.Clone()
		reply := e.Step(ctx, work, in)

		if reply.Type == models.TypeRelease && State(work.State) != stateCheckout {
			if err := e.store.Delete(ctx, s.ID); err != nil {
				e.logger.Warn("session delete failed", "session_id", s.ID, "error", err)
			}
			return reply
		}

		remember(work, req.Sequence, reply)
		ttl := time.Duration(0)
		if State(work.State) == stateCheckout {
			ttl = e.checkoutTTL
		}
		err = e.store.Update(ctx, work, ttl)
		if errors.Is(err, session.ErrConflict) {
			continue
		}
		if errors.Is(err, session.ErrNotFound) {
			return e.release(MsgSessionExpired)
		}
		if err != nil {
			e.logger.Error("session save failed", "session_id", s.ID, "error", err)
			return e.release(MsgServiceUnavailable)
		}
		return reply
	}

	e.logger.Warn("session contended", "session_id", req.SessionID)
	return e.release(MsgServiceUnavailable)
}

// Step applies one input to a session in place and returns the reply. It is
// deterministic for a given session snapshot and input, apart from the
// client reference minted on confirm and any provider lookup.
func (e *Engine) Step(ctx context.Context, s *domain.Session, in string) models.DialogResponse {
	before := s.Clone()

	reply, err := e.route(ctx, s, in)
	var ie *InputError
	switch {
	case errors.As(err, &ie):
		*s = *before
		return e.render(s, ie.Reason)
	case err != nil:
		e.logger.Error("dialog step failed",
			"session_id", s.ID, "product", s.Product, "state", s.State, "error", err)
		return e.release(MsgServiceUnavailable)
	case reply != nil:
		return *reply
	}
	return e.render(s, "")
}

// checkoutAck answers the gateway's confirmation that the checkout was shown.
// The session is kept for the payment callback.
func (e *Engine) checkoutAck(ctx context.Context, req models.DialogRequest) models.DialogResponse {
	if _, err := e.store.Get(ctx, req.SessionID); errors.Is(err, session.ErrNotFound) {
		return e.release(MsgSessionExpired)
	}
	return e.release(MsgCompletePayment)
}

// end handles the gateway closing the dialog. A session awaiting payment is
// kept for the callback.
func (e *Engine) end(ctx context.Context, req models.DialogRequest) models.DialogResponse {
	s, err := e.store.Get(ctx, req.SessionID)
	if err == nil && State(s.State) != stateCheckout {
		if err := e.store.Delete(ctx, req.SessionID); err != nil {
			e.logger.Warn("session delete failed", "session_id", req.SessionID, "error", err)
		}
	}
	return e.release("Goodbye.")
}

// replay answers a gateway retry of the last processed event.
func replay(s *domain.Session, req models.DialogRequest) (models.DialogResponse, bool) {
	if req.Sequence <= 0 || len(s.LastReply) == 0 || s.LastSequence != req.Sequence {
		return models.DialogResponse{}, false
	}
	var r models.DialogResponse
	if err := json.Unmarshal(s.LastReply, &r); err != nil {
		return models.DialogResponse{}, false
	}
	dialogReplays.Inc()
	return r, true
}

func remember(s *domain.Session, seq int, reply models.DialogResponse) {
	s.LastSequence = seq
	s.LastReply, _ = json.Marshal(reply)
}

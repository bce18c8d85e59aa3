package ussd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

// State is a position in a product's dialog. Each product declares its own
// states; the main menu, summary and checkout states are shared.
type State string

const (
	stateMain     State = "main"
	stateSummary  State = "summary"
	stateCheckout State = "checkout"
)

const pageSize = 5

// step is one entry of a transition table. A list step renders paginated
// options and receives the picked index. An input step receives the raw text.
type step struct {
	title func(e *Engine, s *domain.Session) string

	// list steps
	options func(e *Engine, s *domain.Session) []string
	back    State
	pick    func(ctx context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error)

	// input steps
	field  string
	handle func(ctx context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error)
}

func (st step) isList() bool { return st.options != nil }

// flow is a product's transition table.
type flow struct {
	first State
	steps map[State]step
}

var (
	flows  = map[domain.Product]flow{}
	shared = map[State]step{}
)

// menu is the main menu order. Selecting entry i starts menu[i].
var menu = []domain.Product{
	domain.ProductVoucher,
	domain.ProductBundle,
	domain.ProductAirtime,
	domain.ProductTVBill,
	domain.ProductUtility,
}

func register(p domain.Product, f flow) {
	flows[p] = f
}

func lookup(s *domain.Session) (step, bool) {
	if f, ok := flows[s.Product]; ok {
		if st, ok := f.steps[State(s.State)]; ok {
			return st, true
		}
	}
	st, ok := shared[State(s.State)]
	return st, ok
}

func goTo(s *domain.Session, next State) {
	s.State = string(next)
	s.Page = 0
}

// reset drops every selection, keeping identity and bookkeeping.
func reset(s *domain.Session) {
	*s = domain.Session{
		ID:           s.ID,
		Mobile:       s.Mobile,
		LastSequence: s.LastSequence,
		LastReply:    s.LastReply,
		Version:      s.Version,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// start enters a product's first state with a clean selection.
func start(s *domain.Session, p domain.Product) {
	reset(s)
	s.Product = p
	goTo(s, flows[p].first)
}

func backTo(s *domain.Session, st State) {
	if st == stateMain || st == "" {
		reset(s)
		goTo(s, stateMain)
		return
	}
	goTo(s, st)
}

// route runs the current state's step against in. A nil reply means the
// session moved and the new state's prompt should be rendered.
func (e *Engine) route(ctx context.Context, s *domain.Session, in string) (*models.DialogResponse, error) {
	st, ok := lookup(s)
	if !ok {
		return nil, fmt.Errorf("no step for product %q state %q", s.Product, s.State)
	}
	if !st.isList() {
		return st.handle(ctx, e, s, in)
	}

	opts := st.options(e, s)
	switch in {
	case inputNext:
		if (s.Page+1)*pageSize >= len(opts) {
			r := e.render(s, "No more options.")
			return &r, nil
		}
		s.Page++
		return nil, nil
	case inputPrevious:
		if s.Page > 0 {
			s.Page--
		}
		return nil, nil
	case inputBack:
		backTo(s, st.back)
		return nil, nil
	}

	idx, err := parseChoice(in, len(opts))
	if err != nil {
		return nil, err
	}
	return st.pick(ctx, e, s, idx)
}

// render builds the prompt of the session's current state.
func (e *Engine) render(s *domain.Session, notice string) models.DialogResponse {
	st, ok := lookup(s)
	if !ok {
		return e.release("Invalid request.")
	}

	var b strings.Builder
	if notice != "" {
		b.WriteString(notice)
		b.WriteByte('\n')
	}
	b.WriteString(st.title(e, s))

	field := st.field
	if st.isList() {
		field = models.FieldNumber
		opts := st.options(e, s)
		lo := s.Page * pageSize
		if lo >= len(opts) && len(opts) > 0 {
			lo = (len(opts) - 1) / pageSize * pageSize
			s.Page = lo / pageSize
		}
		hi := min(lo+pageSize, len(opts))
		for i := lo; i < hi; i++ {
			b.WriteString("\n" + strconv.Itoa(i+1) + ". " + opts[i])
		}
		if hi < len(opts) {
			b.WriteString("\n" + inputNext + ". Next")
		}
		if s.Page > 0 {
			b.WriteString("\n" + inputPrevious + ". Previous")
		}
		if State(s.State) != stateMain {
			b.WriteString("\n" + inputBack + ". Back")
		}
	}

	return models.DialogResponse{
		Type:      models.TypeResponse,
		Label:     e.catalog.Brand,
		Message:   b.String(),
		DataType:  models.DataInput,
		FieldType: field,
	}
}

func (e *Engine) release(msg string) models.DialogResponse {
	return models.DialogResponse{
		Type:      models.TypeRelease,
		Label:     e.catalog.Brand,
		Message:   msg,
		DataType:  models.DataDisplay,
		FieldType: models.FieldText,
	}
}

func answer(r models.DialogResponse) (*models.DialogResponse, error) {
	return &r, nil
}

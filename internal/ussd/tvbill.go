package ussd

import (
	"context"
	"errors"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

const (
	tvProvider State = "tv.provider"
	tvAccount  State = "tv.account"
	tvAmount   State = "tv.amount"
)

// maxBill bounds bill payments, in minor units.
const maxBill = 10_000_00

// lookupAccount runs a provider lookup. A missing account is an input error;
// anything else ends the dialog.
func (e *Engine) lookupAccount(ctx context.Context, s *domain.Session, destination string) (vas.Lookup, *models.DialogResponse, error) {
	res, err := e.lookup.Lookup(ctx, s.Product, s.Provider, destination)
	switch {
	case errors.Is(err, vas.ErrAccountNotFound):
		return vas.Lookup{}, nil, invalid("Account not found. Check the number and try again.")
	case err != nil:
		e.logger.Warn("account lookup failed",
			"session_id", s.ID, "product", s.Product, "provider", s.Provider, "error", err)
		r := e.release(MsgServiceUnavailable)
		return vas.Lookup{}, &r, nil
	}
	return res, nil, nil
}

func amountPrompt(e *Engine, s *domain.Session) string {
	msg := "Account: " + s.AccountName
	if s.Amount > 0 {
		msg += "\nAmount due: " + e.money(s.Amount)
	}
	return msg + "\nEnter amount to pay"
}

func payAmount(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
	amount, err := parseMoney(in, maxBill)
	if err != nil {
		return nil, err
	}
	return toSummary(s, amount)
}

func init() {
	register(domain.ProductTVBill, flow{
		first: tvProvider,
		steps: map[State]step{
			tvProvider: {
				title: func(*Engine, *domain.Session) string { return "Select TV provider" },
				options: func(e *Engine, _ *domain.Session) []string {
					out := make([]string, len(e.catalog.TVProviders))
					for i, p := range e.catalog.TVProviders {
						out[i] = p.Name
					}
					return out
				},
				back: stateMain,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					p := e.catalog.TVProviders[idx]
					s.Provider = p.Code
					s.Item = domain.CatalogItem{Code: p.Code, Name: p.Name}
					goTo(s, tvAccount)
					return nil, nil
				},
			},
			tvAccount: {
				title: func(e *Engine, s *domain.Session) string { return "Enter " + s.Item.Name + " smartcard/IUC number" },
				field: models.FieldText,
				handle: func(ctx context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					acc, err := parseAccount(in)
					if err != nil {
						return nil, err
					}
					res, stop, err := e.lookupAccount(ctx, s, acc)
					if stop != nil || err != nil {
						return stop, err
					}
					s.AccountNumber = acc
					s.AccountName = res.Name
					s.Amount = res.AmountDue
					goTo(s, tvAmount)
					return nil, nil
				},
			},
			tvAmount: {
				title:  amountPrompt,
				field:  models.FieldDecimal,
				handle: payAmount,
			},
		},
	})
}

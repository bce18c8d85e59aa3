package ussd

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

const (
	utilityProvider State = "utility.provider"
	utilityMobile   State = "utility.mobile"
	utilityMeter    State = "utility.meter"
	utilityAccount  State = "utility.account"
	utilityEmail    State = "utility.email"
	utilityAmount   State = "utility.amount"
)

func (e *Engine) selectedUtility(s *domain.Session) (catalog.UtilityProvider, error) {
	p, ok := e.catalog.UtilityProvider(s.Provider)
	if !ok {
		return catalog.UtilityProvider{}, fmt.Errorf("utility provider %q not in catalog", s.Provider)
	}
	return p, nil
}

func init() {
	register(domain.ProductUtility, flow{
		first: utilityProvider,
		steps: map[State]step{
			utilityProvider: {
				title: func(*Engine, *domain.Session) string { return "Select provider" },
				options: func(e *Engine, _ *domain.Session) []string {
					out := make([]string, len(e.catalog.UtilityProviders))
					for i, p := range e.catalog.UtilityProviders {
						out[i] = p.Name
					}
					return out
				},
				back: stateMain,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					p := e.catalog.UtilityProviders[idx]
					s.Provider = p.Code
					s.Item = domain.CatalogItem{Code: p.Code, Name: p.Name}
					if p.Lookup == catalog.LookupMobile {
						goTo(s, utilityMobile)
					} else {
						goTo(s, utilityAccount)
					}
					return nil, nil
				},
			},

			// Meters are listed by the mobile number they are registered to.
			utilityMobile: {
				title: func(*Engine, *domain.Session) string { return "Enter mobile number linked to the meter" },
				field: models.FieldPhone,
				handle: func(ctx context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					mobile, err := NormalizePhone(in)
					if err != nil {
						return nil, err
					}
					res, stop, err := e.lookupAccount(ctx, s, mobile)
					if stop != nil || err != nil {
						return stop, err
					}
					if len(res.Options) == 0 {
						return nil, invalid("No meters found for this number.")
					}
					s.RecipientMobile = mobile
					s.Accounts = res.Options
					goTo(s, utilityMeter)
					return nil, nil
				},
			},
			utilityMeter: {
				title: func(*Engine, *domain.Session) string { return "Select meter" },
				options: func(_ *Engine, s *domain.Session) []string {
					out := make([]string, len(s.Accounts))
					for i, a := range s.Accounts {
						out[i] = a.Number
						if a.Name != "" {
							out[i] += " " + a.Name
						}
					}
					return out
				},
				back: utilityMobile,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					a := s.Accounts[idx]
					s.AccountNumber = a.Number
					s.AccountName = a.Name
					if s.AccountName == "" {
						s.AccountName = a.Number
					}
					goTo(s, utilityAmount)
					return nil, nil
				},
			},

			utilityAccount: {
				title: func(e *Engine, s *domain.Session) string { return "Enter " + s.Item.Name + " account number" },
				field: models.FieldText,
				handle: func(ctx context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					acc, err := parseAccount(in)
					if err != nil {
						return nil, err
					}
					p, err := e.selectedUtility(s)
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
					if p.RequiresEmail {
						goTo(s, utilityEmail)
					} else {
						goTo(s, utilityAmount)
					}
					return nil, nil
				},
			},
			utilityEmail: {
				title: func(e *Engine, s *domain.Session) string {
					return "Account: " + s.AccountName + "\nEnter email address for your receipt"
				},
				field: models.FieldEmail,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					email, err := parseEmail(in)
					if err != nil {
						return nil, err
					}
					s.Email = email
					goTo(s, utilityAmount)
					return nil, nil
				},
			},

			utilityAmount: {
				title:  amountPrompt,
				field:  models.FieldDecimal,
				handle: payAmount,
			},
		},
	})
}

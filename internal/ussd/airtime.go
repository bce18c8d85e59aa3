package ussd

import (
	"context"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

const (
	airtimeNetwork   State = "airtime.network"
	airtimeRecipient State = "airtime.recipient"
	airtimeAmount    State = "airtime.amount"
)

// maxAirtime is the largest single top-up, in minor units.
const maxAirtime = 100_00

func init() {
	register(domain.ProductAirtime, flow{
		first: airtimeNetwork,
		steps: map[State]step{
			airtimeNetwork: {
				title:   func(*Engine, *domain.Session) string { return "Select network" },
				options: networkOptions,
				back:    stateMain,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					n := e.catalog.Networks[idx]
					s.Network = n.Code
					s.Item = domain.CatalogItem{Code: n.Code, Name: n.Name + " Airtime"}
					goTo(s, airtimeRecipient)
					return nil, nil
				},
			},
			airtimeRecipient: {
				title: func(*Engine, *domain.Session) string { return "Enter mobile number to top up" },
				field: models.FieldPhone,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					mobile, err := NormalizePhone(in)
					if err != nil {
						return nil, err
					}
					s.RecipientMobile = mobile
					if mobile == s.Mobile {
						s.Buyer = domain.BuyerSelf
					} else {
						s.Buyer = domain.BuyerOther
					}
					goTo(s, airtimeAmount)
					return nil, nil
				},
			},
			airtimeAmount: {
				title: func(e *Engine, s *domain.Session) string {
					return "Enter amount (max " + e.money(maxAirtime) + ")"
				},
				field: models.FieldDecimal,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					amount, err := parseMoney(in, maxAirtime)
					if err != nil {
						return nil, err
					}
					return toSummary(s, amount)
				},
			},
		},
	})
}

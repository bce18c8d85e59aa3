package ussd

import (
	"context"
	"fmt"

	"github.com/punchamoorthee/ussdops/internal/catalog"
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

const (
	bundleNetwork   State = "bundle.network"
	bundleCategory  State = "bundle.category"
	bundleItem      State = "bundle.item"
	bundleBuyer     State = "bundle.buyer"
	bundleRecipient State = "bundle.recipient"
)

func networkOptions(e *Engine, _ *domain.Session) []string {
	out := make([]string, len(e.catalog.Networks))
	for i, n := range e.catalog.Networks {
		out[i] = n.Name
	}
	return out
}

func (e *Engine) category(s *domain.Session) (catalog.Category, error) {
	n, ok := e.catalog.Network(s.Network)
	if !ok {
		return catalog.Category{}, fmt.Errorf("network %q not in catalog", s.Network)
	}
	c, ok := n.Category(s.Category)
	if !ok {
		return catalog.Category{}, fmt.Errorf("category %q not in network %s", s.Category, s.Network)
	}
	return c, nil
}

func init() {
	register(domain.ProductBundle, flow{
		first: bundleNetwork,
		steps: map[State]step{
			bundleNetwork: {
				title:   func(*Engine, *domain.Session) string { return "Select network" },
				options: networkOptions,
				back:    stateMain,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					s.Network = e.catalog.Networks[idx].Code
					goTo(s, bundleCategory)
					return nil, nil
				},
			},
			bundleCategory: {
				title: func(*Engine, *domain.Session) string { return "Select bundle type" },
				options: func(e *Engine, s *domain.Session) []string {
					n, _ := e.catalog.Network(s.Network)
					out := make([]string, len(n.Categories))
					for i, c := range n.Categories {
						out[i] = c.Name
					}
					return out
				},
				back: bundleNetwork,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					n, _ := e.catalog.Network(s.Network)
					s.Category = n.Categories[idx].Name
					goTo(s, bundleItem)
					return nil, nil
				},
			},
			bundleItem: {
				title: func(e *Engine, s *domain.Session) string { return s.Category + " bundles" },
				options: func(e *Engine, s *domain.Session) []string {
					c, _ := e.category(s)
					out := make([]string, len(c.Bundles))
					for i, b := range c.Bundles {
						out[i] = b.Name + " @ " + e.money(b.Price)
					}
					return out
				},
				back: bundleCategory,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					c, err := e.category(s)
					if err != nil {
						return nil, err
					}
					b := c.Bundles[idx]
					s.Item = domain.CatalogItem{Code: b.Value, Name: b.Name, Price: b.Price}
					goTo(s, bundleBuyer)
					return nil, nil
				},
			},
			bundleBuyer: {
				title:   func(*Engine, *domain.Session) string { return "Buying for" },
				options: buyerOptions,
				back:    bundleItem,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					if idx == 0 {
						s.Buyer = domain.BuyerSelf
						s.RecipientMobile = ""
						return toSummary(s, s.Item.Price)
					}
					s.Buyer = domain.BuyerOther
					goTo(s, bundleRecipient)
					return nil, nil
				},
			},
			bundleRecipient: {
				title: func(*Engine, *domain.Session) string { return "Enter recipient's mobile number" },
				field: models.FieldPhone,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					mobile, err := NormalizePhone(in)
					if err != nil {
						return nil, err
					}
					s.RecipientMobile = mobile
					return toSummary(s, s.Item.Price)
				},
			},
		},
	})
}

package ussd

import (
	"context"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

const (
	voucherType     State = "voucher.type"
	voucherBuyer    State = "voucher.buyer"
	voucherName     State = "voucher.name"
	voucherMobile   State = "voucher.mobile"
	voucherQuantity State = "voucher.quantity"
)

const maxVouchers = 10

func buyerOptions(*Engine, *domain.Session) []string {
	return []string{"Myself", "Someone else"}
}

func init() {
	register(domain.ProductVoucher, flow{
		first: voucherType,
		steps: map[State]step{
			voucherType: {
				title: func(*Engine, *domain.Session) string { return "Select checker type" },
				options: func(e *Engine, _ *domain.Session) []string {
					out := make([]string, len(e.catalog.Vouchers))
					for i, v := range e.catalog.Vouchers {
						out[i] = v.Name + " @ " + e.money(v.UnitPrice)
					}
					return out
				},
				back: stateMain,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					v := e.catalog.Vouchers[idx]
					s.Item = domain.CatalogItem{Code: v.Code, Name: v.Name, Price: v.UnitPrice}
					goTo(s, voucherBuyer)
					return nil, nil
				},
			},
			voucherBuyer: {
				title:   func(*Engine, *domain.Session) string { return "Buying for" },
				options: buyerOptions,
				back:    voucherType,
				pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
					if idx == 0 {
						s.Buyer = domain.BuyerSelf
						s.RecipientMobile, s.RecipientName = "", ""
						goTo(s, voucherQuantity)
						return nil, nil
					}
					s.Buyer = domain.BuyerOther
					goTo(s, voucherName)
					return nil, nil
				},
			},
			voucherName: {
				title: func(*Engine, *domain.Session) string { return "Enter recipient's name" },
				field: models.FieldText,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					name, err := parseName(in)
					if err != nil {
						return nil, err
					}
					s.RecipientName = name
					goTo(s, voucherMobile)
					return nil, nil
				},
			},
			voucherMobile: {
				title: func(*Engine, *domain.Session) string { return "Enter recipient's mobile number" },
				field: models.FieldPhone,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					mobile, err := NormalizePhone(in)
					if err != nil {
						return nil, err
					}
					s.RecipientMobile = mobile
					goTo(s, voucherQuantity)
					return nil, nil
				},
			},
			voucherQuantity: {
				title: func(e *Engine, s *domain.Session) string {
					return "How many " + s.Item.Name + " vouchers? (1-10)"
				},
				field: models.FieldNumber,
				handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
					q, err := parseQuantity(in, maxVouchers)
					if err != nil {
						return nil, err
					}
					s.Quantity = q
					return toSummary(s, s.Item.Price*int64(q))
				},
			},
		},
	})
}

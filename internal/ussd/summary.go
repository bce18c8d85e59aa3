package ussd

import (
	"context"
	"fmt"
	"strings"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

var productNames = map[domain.Product]string{
	domain.ProductVoucher: "Results Checker",
	domain.ProductBundle:  "Data Bundles",
	domain.ProductAirtime: "Airtime",
	domain.ProductTVBill:  "TV Subscription",
	domain.ProductUtility: "Utility Bills",
}

func init() {
	shared[stateMain] = step{
		title: func(e *Engine, s *domain.Session) string { return "Welcome to " + e.catalog.Brand },
		options: func(e *Engine, s *domain.Session) []string {
			out := make([]string, len(menu))
			for i, p := range menu {
				out[i] = productNames[p]
			}
			return out
		},
		pick: func(_ context.Context, e *Engine, s *domain.Session, idx int) (*models.DialogResponse, error) {
			start(s, menu[idx])
			return nil, nil
		},
	}

	shared[stateSummary] = step{
		title: summaryTitle,
		field: models.FieldNumber,
		handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
			switch in {
			case "1":
				s.ClientReference = e.newRef()
				goTo(s, stateCheckout)
				return answer(e.Checkout(s))
			case "2":
				return answer(e.release(MsgCancelled))
			}
			return nil, invalid("Reply 1 to confirm or 2 to cancel.")
		},
	}

	shared[stateCheckout] = step{
		title: func(e *Engine, s *domain.Session) string { return MsgCompletePayment },
		field: models.FieldText,
		handle: func(_ context.Context, e *Engine, s *domain.Session, in string) (*models.DialogResponse, error) {
			return answer(e.release(MsgCompletePayment))
		},
	}
}

// Description names the purchase on the summary and the checkout line item.
func Description(s *domain.Session) string {
	switch s.Product {
	case domain.ProductVoucher:
		return fmt.Sprintf("%s x%d", s.Item.Name, s.Quantity)
	case domain.ProductBundle:
		return strings.TrimSpace(strings.ToUpper(s.Network) + " " + s.Item.Name)
	case domain.ProductAirtime:
		return s.Item.Name
	case domain.ProductTVBill, domain.ProductUtility:
		return s.Item.Name + " " + s.AccountNumber
	}
	return string(s.Product)
}

func summaryTitle(e *Engine, s *domain.Session) string {
	var b strings.Builder
	b.WriteString("Confirm purchase\n")
	b.WriteString("Product: " + Description(s) + "\n")

	switch s.Product {
	case domain.ProductTVBill, domain.ProductUtility:
		b.WriteString("Account: " + s.AccountName + "\n")
	default:
		recipient := s.Recipient()
		if s.RecipientName != "" {
			recipient = s.RecipientName + " " + recipient
		}
		b.WriteString("Recipient: " + recipient + "\n")
	}

	if s.Product == domain.ProductVoucher {
		fmt.Fprintf(&b, "Quantity: %d\n", s.Quantity)
	} else {
		b.WriteString("Amount: " + e.money(s.Amount) + "\n")
	}
	b.WriteString("Total: " + e.money(s.Amount) + "\n")
	b.WriteString("1. Confirm\n2. Cancel")
	return b.String()
}

// toSummary records the total and moves to the shared confirmation state.
func toSummary(s *domain.Session, total int64) (*models.DialogResponse, error) {
	s.Amount = total
	goTo(s, stateSummary)
	return nil, nil
}

func (e *Engine) money(minor int64) string {
	return e.catalog.Currency + " " + domain.FormatAmount(minor)
}

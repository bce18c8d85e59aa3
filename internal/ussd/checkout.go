package ussd

import (
	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
)

// Checkout builds the addtocart instruction for a confirmed order. The gateway
// collects payment out of band and later posts the outcome to the payment
// callback with this session id.
func (e *Engine) Checkout(s *domain.Session) models.DialogResponse {
	return models.DialogResponse{
		Type:      models.TypeAddToCart,
		Label:     e.catalog.Brand,
		Message:   "Please wait for the payment prompt to pay " + e.money(s.Amount) + ".",
		DataType:  models.DataDisplay,
		FieldType: models.FieldText,
		Item: &models.CheckoutItem{
			Name:     Description(s),
			Quantity: 1,
			Amount:   domain.AmountToFloat(s.Amount),
		},
	}
}

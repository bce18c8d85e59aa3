package models

import "encoding/json"

// Dialog event kinds sent by the USSD gateway.
const (
	TypeInitiation = "initiation"
	TypeResponse   = "response"
	TypeAddToCart  = "addtocart"
	TypeRelease    = "release"
)

// Outbound data and field types.
const (
	DataInput   = "input"
	DataDisplay = "display"

	FieldNumber  = "number"
	FieldText    = "text"
	FieldPhone   = "phone"
	FieldDecimal = "decimal"
	FieldEmail   = "email"
)

// DialogRequest is one inbound USSD event from the gateway.
type DialogRequest struct {
	Type        string `json:"Type" validate:"required"`
	SessionID   string `json:"SessionId" validate:"required,max=100"`
	Mobile      string `json:"Mobile" validate:"required,max=15"`
	Message     string `json:"Message" validate:"max=182"`
	Sequence    int    `json:"Sequence" validate:"gte=0"`
	ServiceCode string `json:"ServiceCode"`
	Operator    string `json:"Operator,omitempty"`
	Platform    string `json:"Platform,omitempty"`
}

// CheckoutItem is the line item attached to an addtocart response. Amount is in major units.
type CheckoutItem struct {
	Name     string  `json:"Name"`
	Quantity int     `json:"Quantity"`
	Amount   float64 `json:"Amount"`
}

// DialogResponse is the reply returned to the gateway for one dialog event.
type DialogResponse struct {
	SessionID string        `json:"SessionId"`
	Type      string        `json:"Type"`
	Label     string        `json:"Label"`
	Message   string        `json:"Message"`
	DataType  string        `json:"DataType"`
	FieldType string        `json:"FieldType"`
	Item      *CheckoutItem `json:"Item,omitempty"`
}

// PaymentCallback is the gateway's asynchronous payment outcome.
type PaymentCallback struct {
	SessionID string          `json:"SessionId" validate:"required"`
	OrderID   string          `json:"OrderId" validate:"required"`
	ExtraData json.RawMessage `json:"ExtraData,omitempty"`
	OrderInfo OrderInfo       `json:"OrderInfo"`
}

type OrderInfo struct {
	CustomerMobileNumber string      `json:"CustomerMobileNumber"`
	CustomerName         string      `json:"CustomerName"`
	Status               string      `json:"Status"`
	OrderDate            string      `json:"OrderDate"`
	Currency             string      `json:"Currency"`
	Items                []OrderItem `json:"Items"`
	Payment              Payment     `json:"Payment"`
}

type OrderItem struct {
	ItemID    string  `json:"ItemId"`
	Name      string  `json:"Name"`
	Quantity  int     `json:"Quantity"`
	UnitPrice float64 `json:"UnitPrice"`
}

type Payment struct {
	PaymentType        string  `json:"PaymentType"`
	AmountPaid         float64 `json:"AmountPaid"`
	AmountAfterCharges float64 `json:"AmountAfterCharges"`
	PaymentDate        string  `json:"PaymentDate"`
	PaymentDescription string  `json:"PaymentDescription"`
	IsSuccessful       bool    `json:"IsSuccessful"`
}

// Service statuses reported back to the gateway.
const (
	ServiceSuccess = "success"
	ServiceFailed  = "failed"
)

// ServiceFulfillment acknowledges a payment callback to the gateway.
type ServiceFulfillment struct {
	SessionID     string `json:"SessionId"`
	OrderID       string `json:"OrderId"`
	ServiceStatus string `json:"ServiceStatus"`
}

// FulfillmentRequest is sent to the value-added-service provider.
type FulfillmentRequest struct {
	Destination     string            `json:"Destination"`
	Amount          float64           `json:"Amount"`
	CallbackURL     string            `json:"CallbackUrl"`
	ClientReference string            `json:"ClientReference"`
	Extradata       map[string]string `json:"Extradata,omitempty"`
}

// FulfillmentResponse is both the provider's immediate reply and the body of
// its later out-of-band callback.
type FulfillmentResponse struct {
	ResponseCode string          `json:"ResponseCode"`
	Message      string          `json:"Message"`
	Data         FulfillmentData `json:"Data"`
}

type FulfillmentData struct {
	TransactionID         string          `json:"TransactionId"`
	ClientReference       string          `json:"ClientReference"`
	ExternalTransactionID string          `json:"ExternalTransactionId"`
	Amount                float64         `json:"Amount"`
	Charges               float64         `json:"Charges"`
	AmountAfterCharges    float64         `json:"AmountAfterCharges"`
	Description           string          `json:"Description"`
	Meta                  FulfillmentMeta `json:"Meta"`
	IsFulfilled           bool            `json:"IsFulfilled"`
}

type FulfillmentMeta struct {
	Commission json.Number `json:"Commission"`
}

// FulfillmentCallback is the provider's out-of-band delivery result.
type FulfillmentCallback struct {
	ResponseCode string          `json:"ResponseCode" validate:"required"`
	Message      string          `json:"Message"`
	Data         FulfillmentData `json:"Data"`
}

// LookupResponse is returned by provider account lookups.
type LookupResponse struct {
	ResponseCode string        `json:"ResponseCode"`
	Message      string        `json:"Message"`
	Data         []LookupField `json:"Data"`
}

type LookupField struct {
	Display string  `json:"Display"`
	Value   string  `json:"Value"`
	Amount  float64 `json:"Amount"`
}

// WithdrawalRequest asks to pay out available commission to a mobile wallet.
type WithdrawalRequest struct {
	Mobile    string  `json:"mobile" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Reference string  `json:"reference" validate:"required,max=64"`
}

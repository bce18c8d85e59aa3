package domain

import (
	"encoding/json"
	"time"
)

// Product identifies what a dialog session is selling, and doubles as the
// product type column of the commission ledger.
type Product string

const (
	ProductVoucher Product = "voucher"
	ProductBundle  Product = "bundle"
	ProductAirtime Product = "airtime"
	ProductTVBill  Product = "tv_bill"
	ProductUtility Product = "utility"

	// Synthetic ledger movements, never sold through the dialog.
	ProductWithdrawalDeduction Product = "withdrawal_deduction"
	ProductWithdrawalRefund    Product = "withdrawal_refund"
)

// IsWithdrawal reports whether rows of this type are ledger movements rather than sales.
func (p Product) IsWithdrawal() bool {
	return p == ProductWithdrawalDeduction || p == ProductWithdrawalRefund
}

// Buyer is the sub-flow of a purchase: for the dialing subscriber or for somebody else.
type Buyer string

const (
	BuyerSelf  Buyer = "self"
	BuyerOther Buyer = "other"
)

// PaymentStatus is set once from the gateway's payment outcome.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentPaid    PaymentStatus = "Paid"
	PaymentUnpaid  PaymentStatus = "Unpaid"
)

// ServiceStatus tracks delivery of the purchased product by the downstream provider.
type ServiceStatus string

const (
	ServicePending   ServiceStatus = "pending"
	ServiceDelivered ServiceStatus = "delivered"
	ServiceFailed    ServiceStatus = "failed"
)

// MaxRetries bounds how many times the retry scanner re-invokes fulfillment for a row.
const MaxRetries = 3

// CatalogItem is the catalog entry a session has selected. Price is in minor units.
type CatalogItem struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// AccountOption is one account returned by a provider lookup (e.g. the meters
// registered against a mobile number).
type AccountOption struct {
	Number string `json:"number"`
	Name   string `json:"name"`
}

// Session is the mutable state of one USSD conversation.
// Amounts are in minor units (pesewas).
type Session struct {
	ID     string `json:"id"`
	Mobile string `json:"mobile"`

	Product Product `json:"product,omitempty"`
	State   string  `json:"state,omitempty"`
	Page    int     `json:"page,omitempty"`

	Buyer           Buyer  `json:"buyer,omitempty"`
	RecipientMobile string `json:"recipient_mobile,omitempty"`
	RecipientName   string `json:"recipient_name,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`

	Network  string      `json:"network,omitempty"`
	Provider string      `json:"provider,omitempty"`
	Category string      `json:"category,omitempty"`
	Item     CatalogItem `json:"item"`

	AccountNumber string          `json:"account_number,omitempty"`
	AccountName   string          `json:"account_name,omitempty"`
	Accounts      []AccountOption `json:"accounts,omitempty"`
	Email         string          `json:"email,omitempty"`

	Amount          int64    `json:"amount,omitempty"`
	Allocated       []string `json:"allocated,omitempty"`
	ClientReference string   `json:"client_reference,omitempty"`

	LastSequence int             `json:"last_sequence,omitempty"`
	LastReply    json.RawMessage `json:"last_reply,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recipient returns the mobile number the product is delivered to.
func (s *Session) Recipient() string {
	if s.RecipientMobile != "" {
		return s.RecipientMobile
	}
	return s.Mobile
}

// Clone returns a deep copy so callers can mutate without touching a stored value.
func (s *Session) Clone() *Session {
	c := *s
	if s.Accounts != nil {
		c.Accounts = append([]AccountOption(nil), s.Accounts...)
	}
	if s.Allocated != nil {
		c.Allocated = append([]string(nil), s.Allocated...)
	}
	if s.LastReply != nil {
		c.LastReply = append(json.RawMessage(nil), s.LastReply...)
	}
	return &c
}

// LineItem is one item of a paid gateway order.
type LineItem struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Transaction is the immutable record of one payment outcome delivery.
type Transaction struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"order_id"`
	SessionID          string     `json:"session_id"`
	CustomerMobile     string     `json:"customer_mobile"`
	CustomerName       string     `json:"customer_name"`
	Status             string     `json:"status"`
	Currency           string     `json:"currency"`
	Items              []LineItem `json:"items"`
	PaymentType        string     `json:"payment_type"`
	AmountPaid         int64      `json:"amount_paid"`
	AmountAfterCharges int64      `json:"amount_after_charges"`
	IsSuccessful       bool       `json:"is_successful"`
	PaymentDate        time.Time  `json:"payment_date"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Transaction statuses.
const (
	TransactionSuccess = "success"
	TransactionFailed  = "failed"
)

// CommissionEntry is one row of the commission ledger, keyed by ClientReference.
type CommissionEntry struct {
	ClientReference       string        `json:"client_reference"`
	Mobile                string        `json:"mobile"`
	ProductType           Product       `json:"product_type"`
	Destination           string        `json:"destination,omitempty"`
	Network               string        `json:"network,omitempty"`
	Provider              string        `json:"provider,omitempty"`
	Bundle                string        `json:"bundle,omitempty"`
	AccountNumber         string        `json:"account_number,omitempty"`
	Email                 string        `json:"email,omitempty"`
	OrderID               string        `json:"order_id,omitempty"`
	Amount                int64         `json:"amount"`
	Commission            int64         `json:"commission"`
	Status                PaymentStatus `json:"status"`
	ServiceStatus         ServiceStatus `json:"commission_service_status"`
	RetryCount            int           `json:"retry_count"`
	IsRetryable           bool          `json:"is_retryable"`
	Message               string        `json:"message,omitempty"`
	TransactionID         string        `json:"transaction_id,omitempty"`
	ExternalTransactionID string        `json:"external_transaction_id,omitempty"`
	CreatedAt             time.Time     `json:"created_at"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// Retryable reports whether the retry scanner may claim this row.
func (e *CommissionEntry) Retryable() bool {
	return e.ServiceStatus == ServiceFailed && e.IsRetryable && e.RetryCount < MaxRetries
}

// Earnings is derived from ledger rows at read time; it is never stored.
type Earnings struct {
	Mobile         string `json:"mobile"`
	TotalEarned    int64  `json:"total_earned"`
	TotalWithdrawn int64  `json:"total_withdrawn"`
	TotalRefunded  int64  `json:"total_refunded"`
	Available      int64  `json:"available"`
	PaidCount      int    `json:"paid_count"`
	PendingCount   int    `json:"pending_count"`
}

// VoucherCode is a pre-issued result checker voucher.
type VoucherCode struct {
	ID          int64      `json:"id"`
	VoucherType string     `json:"voucher_type"`
	Serial      string     `json:"serial"`
	Pin         string     `json:"pin"`
	Consumed    bool       `json:"consumed"`
	OrderID     string     `json:"order_id,omitempty"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

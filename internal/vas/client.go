// Package vas talks to the value-added-service provider that delivers airtime,
// data and bill payments after a payment succeeds.
package vas

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/outbound"
)

const (
	CodeDelivered = "0000"
	CodePending   = "0001"
	// The provider's float is exhausted; safe to try again later.
	CodeInsufficientFloat = "2001"
)

var (
	ErrUpstream        = errors.New("upstream service error")
	ErrAccountNotFound = errors.New("account not found")
)

var fulfillments = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ussd_fulfillments_total",
	Help: "Fulfillment attempts by product and resulting service status",
}, []string{"product", "status"})

// UpstreamError describes a failed call to the provider.
type UpstreamError struct {
	Retryable bool
	Code      string
	Err       error
}

func (e *UpstreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream rejected with code %s: %v", e.Code, e.Err)
	}
	return "upstream call failed: " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error        { return e.Err }
func (e *UpstreamError) Is(target error) bool { return target == ErrUpstream }

// Order is what needs delivering. It is built from the dialog session at
// payment time and from the ledger row on retry.
type Order struct {
	ClientReference string
	Product         domain.Product
	Network         string
	Provider        string
	Destination     string
	Amount          int64
	Bundle          string
	Email           string
}

// Result is the classified outcome of one fulfillment attempt.
type Result struct {
	Status                domain.ServiceStatus
	Retryable             bool
	ResponseCode          string
	Message               string
	TransactionID         string
	ExternalTransactionID string
	Commission            int64
}

// Lookup is a provider account lookup.
type Lookup struct {
	Name      string
	AmountDue int64
	Options   []domain.AccountOption
}

// Resolver maps a product to the provider's service id. *catalog.Catalog implements it.
type Resolver interface {
	ServiceID(product domain.Product, network, provider string) (string, error)
}

// Fulfiller delivers paid orders.
type Fulfiller interface {
	Fulfill(ctx context.Context, o Order) (Result, error)
}

// Looker performs synchronous account lookups during the dialog.
type Looker interface {
	Lookup(ctx context.Context, product domain.Product, provider, destination string) (Lookup, error)
}

type Client struct {
	baseURL     string
	callbackURL string
	resolver    Resolver
	fulfill     *outbound.Client
	lookup      *outbound.Client
}

// NewClient builds a provider client. Fulfillment uses fulfill (expected to
// be single-shot); lookups use lookup (expected to retry).
func NewClient(baseURL, callbackURL string, resolver Resolver, fulfill, lookup *outbound.Client) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		callbackURL: callbackURL,
		resolver:    resolver,
		fulfill:     fulfill,
		lookup:      lookup,
	}
}

// BuildRequest shapes an order the way the provider expects it.
func (c *Client) BuildRequest(o Order) models.FulfillmentRequest {
	req := models.FulfillmentRequest{
		Destination:     o.Destination,
		Amount:          domain.AmountToFloat(o.Amount),
		CallbackURL:     c.callbackURL,
		ClientReference: o.ClientReference,
	}
	switch o.Product {
	case domain.ProductBundle:
		req.Extradata = map[string]string{"bundle": o.Bundle}
	case domain.ProductUtility:
		if o.Email != "" {
			req.Extradata = map[string]string{"email": o.Email}
		}
	}
	return req
}

// Fulfill invokes the provider once. It never retries: a failure is returned
// as an *UpstreamError and left to the retry scanner.
func (c *Client) Fulfill(ctx context.Context, o Order) (Result, error) {
	serviceID, err := c.resolver.ServiceID(o.Product, o.Network, o.Provider)
	if err != nil {
		fulfillments.WithLabelValues(string(o.Product), string(domain.ServiceFailed)).Inc()
		return Result{Status: domain.ServiceFailed, Message: err.Error()}, &UpstreamError{Err: err}
	}

	var resp models.FulfillmentResponse
	endpoint := fmt.Sprintf("%s/commissionservices/%s", c.baseURL, url.PathEscape(serviceID))
	if err := c.fulfill.PostJSON(ctx, endpoint, c.BuildRequest(o), &resp); err != nil {
		res := Result{Status: domain.ServiceFailed, Retryable: outbound.IsTemporary(err), Message: err.Error()}
		fulfillments.WithLabelValues(string(o.Product), string(res.Status)).Inc()
		return res, &UpstreamError{Retryable: res.Retryable, Err: err}
	}

	res := Classify(resp)
	fulfillments.WithLabelValues(string(o.Product), string(res.Status)).Inc()
	if res.Status == domain.ServiceFailed {
		return res, &UpstreamError{Retryable: res.Retryable, Code: resp.ResponseCode, Err: errors.New(resp.Message)}
	}
	return res, nil
}

// Classify turns a provider response, immediate or out-of-band, into a Result.
// A pending result keeps the pending service status until the provider calls back.
func Classify(resp models.FulfillmentResponse) Result {
	res := Result{
		ResponseCode:          resp.ResponseCode,
		Message:               resp.Message,
		TransactionID:         resp.Data.TransactionID,
		ExternalTransactionID: resp.Data.ExternalTransactionID,
		Commission:            ParseCommission(resp.Data.Meta.Commission.String()),
	}
	switch resp.ResponseCode {
	case CodeDelivered:
		res.Status = domain.ServiceDelivered
	case CodePending:
		res.Status = domain.ServicePending
	case CodeInsufficientFloat:
		res.Status = domain.ServiceFailed
		res.Retryable = true
	default:
		res.Status = domain.ServiceFailed
	}
	return res
}

// ParseCommission reads the provider's major-unit commission; unreadable values count as zero.
func ParseCommission(s string) int64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// Lookup fetches account details for TV and utility payments.
func (c *Client) Lookup(ctx context.Context, product domain.Product, provider, destination string) (Lookup, error) {
	serviceID, err := c.resolver.ServiceID(product, "", provider)
	if err != nil {
		return Lookup{}, &UpstreamError{Err: err}
	}

	endpoint := fmt.Sprintf("%s/commissionservices/%s?destination=%s",
		c.baseURL, url.PathEscape(serviceID), url.QueryEscape(destination))

	var resp models.LookupResponse
	if err := c.lookup.GetJSON(ctx, endpoint, &resp); err != nil {
		return Lookup{}, &UpstreamError{Retryable: outbound.IsTemporary(err), Err: err}
	}
	if resp.ResponseCode != CodeDelivered {
		return Lookup{}, fmt.Errorf("%w: %s", ErrAccountNotFound, resp.Message)
	}

	var out Lookup
	for _, f := range resp.Data {
		switch strings.ToLower(f.Display) {
		case "name", "customername":
			out.Name = f.Value
		case "amountdue", "amount":
			out.AmountDue = domain.AmountFromFloat(f.Amount)
		default:
			out.Options = append(out.Options, domain.AccountOption{Number: f.Display, Name: f.Value})
		}
	}
	if out.Name == "" && len(out.Options) == 0 {
		return Lookup{}, ErrAccountNotFound
	}
	return out, nil
}

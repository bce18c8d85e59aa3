// Package gateway reports service fulfillment back to the payment gateway
// after a payment callback has been handled.
package gateway

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/outbound"
)

var acks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ussd_gateway_acks_total",
	Help: "Fulfillment acknowledgements sent to the gateway, by service status and result",
}, []string{"service_status", "result"})

// Acknowledger sends the one acknowledgement a payment callback owes the gateway.
type Acknowledger interface {
	Acknowledge(ctx context.Context, ack models.ServiceFulfillment) error
}

type Client struct {
	url  string
	http *outbound.Client
}

// NewClient posts acknowledgements to url. The outbound client carries the
// gateway credentials and a bounded retry policy.
func NewClient(url string, http *outbound.Client) *Client {
	return &Client{url: url, http: http}
}

func (c *Client) Acknowledge(ctx context.Context, ack models.ServiceFulfillment) error {
	if err := c.http.PostJSON(ctx, c.url, ack, nil); err != nil {
		acks.WithLabelValues(ack.ServiceStatus, "error").Inc()
		return err
	}
	acks.WithLabelValues(ack.ServiceStatus, "ok").Inc()
	return nil
}

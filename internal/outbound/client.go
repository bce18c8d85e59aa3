// Package outbound wraps every call this service makes to another system with
// a per-attempt timeout and a bounded exponential retry.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ussd_outbound_requests_total",
		Help: "Outbound HTTP attempts, labeled by target and status",
	}, []string{"target", "status"})

	outboundLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ussd_outbound_request_duration_seconds",
		Help:    "Outbound HTTP attempt latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"target"})
)

// Policy bounds one logical call.
type Policy struct {
	Timeout         time.Duration // per attempt
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// SingleShot never retries. Used for calls that must happen at most once.
func SingleShot(timeout time.Duration) Policy {
	return Policy{Timeout: timeout, MaxTries: 1}
}

// Bounded retries idempotent calls a few times with exponential backoff.
func Bounded(timeout time.Duration, tries uint) Policy {
	return Policy{
		Timeout:         timeout,
		MaxTries:        tries,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// StatusError is a non-2xx reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the status is worth another attempt.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsTemporary reports whether err came from a timeout, a transport failure or
// a retryable status, as opposed to a rejection by the remote side.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// DecodeError means the remote side answered 2xx with a body we could not read.
type DecodeError struct{ Err error }

func (e *DecodeError) Error() string { return "decoding response: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// Client sends JSON requests under a Policy.
type Client struct {
	Name     string
	HTTP     *http.Client
	Policy   Policy
	Username string
	Password string
}

func (c *Client) PostJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body, out)
}

func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	return c.do(ctx, http.MethodGet, url, nil, out)
}

func (c *Client) do(ctx context.Context, method, url string, body []byte, out any) error {
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := c.Policy.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	operation := func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(attemptCtx, method, url, reader)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.Username != "" {
			req.SetBasicAuth(c.Username, c.Password)
		}

		start := time.Now()
		res, err := httpClient.Do(req)
		outboundLatency.WithLabelValues(c.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			outboundRequests.WithLabelValues(c.Name, "error").Inc()
			return struct{}{}, err
		}
		defer res.Body.Close()
		outboundRequests.WithLabelValues(c.Name, strconv.Itoa(res.StatusCode)).Inc()

		if res.StatusCode < 200 || res.StatusCode > 299 {
			msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
			se := &StatusError{StatusCode: res.StatusCode, Body: string(msg)}
			if se.Temporary() {
				return struct{}{}, se
			}
			return struct{}{}, backoff.Permanent(se)
		}
		if out != nil {
			if err := json.NewDecoder(res.Body).Decode(out); err != nil {
				return struct{}{}, backoff.Permanent(&DecodeError{Err: err})
			}
		}
		return struct{}{}, nil
	}

	tries := c.Policy.MaxTries
	if tries == 0 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	if c.Policy.InitialInterval > 0 {
		b.InitialInterval = c.Policy.InitialInterval
	}
	if c.Policy.MaxInterval > 0 {
		b.MaxInterval = c.Policy.MaxInterval
	}

	_, err := backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	return nil
}

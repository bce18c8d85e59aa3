package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/outbound"
)

func TestAcknowledge(t *testing.T) {
	var got models.ServiceFulfillment
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "client", user)
		assert.Equal(t, "secret", pass)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &outbound.Client{
		Name: "gateway", Policy: outbound.Bounded(time.Second, 3), Username: "client", Password: "secret",
	})
	err := c.Acknowledge(context.Background(), models.ServiceFulfillment{
		SessionID: "s1", OrderID: "o1", ServiceStatus: models.ServiceSuccess,
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, "o1", got.OrderID)
	assert.Equal(t, "success", got.ServiceStatus)
}

func TestAcknowledgeRetriesThenGivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, &outbound.Client{
		Name: "gateway",
		Policy: outbound.Policy{
			Timeout: time.Second, MaxTries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond,
		},
	})
	err := c.Acknowledge(context.Background(), models.ServiceFulfillment{SessionID: "s1", OrderID: "o1", ServiceStatus: models.ServiceFailed})
	assert.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

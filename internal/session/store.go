// Package session keeps the state of live USSD conversations between the
// gateway's stateless HTTP calls.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ussdops/internal/domain"
)

var (
	// ErrNotFound means the session expired or never started. It is an
	// expected outcome, not a fault.
	ErrNotFound = errors.New("session not found")
	// ErrConflict means another event updated the session first.
	ErrConflict = errors.New("session modified concurrently")
	// ErrExists means Create found a live session under the same id.
	ErrExists = errors.New("session already exists")
)

var (
	sessionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ussd_session_conflicts_total",
		Help: "Session updates rejected because of a concurrent modification",
	})
	sessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ussd_sessions_evicted_total",
		Help: "Sessions removed by TTL expiry in the in-memory store",
	})
)

// Store persists dialog sessions. Every write refreshes the entry's TTL.
//
// Create never replaces a live session: it fails with ErrExists instead.
// Update is a compare-and-swap on Session.Version: it fails with ErrConflict
// when the stored version differs, and increments Version on success. A ttl
// of zero means the store's default.
type Store interface {
	Create(ctx context.Context, s *domain.Session) error
	Get(ctx context.Context, id string) (*domain.Session, error)
	Update(ctx context.Context, s *domain.Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	Close() error
}

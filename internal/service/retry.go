package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/vas"
	"github.com/punchamoorthee/ussdops/internal/worker"
)

var retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ussd_retry_attempts_total",
	Help: "Fulfillment retries by resulting service status",
}, []string{"status"})

// RetryScanner periodically re-invokes fulfillment for failed, retryable rows.
type RetryScanner struct {
	repo     ledger.Repository
	vas      vas.Fulfiller
	pool     *worker.Pool
	batch    int
	interval time.Duration
	logger   *slog.Logger
}

func NewRetryScanner(repo ledger.Repository, fulfiller vas.Fulfiller, pool *worker.Pool, batch int, interval time.Duration, logger *slog.Logger) *RetryScanner {
	return &RetryScanner{
		repo:     repo,
		vas:      fulfiller,
		pool:     pool,
		batch:    batch,
		interval: interval,
		logger:   logger,
	}
}

// Run scans every interval until ctx is cancelled.
func (r *RetryScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ScanOnce(ctx); err != nil {
				r.logger.Error("retry scan failed", "error", err)
			}
		}
	}
}

// ScanOnce claims one batch and waits for every retry in it. The claim has
// already counted the attempt, whatever its outcome.
func (r *RetryScanner) ScanOnce(ctx context.Context) (int, error) {
	rows, err := r.repo.ClaimRetryable(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, e := range rows {
		wg.Add(1)
		job := worker.Job{
			Name: "retry " + e.ClientReference,
			Run: func(ctx context.Context) error {
				defer wg.Done()
				return r.retry(ctx, e)
			},
		}
		if err := r.pool.SubmitWait(ctx, job); err != nil {
			wg.Done()
			r.logger.Warn("retry not queued", "client_reference", e.ClientReference, "error", err)
		}
	}
	wg.Wait()

	r.logger.Info("retry scan finished", "claimed", len(rows))
	return len(rows), nil
}

func (r *RetryScanner) retry(ctx context.Context, e domain.CommissionEntry) error {
	res, err := r.vas.Fulfill(ctx, orderFromEntry(e))
	f := resultFields(res, err)
	retryAttempts.WithLabelValues(string(*f.ServiceStatus)).Inc()

	_, _, uerr := r.repo.UpsertCommission(ctx, e.ClientReference, f)
	if uerr != nil {
		return uerr
	}
	r.logger.Info("fulfillment retried",
		"client_reference", e.ClientReference,
		"retry_count", e.RetryCount,
		"service_status", *f.ServiceStatus,
	)
	return nil
}

func orderFromEntry(e domain.CommissionEntry) vas.Order {
	return vas.Order{
		ClientReference: e.ClientReference,
		Product:         e.ProductType,
		Network:         e.Network,
		Provider:        e.Provider,
		Destination:     e.Destination,
		Amount:          e.Amount,
		Bundle:          e.Bundle,
		Email:           e.Email,
	}
}

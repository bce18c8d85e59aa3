package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/punchamoorthee/ussdops/internal/domain"
	"github.com/punchamoorthee/ussdops/internal/ledger"
	"github.com/punchamoorthee/ussdops/internal/models"
	"github.com/punchamoorthee/ussdops/internal/vas"
)

var ErrNoClientReference = errors.New("fulfillment callback has no client reference")

// Reverser undoes a withdrawal whose payout the provider rejected.
type Reverser interface {
	Reverse(ctx context.Context, deductionRef, reason string) error
}

// FulfillmentCallbackProcessor records the provider's out-of-band result of a
// fulfillment that was accepted as pending.
type FulfillmentCallbackProcessor struct {
	repo     ledger.Repository
	reverser Reverser
	logger   *slog.Logger
}

func NewFulfillmentCallbackProcessor(repo ledger.Repository, reverser Reverser, logger *slog.Logger) *FulfillmentCallbackProcessor {
	return &FulfillmentCallbackProcessor{repo: repo, reverser: reverser, logger: logger}
}

// Process merges the result into the ledger row. Anything but a delivery
// fails the row for good: the provider has already decided.
func (p *FulfillmentCallbackProcessor) Process(ctx context.Context, cb models.FulfillmentCallback) (domain.CommissionEntry, error) {
	ref := cb.Data.ClientReference
	if ref == "" {
		return domain.CommissionEntry{}, ErrNoClientReference
	}
	current, err := p.repo.GetCommission(ctx, ref)
	if err != nil {
		return domain.CommissionEntry{}, fmt.Errorf("fulfillment callback %s: %w", ref, err)
	}

	res := vas.Classify(models.FulfillmentResponse(cb))
	log := p.logger.With("client_reference", ref, "response_code", cb.ResponseCode)

	if res.Status != domain.ServiceDelivered {
		if current.ProductType == domain.ProductWithdrawalDeduction {
			if err := p.reverser.Reverse(ctx, ref, res.Message); err != nil {
				return domain.CommissionEntry{}, err
			}
			log.Info("withdrawal payout rejected by provider")
			return p.repo.GetCommission(ctx, ref)
		}
		res.Status = domain.ServiceFailed
		res.Retryable = false
	}

	f := resultFields(res, nil)
	if current.ProductType.IsWithdrawal() {
		f.Commission = nil
	}
	entry, _, err := p.repo.UpsertCommission(ctx, ref, f)
	if err != nil {
		return domain.CommissionEntry{}, err
	}
	log.Info("fulfillment callback recorded", "service_status", entry.ServiceStatus)
	return entry, nil
}

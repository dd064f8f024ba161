package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
)

const (
	defaultExpiryBatchSize = 100
	maxExpiryBatches       = 50
)

type offerExpirer interface {
	ListDueOffers(ctx context.Context, now time.Time, limit int) ([]models.JobOffer, error)
	Expire(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error)
}

type OfferExpiryJobParams struct {
	Logger      *logger.Logger
	Coordinator offerExpirer
	BatchSize   int
	Now         func() time.Time
}

// NewOfferExpiryJob builds the sweep that expires offers past their deadline
// and moves their jobs on.
func NewOfferExpiryJob(params OfferExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Coordinator == nil {
		return nil, fmt.Errorf("assignment coordinator required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &offerExpiryJob{
		logg:        params.Logger,
		coordinator: params.Coordinator,
		batchSize:   batch,
		now:         now,
	}, nil
}

type offerExpiryJob struct {
	logg        *logger.Logger
	coordinator offerExpirer
	batchSize   int
	now         func() time.Time
}

func (j *offerExpiryJob) Name() string { return "offer-expiry" }

// Run pages through due offers. Each expiry is its own transaction, so a
// failure on one offer leaves the rest to be retried on the next tick.
func (j *offerExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		errs    error
		expired int
		skipped int
		failed  = map[uuid.UUID]struct{}{}
	)
	for batch := 0; batch < maxExpiryBatches; batch++ {
		offers, err := j.coordinator.ListDueOffers(ctx, now, j.batchSize)
		if err != nil {
			return multierr.Append(errs, fmt.Errorf("list due offers: %w", err))
		}
		progressed := false
		for _, offer := range offers {
			if _, seen := failed[offer.ID]; seen {
				continue
			}
			ok, err := j.coordinator.Expire(ctx, offer.ID, now)
			if err != nil {
				failed[offer.ID] = struct{}{}
				errs = multierr.Append(errs, fmt.Errorf("expire offer %s: %w", offer.ID, err))
				continue
			}
			progressed = true
			if ok {
				expired++
			} else {
				skipped++
			}
		}
		if len(offers) < j.batchSize || !progressed {
			break
		}
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"now":     now,
		"expired": expired,
		"skipped": skipped,
		"failed":  len(failed),
	})
	if expired > 0 || len(failed) > 0 {
		j.logg.Info(logCtx, "offer expiry sweep complete")
	} else {
		j.logg.Debug(logCtx, "offer expiry sweep complete")
	}
	return errs
}

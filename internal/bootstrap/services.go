// Package bootstrap assembles the coordinator services shared by the API and
// the cron worker.
package bootstrap

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rentflow-backend/internal/assignment"
	"github.com/angelmondragon/rentflow-backend/internal/inventory"
	"github.com/angelmondragon/rentflow-backend/internal/pricing"
	"github.com/angelmondragon/rentflow-backend/internal/rentals"
	"github.com/angelmondragon/rentflow-backend/pkg/config"
	"github.com/angelmondragon/rentflow-backend/pkg/db"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
	"github.com/angelmondragon/rentflow-backend/pkg/redis"
)

type Services struct {
	Inventory  inventory.Service
	Pricing    pricing.Service
	Jobs       rentals.Service
	Assignment assignment.Service
	Outbox     *outbox.Repository
	Metrics    *metrics.CoordinatorMetrics
}

// NewServices wires the ledger, pricing, job and assignment services onto one
// database. redisClient may be nil, in which case pricing rules are read
// straight from the database.
func NewServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	if cfg == nil || logg == nil || dbClient == nil {
		return nil, fmt.Errorf("config, logger and database required")
	}
	coordMetrics := metrics.NewCoordinatorMetrics(reg)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	ledger, err := inventory.NewService(inventory.ServiceParams{
		Repository:  inventory.NewRepository(dbClient.DB()),
		TxRunner:    dbClient,
		Outbox:      emitter,
		Logger:      logg,
		Metrics:     coordMetrics,
		MaxAttempts: cfg.Ledger.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("inventory service: %w", err)
	}

	var cache pricing.RuleCache
	if cfg.Pricing.CacheEnabled && redisClient != nil {
		cache = redisClient
	}
	prices, err := pricing.NewService(pricing.ServiceParams{
		Repository: pricing.NewRepository(dbClient.DB()),
		TxRunner:   dbClient,
		Cache:      cache,
		CacheTTL:   cfg.Pricing.CacheTTL,
		Logger:     logg,
		Metrics:    coordMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("pricing service: %w", err)
	}

	jobs, err := rentals.NewService(rentals.ServiceParams{
		Repository: rentals.NewRepository(dbClient.DB()),
		TxRunner:   dbClient,
		Ledger:     ledger,
		Outbox:     emitter,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("rentals service: %w", err)
	}

	coord, err := assignment.NewService(assignment.ServiceParams{
		Repository:    assignment.NewRepository(dbClient.DB()),
		TxRunner:      dbClient,
		Jobs:          jobs,
		Outbox:        emitter,
		Logger:        logg,
		Metrics:       coordMetrics,
		OfferTTL:      cfg.Assignment.OfferTTL,
		MaxActiveJobs: cfg.Assignment.MaxActiveJobs,
	})
	if err != nil {
		return nil, fmt.Errorf("assignment service: %w", err)
	}

	return &Services{
		Inventory:  ledger,
		Pricing:    prices,
		Jobs:       jobs,
		Assignment: coord,
		Outbox:     outboxRepo,
		Metrics:    coordMetrics,
	}, nil
}

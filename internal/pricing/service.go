package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/redis"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

const defaultCacheTTL = 15 * time.Minute

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RuleCache is the read-through store for rule lists. *redis.Client satisfies it.
type RuleCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	PricingRulesKey(itemID, tier, unit string, version int64) string
}

// QuoteInput is everything a price depends on. AtTime is part of the input so
// the same request always prices the same way.
type QuoteInput struct {
	ItemID        uuid.UUID
	Tier          enums.CustomerTier
	DurationUnit  enums.DurationUnit
	DurationCount int
	Quantity      int
	AtTime        time.Time
}

// CreateRuleInput carries an operator-authored rule.
type CreateRuleInput struct {
	ItemID                 uuid.UUID
	Tier                   enums.CustomerTier
	DurationUnit           enums.DurationUnit
	BasePrice              decimal.Decimal
	PerUnitPrice           decimal.Decimal
	UnitRate               *decimal.Decimal
	TierDiscountPct        decimal.Decimal
	BulkThreshold          int
	BulkDiscountPct        decimal.Decimal
	SeasonalMultiplier     decimal.Decimal
	SetupFee               decimal.Decimal
	DeliveryFee            decimal.Decimal
	Priority               int
	OverridesLowerPriority bool
	ValidFrom              *time.Time
	ValidTo                *time.Time
}

// Service prices rental lines.
type Service interface {
	Quote(ctx context.Context, in QuoteInput) (*types.FareBreakdown, error)
	CreateRule(ctx context.Context, in CreateRuleInput) (*models.PricingRule, error)
}

// ServiceParams wires the engine dependencies. Cache is optional.
type ServiceParams struct {
	Repository Repository
	TxRunner   txRunner
	Cache      RuleCache
	CacheTTL   time.Duration
	Logger     *logger.Logger
	Metrics    *metrics.CoordinatorMetrics
	Now        func() time.Time
}

type service struct {
	repo     Repository
	tx       txRunner
	cache    RuleCache
	cacheTTL time.Duration
	logg     *logger.Logger
	metrics  *metrics.CoordinatorMetrics
	now      func() time.Time
}

// NewService builds the pricing engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:     params.Repository,
		tx:       params.TxRunner,
		cache:    params.Cache,
		cacheTTL: ttl,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) Quote(ctx context.Context, in QuoteInput) (*types.FareBreakdown, error) {
	if err := validateQuote(in); err != nil {
		return nil, err
	}
	if in.AtTime.IsZero() {
		in.AtTime = s.now()
	}
	in.AtTime = in.AtTime.UTC()

	rules, err := s.loadRules(ctx, in)
	if err != nil {
		return nil, err
	}
	rule, ok := SelectRule(rules, in.AtTime)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNoApplicableRule, "no pricing rule applies").
			WithDetails(map[string]any{
				"item_id":       in.ItemID.String(),
				"customer_tier": in.Tier,
				"duration_unit": in.DurationUnit,
				"at":            in.AtTime.Format(time.RFC3339),
			})
	}
	fare := Compute(*rule, in)
	return &fare, nil
}

func (s *service) loadRules(ctx context.Context, in QuoteInput) ([]models.PricingRule, error) {
	version, err := s.repo.RuleSetVersion(ctx, in.ItemID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load rule set version")
	}

	key := ""
	if s.cache != nil {
		key = s.cache.PricingRulesKey(in.ItemID.String(), string(in.Tier), string(in.DurationUnit), version)
		raw, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			var cached []models.PricingRule
			jsonErr := json.Unmarshal([]byte(raw), &cached)
			if jsonErr == nil {
				s.metrics.IncPricingCache("hit")
				return cached, nil
			}
			s.cacheFailure(ctx, key, jsonErr)
		case redis.IsMiss(err):
			s.metrics.IncPricingCache("miss")
		default:
			s.cacheFailure(ctx, key, err)
		}
	}

	rules, err := s.repo.ListRules(ctx, in.ItemID, in.Tier, in.DurationUnit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pricing rules")
	}

	if s.cache != nil {
		payload, err := json.Marshal(rules)
		if err == nil {
			err = s.cache.Set(ctx, key, string(payload), s.cacheTTL)
		}
		if err != nil {
			s.cacheFailure(ctx, key, err)
		}
	}
	return rules, nil
}

func (s *service) cacheFailure(ctx context.Context, key string, err error) {
	s.metrics.IncPricingCache("error")
	logCtx := s.logg.WithFields(ctx, map[string]any{"cache_key": key, "error": err.Error()})
	s.logg.Warn(logCtx, "pricing rule cache bypassed")
}

func (s *service) CreateRule(ctx context.Context, in CreateRuleInput) (*models.PricingRule, error) {
	if err := validateRule(in); err != nil {
		return nil, err
	}
	multiplier := in.SeasonalMultiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	now := s.now()
	rule := &models.PricingRule{
		ID:                     uuid.New(),
		ItemID:                 in.ItemID,
		CustomerTier:           in.Tier,
		DurationUnit:           in.DurationUnit,
		BasePrice:              in.BasePrice,
		PerUnitPrice:           in.PerUnitPrice,
		UnitRate:               in.UnitRate,
		TierDiscountPct:        in.TierDiscountPct,
		BulkThreshold:          in.BulkThreshold,
		BulkDiscountPct:        in.BulkDiscountPct,
		SeasonalMultiplier:     multiplier,
		SetupFee:               in.SetupFee,
		DeliveryFee:            in.DeliveryFee,
		Priority:               in.Priority,
		OverridesLowerPriority: in.OverridesLowerPriority,
		ValidFrom:              utcPtr(in.ValidFrom),
		ValidTo:                utcPtr(in.ValidTo),
		CreatedAt:              now,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateRule(ctx, rule); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create pricing rule")
		}
		if err := repo.BumpRuleSetVersion(ctx, rule.ItemID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bump rule set version")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"item_id": rule.ItemID.String(),
		"rule_id": rule.ID.String(),
	}), "pricing rule created")
	return rule, nil
}

func validateQuote(in QuoteInput) error {
	switch {
	case in.ItemID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	case !in.Tier.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid customer tier")
	case !in.DurationUnit.IsValid():
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid duration unit")
	case in.DurationCount <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "duration count must be positive")
	case in.Quantity <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}

func validateRule(in CreateRuleInput) error {
	if in.ItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}
	if !in.Tier.IsValid() || !in.DurationUnit.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid tier or duration unit")
	}
	for name, amount := range map[string]decimal.Decimal{
		"base_price":     in.BasePrice,
		"per_unit_price": in.PerUnitPrice,
		"setup_fee":      in.SetupFee,
		"delivery_fee":   in.DeliveryFee,
	} {
		if amount.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, name+" cannot be negative")
		}
	}
	if in.UnitRate != nil && in.UnitRate.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unit_rate cannot be negative")
	}
	for name, pct := range map[string]decimal.Decimal{
		"tier_discount_pct": in.TierDiscountPct,
		"bulk_discount_pct": in.BulkDiscountPct,
	} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return pkgerrors.New(pkgerrors.CodeValidation, name+" must be between 0 and 100")
		}
	}
	if in.SeasonalMultiplier.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "seasonal_multiplier cannot be negative")
	}
	if in.BulkThreshold < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "bulk_threshold cannot be negative")
	}
	if in.ValidFrom != nil && in.ValidTo != nil && !in.ValidFrom.Before(*in.ValidTo) {
		return pkgerrors.New(pkgerrors.CodeValidation, "valid_from must precede valid_to")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

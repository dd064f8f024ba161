package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rentflow-backend/internal/repo"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// Repository defines persistence for pricing rules and rule-set versions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListRules(ctx context.Context, itemID uuid.UUID, tier enums.CustomerTier, unit enums.DurationUnit) ([]models.PricingRule, error)
	CreateRule(ctx context.Context, rule *models.PricingRule) error
	RuleSetVersion(ctx context.Context, itemID uuid.UUID) (int64, error)
	BumpRuleSetVersion(ctx context.Context, itemID uuid.UUID, at time.Time) error
}

type repository struct {
	repo.Base
}

// NewRepository builds a pricing repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

// ListRules returns every rule scoped to the key, highest priority first and
// newest first within a priority.
func (r *repository) ListRules(ctx context.Context, itemID uuid.UUID, tier enums.CustomerTier, unit enums.DurationUnit) ([]models.PricingRule, error) {
	var rules []models.PricingRule
	err := r.DB(ctx).
		Where("item_id = ? AND customer_tier = ? AND duration_unit = ?", itemID, tier, unit).
		Order("priority DESC").
		Order("created_at DESC").
		Order("id ASC").
		Find(&rules).Error
	return rules, err
}

func (r *repository) CreateRule(ctx context.Context, rule *models.PricingRule) error {
	return r.DB(ctx).Create(rule).Error
}

func (r *repository) RuleSetVersion(ctx context.Context, itemID uuid.UUID) (int64, error) {
	var set models.PricingRuleSet
	err := r.DB(ctx).Where("item_id = ?", itemID).First(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return set.Version, nil
}

func (r *repository) BumpRuleSetVersion(ctx context.Context, itemID uuid.UUID, at time.Time) error {
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"version":    gorm.Expr("pricing_rule_sets.version + 1"),
			"updated_at": at,
		}),
	}).Create(&models.PricingRuleSet{ItemID: itemID, Version: 1, UpdatedAt: at}).Error
}

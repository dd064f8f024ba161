package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// PricingRule is one tiered price definition scoped to (item, tier, unit).
type PricingRule struct {
	ID                     uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ItemID                 uuid.UUID          `gorm:"column:item_id;type:uuid;not null"`
	CustomerTier           enums.CustomerTier `gorm:"column:customer_tier;type:customer_tier;not null"`
	DurationUnit           enums.DurationUnit `gorm:"column:duration_unit;type:duration_unit;not null"`
	BasePrice              decimal.Decimal    `gorm:"column:base_price;type:numeric(12,4);not null"`
	PerUnitPrice           decimal.Decimal    `gorm:"column:per_unit_price;type:numeric(12,4);not null"`
	UnitRate               *decimal.Decimal   `gorm:"column:unit_rate;type:numeric(12,4)"`
	TierDiscountPct        decimal.Decimal    `gorm:"column:tier_discount_pct;type:numeric(7,4);not null"`
	BulkThreshold          int                `gorm:"column:bulk_threshold;not null;default:0"`
	BulkDiscountPct        decimal.Decimal    `gorm:"column:bulk_discount_pct;type:numeric(7,4);not null"`
	SeasonalMultiplier     decimal.Decimal    `gorm:"column:seasonal_multiplier;type:numeric(7,4);not null"`
	SetupFee               decimal.Decimal    `gorm:"column:setup_fee;type:numeric(12,4);not null"`
	DeliveryFee            decimal.Decimal    `gorm:"column:delivery_fee;type:numeric(12,4);not null"`
	Priority               int                `gorm:"column:priority;not null;default:0"`
	OverridesLowerPriority bool               `gorm:"column:overrides_lower_priority;not null;default:false"`
	ValidFrom              *time.Time         `gorm:"column:valid_from"`
	ValidTo                *time.Time         `gorm:"column:valid_to"`
	CreatedAt              time.Time          `gorm:"column:created_at"`
}

func (PricingRule) TableName() string { return "pricing_rules" }

// PricingRuleSet versions the rule set of an item for cache scoping.
type PricingRuleSet struct {
	ItemID    uuid.UUID `gorm:"column:item_id;type:uuid;primaryKey"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PricingRuleSet) TableName() string { return "pricing_rule_sets" }

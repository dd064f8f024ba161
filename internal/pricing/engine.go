package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

var hundred = decimal.NewFromInt(100)

// SelectRule picks the rule that prices a quote at the given instant.
// Levels are walked from the highest priority down. Within a level the newest
// rule whose window contains at wins. A level without a match falls through
// unless one of its rules overrides lower priorities.
func SelectRule(rules []models.PricingRule, at time.Time) (*models.PricingRule, bool) {
	ordered := make([]models.PricingRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	for start := 0; start < len(ordered); {
		end := start
		for end < len(ordered) && ordered[end].Priority == ordered[start].Priority {
			end++
		}
		level := ordered[start:end]
		for i := range level {
			if windowContains(level[i], at) {
				rule := level[i]
				return &rule, true
			}
		}
		for _, rule := range level {
			if rule.OverridesLowerPriority {
				return nil, false
			}
		}
		start = end
	}
	return nil, false
}

func windowContains(rule models.PricingRule, at time.Time) bool {
	if rule.ValidFrom != nil && at.Before(*rule.ValidFrom) {
		return false
	}
	if rule.ValidTo != nil && !at.Before(*rule.ValidTo) {
		return false
	}
	return true
}

// Compute prices one line with the given rule. Arithmetic stays at full
// precision and the total is rounded half-up to cents once at the end.
func Compute(rule models.PricingRule, in QuoteInput) types.FareBreakdown {
	count := decimal.NewFromInt(int64(in.DurationCount))
	qty := decimal.NewFromInt(int64(in.Quantity))

	unit := rule.BasePrice.Add(rule.PerUnitPrice.Mul(count))
	if rule.UnitRate != nil {
		unit = rule.UnitRate.Mul(count)
	}

	bulk := decimal.Zero
	if rule.BulkThreshold > 0 && in.Quantity >= rule.BulkThreshold {
		bulk = unit.Mul(rule.BulkDiscountPct).Div(hundred)
	}
	afterBulk := unit.Sub(bulk)

	tier := afterBulk.Mul(rule.TierDiscountPct).Div(hundred)
	afterTier := afterBulk.Sub(tier)

	multiplier := rule.SeasonalMultiplier
	if multiplier.IsZero() {
		multiplier = decimal.NewFromInt(1)
	}
	discounted := afterTier.Mul(multiplier)
	subtotal := discounted.Mul(qty)
	total := subtotal.Add(rule.SetupFee).Add(rule.DeliveryFee).Round(2)

	return types.FareBreakdown{
		ItemID:        in.ItemID,
		RuleID:        rule.ID,
		CustomerTier:  string(in.Tier),
		DurationUnit:  string(in.DurationUnit),
		DurationCount: in.DurationCount,
		Quantity:      in.Quantity,
		PricedAt:      in.AtTime.UTC(),

		BaseUnitPrice:       unit.Round(2),
		BulkDiscount:        bulk.Round(2),
		TierDiscount:        tier.Round(2),
		SeasonalMultiplier:  multiplier.Round(4),
		DiscountedUnitPrice: discounted.Round(2),
		Subtotal:            subtotal.Round(2),
		SetupFee:            rule.SetupFee.Round(2),
		DeliveryFee:         rule.DeliveryFee.Round(2),
		Total:               total,
	}
}

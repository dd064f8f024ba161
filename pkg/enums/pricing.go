package enums

import (
	"fmt"
	"strings"
)

// DurationUnit is the billing granularity a pricing rule is scoped to.
type DurationUnit string

const (
	DurationHour  DurationUnit = "hour"
	DurationDay   DurationUnit = "day"
	DurationWeek  DurationUnit = "week"
	DurationMonth DurationUnit = "month"
)

var validDurationUnits = []DurationUnit{
	DurationHour,
	DurationDay,
	DurationWeek,
	DurationMonth,
}

func (u DurationUnit) IsValid() bool {
	for _, candidate := range validDurationUnits {
		if candidate == u {
			return true
		}
	}
	return false
}

// ParseDurationUnit accepts case-insensitive input.
func ParseDurationUnit(value string) (DurationUnit, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validDurationUnits {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid duration unit %q", value)
}

// CustomerTier selects the tier-scoped pricing rules.
type CustomerTier string

const (
	CustomerTierStandard CustomerTier = "standard"
	CustomerTierPremium  CustomerTier = "premium"
	CustomerTierBusiness CustomerTier = "business"
)

var validCustomerTiers = []CustomerTier{
	CustomerTierStandard,
	CustomerTierPremium,
	CustomerTierBusiness,
}

func (t CustomerTier) IsValid() bool {
	for _, candidate := range validCustomerTiers {
		if candidate == t {
			return true
		}
	}
	return false
}

func ParseCustomerTier(value string) (CustomerTier, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validCustomerTiers {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid customer tier %q", value)
}

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FareBreakdown is the priced result for one item line. The component
// amounts are rounded for display only; Total is computed at full precision
// and rounded once.
type FareBreakdown struct {
	ItemID        uuid.UUID `json:"item_id"`
	RuleID        uuid.UUID `json:"rule_id"`
	CustomerTier  string    `json:"customer_tier"`
	DurationUnit  string    `json:"duration_unit"`
	DurationCount int       `json:"duration_count"`
	Quantity      int       `json:"quantity"`
	PricedAt      time.Time `json:"priced_at"`

	BaseUnitPrice       decimal.Decimal `json:"base_unit_price"`
	BulkDiscount        decimal.Decimal `json:"bulk_discount"`
	TierDiscount        decimal.Decimal `json:"tier_discount"`
	SeasonalMultiplier  decimal.Decimal `json:"seasonal_multiplier"`
	DiscountedUnitPrice decimal.Decimal `json:"discounted_unit_price"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	SetupFee            decimal.Decimal `json:"setup_fee"`
	DeliveryFee         decimal.Decimal `json:"delivery_fee"`
	Total               decimal.Decimal `json:"total"`
}

// Value serializes the breakdown as JSONB.
func (f FareBreakdown) Value() (driver.Value, error) {
	return json.Marshal(f)
}

// Scan decodes a JSONB snapshot.
func (f *FareBreakdown) Scan(value interface{}) error {
	if value == nil {
		*f = FareBreakdown{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("fare breakdown: unsupported scan type %T", value)
	}
	return json.Unmarshal(raw, f)
}

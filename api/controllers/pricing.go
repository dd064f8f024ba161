package controllers

import (
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/api/responses"
	"github.com/angelmondragon/rentflow-backend/api/validators"
	"github.com/angelmondragon/rentflow-backend/internal/pricing"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
)

type quoteRequest struct {
	ItemID        string     `json:"item_id" validate:"required,uuid"`
	CustomerTier  string     `json:"customer_tier" validate:"required"`
	DurationUnit  string     `json:"duration_unit" validate:"required"`
	DurationCount int        `json:"duration_count" validate:"required,gt=0"`
	Quantity      int        `json:"quantity" validate:"required,gt=0"`
	AtTime        *time.Time `json:"at_time,omitempty"`
}

// Quote prices one item line. Omitting at_time prices at the request time.
func Quote(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pricing service unavailable"))
			return
		}

		var req quoteRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUID("item_id", req.ItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, unit, err := parseTierAndUnit(req.CustomerTier, req.DurationUnit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		at := time.Now().UTC()
		if req.AtTime != nil {
			at = req.AtTime.UTC()
		}

		fare, err := svc.Quote(r.Context(), pricing.QuoteInput{
			ItemID:        itemID,
			Tier:          tier,
			DurationUnit:  unit,
			DurationCount: req.DurationCount,
			Quantity:      req.Quantity,
			AtTime:        at,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, fare)
	}
}

type createRuleRequest struct {
	ItemID                 string           `json:"item_id" validate:"required,uuid"`
	CustomerTier           string           `json:"customer_tier" validate:"required"`
	DurationUnit           string           `json:"duration_unit" validate:"required"`
	BasePrice              decimal.Decimal  `json:"base_price"`
	PerUnitPrice           decimal.Decimal  `json:"per_unit_price"`
	UnitRate               *decimal.Decimal `json:"unit_rate,omitempty"`
	TierDiscountPct        decimal.Decimal  `json:"tier_discount_pct"`
	BulkThreshold          int              `json:"bulk_threshold" validate:"gte=0"`
	BulkDiscountPct        decimal.Decimal  `json:"bulk_discount_pct"`
	SeasonalMultiplier     *decimal.Decimal `json:"seasonal_multiplier,omitempty"`
	SetupFee               decimal.Decimal  `json:"setup_fee"`
	DeliveryFee            decimal.Decimal  `json:"delivery_fee"`
	Priority               int              `json:"priority"`
	OverridesLowerPriority bool             `json:"overrides_lower_priority"`
	ValidFrom              *time.Time       `json:"valid_from,omitempty"`
	ValidTo                *time.Time       `json:"valid_to,omitempty"`
}

// CreatePricingRule stores an operator-authored rule. A missing
// seasonal_multiplier means 1.
func CreatePricingRule(svc pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "pricing service unavailable"))
			return
		}

		var req createRuleRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUID("item_id", req.ItemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tier, unit, err := parseTierAndUnit(req.CustomerTier, req.DurationUnit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		seasonal := decimal.NewFromInt(1)
		if req.SeasonalMultiplier != nil {
			seasonal = *req.SeasonalMultiplier
		}

		rule, err := svc.CreateRule(r.Context(), pricing.CreateRuleInput{
			ItemID:                 itemID,
			Tier:                   tier,
			DurationUnit:           unit,
			BasePrice:              req.BasePrice,
			PerUnitPrice:           req.PerUnitPrice,
			UnitRate:               req.UnitRate,
			TierDiscountPct:        req.TierDiscountPct,
			BulkThreshold:          req.BulkThreshold,
			BulkDiscountPct:        req.BulkDiscountPct,
			SeasonalMultiplier:     seasonal,
			SetupFee:               req.SetupFee,
			DeliveryFee:            req.DeliveryFee,
			Priority:               req.Priority,
			OverridesLowerPriority: req.OverridesLowerPriority,
			ValidFrom:              req.ValidFrom,
			ValidTo:                req.ValidTo,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newRuleView(rule))
	}
}

func parseTierAndUnit(rawTier, rawUnit string) (enums.CustomerTier, enums.DurationUnit, error) {
	tier, err := enums.ParseCustomerTier(rawTier)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid customer_tier").WithDetails(map[string]any{"field": "customer_tier"})
	}
	unit, err := enums.ParseDurationUnit(rawUnit)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid duration_unit").WithDetails(map[string]any{"field": "duration_unit"})
	}
	return tier, unit, nil
}

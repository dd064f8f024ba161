package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/internal/rentals"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

type itemView struct {
	ItemID       uuid.UUID  `json:"item_id"`
	TotalQty     int        `json:"total_qty"`
	AvailableQty int        `json:"available_qty"`
	ReservedQty  int        `json:"reserved_qty"`
	Version      int64      `json:"version"`
	RetiredAt    *time.Time `json:"retired_at,omitempty"`
}

func newItemView(item *models.RentableItem) itemView {
	return itemView{
		ItemID:       item.ID,
		TotalQty:     item.TotalQty,
		AvailableQty: item.AvailableQty,
		ReservedQty:  item.ReservedQty,
		Version:      item.Version,
		RetiredAt:    item.RetiredAt,
	}
}

type reservationView struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	ItemID        uuid.UUID  `json:"item_id"`
	Quantity      int        `json:"quantity"`
	Status        string     `json:"status"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	ConsumedAt    *time.Time `json:"consumed_at,omitempty"`
}

func newReservationView(r *models.InventoryReservation) reservationView {
	return reservationView{
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		Quantity:      r.Qty,
		Status:        string(r.Status),
		JobID:         r.JobID,
		CreatedAt:     r.CreatedAt,
		ReleasedAt:    r.ReleasedAt,
		ConsumedAt:    r.ConsumedAt,
	}
}

type ruleView struct {
	RuleID                 uuid.UUID        `json:"rule_id"`
	ItemID                 uuid.UUID        `json:"item_id"`
	CustomerTier           string           `json:"customer_tier"`
	DurationUnit           string           `json:"duration_unit"`
	BasePrice              decimal.Decimal  `json:"base_price"`
	PerUnitPrice           decimal.Decimal  `json:"per_unit_price"`
	UnitRate               *decimal.Decimal `json:"unit_rate,omitempty"`
	TierDiscountPct        decimal.Decimal  `json:"tier_discount_pct"`
	BulkThreshold          int              `json:"bulk_threshold"`
	BulkDiscountPct        decimal.Decimal  `json:"bulk_discount_pct"`
	SeasonalMultiplier     decimal.Decimal  `json:"seasonal_multiplier"`
	SetupFee               decimal.Decimal  `json:"setup_fee"`
	DeliveryFee            decimal.Decimal  `json:"delivery_fee"`
	Priority               int              `json:"priority"`
	OverridesLowerPriority bool             `json:"overrides_lower_priority"`
	ValidFrom              *time.Time       `json:"valid_from,omitempty"`
	ValidTo                *time.Time       `json:"valid_to,omitempty"`
}

func newRuleView(rule *models.PricingRule) ruleView {
	return ruleView{
		RuleID:                 rule.ID,
		ItemID:                 rule.ItemID,
		CustomerTier:           string(rule.CustomerTier),
		DurationUnit:           string(rule.DurationUnit),
		BasePrice:              rule.BasePrice,
		PerUnitPrice:           rule.PerUnitPrice,
		UnitRate:               rule.UnitRate,
		TierDiscountPct:        rule.TierDiscountPct,
		BulkThreshold:          rule.BulkThreshold,
		BulkDiscountPct:        rule.BulkDiscountPct,
		SeasonalMultiplier:     rule.SeasonalMultiplier,
		SetupFee:               rule.SetupFee,
		DeliveryFee:            rule.DeliveryFee,
		Priority:               rule.Priority,
		OverridesLowerPriority: rule.OverridesLowerPriority,
		ValidFrom:              rule.ValidFrom,
		ValidTo:                rule.ValidTo,
	}
}

type agentView struct {
	AgentID         uuid.UUID             `json:"agent_id"`
	Available       bool                  `json:"available"`
	ServiceCenter   types.GeographyPoint  `json:"service_center"`
	ServiceRadiusKm float64               `json:"service_radius_km"`
	SuccessRate     decimal.Decimal       `json:"success_rate"`
	LastLocation    *types.GeographyPoint `json:"last_location,omitempty"`
}

func newAgentView(agent *models.DeliveryAgent) agentView {
	return agentView{
		AgentID:         agent.ID,
		Available:       agent.Available,
		ServiceCenter:   agent.ServiceCenter,
		ServiceRadiusKm: agent.ServiceRadiusKm,
		SuccessRate:     agent.SuccessRate,
		LastLocation:    agent.LastLocation,
	}
}

type offerView struct {
	OfferID     uuid.UUID  `json:"offer_id"`
	JobID       uuid.UUID  `json:"job_id"`
	AgentID     uuid.UUID  `json:"agent_id"`
	Round       int        `json:"round"`
	Status      string     `json:"status"`
	Reason      *string    `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

func newOfferView(offer *models.JobOffer) offerView {
	return offerView{
		OfferID:     offer.ID,
		JobID:       offer.JobID,
		AgentID:     offer.AgentID,
		Round:       offer.Round,
		Status:      string(offer.Status),
		Reason:      offer.Reason,
		CreatedAt:   offer.CreatedAt,
		ExpiresAt:   offer.ExpiresAt,
		RespondedAt: offer.RespondedAt,
	}
}

type jobLineView struct {
	LineID        uuid.UUID           `json:"line_id"`
	ItemID        uuid.UUID           `json:"item_id"`
	ReservationID uuid.UUID           `json:"reservation_id"`
	Quantity      int                 `json:"quantity"`
	UnitPrice     decimal.Decimal     `json:"unit_price"`
	LinePrice     decimal.Decimal     `json:"line_price"`
	Fare          types.FareBreakdown `json:"fare"`
}

type transitionView struct {
	Seq       int        `json:"seq"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Reason    *string    `json:"reason,omitempty"`
	AgentID   *uuid.UUID `json:"agent_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type jobView struct {
	JobID           uuid.UUID            `json:"job_id"`
	Status          string               `json:"status"`
	CustomerID      uuid.UUID            `json:"customer_id"`
	CustomerTier    string               `json:"customer_tier"`
	TotalFare       decimal.Decimal      `json:"total_fare"`
	AssignedAgentID *uuid.UUID           `json:"assigned_agent_id,omitempty"`
	Origin          types.GeographyPoint `json:"origin"`
	Destination     types.GeographyPoint `json:"destination"`
	OfferRound      int                  `json:"offer_round"`
	FailureReason   *string              `json:"failure_reason,omitempty"`
	Version         int64                `json:"version"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	Lines           []jobLineView        `json:"lines,omitempty"`
	Transitions     []transitionView     `json:"transitions,omitempty"`
	Offers          []offerView          `json:"offers,omitempty"`
}

func newJobView(job *models.RentalJob) jobView {
	return jobView{
		JobID:           job.ID,
		Status:          string(job.Status),
		CustomerID:      job.CustomerID,
		CustomerTier:    string(job.CustomerTier),
		TotalFare:       job.TotalFare,
		AssignedAgentID: job.AssignedAgentID,
		Origin:          job.Origin,
		Destination:     job.Destination,
		OfferRound:      job.OfferRound,
		FailureReason:   job.FailureReason,
		Version:         job.Version,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

func newJobSnapshotView(snap *rentals.JobSnapshot) jobView {
	view := newJobView(&snap.Job)
	for _, line := range snap.Lines {
		view.Lines = append(view.Lines, jobLineView{
			LineID:        line.ID,
			ItemID:        line.ItemID,
			ReservationID: line.ReservationID,
			Quantity:      line.Quantity,
			UnitPrice:     line.UnitPrice,
			LinePrice:     line.LinePrice,
			Fare:          line.Fare,
		})
	}
	for _, tr := range snap.Transitions {
		view.Transitions = append(view.Transitions, transitionView{
			Seq:       tr.Seq,
			From:      string(tr.FromStatus),
			To:        string(tr.ToStatus),
			Reason:    tr.Reason,
			AgentID:   tr.AgentID,
			CreatedAt: tr.CreatedAt,
		})
	}
	for i := range snap.Offers {
		view.Offers = append(view.Offers, newOfferView(&snap.Offers[i]))
	}
	return view
}

package payloads

import (
	"time"

	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OfferCreatedEvent tells an agent a job is waiting for their answer.
type OfferCreatedEvent struct {
	OfferID   uuid.UUID `json:"offer_id"`
	JobID     uuid.UUID `json:"job_id"`
	AgentID   uuid.UUID `json:"agent_id"`
	Round     int       `json:"round"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OfferResolvedEvent is emitted when an offer leaves pending.
type OfferResolvedEvent struct {
	OfferID     uuid.UUID         `json:"offer_id"`
	JobID       uuid.UUID         `json:"job_id"`
	AgentID     uuid.UUID         `json:"agent_id"`
	Round       int               `json:"round"`
	Status      enums.OfferStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	RespondedAt time.Time         `json:"responded_at"`
}

// JobStatusEvent describes one job transition for customers and operators.
type JobStatusEvent struct {
	JobID      uuid.UUID       `json:"job_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	From       enums.JobStatus `json:"from"`
	To         enums.JobStatus `json:"to"`
	Seq        int             `json:"seq"`
	AgentID    *uuid.UUID      `json:"agent_id,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	TotalFare  decimal.Decimal `json:"total_fare"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// ReservationReleasedEvent reports stock returned to the available pool.
type ReservationReleasedEvent struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	ItemID        uuid.UUID  `json:"item_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
	Qty           int        `json:"qty"`
	ReleasedAt    time.Time  `json:"released_at"`
}

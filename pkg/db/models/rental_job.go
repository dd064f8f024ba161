package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

// RentalJob is the aggregate mutated by the job state machine.
type RentalJob struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Status            enums.JobStatus      `gorm:"column:status;type:job_status;not null"`
	CustomerID        uuid.UUID            `gorm:"column:customer_id;type:uuid;not null"`
	CustomerTier      enums.CustomerTier   `gorm:"column:customer_tier;type:customer_tier;not null"`
	TotalFare         decimal.Decimal      `gorm:"column:total_fare;type:numeric(12,2);not null"`
	AssignedAgentID   *uuid.UUID           `gorm:"column:assigned_agent_id;type:uuid"`
	Origin            types.GeographyPoint `gorm:"column:origin;type:geography(Point,4326);not null"`
	Destination       types.GeographyPoint `gorm:"column:destination;type:geography(Point,4326);not null"`
	CandidateAgentIDs types.UUIDList       `gorm:"column:candidate_agent_ids;type:jsonb;not null"`
	OfferRound        int                  `gorm:"column:offer_round;not null;default:0"`
	TransitionSeq     int                  `gorm:"column:transition_seq;not null;default:0"`
	FailureReason     *string              `gorm:"column:failure_reason"`
	Version           int64                `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time            `gorm:"column:created_at"`
	UpdatedAt         time.Time            `gorm:"column:updated_at"`
	AssignedAt        *time.Time           `gorm:"column:assigned_at"`
	AcceptedAt        *time.Time           `gorm:"column:accepted_at"`
	StartedAt         *time.Time           `gorm:"column:started_at"`
	CompletedAt       *time.Time           `gorm:"column:completed_at"`
	FailedAt          *time.Time           `gorm:"column:failed_at"`
	CancelledAt       *time.Time           `gorm:"column:cancelled_at"`
}

func (RentalJob) TableName() string { return "rental_jobs" }

// RentalJobLine snapshots the fare of one reserved item on the job.
type RentalJobLine struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	JobID         uuid.UUID           `gorm:"column:job_id;type:uuid;not null"`
	ItemID        uuid.UUID           `gorm:"column:item_id;type:uuid;not null"`
	ReservationID uuid.UUID           `gorm:"column:reservation_id;type:uuid;not null"`
	Quantity      int                 `gorm:"column:quantity;not null"`
	UnitPrice     decimal.Decimal     `gorm:"column:unit_price;type:numeric(12,4);not null"`
	LinePrice     decimal.Decimal     `gorm:"column:line_price;type:numeric(12,2);not null"`
	Fare          types.FareBreakdown `gorm:"column:fare;type:jsonb;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at"`
}

func (RentalJobLine) TableName() string { return "rental_job_lines" }

// JobTransition is one append-only entry of the per-job transition log.
type JobTransition struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	JobID      uuid.UUID       `gorm:"column:job_id;type:uuid;not null"`
	Seq        int             `gorm:"column:seq;not null"`
	FromStatus enums.JobStatus `gorm:"column:from_status;type:job_status;not null"`
	ToStatus   enums.JobStatus `gorm:"column:to_status;type:job_status;not null"`
	Reason     *string         `gorm:"column:reason"`
	AgentID    *uuid.UUID      `gorm:"column:agent_id;type:uuid"`
	CreatedAt  time.Time       `gorm:"column:created_at"`
}

func (JobTransition) TableName() string { return "job_transitions" }

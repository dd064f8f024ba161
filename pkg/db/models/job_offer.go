package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// JobOffer is a single-use, time-bounded proposal of a job to one agent.
type JobOffer struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	JobID       uuid.UUID         `gorm:"column:job_id;type:uuid;not null"`
	AgentID     uuid.UUID         `gorm:"column:agent_id;type:uuid;not null"`
	Round       int               `gorm:"column:round;not null"`
	Status      enums.OfferStatus `gorm:"column:status;type:offer_status;not null"`
	Reason      *string           `gorm:"column:reason"`
	Version     int64             `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time         `gorm:"column:created_at"`
	ExpiresAt   time.Time         `gorm:"column:expires_at;not null"`
	RespondedAt *time.Time        `gorm:"column:responded_at"`
}

func (JobOffer) TableName() string { return "job_offers" }

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// InventoryReservation is the persisted reservation token.
type InventoryReservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	ItemID     uuid.UUID               `gorm:"column:item_id;type:uuid;not null"`
	JobID      *uuid.UUID              `gorm:"column:job_id;type:uuid"`
	Qty        int                     `gorm:"column:qty;not null"`
	Status     enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null"`
	Version    int64                   `gorm:"column:version;not null;default:0"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	ReleasedAt *time.Time              `gorm:"column:released_at"`
	ConsumedAt *time.Time              `gorm:"column:consumed_at"`
}

func (InventoryReservation) TableName() string { return "inventory_reservations" }

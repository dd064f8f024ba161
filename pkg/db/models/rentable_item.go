package models

import (
	"time"

	"github.com/google/uuid"
)

// RentableItem holds the inventory counters for one catalog item.
type RentableItem struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	TotalQty     int        `gorm:"column:total_qty;not null;default:0"`
	AvailableQty int        `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int        `gorm:"column:reserved_qty;not null;default:0"`
	Version      int64      `gorm:"column:version;not null;default:0"`
	RetiredAt    *time.Time `gorm:"column:retired_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (RentableItem) TableName() string { return "rentable_items" }

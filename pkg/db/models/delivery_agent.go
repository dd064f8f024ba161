package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

// DeliveryAgent is the ranking input for one courier or partner.
type DeliveryAgent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Available       bool                  `gorm:"column:available;not null;default:true"`
	ServiceCenter   types.GeographyPoint  `gorm:"column:service_center;type:geography(Point,4326);not null"`
	ServiceRadiusKm float64               `gorm:"column:service_radius_km;not null"`
	SuccessRate     decimal.Decimal       `gorm:"column:success_rate;type:numeric(5,4);not null"`
	LastLocation    *types.GeographyPoint `gorm:"column:last_location;type:geography(Point,4326)"`
	UpdatedAt       time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (DeliveryAgent) TableName() string { return "delivery_agents" }

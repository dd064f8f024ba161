package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/internal/repo"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// Repository defines persistence for item counters and reservation tokens.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItem(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error)
	CreateItem(ctx context.Context, item *models.RentableItem) error
	UpdateItemVersioned(ctx context.Context, itemID uuid.UUID, version int64, updates map[string]any) (bool, error)
	FindReservation(ctx context.Context, id uuid.UUID) (*models.InventoryReservation, error)
	CreateReservation(ctx context.Context, reservation *models.InventoryReservation) error
	TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, at time.Time) (bool, error)
	BindReservation(ctx context.Context, id, jobID uuid.UUID) (bool, error)
	ListReservationsByJob(ctx context.Context, jobID uuid.UUID) ([]models.InventoryReservation, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds an inventory repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) FindItem(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error) {
	var item models.RentableItem
	if err := r.DB(ctx).Where("id = ?", itemID).First(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) CreateItem(ctx context.Context, item *models.RentableItem) error {
	return r.DB(ctx).Create(item).Error
}

func (r *repository) UpdateItemVersioned(ctx context.Context, itemID uuid.UUID, version int64, updates map[string]any) (bool, error) {
	return r.UpdateVersioned(ctx, &models.RentableItem{}, itemID, version, updates)
}

func (r *repository) FindReservation(ctx context.Context, id uuid.UUID) (*models.InventoryReservation, error) {
	var reservation models.InventoryReservation
	if err := r.DB(ctx).Where("id = ?", id).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.InventoryReservation) error {
	return r.DB(ctx).Create(reservation).Error
}

// TransitionReservation moves the token from -> to only while it is still in
// from. Losing that race reports false.
func (r *repository) TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":  to,
		"version": gorm.Expr("version + 1"),
	}
	switch to {
	case enums.ReservationStatusReleased:
		updates["released_at"] = at
	case enums.ReservationStatusConsumed:
		updates["consumed_at"] = at
	}
	res := r.DB(ctx).Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) BindReservation(ctx context.Context, id, jobID uuid.UUID) (bool, error) {
	res := r.DB(ctx).Model(&models.InventoryReservation{}).
		Where("id = ? AND status = ? AND (job_id IS NULL OR job_id = ?)", id, enums.ReservationStatusHeld, jobID).
		Updates(map[string]any{
			"job_id":  jobID,
			"version": gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListReservationsByJob(ctx context.Context, jobID uuid.UUID) ([]models.InventoryReservation, error) {
	var rows []models.InventoryReservation
	err := r.DB(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

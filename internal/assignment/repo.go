package assignment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/rentflow-backend/internal/repo"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

// OfferGuard narrows an offer update by its deadline.
type OfferGuard int

const (
	// GuardNone ignores the deadline.
	GuardNone OfferGuard = iota
	// GuardLive requires expires_at > at.
	GuardLive
	// GuardDue requires expires_at <= at.
	GuardDue
)

// Repository persists agents and offers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	UpsertAgent(ctx context.Context, agent *models.DeliveryAgent) error
	FindAgent(ctx context.Context, id uuid.UUID) (*models.DeliveryAgent, error)
	ListAvailableAgents(ctx context.Context) ([]models.DeliveryAgent, error)
	ActiveJobCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error)
	CreateOffer(ctx context.Context, offer *models.JobOffer) error
	FindOffer(ctx context.Context, id uuid.UUID) (*models.JobOffer, error)
	FindOpenOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error)
	ResolveOffer(ctx context.Context, id uuid.UUID, from, to enums.OfferStatus, reason *string, at time.Time, guard OfferGuard) (bool, error)
	ListDueOffers(ctx context.Context, now time.Time, limit int) ([]models.JobOffer, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds an assignment repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) UpsertAgent(ctx context.Context, agent *models.DeliveryAgent) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"available", "service_center", "service_radius_km", "success_rate", "last_location", "updated_at"}),
		}).
		Create(agent).Error
}

func (r *repository) FindAgent(ctx context.Context, id uuid.UUID) (*models.DeliveryAgent, error) {
	var agent models.DeliveryAgent
	if err := r.DB(ctx).Where("id = ?", id).First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *repository) ListAvailableAgents(ctx context.Context) ([]models.DeliveryAgent, error) {
	var agents []models.DeliveryAgent
	err := r.DB(ctx).
		Where("available = ?", true).
		Order("id ASC").
		Find(&agents).Error
	return agents, err
}

type agentLoad struct {
	AgentID uuid.UUID `gorm:"column:agent_id"`
	Active  int       `gorm:"column:active"`
}

// ActiveJobCounts reports, per agent, the jobs they hold in an active status.
// Agents without active jobs are absent from the map.
func (r *repository) ActiveJobCounts(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(agentIDs))
	if len(agentIDs) == 0 {
		return counts, nil
	}
	statuses := make([]string, 0, len(enums.ActiveJobStatuses))
	for _, status := range enums.ActiveJobStatuses {
		statuses = append(statuses, string(status))
	}
	var rows []agentLoad
	err := r.DB(ctx).
		Model(&models.RentalJob{}).
		Select("assigned_agent_id AS agent_id, COUNT(*) AS active").
		Where("assigned_agent_id IN ? AND status IN ?", agentIDs, statuses).
		Group("assigned_agent_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.AgentID] = row.Active
	}
	return counts, nil
}

func (r *repository) CreateOffer(ctx context.Context, offer *models.JobOffer) error {
	return r.DB(ctx).Create(offer).Error
}

func (r *repository) FindOffer(ctx context.Context, id uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	if err := r.DB(ctx).Where("id = ?", id).First(&offer).Error; err != nil {
		return nil, err
	}
	return &offer, nil
}

// FindOpenOffer returns the job's pending or accepted offer, if any.
func (r *repository) FindOpenOffer(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error) {
	var offer models.JobOffer
	err := r.DB(ctx).
		Where("job_id = ? AND status IN ?", jobID, []string{string(enums.OfferStatusPending), string(enums.OfferStatusAccepted)}).
		Order("round DESC").
		First(&offer).Error
	if err != nil {
		return nil, err
	}
	return &offer, nil
}

// ResolveOffer moves an offer from -> to only while it is still in from and
// the guard holds. Losing that race reports false.
func (r *repository) ResolveOffer(ctx context.Context, id uuid.UUID, from, to enums.OfferStatus, reason *string, at time.Time, guard OfferGuard) (bool, error) {
	q := r.DB(ctx).Model(&models.JobOffer{}).Where("id = ? AND status = ?", id, from)
	switch guard {
	case GuardLive:
		q = q.Where("expires_at > ?", at)
	case GuardDue:
		q = q.Where("expires_at <= ?", at)
	}
	res := q.Updates(map[string]any{
		"status":       to,
		"reason":       reason,
		"responded_at": at,
		"version":      gorm.Expr("version + 1"),
	})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]models.JobOffer, error) {
	var offers []models.JobOffer
	err := r.DB(ctx).
		Where("status = ? AND expires_at <= ?", enums.OfferStatusPending, now).
		Order("expires_at ASC, id ASC").
		Limit(limit).
		Find(&offers).Error
	return offers, err
}

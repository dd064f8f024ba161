package rentals

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/internal/repo"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
)

// Repository persists jobs, their lines and the transition log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateJob(ctx context.Context, job *models.RentalJob) error
	CreateLines(ctx context.Context, lines []models.RentalJobLine) error
	FindJob(ctx context.Context, id uuid.UUID) (*models.RentalJob, error)
	UpdateJobVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error)
	AppendTransition(ctx context.Context, transition *models.JobTransition) error
	ListLines(ctx context.Context, jobID uuid.UUID) ([]models.RentalJobLine, error)
	ListTransitions(ctx context.Context, jobID uuid.UUID) ([]models.JobTransition, error)
	ListOffers(ctx context.Context, jobID uuid.UUID) ([]models.JobOffer, error)
}

type repository struct {
	repo.Base
}

// NewRepository builds a job repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: r.Bind(tx)}
}

func (r *repository) CreateJob(ctx context.Context, job *models.RentalJob) error {
	return r.DB(ctx).Create(job).Error
}

func (r *repository) CreateLines(ctx context.Context, lines []models.RentalJobLine) error {
	if len(lines) == 0 {
		return nil
	}
	return r.DB(ctx).Create(&lines).Error
}

func (r *repository) FindJob(ctx context.Context, id uuid.UUID) (*models.RentalJob, error) {
	var job models.RentalJob
	if err := r.DB(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) UpdateJobVersioned(ctx context.Context, id uuid.UUID, version int64, updates map[string]any) (bool, error) {
	return r.UpdateVersioned(ctx, &models.RentalJob{}, id, version, updates)
}

func (r *repository) AppendTransition(ctx context.Context, transition *models.JobTransition) error {
	return r.DB(ctx).Create(transition).Error
}

func (r *repository) ListLines(ctx context.Context, jobID uuid.UUID) ([]models.RentalJobLine, error) {
	var rows []models.RentalJobLine
	err := r.DB(ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListTransitions(ctx context.Context, jobID uuid.UUID) ([]models.JobTransition, error) {
	var rows []models.JobTransition
	err := r.DB(ctx).
		Where("job_id = ?", jobID).
		Order("seq ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListOffers(ctx context.Context, jobID uuid.UUID) ([]models.JobOffer, error) {
	var rows []models.JobOffer
	err := r.DB(ctx).
		Where("job_id = ?", jobID).
		Order("round ASC").
		Find(&rows).Error
	return rows, err
}

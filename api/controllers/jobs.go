package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentflow-backend/api/middleware"
	"github.com/angelmondragon/rentflow-backend/api/responses"
	"github.com/angelmondragon/rentflow-backend/api/validators"
	"github.com/angelmondragon/rentflow-backend/internal/assignment"
	"github.com/angelmondragon/rentflow-backend/internal/inventory"
	"github.com/angelmondragon/rentflow-backend/internal/pricing"
	"github.com/angelmondragon/rentflow-backend/internal/rentals"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

const maxReasonLen = 500

type pointRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

func (p pointRequest) point() types.GeographyPoint {
	return types.GeographyPoint{Lat: p.Lat, Lng: p.Lng}
}

type jobLineRequest struct {
	ReservationID string `json:"reservation_id" validate:"required,uuid"`
	DurationUnit  string `json:"duration_unit" validate:"required"`
	DurationCount int    `json:"duration_count" validate:"required,gt=0"`
}

type createJobRequest struct {
	Origin       *pointRequest    `json:"origin" validate:"required"`
	Destination  *pointRequest    `json:"destination" validate:"required"`
	Lines        []jobLineRequest `json:"lines" validate:"required,min=1,max=50,dive"`
}

// CreateJob prices every reserved line at request time and opens a pending
// job for the caller. Item and quantity come from the reservation itself and
// the tier from the caller's token.
func CreateJob(jobs rentals.Service, ledger inventory.Service, prices pricing.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil || ledger == nil || prices == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job services unavailable"))
			return
		}
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil || claims.SubjectID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
			return
		}
		customerID, tier := claims.SubjectID, claims.Tier()

		var req createJobRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		pricedAt := time.Now().UTC()
		lines := make([]rentals.CreateLine, 0, len(req.Lines))
		for i, line := range req.Lines {
			priced, err := priceLine(r, ledger, prices, tier, line, pricedAt)
			if err != nil {
				if typed := pkgerrors.As(err); typed != nil && typed.Details() == nil {
					err = typed.WithDetails(map[string]any{"line": i})
				}
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			lines = append(lines, *priced)
		}

		job, err := jobs.Create(r.Context(), rentals.CreateInput{
			CustomerID:  customerID,
			Tier:        tier,
			Origin:      req.Origin.point(),
			Destination: req.Destination.point(),
			Lines:       lines,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newJobView(job))
	}
}

func priceLine(r *http.Request, ledger inventory.Service, prices pricing.Service, tier enums.CustomerTier, line jobLineRequest, at time.Time) (*rentals.CreateLine, error) {
	token, err := validators.ParseUUID("reservation_id", line.ReservationID)
	if err != nil {
		return nil, err
	}
	unit, err := enums.ParseDurationUnit(line.DurationUnit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid duration_unit")
	}
	reservation, err := ledger.GetReservation(r.Context(), token)
	if err != nil {
		return nil, err
	}
	fare, err := prices.Quote(r.Context(), pricing.QuoteInput{
		ItemID:        reservation.ItemID,
		Tier:          tier,
		DurationUnit:  unit,
		DurationCount: line.DurationCount,
		Quantity:      reservation.Qty,
		AtTime:        at,
	})
	if err != nil {
		return nil, err
	}
	return &rentals.CreateLine{Fare: *fare, ReservationID: token}, nil
}

// GetJob is visible to the customer, the assigned agent and operators.
func GetJob(jobs rentals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		snap, err := jobs.Get(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !canViewJob(r, &snap.Job) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "job not found"))
			return
		}
		responses.WriteSuccess(w, newJobSnapshotView(snap))
	}
}

func canViewJob(r *http.Request, job *models.RentalJob) bool {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return false
	}
	if claims.Has(enums.CapabilityCancel) || claims.SubjectID == job.CustomerID {
		return true
	}
	if agentID, ok := middleware.AgentIDFromContext(r.Context()); ok && job.AssignedAgentID != nil {
		return *job.AssignedAgentID == agentID
	}
	return false
}

// Dispatch ranks the agents for a job and offers it to the best one.
func Dispatch(coord assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		offer, err := coord.Dispatch(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOfferView(offer))
	}
}

type offerToRequest struct {
	AgentIDs []string `json:"agent_ids" validate:"required,min=1,max=100,dive,uuid"`
}

// OfferTo offers the job down an operator-supplied ranking.
func OfferTo(coord assignment.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req offerToRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ranked := make([]uuid.UUID, 0, len(req.AgentIDs))
		for _, raw := range req.AgentIDs {
			id, err := validators.ParseUUID("agent_ids", raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			ranked = append(ranked, id)
		}
		offer, err := coord.OfferTo(r.Context(), jobID, ranked)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newOfferView(offer))
	}
}

func StartJob(jobs rentals.Service, logg *logger.Logger) http.HandlerFunc {
	return agentTransition(jobs, logg, func(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error) {
		return jobs.Start(ctx, jobID)
	})
}

func CompleteJob(jobs rentals.Service, logg *logger.Logger) http.HandlerFunc {
	return agentTransition(jobs, logg, func(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error) {
		return jobs.Complete(ctx, jobID)
	})
}

// agentTransition runs an agent-driven transition. A caller acting as an
// agent must be the job's assigned agent.
func agentTransition(jobs rentals.Service, logg *logger.Logger, move func(context.Context, uuid.UUID) (*models.RentalJob, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "job service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if agentID, ok := middleware.AgentIDFromContext(r.Context()); ok {
			job, err := jobs.Load(r.Context(), nil, jobID)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if job.AssignedAgentID == nil || *job.AssignedAgentID != agentID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "job is assigned to another agent"))
				return
			}
		}
		job, err := move(r.Context(), jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobView(job))
	}
}

type cancelJobRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// CancelJob withdraws any pending offer and cancels the job, releasing its
// reservations. The job's customer may cancel it; operators may cancel any job.
func CancelJob(coord assignment.Service, jobs rentals.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coord == nil || jobs == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "assignment service unavailable"))
			return
		}
		jobID, err := validators.ParseUUIDParam(r, "jobId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelJobRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}
		current, err := jobs.Load(r.Context(), nil, jobID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !canCancelJob(r, current) {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "job not found"))
			return
		}
		reason := validators.SanitizeString(req.Reason, maxReasonLen)
		if reason == "" {
			reason = "cancelled-by-request"
		}
		job, err := coord.CancelJob(r.Context(), jobID, reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newJobView(job))
	}
}

func canCancelJob(r *http.Request, job *models.RentalJob) bool {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return false
	}
	if claims.SubjectID == job.CustomerID {
		return true
	}
	_, isAgent := middleware.AgentIDFromContext(r.Context())
	return !isAgent && claims.Has(enums.CapabilityCancel)
}

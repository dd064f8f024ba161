package assignment

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/pkg/db"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

const (
	defaultOfferTTL      = 30 * time.Minute
	defaultMaxActiveJobs = 5

	ReasonNoAgentAvailable = "no-agent-available"
	ReasonLostRace         = "lost-race"
	ReasonJobCancelled     = "job-cancelled"
	ReasonDeadlinePassed   = "deadline-passed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// jobMachine is the part of the job state machine the coordinator drives.
type jobMachine interface {
	Load(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error)
	RecordOfferRound(ctx context.Context, tx *gorm.DB, job *models.RentalJob, round int, remaining []uuid.UUID) error
	MarkAssigned(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error)
	OnOfferAccepted(ctx context.Context, tx *gorm.DB, jobID, agentID uuid.UUID) (*models.RentalJob, error)
	Fail(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error)
	Cancel(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error)
}

// AgentInput registers or refreshes the ranking data of one agent.
type AgentInput struct {
	ID              uuid.UUID
	Available       bool
	ServiceCenter   types.GeographyPoint
	ServiceRadiusKm float64
	SuccessRate     decimal.Decimal
	LastLocation    *types.GeographyPoint
}

// RespondInput is an agent's answer to an offer. A nil AgentID skips the
// ownership check (operator override).
type RespondInput struct {
	OfferID  uuid.UUID
	AgentID  uuid.UUID
	Decision enums.OfferDecision
	Reason   string
}

// Service coordinates offers between jobs and agents.
type Service interface {
	RegisterAgent(ctx context.Context, in AgentInput) (*models.DeliveryAgent, error)
	RankCandidates(ctx context.Context, job *models.RentalJob) ([]uuid.UUID, error)
	Dispatch(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error)
	OfferTo(ctx context.Context, jobID uuid.UUID, ranked []uuid.UUID) (*models.JobOffer, error)
	Respond(ctx context.Context, in RespondInput) (*models.JobOffer, error)
	Expire(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error)
	CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (*models.RentalJob, error)
	GetOffer(ctx context.Context, offerID uuid.UUID) (*models.JobOffer, error)
	ListDueOffers(ctx context.Context, now time.Time, limit int) ([]models.JobOffer, error)
}

// ServiceParams wires the coordinator dependencies.
type ServiceParams struct {
	Repository    Repository
	TxRunner      txRunner
	Jobs          jobMachine
	Outbox        outboxPublisher
	Logger        *logger.Logger
	Metrics       *metrics.CoordinatorMetrics
	OfferTTL      time.Duration
	MaxActiveJobs int
	Now           func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	jobs      jobMachine
	outbox    outboxPublisher
	logg      *logger.Logger
	metrics   *metrics.CoordinatorMetrics
	offerTTL  time.Duration
	maxActive int
	now       func() time.Time
}

// NewService builds the assignment coordinator.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("assignment repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("job state machine required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	ttl := params.OfferTTL
	if ttl <= 0 {
		ttl = defaultOfferTTL
	}
	maxActive := params.MaxActiveJobs
	if maxActive <= 0 {
		maxActive = defaultMaxActiveJobs
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:      params.Repository,
		tx:        params.TxRunner,
		jobs:      params.Jobs,
		outbox:    params.Outbox,
		logg:      params.Logger,
		metrics:   params.Metrics,
		offerTTL:  ttl,
		maxActive: maxActive,
		now:       func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) RegisterAgent(ctx context.Context, in AgentInput) (*models.DeliveryAgent, error) {
	switch {
	case in.ID == uuid.Nil:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	case in.ServiceRadiusKm <= 0:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "service radius must be positive")
	case in.SuccessRate.IsNegative() || in.SuccessRate.GreaterThan(decimal.NewFromInt(1)):
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "success rate must be between 0 and 1")
	}
	agent := &models.DeliveryAgent{
		ID:              in.ID,
		Available:       in.Available,
		ServiceCenter:   in.ServiceCenter,
		ServiceRadiusKm: in.ServiceRadiusKm,
		SuccessRate:     in.SuccessRate,
		LastLocation:    in.LastLocation,
		UpdatedAt:       s.now(),
	}
	if err := s.repo.UpsertAgent(ctx, agent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert delivery agent")
	}
	return agent, nil
}

func (s *service) RankCandidates(ctx context.Context, job *models.RentalJob) ([]uuid.UUID, error) {
	if job == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	agents, err := s.repo.ListAvailableAgents(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivery agents")
	}
	ids := make([]uuid.UUID, 0, len(agents))
	for _, agent := range agents {
		ids = append(ids, agent.ID)
	}
	active, err := s.repo.ActiveJobCounts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count active jobs")
	}
	return Rank(job, agents, active, s.maxActive), nil
}

// Dispatch ranks the eligible agents for the job and offers it to the best
// one. With nobody eligible the job fails.
func (s *service) Dispatch(ctx context.Context, jobID uuid.UUID) (*models.JobOffer, error) {
	ctx = s.logg.WithJobID(ctx, jobID.String())
	job, err := s.jobs.Load(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Offerable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job is %s", job.Status))
	}
	ranked, err := s.RankCandidates(ctx, job)
	if err != nil {
		return nil, err
	}
	if len(ranked) > 0 {
		return s.OfferTo(ctx, jobID, ranked)
	}

	if err := s.withTx(ctx, "fail undispatchable job", func(tx *gorm.DB) error {
		_, err := s.jobs.Fail(ctx, tx, jobID, ReasonNoAgentAvailable)
		return err
	}); err != nil {
		return nil, err
	}
	s.metrics.IncOffer("exhausted")
	s.logg.Warn(ctx, "no eligible agent; job failed")
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "no agent available").
		WithDetails(map[string]any{"job_id": jobID.String(), "reason": ReasonNoAgentAvailable})
}

func (s *service) OfferTo(ctx context.Context, jobID uuid.UUID, ranked []uuid.UUID) (*models.JobOffer, error) {
	ranked, err := normalizeCandidates(ranked)
	if err != nil {
		return nil, err
	}
	var offer *models.JobOffer
	err = s.withTx(ctx, "offer job", func(tx *gorm.DB) error {
		job, err := s.jobs.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		offer, err = s.issue(ctx, tx, job, ranked)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.offerIssued(ctx, offer)
	return offer, nil
}

// issue creates the offer for the head of candidates, storing the tail on the
// job. The job version bump makes concurrent issuers conflict.
func (s *service) issue(ctx context.Context, tx *gorm.DB, job *models.RentalJob, candidates []uuid.UUID) (*models.JobOffer, error) {
	if !job.Status.Offerable() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job is %s", job.Status))
	}
	repo := s.repo.WithTx(tx)
	open, err := repo.FindOpenOffer(ctx, job.ID)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open offer")
	}
	if open != nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job already has a %s offer", open.Status)).
			WithDetails(map[string]any{"offer_id": open.ID.String()})
	}

	round := job.OfferRound + 1
	if err := s.jobs.RecordOfferRound(ctx, tx, job, round, candidates[1:]); err != nil {
		return nil, err
	}
	now := s.now()
	offer := &models.JobOffer{
		ID:        uuid.New(),
		JobID:     job.ID,
		AgentID:   candidates[0],
		Round:     round,
		Status:    enums.OfferStatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.offerTTL),
	}
	if err := repo.CreateOffer(ctx, offer); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConcurrentModification, err, "job already holds an open offer")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create offer")
	}
	if _, err := s.jobs.MarkAssigned(ctx, tx, job.ID); err != nil {
		return nil, err
	}

	agentID := offer.AgentID
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOfferCreated,
		AggregateType: enums.AggregateJobOffer,
		AggregateID:   offer.ID,
		RecipientID:   &agentID,
		Data: payloads.OfferCreatedEvent{
			OfferID:   offer.ID,
			JobID:     offer.JobID,
			AgentID:   offer.AgentID,
			Round:     offer.Round,
			ExpiresAt: offer.ExpiresAt,
		},
		OccurredAt: now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit offer created")
	}
	return offer, nil
}

func (s *service) Respond(ctx context.Context, in RespondInput) (*models.JobOffer, error) {
	if in.OfferID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "offer id required")
	}
	if !in.Decision.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "decision must be accept or reject")
	}
	ctx = s.logg.WithOfferID(ctx, in.OfferID.String())

	var (
		offer   *models.JobOffer
		next    *models.JobOffer
		outcome error
	)
	err := s.withTx(ctx, "respond to offer", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		offer, err = repo.FindOffer(ctx, in.OfferID)
		if err != nil {
			return offerLookupError(err)
		}
		if in.AgentID != uuid.Nil && offer.AgentID != in.AgentID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "offer belongs to another agent")
		}
		switch offer.Status {
		case enums.OfferStatusPending:
		case enums.OfferStatusExpired:
			return offerExpiredError(offer)
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("offer is %s", offer.Status))
		}

		now := s.now()
		if !offer.ExpiresAt.After(now) {
			// Late answers expire the offer exactly like the sweep would.
			next, err = s.expire(ctx, tx, offer, now)
			if err != nil {
				return err
			}
			outcome = offerExpiredError(offer)
			return nil
		}

		var reason *string
		if in.Reason != "" {
			reason = &in.Reason
		}
		if in.Decision == enums.OfferDecisionReject {
			moved, err := repo.ResolveOffer(ctx, offer.ID, enums.OfferStatusPending, enums.OfferStatusRejected, reason, now, GuardLive)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject offer")
			}
			if !moved {
				return pkgerrors.New(pkgerrors.CodeConcurrentModification, "offer changed while rejecting")
			}
			markResolved(offer, enums.OfferStatusRejected, reason, now)
			if err := s.emitResolved(ctx, tx, offer); err != nil {
				return err
			}
			next, err = s.advance(ctx, tx, offer.JobID)
			return err
		}

		moved, err := repo.ResolveOffer(ctx, offer.ID, enums.OfferStatusPending, enums.OfferStatusAccepted, reason, now, GuardLive)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "accept offer")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "offer changed while accepting")
		}
		markResolved(offer, enums.OfferStatusAccepted, reason, now)

		if _, err := s.jobs.OnOfferAccepted(ctx, tx, offer.JobID, offer.AgentID); err != nil {
			if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
				return err
			}
			lost := ReasonLostRace
			if _, rerr := repo.ResolveOffer(ctx, offer.ID, enums.OfferStatusAccepted, enums.OfferStatusRejected, &lost, now, GuardNone); rerr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, rerr, "roll back lost offer")
			}
			markResolved(offer, enums.OfferStatusRejected, &lost, now)
			outcome = err
			return s.emitResolved(ctx, tx, offer)
		}
		return s.emitResolved(ctx, tx, offer)
	})
	if err != nil {
		return nil, err
	}

	s.offerResolved(ctx, offer)
	if next != nil {
		s.offerIssued(ctx, next)
	}
	if outcome != nil {
		return offer, outcome
	}
	return offer, nil
}

// Expire moves a due pending offer to expired and advances its job. An offer
// that was answered or is not yet due is left alone and reports false.
func (s *service) Expire(ctx context.Context, offerID uuid.UUID, now time.Time) (bool, error) {
	ctx = s.logg.WithOfferID(ctx, offerID.String())
	now = now.UTC()
	var (
		offer   *models.JobOffer
		next    *models.JobOffer
		expired bool
	)
	err := s.withTx(ctx, "expire offer", func(tx *gorm.DB) error {
		var err error
		offer, err = s.repo.WithTx(tx).FindOffer(ctx, offerID)
		if err != nil {
			return offerLookupError(err)
		}
		if offer.Status != enums.OfferStatusPending || offer.ExpiresAt.After(now) {
			return nil
		}
		next, err = s.expire(ctx, tx, offer, now)
		if err != nil {
			return err
		}
		expired = offer.Status == enums.OfferStatusExpired
		return nil
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.offerResolved(ctx, offer)
	}
	if next != nil {
		s.offerIssued(ctx, next)
	}
	return expired, nil
}

// expire applies the guarded pending -> expired step and, when it wins,
// advances the job to the next candidate.
func (s *service) expire(ctx context.Context, tx *gorm.DB, offer *models.JobOffer, now time.Time) (*models.JobOffer, error) {
	reason := ReasonDeadlinePassed
	moved, err := s.repo.WithTx(tx).ResolveOffer(ctx, offer.ID, enums.OfferStatusPending, enums.OfferStatusExpired, &reason, now, GuardDue)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire offer")
	}
	if !moved {
		return nil, nil
	}
	markResolved(offer, enums.OfferStatusExpired, &reason, now)
	if err := s.emitResolved(ctx, tx, offer); err != nil {
		return nil, err
	}
	return s.advance(ctx, tx, offer.JobID)
}

// advance offers the job to the next remaining candidate, or fails it when
// none are left. Jobs that moved past assignment are left alone.
func (s *service) advance(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.JobOffer, error) {
	job, err := s.jobs.Load(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.Status.Offerable() {
		return nil, nil
	}
	if len(job.CandidateAgentIDs) == 0 {
		if _, err := s.jobs.Fail(ctx, tx, jobID, ReasonNoAgentAvailable); err != nil {
			return nil, err
		}
		s.metrics.IncOffer("exhausted")
		s.logg.Warn(s.logg.WithJobID(ctx, jobID.String()), "candidates exhausted; job failed")
		return nil, nil
	}
	return s.issue(ctx, tx, job, []uuid.UUID(job.CandidateAgentIDs))
}

// CancelJob cancels the job and withdraws its pending offer in one
// transaction. The offer row is touched first so a racing accept and the
// cancel lock rows in the same order.
func (s *service) CancelJob(ctx context.Context, jobID uuid.UUID, reason string) (*models.RentalJob, error) {
	ctx = s.logg.WithJobID(ctx, jobID.String())
	var (
		job       *models.RentalJob
		withdrawn *models.JobOffer
	)
	err := s.withTx(ctx, "cancel job", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		open, err := repo.FindOpenOffer(ctx, jobID)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open offer")
		}
		if open != nil && open.Status == enums.OfferStatusPending {
			now := s.now()
			why := ReasonJobCancelled
			moved, err := repo.ResolveOffer(ctx, open.ID, enums.OfferStatusPending, enums.OfferStatusRejected, &why, now, GuardNone)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "withdraw offer")
			}
			if moved {
				markResolved(open, enums.OfferStatusRejected, &why, now)
				if err := s.emitResolved(ctx, tx, open); err != nil {
					return err
				}
				withdrawn = open
			}
		}
		job, err = s.jobs.Cancel(ctx, tx, jobID, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	if withdrawn != nil {
		s.offerResolved(ctx, withdrawn)
	}
	return job, nil
}

func (s *service) GetOffer(ctx context.Context, offerID uuid.UUID) (*models.JobOffer, error) {
	offer, err := s.repo.FindOffer(ctx, offerID)
	if err != nil {
		return nil, offerLookupError(err)
	}
	return offer, nil
}

func (s *service) ListDueOffers(ctx context.Context, now time.Time, limit int) ([]models.JobOffer, error) {
	if limit <= 0 {
		limit = 100
	}
	offers, err := s.repo.ListDueOffers(ctx, now.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due offers")
	}
	return offers, nil
}

func (s *service) emitResolved(ctx context.Context, tx *gorm.DB, offer *models.JobOffer) error {
	eventType := enums.EventOfferRejected
	switch offer.Status {
	case enums.OfferStatusAccepted:
		eventType = enums.EventOfferAccepted
	case enums.OfferStatusExpired:
		eventType = enums.EventOfferExpired
	}
	reason := ""
	if offer.Reason != nil {
		reason = *offer.Reason
	}
	respondedAt := s.now()
	if offer.RespondedAt != nil {
		respondedAt = *offer.RespondedAt
	}
	agentID := offer.AgentID
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateJobOffer,
		AggregateID:   offer.ID,
		RecipientID:   &agentID,
		Data: payloads.OfferResolvedEvent{
			OfferID:     offer.ID,
			JobID:       offer.JobID,
			AgentID:     offer.AgentID,
			Round:       offer.Round,
			Status:      offer.Status,
			Reason:      reason,
			RespondedAt: respondedAt,
		},
		OccurredAt: respondedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit offer event")
	}
	return nil
}

func (s *service) offerIssued(ctx context.Context, offer *models.JobOffer) {
	s.metrics.IncOffer("created")
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"offer_id": offer.ID.String(),
		"job_id":   offer.JobID.String(),
		"agent_id": offer.AgentID.String(),
		"round":    offer.Round,
	}), "offer issued")
}

func (s *service) offerResolved(ctx context.Context, offer *models.JobOffer) {
	outcome := string(offer.Status)
	if offer.Reason != nil && *offer.Reason == ReasonLostRace {
		outcome = "lost_race"
	}
	s.metrics.IncOffer(outcome)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"job_id":   offer.JobID.String(),
		"agent_id": offer.AgentID.String(),
		"status":   string(offer.Status),
	}), "offer resolved")
}

func (s *service) withTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	if err := s.tx.WithTx(ctx, fn); err != nil {
		if pkgerrors.As(err) != nil {
			return err
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return nil
}

func markResolved(offer *models.JobOffer, status enums.OfferStatus, reason *string, at time.Time) {
	offer.Status = status
	offer.Reason = reason
	offer.RespondedAt = &at
	offer.Version++
}

func normalizeCandidates(ranked []uuid.UUID) ([]uuid.UUID, error) {
	if len(ranked) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one candidate required")
	}
	seen := make(map[uuid.UUID]struct{}, len(ranked))
	out := make([]uuid.UUID, 0, len(ranked))
	for _, id := range ranked {
		if id == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "candidate id required")
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func offerExpiredError(offer *models.JobOffer) error {
	return pkgerrors.New(pkgerrors.CodeOfferExpired, "offer expired").
		WithDetails(map[string]any{
			"offer_id":   offer.ID.String(),
			"expires_at": offer.ExpiresAt.Format(time.RFC3339),
		})
}

func offerLookupError(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "offer not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load offer")
}

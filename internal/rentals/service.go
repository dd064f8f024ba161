package rentals

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// reservationLedger is the slice of the inventory ledger the job lifecycle drives.
type reservationLedger interface {
	GetReservation(ctx context.Context, token uuid.UUID) (*models.InventoryReservation, error)
	BindToJob(ctx context.Context, tx *gorm.DB, token, jobID uuid.UUID) error
	Consume(ctx context.Context, tx *gorm.DB, token uuid.UUID) error
	Release(ctx context.Context, tx *gorm.DB, token uuid.UUID) error
}

// CreateLine pairs a priced quote with the reservation backing it.
type CreateLine struct {
	Fare          types.FareBreakdown
	ReservationID uuid.UUID
}

// CreateInput opens a new job.
type CreateInput struct {
	CustomerID  uuid.UUID
	Tier        enums.CustomerTier
	Origin      types.GeographyPoint
	Destination types.GeographyPoint
	Lines       []CreateLine
}

// JobSnapshot is the read model returned by Get.
type JobSnapshot struct {
	Job         models.RentalJob       `json:"job"`
	Lines       []models.RentalJobLine `json:"lines"`
	Transitions []models.JobTransition `json:"transitions"`
	Offers      []models.JobOffer      `json:"offers"`
}

// Service is the job state machine. Methods taking a tx join the caller's
// transaction when it is non-nil.
type Service interface {
	Create(ctx context.Context, in CreateInput) (*models.RentalJob, error)
	Load(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error)
	RecordOfferRound(ctx context.Context, tx *gorm.DB, job *models.RentalJob, round int, remaining []uuid.UUID) error
	MarkAssigned(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error)
	OnOfferAccepted(ctx context.Context, tx *gorm.DB, jobID, agentID uuid.UUID) (*models.RentalJob, error)
	Start(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error)
	Complete(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error)
	Fail(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error)
	Cancel(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error)
	Get(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, error)
}

// ServiceParams wires the state machine dependencies.
type ServiceParams struct {
	Repository Repository
	TxRunner   txRunner
	Ledger     reservationLedger
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo   Repository
	tx     txRunner
	ledger reservationLedger
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService builds the job state machine.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("rentals repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repository,
		tx:     params.TxRunner,
		ledger: params.Ledger,
		outbox: params.Outbox,
		logg:   params.Logger,
		now:    func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, in CreateInput) (*models.RentalJob, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	for _, line := range in.Lines {
		reservation, err := s.ledger.GetReservation(ctx, line.ReservationID)
		if err != nil {
			return nil, err
		}
		if err := checkLineMatchesReservation(line, reservation); err != nil {
			return nil, err
		}
	}

	now := s.now()
	job := &models.RentalJob{
		ID:                uuid.New(),
		Status:            enums.JobStatusPending,
		CustomerID:        in.CustomerID,
		CustomerTier:      in.Tier,
		Origin:            in.Origin,
		Destination:       in.Destination,
		CandidateAgentIDs: types.UUIDList{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	lines := make([]models.RentalJobLine, 0, len(in.Lines))
	total := decimal.Zero
	for _, line := range in.Lines {
		lines = append(lines, models.RentalJobLine{
			ID:            uuid.New(),
			JobID:         job.ID,
			ItemID:        line.Fare.ItemID,
			ReservationID: line.ReservationID,
			Quantity:      line.Fare.Quantity,
			UnitPrice:     line.Fare.DiscountedUnitPrice,
			LinePrice:     line.Fare.Total,
			Fare:          line.Fare,
			CreatedAt:     now,
		})
		total = total.Add(line.Fare.Total)
	}
	job.TotalFare = total

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.CreateJob(ctx, job); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create rental job")
		}
		if err := repo.CreateLines(ctx, lines); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create rental job lines")
		}
		for _, line := range lines {
			if err := s.ledger.BindToJob(ctx, tx, line.ReservationID, job.ID); err != nil {
				return err
			}
		}
		return s.emit(ctx, tx, job, enums.JobStatusPending, enums.JobStatusPending, "")
	})
	if err != nil {
		return nil, dependencyError(err, "create rental job")
	}
	s.logg.Info(s.logg.WithJobID(ctx, job.ID.String()), "rental job created")
	return job, nil
}

func (s *service) Load(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error) {
	job, err := s.repo.WithTx(tx).FindJob(ctx, jobID)
	if err != nil {
		return nil, jobLookupError(err)
	}
	return job, nil
}

// RecordOfferRound stores the offer round and the candidates still waiting
// behind it. The job version guards against a concurrent round.
func (s *service) RecordOfferRound(ctx context.Context, tx *gorm.DB, job *models.RentalJob, round int, remaining []uuid.UUID) error {
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "job required")
	}
	if !job.Status.Offerable() {
		return invalidTransition(job.Status, enums.JobStatusAssigned)
	}
	list := types.UUIDList(append([]uuid.UUID{}, remaining...))
	now := s.now()
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		ok, err := s.repo.WithTx(tx).UpdateJobVersioned(ctx, job.ID, job.Version, map[string]any{
			"offer_round":         round,
			"candidate_agent_ids": list,
			"updated_at":          now,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record offer round")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "job changed while issuing an offer")
		}
		job.OfferRound = round
		job.CandidateAgentIDs = list
		job.Version++
		job.UpdatedAt = now
		return nil
	})
}

func (s *service) MarkAssigned(ctx context.Context, tx *gorm.DB, jobID uuid.UUID) (*models.RentalJob, error) {
	var result *models.RentalJob
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		job, err := s.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result = job
		switch job.Status {
		case enums.JobStatusAssigned:
			return nil
		case enums.JobStatusPending:
			return s.apply(ctx, tx, job, change{to: enums.JobStatusAssigned})
		default:
			return invalidTransition(job.Status, enums.JobStatusAssigned)
		}
	})
	return result, err
}

func (s *service) OnOfferAccepted(ctx context.Context, tx *gorm.DB, jobID, agentID uuid.UUID) (*models.RentalJob, error) {
	if agentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "agent id required")
	}
	var result *models.RentalJob
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		job, err := s.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result = job
		if job.Status == enums.JobStatusAccepted && job.AssignedAgentID != nil && *job.AssignedAgentID == agentID {
			return nil
		}
		if !job.Status.Offerable() {
			return invalidTransition(job.Status, enums.JobStatusAccepted).
				WithDetails(map[string]any{"job_id": jobID.String(), "agent_id": agentID.String()})
		}
		if err := s.apply(ctx, tx, job, change{
			to:      enums.JobStatusAccepted,
			agentID: &agentID,
			extra:   map[string]any{"assigned_agent_id": agentID},
		}); err != nil {
			return err
		}
		job.AssignedAgentID = &agentID
		return nil
	})
	return result, err
}

func (s *service) Start(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error) {
	var result *models.RentalJob
	err := s.inTx(ctx, nil, func(tx *gorm.DB) error {
		job, err := s.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result = job
		switch job.Status {
		case enums.JobStatusInProgress:
			return nil
		case enums.JobStatusAccepted:
		default:
			return invalidTransition(job.Status, enums.JobStatusInProgress)
		}
		lines, err := s.repo.WithTx(tx).ListLines(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job lines")
		}
		for _, line := range lines {
			if err := s.ledger.Consume(ctx, tx, line.ReservationID); err != nil {
				return err
			}
		}
		return s.apply(ctx, tx, job, change{to: enums.JobStatusInProgress, agentID: job.AssignedAgentID})
	})
	return result, err
}

func (s *service) Complete(ctx context.Context, jobID uuid.UUID) (*models.RentalJob, error) {
	var result *models.RentalJob
	err := s.inTx(ctx, nil, func(tx *gorm.DB) error {
		job, err := s.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result = job
		switch job.Status {
		case enums.JobStatusCompleted:
			return nil
		case enums.JobStatusInProgress:
		default:
			return invalidTransition(job.Status, enums.JobStatusCompleted)
		}
		lines, err := s.repo.WithTx(tx).ListLines(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job lines")
		}
		total := decimal.Zero
		for _, line := range lines {
			total = total.Add(line.LinePrice)
		}
		total = total.Round(2)
		if err := s.apply(ctx, tx, job, change{
			to:      enums.JobStatusCompleted,
			agentID: job.AssignedAgentID,
			extra:   map[string]any{"total_fare": total},
			before:  func(j *models.RentalJob) { j.TotalFare = total },
		}); err != nil {
			return err
		}
		return nil
	})
	return result, err
}

func (s *service) Fail(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error) {
	return s.terminate(ctx, tx, jobID, enums.JobStatusFailed, reason)
}

func (s *service) Cancel(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, reason string) (*models.RentalJob, error) {
	return s.terminate(ctx, tx, jobID, enums.JobStatusCancelled, reason)
}

// terminate ends a non-terminal job and hands its stock back.
func (s *service) terminate(ctx context.Context, tx *gorm.DB, jobID uuid.UUID, to enums.JobStatus, reason string) (*models.RentalJob, error) {
	var result *models.RentalJob
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		job, err := s.Load(ctx, tx, jobID)
		if err != nil {
			return err
		}
		result = job
		if job.Status == to {
			return nil
		}
		if job.Status.IsTerminal() {
			return invalidTransition(job.Status, to)
		}
		lines, err := s.repo.WithTx(tx).ListLines(ctx, job.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job lines")
		}
		for _, line := range lines {
			if err := s.ledger.Release(ctx, tx, line.ReservationID); err != nil {
				return err
			}
		}
		var reasonPtr *string
		extra := map[string]any{}
		if reason != "" {
			reasonPtr = &reason
			extra["failure_reason"] = reason
		}
		return s.apply(ctx, tx, job, change{
			to:      to,
			reason:  reasonPtr,
			agentID: job.AssignedAgentID,
			extra:   extra,
			before:  func(j *models.RentalJob) { j.FailureReason = reasonPtr },
		})
	})
	if err == nil && result != nil && result.Status == to {
		s.logg.Info(s.logg.WithFields(s.logg.WithJobID(ctx, jobID.String()), map[string]any{
			"status": string(to),
			"reason": reason,
		}), "rental job ended")
	}
	return result, err
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, error) {
	job, err := s.Load(ctx, nil, jobID)
	if err != nil {
		return nil, err
	}
	lines, err := s.repo.ListLines(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job lines")
	}
	transitions, err := s.repo.ListTransitions(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job transitions")
	}
	offers, err := s.repo.ListOffers(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load job offers")
	}
	return &JobSnapshot{Job: *job, Lines: lines, Transitions: transitions, Offers: offers}, nil
}

type change struct {
	to      enums.JobStatus
	reason  *string
	agentID *uuid.UUID
	extra   map[string]any
	before  func(job *models.RentalJob)
}

// apply writes one transition: versioned row update, log entry and event.
// On success job reflects the stored row.
func (s *service) apply(ctx context.Context, tx *gorm.DB, job *models.RentalJob, c change) error {
	repo := s.repo.WithTx(tx)
	now := s.now()
	from := job.Status
	seq := job.TransitionSeq + 1

	updates := map[string]any{
		"status":         c.to,
		"transition_seq": seq,
		"updated_at":     now,
	}
	if column := stampColumn(c.to); column != "" {
		updates[column] = now
	}
	for k, v := range c.extra {
		updates[k] = v
	}
	ok, err := repo.UpdateJobVersioned(ctx, job.ID, job.Version, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update rental job")
	}
	if !ok {
		return s.versionMiss(ctx, repo, job, c.to)
	}

	if err := repo.AppendTransition(ctx, &models.JobTransition{
		ID:         uuid.New(),
		JobID:      job.ID,
		Seq:        seq,
		FromStatus: from,
		ToStatus:   c.to,
		Reason:     c.reason,
		AgentID:    c.agentID,
		CreatedAt:  now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append job transition")
	}

	if c.before != nil {
		c.before(job)
	}
	job.Status = c.to
	job.TransitionSeq = seq
	job.Version++
	job.UpdatedAt = now
	setStamp(job, c.to, now)

	reason := ""
	if c.reason != nil {
		reason = *c.reason
	}
	return s.emit(ctx, tx, job, from, c.to, reason)
}

func (s *service) versionMiss(ctx context.Context, repo Repository, job *models.RentalJob, to enums.JobStatus) error {
	current, err := repo.FindJob(ctx, job.ID)
	if err != nil {
		return jobLookupError(err)
	}
	if current.Status != job.Status {
		return invalidTransition(current.Status, to)
	}
	return pkgerrors.New(pkgerrors.CodeConcurrentModification, "rental job changed concurrently")
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, job *models.RentalJob, from, to enums.JobStatus, reason string) error {
	eventType, ok := jobEventType(from, to)
	if !ok {
		return nil
	}
	recipient := job.CustomerID
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateRentalJob,
		AggregateID:   job.ID,
		RecipientID:   &recipient,
		Data: payloads.JobStatusEvent{
			JobID:      job.ID,
			CustomerID: job.CustomerID,
			From:       from,
			To:         to,
			Seq:        job.TransitionSeq,
			AgentID:    job.AssignedAgentID,
			Reason:     reason,
			TotalFare:  job.TotalFare,
			OccurredAt: job.UpdatedAt,
		},
		OccurredAt: job.UpdatedAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit job event")
	}
	return nil
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	if err := s.tx.WithTx(ctx, fn); err != nil {
		return dependencyError(err, "rental job transaction")
	}
	return nil
}

// jobEventType maps a transition to the customer-facing event, if any.
// Assignment and acceptance are announced by the offer events instead.
func jobEventType(from, to enums.JobStatus) (enums.OutboxEventType, bool) {
	switch to {
	case enums.JobStatusPending:
		if from == enums.JobStatusPending {
			return enums.EventJobCreated, true
		}
	case enums.JobStatusInProgress:
		return enums.EventJobStarted, true
	case enums.JobStatusCompleted:
		return enums.EventJobCompleted, true
	case enums.JobStatusFailed:
		return enums.EventJobFailed, true
	case enums.JobStatusCancelled:
		return enums.EventJobCancelled, true
	}
	return "", false
}

func stampColumn(status enums.JobStatus) string {
	switch status {
	case enums.JobStatusAssigned:
		return "assigned_at"
	case enums.JobStatusAccepted:
		return "accepted_at"
	case enums.JobStatusInProgress:
		return "started_at"
	case enums.JobStatusCompleted:
		return "completed_at"
	case enums.JobStatusFailed:
		return "failed_at"
	case enums.JobStatusCancelled:
		return "cancelled_at"
	}
	return ""
}

func setStamp(job *models.RentalJob, status enums.JobStatus, at time.Time) {
	switch status {
	case enums.JobStatusAssigned:
		job.AssignedAt = &at
	case enums.JobStatusAccepted:
		job.AcceptedAt = &at
	case enums.JobStatusInProgress:
		job.StartedAt = &at
	case enums.JobStatusCompleted:
		job.CompletedAt = &at
	case enums.JobStatusFailed:
		job.FailedAt = &at
	case enums.JobStatusCancelled:
		job.CancelledAt = &at
	}
}

func validateCreate(in CreateInput) error {
	if in.CustomerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if !in.Tier.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid customer tier")
	}
	if len(in.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	seen := make(map[uuid.UUID]struct{}, len(in.Lines))
	for i, line := range in.Lines {
		if line.ReservationID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required").
				WithDetails(map[string]any{"line": i})
		}
		if _, dup := seen[line.ReservationID]; dup {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation used on more than one line").
				WithDetails(map[string]any{"reservation_id": line.ReservationID.String()})
		}
		seen[line.ReservationID] = struct{}{}
		if line.Fare.Total.IsNegative() {
			return pkgerrors.New(pkgerrors.CodeValidation, "line total cannot be negative").
				WithDetails(map[string]any{"line": i})
		}
		if line.Fare.CustomerTier != string(in.Tier) {
			return pkgerrors.New(pkgerrors.CodeValidation, "quote tier does not match customer tier").
				WithDetails(map[string]any{"line": i})
		}
	}
	return nil
}

func checkLineMatchesReservation(line CreateLine, reservation *models.InventoryReservation) error {
	details := map[string]any{"reservation_id": reservation.ID.String()}
	if reservation.Status != enums.ReservationStatusHeld {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("reservation is %s", reservation.Status)).
			WithDetails(details)
	}
	if reservation.ItemID != line.Fare.ItemID || reservation.Qty != line.Fare.Quantity {
		return pkgerrors.New(pkgerrors.CodeValidation, "quote does not match reservation").
			WithDetails(details)
	}
	return nil
}

func invalidTransition(from, to enums.JobStatus) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("job cannot move from %s to %s", from, to))
}

func dependencyError(err error, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func jobLookupError(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "rental job not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load rental job")
}

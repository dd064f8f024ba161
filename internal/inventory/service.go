package inventory

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/metrics"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox/payloads"
)

const defaultMaxAttempts = 5

var errVersionConflict = stdErrors.New("rentable item version changed")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service is the inventory ledger. Counters change only through it.
type Service interface {
	RegisterItem(ctx context.Context, itemID uuid.UUID, totalQty int) (*models.RentableItem, error)
	Reserve(ctx context.Context, itemID uuid.UUID, qty int) (*models.InventoryReservation, error)
	Release(ctx context.Context, tx *gorm.DB, token uuid.UUID) error
	Consume(ctx context.Context, tx *gorm.DB, token uuid.UUID) error
	Retire(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error)
	GetItem(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error)
	GetReservation(ctx context.Context, token uuid.UUID) (*models.InventoryReservation, error)
	BindToJob(ctx context.Context, tx *gorm.DB, token, jobID uuid.UUID) error
}

// ServiceParams wires the ledger dependencies.
type ServiceParams struct {
	Repository  Repository
	TxRunner    txRunner
	Outbox      outboxPublisher
	Logger      *logger.Logger
	Metrics     *metrics.CoordinatorMetrics
	MaxAttempts int
	Now         func() time.Time
}

type service struct {
	repo        Repository
	tx          txRunner
	outbox      outboxPublisher
	logg        *logger.Logger
	metrics     *metrics.CoordinatorMetrics
	maxAttempts int
	now         func() time.Time
}

// NewService builds the ledger with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:        params.Repository,
		tx:          params.TxRunner,
		outbox:      params.Outbox,
		logg:        params.Logger,
		metrics:     params.Metrics,
		maxAttempts: attempts,
		now:         func() time.Time { return now().UTC() },
	}, nil
}

func (s *service) RegisterItem(ctx context.Context, itemID uuid.UUID, totalQty int) (*models.RentableItem, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}
	if totalQty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "total quantity cannot be negative")
	}

	var result *models.RentableItem
	err := s.withVersionRetry(ctx, "register item", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindItem(ctx, itemID)
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			item = &models.RentableItem{
				ID:           itemID,
				TotalQty:     totalQty,
				AvailableQty: totalQty,
			}
			if err := repo.CreateItem(ctx, item); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create rentable item")
			}
			result = item
			return nil
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load rentable item")
		}

		// Units out on rental are neither available nor reserved, so the
		// change in total is applied as a delta.
		available := item.AvailableQty + (totalQty - item.TotalQty)
		if available < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "total quantity below committed quantity").
				WithDetails(map[string]any{
					"committed_qty": item.TotalQty - item.AvailableQty,
					"reserved_qty":  item.ReservedQty,
					"total_qty":     totalQty,
				})
		}
		ok, err := repo.UpdateItemVersioned(ctx, item.ID, item.Version, map[string]any{
			"total_qty":     totalQty,
			"available_qty": available,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update rentable item")
		}
		if !ok {
			return errVersionConflict
		}
		item.TotalQty = totalQty
		item.AvailableQty = available
		item.Version++
		result = item
		return nil
	})
	return result, err
}

func (s *service) Reserve(ctx context.Context, itemID uuid.UUID, qty int) (*models.InventoryReservation, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	ctx = s.logg.WithItemID(ctx, itemID.String())

	var reservation *models.InventoryReservation
	err := s.withVersionRetry(ctx, "reserve inventory", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindItem(ctx, itemID)
		if err != nil {
			return itemLookupError(err)
		}
		if item.RetiredAt != nil {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "item is retired")
		}
		if item.AvailableQty < qty {
			return pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory").
				WithDetails(map[string]any{
					"item_id":   itemID.String(),
					"requested": qty,
					"available": item.AvailableQty,
				})
		}

		ok, err := repo.UpdateItemVersioned(ctx, item.ID, item.Version, map[string]any{
			"available_qty": item.AvailableQty - qty,
			"reserved_qty":  item.ReservedQty + qty,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update inventory counters")
		}
		if !ok {
			return errVersionConflict
		}

		row := &models.InventoryReservation{
			ID:        uuid.New(),
			ItemID:    itemID,
			Qty:       qty,
			Status:    enums.ReservationStatusHeld,
			CreatedAt: s.now(),
		}
		if err := repo.CreateReservation(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
		}
		reservation = row
		return nil
	})
	if err != nil {
		s.metrics.IncReservation(reservationOutcome(err))
		return nil, err
	}
	s.metrics.IncReservation("held")
	s.logg.Info(s.logg.WithField(ctx, "reservation_id", reservation.ID.String()), "inventory reserved")
	return reservation, nil
}

// Release returns a held token's quantity to the available pool. Releasing a
// token that is already released or consumed is a no-op.
func (s *service) Release(ctx context.Context, tx *gorm.DB, token uuid.UUID) error {
	if token == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reservation, err := repo.FindReservation(ctx, token)
		if err != nil {
			return reservationLookupError(err)
		}
		if reservation.Status != enums.ReservationStatusHeld {
			return nil
		}

		now := s.now()
		moved, err := repo.TransitionReservation(ctx, token, enums.ReservationStatusHeld, enums.ReservationStatusReleased, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reservation")
		}
		if !moved {
			return nil
		}
		if err := s.shiftCounters(ctx, tx, reservation.ItemID, reservation.Qty, reservation.Qty); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReservationReleased,
			AggregateType: enums.AggregateReservation,
			AggregateID:   reservation.ID,
			Data: payloads.ReservationReleasedEvent{
				ReservationID: reservation.ID,
				ItemID:        reservation.ItemID,
				JobID:         reservation.JobID,
				Qty:           reservation.Qty,
				ReleasedAt:    now,
			},
			OccurredAt: now,
		})
	})
}

// Consume converts a held token into items handed over to the job. The total
// stays untouched; only the reserved count drops.
func (s *service) Consume(ctx context.Context, tx *gorm.DB, token uuid.UUID) error {
	if token == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id required")
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		reservation, err := repo.FindReservation(ctx, token)
		if err != nil {
			return reservationLookupError(err)
		}
		switch reservation.Status {
		case enums.ReservationStatusConsumed:
			return nil
		case enums.ReservationStatusReleased:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already released")
		}

		moved, err := repo.TransitionReservation(ctx, token, enums.ReservationStatusHeld, enums.ReservationStatusConsumed, s.now())
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "consume reservation")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeConcurrentModification, "reservation changed while consuming")
		}
		return s.shiftCounters(ctx, tx, reservation.ItemID, 0, reservation.Qty)
	})
}

func (s *service) Retire(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error) {
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "item id required")
	}
	var result *models.RentableItem
	err := s.withVersionRetry(ctx, "retire item", func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.FindItem(ctx, itemID)
		if err != nil {
			return itemLookupError(err)
		}
		if item.RetiredAt != nil {
			result = item
			return nil
		}
		now := s.now()
		ok, err := repo.UpdateItemVersioned(ctx, item.ID, item.Version, map[string]any{"retired_at": now})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retire item")
		}
		if !ok {
			return errVersionConflict
		}
		item.RetiredAt = &now
		item.Version++
		result = item
		return nil
	})
	return result, err
}

func (s *service) GetItem(ctx context.Context, itemID uuid.UUID) (*models.RentableItem, error) {
	item, err := s.repo.FindItem(ctx, itemID)
	if err != nil {
		return nil, itemLookupError(err)
	}
	return item, nil
}

func (s *service) GetReservation(ctx context.Context, token uuid.UUID) (*models.InventoryReservation, error) {
	reservation, err := s.repo.FindReservation(ctx, token)
	if err != nil {
		return nil, reservationLookupError(err)
	}
	return reservation, nil
}

// BindToJob attaches a held token to the job that will consume it.
func (s *service) BindToJob(ctx context.Context, tx *gorm.DB, token, jobID uuid.UUID) error {
	if token == uuid.Nil || jobID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "reservation id and job id required")
	}
	return s.inTx(ctx, tx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		bound, err := repo.BindReservation(ctx, token, jobID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "bind reservation")
		}
		if bound {
			return nil
		}
		reservation, err := repo.FindReservation(ctx, token)
		if err != nil {
			return reservationLookupError(err)
		}
		if reservation.Status != enums.ReservationStatusHeld {
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("reservation is %s", reservation.Status))
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation bound to another job")
	})
}

// shiftCounters moves qty out of reserved, adding back toAvailable. The
// statement is atomic and bumps the version so in-flight reservers retry.
func (s *service) shiftCounters(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, toAvailable, fromReserved int) error {
	res := tx.WithContext(ctx).Model(&models.RentableItem{}).
		Where("id = ? AND reserved_qty >= ?", itemID, fromReserved).
		Updates(map[string]any{
			"available_qty": gorm.Expr("available_qty + ?", toAvailable),
			"reserved_qty":  gorm.Expr("reserved_qty - ?", fromReserved),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    s.now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "update inventory counters")
	}
	if res.RowsAffected != 1 {
		return pkgerrors.New(pkgerrors.CodeInternal, "reserved quantity out of sync with reservation")
	}
	return nil
}

func (s *service) withVersionRetry(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.tx.WithTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !stdErrors.Is(err, errVersionConflict) {
			return dependencyError(err, op)
		}
		s.metrics.IncVersionConflict()
		s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), op+": version conflict, retrying")
	}
	s.logg.Warn(s.logg.WithField(ctx, "attempts", s.maxAttempts), op+": giving up after version conflicts")
	return pkgerrors.New(pkgerrors.CodeConcurrentModification, op+" conflicted with concurrent updates")
}

func (s *service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	if err := s.tx.WithTx(ctx, fn); err != nil {
		return dependencyError(err, "inventory transaction")
	}
	return nil
}

func dependencyError(err error, op string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}

func itemLookupError(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "rentable item not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load rentable item")
}

func reservationLookupError(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
}

func reservationOutcome(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return string(typed.Code())
	}
	return "error"
}

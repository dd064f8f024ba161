package rentals

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/internal/inventory"
	"github.com/angelmondragon/rentflow-backend/internal/testdb"
	"github.com/angelmondragon/rentflow-backend/pkg/db"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentflow-backend/pkg/errors"
	"github.com/angelmondragon/rentflow-backend/pkg/logger"
	"github.com/angelmondragon/rentflow-backend/pkg/outbox"
	"github.com/angelmondragon/rentflow-backend/pkg/types"
)

type fixture struct {
	svc       Service
	inventory inventory.Service
	client    *db.Client
	outbox    *outbox.Repository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "rentals-test", Output: io.Discard})
	outboxRepo := outbox.NewRepository(client.DB())
	emitter := outbox.NewService(outboxRepo, logg)

	inv, err := inventory.NewService(inventory.ServiceParams{
		Repository: inventory.NewRepository(client.DB()),
		TxRunner:   client,
		Outbox:     emitter,
		Logger:     logg,
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		Repository: NewRepository(client.DB()),
		TxRunner:   client,
		Ledger:     inv,
		Outbox:     emitter,
		Logger:     logg,
	})
	require.NoError(t, err)
	return fixture{svc: svc, inventory: inv, client: client, outbox: outboxRepo}
}

// reservedLine registers stock, reserves qty of it and prices the line at total.
func (f fixture) reservedLine(t *testing.T, stock, qty int, total string) CreateLine {
	t.Helper()
	ctx := context.Background()
	itemID := uuid.New()
	_, err := f.inventory.RegisterItem(ctx, itemID, stock)
	require.NoError(t, err)
	reservation, err := f.inventory.Reserve(ctx, itemID, qty)
	require.NoError(t, err)
	return CreateLine{
		ReservationID: reservation.ID,
		Fare: types.FareBreakdown{
			ItemID:       itemID,
			CustomerTier: string(enums.CustomerTierStandard),
			Quantity:     qty,
			Total:        decimal.RequireFromString(total),
		},
	}
}

func (f fixture) create(t *testing.T, lines ...CreateLine) *models.RentalJob {
	t.Helper()
	job, err := f.svc.Create(context.Background(), CreateInput{
		CustomerID:  uuid.New(),
		Tier:        enums.CustomerTierStandard,
		Origin:      types.GeographyPoint{Lat: 40.7128, Lng: -74.0060},
		Destination: types.GeographyPoint{Lat: 40.7306, Lng: -73.9352},
		Lines:       lines,
	})
	require.NoError(t, err)
	return job
}

func (f fixture) item(t *testing.T, id uuid.UUID) *models.RentableItem {
	t.Helper()
	item, err := f.inventory.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(ServiceParams{})
	require.Error(t, err)
}

func TestCreateBindsReservationsAndSumsFare(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.reservedLine(t, 5, 2, "100.00")
	second := f.reservedLine(t, 3, 1, "45.50")

	job := f.create(t, first, second)
	assert.Equal(t, enums.JobStatusPending, job.Status)
	assert.Equal(t, "145.50", job.TotalFare.StringFixed(2))
	assert.Zero(t, job.TransitionSeq)

	for _, line := range []CreateLine{first, second} {
		reservation, err := f.inventory.GetReservation(ctx, line.ReservationID)
		require.NoError(t, err)
		require.NotNil(t, reservation.JobID)
		assert.Equal(t, job.ID, *reservation.JobID)
	}

	snapshot, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Lines, 2)
	assert.Empty(t, snapshot.Transitions)

	events, err := f.outbox.ListByAggregate(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventJobCreated, events[0].EventType)
	require.NotNil(t, events[0].RecipientID)
	assert.Equal(t, job.CustomerID, *events[0].RecipientID)
}

func TestCreateRejectsUnusableReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	released := f.reservedLine(t, 2, 1, "10")
	require.NoError(t, f.inventory.Release(ctx, nil, released.ReservationID))
	_, err := f.svc.Create(ctx, CreateInput{
		CustomerID: uuid.New(),
		Tier:       enums.CustomerTierStandard,
		Lines:      []CreateLine{released},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	mismatch := f.reservedLine(t, 4, 2, "10")
	mismatch.Fare.Quantity = 3
	_, err = f.svc.Create(ctx, CreateInput{
		CustomerID: uuid.New(),
		Tier:       enums.CustomerTierStandard,
		Lines:      []CreateLine{mismatch},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)

	_, err = f.svc.Create(ctx, CreateInput{CustomerID: uuid.New(), Tier: enums.CustomerTierStandard})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	dup := f.reservedLine(t, 4, 1, "10")
	_, err = f.svc.Create(ctx, CreateInput{
		CustomerID: uuid.New(),
		Tier:       enums.CustomerTierStandard,
		Lines:      []CreateLine{dup, dup},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestLifecycleAppendsOrderedTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	line := f.reservedLine(t, 5, 2, "80.00")
	job := f.create(t, line)
	agentID := uuid.New()

	_, err := f.svc.MarkAssigned(ctx, nil, job.ID)
	require.NoError(t, err)
	accepted, err := f.svc.OnOfferAccepted(ctx, nil, job.ID, agentID)
	require.NoError(t, err)
	require.NotNil(t, accepted.AssignedAgentID)
	assert.Equal(t, agentID, *accepted.AssignedAgentID)

	started, err := f.svc.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusInProgress, started.Status)

	reservation, err := f.inventory.GetReservation(ctx, line.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusConsumed, reservation.Status)
	item := f.item(t, line.Fare.ItemID)
	assert.Equal(t, 3, item.AvailableQty)
	assert.Zero(t, item.ReservedQty)

	completed, err := f.svc.Complete(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusCompleted, completed.Status)
	assert.Equal(t, "80.00", completed.TotalFare.StringFixed(2))
	assert.NotNil(t, completed.CompletedAt)

	snapshot, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), snapshot.Job.Version)
	require.Len(t, snapshot.Transitions, 4)
	want := []enums.JobStatus{
		enums.JobStatusAssigned,
		enums.JobStatusAccepted,
		enums.JobStatusInProgress,
		enums.JobStatusCompleted,
	}
	for i, transition := range snapshot.Transitions {
		assert.Equal(t, i+1, transition.Seq)
		assert.Equal(t, want[i], transition.ToStatus)
	}

	events, err := f.outbox.ListByAggregate(ctx, job.ID)
	require.NoError(t, err)
	var kinds []enums.OutboxEventType
	for _, event := range events {
		kinds = append(kinds, event.EventType)
	}
	assert.ElementsMatch(t, []enums.OutboxEventType{
		enums.EventJobCreated,
		enums.EventJobStarted,
		enums.EventJobCompleted,
	}, kinds)
}

func TestRepeatedTransitionsAreIgnored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.create(t, f.reservedLine(t, 2, 1, "10"))
	agentID := uuid.New()

	for i := 0; i < 2; i++ {
		_, err := f.svc.MarkAssigned(ctx, nil, job.ID)
		require.NoError(t, err)
	}
	for i := 0; i < 2; i++ {
		_, err := f.svc.OnOfferAccepted(ctx, nil, job.ID, agentID)
		require.NoError(t, err)
	}

	_, err := f.svc.OnOfferAccepted(ctx, nil, job.ID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	snapshot, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Transitions, 2)
	assert.Equal(t, 2, snapshot.Job.TransitionSeq)
}

func TestCancelReleasesStockAndIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	line := f.reservedLine(t, 4, 3, "30")
	job := f.create(t, line)
	assert.Equal(t, 1, f.item(t, line.Fare.ItemID).AvailableQty)

	cancelled, err := f.svc.Cancel(ctx, nil, job.ID, "customer changed plans")
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FailureReason)
	assert.Equal(t, "customer changed plans", *cancelled.FailureReason)

	item := f.item(t, line.Fare.ItemID)
	assert.Equal(t, 4, item.AvailableQty)
	assert.Zero(t, item.ReservedQty)

	_, err = f.svc.Cancel(ctx, nil, job.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, 4, f.item(t, line.Fare.ItemID).AvailableQty)

	_, err = f.svc.Fail(ctx, nil, job.ID, "late failure")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	_, err = f.svc.Start(ctx, job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	_, err = f.svc.MarkAssigned(ctx, nil, job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestStartRequiresAcceptedJob(t *testing.T) {
	f := newFixture(t)
	job := f.create(t, f.reservedLine(t, 2, 1, "10"))
	_, err := f.svc.Start(context.Background(), job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	_, err = f.svc.Complete(context.Background(), job.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestFailInsideRolledBackTxLeavesJobUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	line := f.reservedLine(t, 2, 2, "20")
	job := f.create(t, line)

	boom := errors.New("abort")
	err := f.client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := f.svc.Fail(ctx, tx, job.ID, "no-agent-available"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	snapshot, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.JobStatusPending, snapshot.Job.Status)
	assert.Zero(t, f.item(t, line.Fare.ItemID).AvailableQty)
}

func TestRecordOfferRoundDetectsStaleJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.create(t, f.reservedLine(t, 2, 1, "10"))
	stale := *job

	remaining := []uuid.UUID{uuid.New(), uuid.New()}
	require.NoError(t, f.svc.RecordOfferRound(ctx, nil, job, 1, remaining))
	assert.Equal(t, 1, job.OfferRound)
	assert.Equal(t, int64(1), job.Version)

	err := f.svc.RecordOfferRound(ctx, nil, &stale, 1, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConcurrentModification), "got %v", err)

	stored, err := f.svc.Load(ctx, nil, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.UUIDList(remaining), stored.CandidateAgentIDs)
}

func TestGetUnknownJob(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestFailStampsReason(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	job := f.create(t, f.reservedLine(t, 2, 1, "10"))
	before := time.Now().UTC().Add(-time.Minute)

	failed, err := f.svc.Fail(ctx, nil, job.ID, "no-agent-available")
	require.NoError(t, err)
	require.NotNil(t, failed.FailedAt)
	assert.True(t, failed.FailedAt.After(before))

	snapshot, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, snapshot.Transitions, 1)
	require.NotNil(t, snapshot.Transitions[0].Reason)
	assert.Equal(t, "no-agent-available", *snapshot.Transitions[0].Reason)
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentflow-backend/internal/testdb"
	"github.com/angelmondragon/rentflow-backend/pkg/db/models"
	"github.com/angelmondragon/rentflow-backend/pkg/enums"
)

func TestEmitPersistsEnvelope(t *testing.T) {
	client := testdb.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	jobID := uuid.New()
	agentID := uuid.New()
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Notify(ctx, tx, agentID, enums.EventOfferCreated, enums.AggregateJobOffer, jobID, map[string]any{"round": 1})
	})
	require.NoError(t, err)

	rows, err := repo.ListByAggregate(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].RecipientID)
	assert.Equal(t, agentID, *rows[0].RecipientID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.JSONEq(t, `{"round":1}`, string(envelope.Data))
}

func TestEmitRollsBackWithTransaction(t *testing.T) {
	client := testdb.Open(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, nil)
	ctx := context.Background()

	aggregateID := uuid.New()
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventJobCancelled,
			AggregateType: enums.AggregateRentalJob,
			AggregateID:   aggregateID,
			Data:          map[string]string{"reason": "customer"},
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	rows, err := repo.ListByAggregate(ctx, aggregateID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEmitRejectsUnknownEventAndMissingTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventJobFailed}))

	client := testdb.Open(t)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_paid"})
	})
	require.Error(t, err)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	client := testdb.Open(t)
	repo := NewRepository(client.DB())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]uuid.UUID, 3)
	for i := range ids {
		ids[i] = uuid.New()
		row := models.OutboxEvent{
			ID:            ids[i],
			EventType:     enums.EventOfferExpired,
			AggregateType: enums.AggregateJobOffer,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Insert(client.DB(), row))
	}

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, ids[0], rows[0].ID)

		require.NoError(t, repo.MarkPublishedTx(tx, ids[0]))
		require.NoError(t, repo.MarkFailedTx(tx, ids[1], errors.New("unavailable")))
		return repo.MarkTerminalTx(tx, ids[2], errors.New("bad payload"), 3)
	}))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 3)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, ids[1], rows[0].ID)
		assert.Equal(t, 1, rows[0].AttemptCount)
		require.NotNil(t, rows[0].LastError)
		assert.Equal(t, "unavailable", *rows[0].LastError)
		return nil
	}))

	deleted, err := repo.DeletePublishedBefore(ctx, nil, base.Add(time.Hour), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
}

func TestDLQInsertTruncatesMessage(t *testing.T) {
	client := testdb.Open(t)
	dlq := NewDLQRepository(client.DB())
	ctx := context.Background()

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	msg := string(long)
	eventID := uuid.New()
	require.NoError(t, dlq.InsertTx(client.DB(), models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventOfferCreated,
		AggregateType: enums.AggregateJobOffer,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
	}))

	found, err := dlq.FindByEventID(ctx, eventID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Len(t, *found.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)

	rows, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/internal/db/dbtest"
	"github.com/LLL3993/Music-Microservices/internal/models"
)

type failingOutbox struct{}

func (failingOutbox) Enqueue(context.Context, *sql.Tx, models.OutboxEvent) error {
	return errors.New("outbox insert failed")
}

func allOutbox(t *testing.T, repo *db.OutboxRepository) []models.OutboxEvent {
	t.Helper()
	events, err := repo.FetchDue(context.Background(), testNow.Add(time.Hour), 100)
	require.NoError(t, err)
	return events
}

func TestDeleteUser_EnqueuesEventInSameTransaction(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	catalog := db.NewCatalogRepository(database)
	outbox := db.NewOutboxRepository(database)
	svc := NewCatalogService(database, catalog, NewEventEmitter(outbox, fixedClock(testNow), discardLogger()), discardLogger())

	id, err := catalog.CreateUser(ctx, models.User{Username: "alice", Email: "alice@example.com", Password: "x"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteUser(ctx, id))

	events := allOutbox(t, outbox)
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, models.RoutingKeyUserDeleted, evt.RoutingKey)
	assert.Equal(t, models.ExchangeMusicEvents, evt.ExchangeName)
	assert.Equal(t, models.StatusPending, evt.Status)

	var body models.UserDeletedEvent
	require.NoError(t, json.Unmarshal(evt.Payload, &body))
	assert.Equal(t, evt.ID, body.EventID)
	assert.Equal(t, "alice", body.Username)
	assert.True(t, body.OccurredAt.Equal(testNow))

	err = svc.DeleteUser(ctx, id)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.Len(t, allOutbox(t, outbox), 1)
}

func TestDeleteSong_PayloadUsesSongName(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	catalog := db.NewCatalogRepository(database)
	outbox := db.NewOutboxRepository(database)
	svc := NewCatalogService(database, catalog, NewEventEmitter(outbox, fixedClock(testNow), discardLogger()), discardLogger())

	id, err := catalog.CreateSong(ctx, models.Song{SongName: "X", Artist: "Band"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteSong(ctx, id))

	events := allOutbox(t, outbox)
	require.Len(t, events, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(events[0].Payload, &body))
	assert.Equal(t, "X", body["songName"])
	assert.Equal(t, events[0].ID, body["eventId"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["occurredAt"])
}

func TestDeleteUser_OutboxFailureRollsBackDeletion(t *testing.T) {
	ctx := context.Background()
	database := dbtest.Open(t)
	catalog := db.NewCatalogRepository(database)
	svc := NewCatalogService(database, catalog, NewEventEmitter(failingOutbox{}, fixedClock(testNow), discardLogger()), discardLogger())

	id, err := catalog.CreateUser(ctx, models.User{Username: "bob", Email: "bob@example.com", Password: "x"})
	require.NoError(t, err)

	err = svc.DeleteUser(ctx, id)
	require.ErrorContains(t, err, "outbox insert failed")

	// the user is still there, so a second attempt reaches the outbox again
	err = svc.DeleteUser(ctx, id)
	assert.ErrorContains(t, err, "outbox insert failed")
}

func TestEmitter_RequiresTransaction(t *testing.T) {
	emitter := NewEventEmitter(failingOutbox{}, fixedClock(testNow), discardLogger())

	_, err := emitter.UserDeleted(context.Background(), nil, "alice")
	assert.ErrorIs(t, err, db.ErrTxRequired)
}

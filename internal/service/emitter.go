package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/internal/models"
)

// OutboxWriter inserts outbox rows as part of a caller-owned transaction
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx *sql.Tx, evt models.OutboxEvent) error
}

// EventEmitter turns domain deletions into outbox rows
type EventEmitter struct {
	outbox OutboxWriter
	clock  Clock
	logger *slog.Logger
}

func NewEventEmitter(outbox OutboxWriter, clock Clock, logger *slog.Logger) *EventEmitter {
	if clock == nil {
		clock = UTCNow
	}
	return &EventEmitter{outbox: outbox, clock: clock, logger: logger}
}

// UserDeleted enqueues a user.deleted event in tx and returns its id
func (e *EventEmitter) UserDeleted(ctx context.Context, tx *sql.Tx, username string) (string, error) {
	id, now := uuid.NewString(), e.clock()
	return id, e.emit(ctx, tx, models.RoutingKeyUserDeleted, id, now, models.UserDeletedEvent{
		EventID:    id,
		OccurredAt: now,
		Username:   username,
	})
}

// SongDeleted enqueues a meta.song.deleted event in tx and returns its id
func (e *EventEmitter) SongDeleted(ctx context.Context, tx *sql.Tx, songName string) (string, error) {
	id, now := uuid.NewString(), e.clock()
	return id, e.emit(ctx, tx, models.RoutingKeySongDeleted, id, now, models.SongDeletedEvent{
		EventID:    id,
		OccurredAt: now,
		SongName:   songName,
	})
}

func (e *EventEmitter) emit(ctx context.Context, tx *sql.Tx, routingKey, id string, now time.Time, body any) error {
	if tx == nil {
		return db.ErrTxRequired
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", routingKey, err)
	}

	evt := models.OutboxEvent{
		ID:           id,
		ExchangeName: models.ExchangeMusicEvents,
		RoutingKey:   routingKey,
		Payload:      payload,
		Status:       models.StatusPending,
		CreatedAt:    now,
	}
	if err := e.outbox.Enqueue(ctx, tx, evt); err != nil {
		return err
	}

	e.logger.Info("Outbox event queued", "event_id", id, "routing_key", routingKey)
	return nil
}

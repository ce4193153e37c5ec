package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/models"
)

// InboxRepository is the SQL-backed dedup ledger for consumed events
type InboxRepository struct {
	db *Database
}

func NewInboxRepository(db *Database) *InboxRepository {
	return &InboxRepository{db: db}
}

// InsertIfAbsent atomically records the event id and reports whether this call created the row
func (r *InboxRepository) InsertIfAbsent(ctx context.Context, id, routingKey string, processedAt time.Time) (bool, error) {
	query := r.db.Rebind(`
		INSERT INTO inbox_event (id, routing_key, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`)

	res, err := r.db.DB().ExecContext(ctx, query, id, routingKey, processedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("failed to claim inbox event %s: %w", id, err)
	}
	return affectedOne(res)
}

// Release removes a claim so a redelivery can run the cascade again
func (r *InboxRepository) Release(ctx context.Context, id string) error {
	query := r.db.Rebind(`DELETE FROM inbox_event WHERE id = $1`)

	if _, err := r.db.DB().ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to release inbox event %s: %w", id, err)
	}
	return nil
}

// Get loads a claim by event id
func (r *InboxRepository) Get(ctx context.Context, id string) (models.InboxEvent, error) {
	query := r.db.Rebind(`SELECT id, routing_key, processed_at FROM inbox_event WHERE id = $1`)

	var evt models.InboxEvent
	err := r.db.DB().QueryRowContext(ctx, query, id).Scan(&evt.ID, &evt.RoutingKey, &evt.ProcessedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.InboxEvent{}, ErrNotFound
		}
		return models.InboxEvent{}, fmt.Errorf("failed to load inbox event %s: %w", id, err)
	}
	evt.ProcessedAt = evt.ProcessedAt.UTC()
	return evt, nil
}

// Count returns the number of claimed events
func (r *InboxRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM inbox_event`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count inbox events: %w", err)
	}
	return n, nil
}

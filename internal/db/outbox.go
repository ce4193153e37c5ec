package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/models"
)

const outboxColumns = `id, exchange_name, routing_key, payload_json, status, attempt_count,
	next_attempt_at, created_at, sent_at, last_error`

// OutboxRepository persists events that must reach the broker after their business transaction commits
type OutboxRepository struct {
	db *Database
}

func NewOutboxRepository(db *Database) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a PENDING row inside the caller's transaction.
// The row becomes visible only if tx commits.
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *sql.Tx, evt models.OutboxEvent) error {
	if tx == nil {
		return ErrTxRequired
	}

	createdAt := evt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := r.db.Rebind(`
		INSERT INTO outbox_event (id, exchange_name, routing_key, payload_json, status, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)

	_, err := tx.ExecContext(ctx, query,
		evt.ID,
		evt.ExchangeName,
		evt.RoutingKey,
		string(evt.Payload),
		string(models.StatusPending),
		0,
		createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event %s: %w", evt.ID, err)
	}
	return nil
}

// FetchDue returns up to limit PENDING rows whose next attempt is due at now, oldest first
func (r *OutboxRepository) FetchDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error) {
	query := r.db.Rebind(`
		SELECT ` + outboxColumns + `
		FROM outbox_event
		WHERE status = 'PENDING'
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`)

	rows, err := r.db.DB().QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch due outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		evt, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox rows iteration failed: %w", err)
	}

	return events, nil
}

// MarkAsSent moves a PENDING row to SENT. It returns false when the row was no longer PENDING.
func (r *OutboxRepository) MarkAsSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	query := r.db.Rebind(`
		UPDATE outbox_event
		SET status = 'SENT', sent_at = $1, last_error = NULL
		WHERE id = $2 AND status = 'PENDING'
	`)

	res, err := r.db.DB().ExecContext(ctx, query, sentAt.UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark outbox event %s as sent: %w", id, err)
	}
	return affectedOne(res)
}

// MarkAsFailed records a failed publish attempt and schedules the next one.
// SENT rows are left untouched and reported with false.
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) (bool, error) {
	query := r.db.Rebind(`
		UPDATE outbox_event
		SET attempt_count = attempt_count + 1,
		    next_attempt_at = $1,
		    last_error = $2
		WHERE id = $3 AND status = 'PENDING'
	`)

	res, err := r.db.DB().ExecContext(ctx, query, nextAttemptAt.UTC(), lastError, id)
	if err != nil {
		return false, fmt.Errorf("failed to record publish failure for %s: %w", id, err)
	}
	return affectedOne(res)
}

// GetByID loads a single outbox row
func (r *OutboxRepository) GetByID(ctx context.Context, id string) (models.OutboxEvent, error) {
	query := r.db.Rebind(`SELECT ` + outboxColumns + ` FROM outbox_event WHERE id = $1`)

	evt, err := scanOutboxEvent(r.db.DB().QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.OutboxEvent{}, ErrNotFound
	}
	return evt, err
}

// BacklogStats summarizes rows still waiting for the broker
type BacklogStats struct {
	Pending int64
	Stuck   int64
}

// Backlog counts PENDING rows and the subset that already failed at least stuckAttempts times
func (r *OutboxRepository) Backlog(ctx context.Context, stuckAttempts int) (BacklogStats, error) {
	query := r.db.Rebind(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN attempt_count >= $1 THEN 1 ELSE 0 END), 0)
		FROM outbox_event
		WHERE status = 'PENDING'
	`)

	var stats BacklogStats
	if err := r.db.DB().QueryRowContext(ctx, query, stuckAttempts).Scan(&stats.Pending, &stats.Stuck); err != nil {
		return BacklogStats{}, fmt.Errorf("failed to compute outbox backlog: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(s rowScanner) (models.OutboxEvent, error) {
	var (
		evt       models.OutboxEvent
		payload   string
		status    string
		nextAt    sql.NullTime
		sentAt    sql.NullTime
		lastError sql.NullString
	)

	err := s.Scan(
		&evt.ID,
		&evt.ExchangeName,
		&evt.RoutingKey,
		&payload,
		&status,
		&evt.AttemptCount,
		&nextAt,
		&evt.CreatedAt,
		&sentAt,
		&lastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.OutboxEvent{}, err
		}
		return models.OutboxEvent{}, fmt.Errorf("outbox scan failed: %w", err)
	}

	evt.Payload = []byte(payload)
	evt.Status = models.OutboxStatus(status)
	evt.CreatedAt = evt.CreatedAt.UTC()
	if nextAt.Valid {
		t := nextAt.Time.UTC()
		evt.NextAttemptAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time.UTC()
		evt.SentAt = &t
	}
	if lastError.Valid {
		evt.LastError = &lastError.String
	}
	return evt, nil
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

package processor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/pkg/metrics"
)

// ErrFatal marks deliveries that can never succeed and must not be requeued
var ErrFatal = errors.New("FATAL")

// Outcome describes what a successfully handled delivery did
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSkipped   Outcome = "skipped"
)

// Claimer is the consumer-side dedup gate
type Claimer interface {
	TryClaim(ctx context.Context, eventID, routingKey string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// ListStore removes list rows that reference a deleted user or song
type ListStore interface {
	CleanupByUsername(ctx context.Context, tx *sql.Tx, username string) (int64, error)
	CleanupBySongName(ctx context.Context, tx *sql.Tx, songName string) (int64, error)
}

type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// CascadeHandler applies deletion events to the playlist and favorite tables exactly once per event id
type CascadeHandler struct {
	claims     Claimer
	lists      ListStore
	tx         TxRunner
	logger     *slog.Logger
	maxRetries int
	retryStep  time.Duration
}

func NewCascadeHandler(claims Claimer, lists ListStore, tx TxRunner, logger *slog.Logger) *CascadeHandler {
	return &CascadeHandler{
		claims:     claims,
		lists:      lists,
		tx:         tx,
		logger:     logger,
		maxRetries: 3,
		retryStep:  200 * time.Millisecond,
	}
}

type deletionEnvelope struct {
	EventID  string `json:"eventId"`
	Username string `json:"username"`
	SongName string `json:"songName"`
}

// Handle processes one delivery. Errors wrapping ErrFatal are permanent; any other error is transient
// and the claim taken for the event has already been released.
func (h *CascadeHandler) Handle(ctx context.Context, routingKey string, body []byte) (outcome Outcome, err error) {
	start := time.Now()
	defer func() {
		status := string(outcome)
		if err != nil {
			status = "failed"
			if errors.Is(err, ErrFatal) {
				status = "malformed"
			}
		}
		metrics.ConsumerDuration.WithLabelValues(routingKey, status).Observe(time.Since(start).Seconds())
		metrics.ConsumerMessages.WithLabelValues(routingKey, status).Inc()
	}()

	var env deletionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("%w: payload unmarshal error: %v", ErrFatal, err)
	}

	var (
		key     string
		cascade func(ctx context.Context, tx *sql.Tx, key string) (int64, error)
	)
	switch routingKey {
	case models.RoutingKeyUserDeleted:
		key, cascade = env.Username, h.lists.CleanupByUsername
	case models.RoutingKeySongDeleted:
		key, cascade = env.SongName, h.lists.CleanupBySongName
	default:
		return "", fmt.Errorf("%w: unsupported routing key %q", ErrFatal, routingKey)
	}

	l := h.logger.With("event_id", env.EventID, "routing_key", routingKey)

	if strings.TrimSpace(key) == "" {
		l.Warn("Deletion event without a domain key, skipping")
		return OutcomeSkipped, nil
	}

	claimed, err := h.claims.TryClaim(ctx, env.EventID, routingKey)
	if err != nil {
		return "", fmt.Errorf("inbox claim failed: %w", err)
	}
	if !claimed {
		l.Info("Event already processed, skipping to ACK")
		return OutcomeDuplicate, nil
	}

	deleted, err := h.runCascade(ctx, l, cascade, key)
	if err != nil {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if relErr := h.claims.Release(releaseCtx, env.EventID); relErr != nil {
			// the claim stays and redeliveries will be treated as duplicates
			l.Error("CRITICAL: cascade failed and the inbox claim could not be released",
				"error", err, "release_error", relErr)
		}
		return "", fmt.Errorf("cascade failed: %w", err)
	}

	metrics.RowsCascaded.WithLabelValues(routingKey).Add(float64(deleted))
	l.Info("Cascade applied", "key", key, "rows_deleted", deleted)
	return OutcomeApplied, nil
}

func (h *CascadeHandler) runCascade(ctx context.Context, l *slog.Logger, cascade func(context.Context, *sql.Tx, string) (int64, error), key string) (int64, error) {
	var lastErr error

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		var deleted int64
		err := h.tx.WithTx(ctx, func(tx *sql.Tx) error {
			n, err := cascade(ctx, tx, key)
			deleted = n
			return err
		})
		if err == nil {
			return deleted, nil
		}
		if !isLockContention(err) {
			return 0, err
		}

		lastErr = err
		wait := time.Duration(attempt) * h.retryStep
		l.Warn("Lock contention detected, retrying cascade", "attempt", attempt, "backoff", wait, "error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	return 0, fmt.Errorf("failed after %d attempts (last error: %w)", h.maxRetries, lastErr)
}

// isLockContention detects transient conflicts worth an immediate retry
func isLockContention(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 40001 serialization_failure, 40P01 deadlock_detected, 55P03 lock_not_available
		return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "55P03"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy")
}

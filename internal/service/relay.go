package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/LLL3993/Music-Microservices/internal/db"
	"github.com/LLL3993/Music-Microservices/internal/models"
	"github.com/LLL3993/Music-Microservices/pkg/metrics"
)

// Clock returns the current time. Tests inject a fixed one
type Clock func() time.Time

// UTCNow is the production clock
func UTCNow() time.Time { return time.Now().UTC() }

// OutboxStore defines the contract for outbox persistence used by the relay
type OutboxStore interface {
	FetchDue(ctx context.Context, now time.Time, limit int) ([]models.OutboxEvent, error)
	MarkAsSent(ctx context.Context, id string, sentAt time.Time) (bool, error)
	MarkAsFailed(ctx context.Context, id string, nextAttemptAt time.Time, lastError string) (bool, error)
	Backlog(ctx context.Context, stuckAttempts int) (db.BacklogStats, error)
}

// BrokerClient defines the contract for message publishing.
// Publish returns only after the broker confirmed the message or the attempt failed.
type BrokerClient interface {
	Publish(ctx context.Context, evt models.OutboxEvent) error
}

// Relay moves committed outbox rows to the broker
type Relay struct {
	store     OutboxStore
	broker    BrokerClient
	logger    *slog.Logger
	clock     Clock
	batchSize int
}

func NewRelay(store OutboxStore, broker BrokerClient, logger *slog.Logger, clock Clock, batchSize int) *Relay {
	if clock == nil {
		clock = UTCNow
	}
	return &Relay{
		store:     store,
		broker:    broker,
		logger:    logger,
		clock:     clock,
		batchSize: batchSize,
	}
}

// BatchResult summarizes one tick
type BatchResult struct {
	Fetched int
	Sent    int
	Failed  int
	Skipped int
}

// ProcessNextBatch publishes every due row of one batch.
// A failed publish is recorded on its row and does not stop the rest of the batch.
// On shutdown the unprocessed rows simply stay PENDING.
func (r *Relay) ProcessNextBatch(ctx context.Context) (BatchResult, error) {
	start := time.Now()
	var result BatchResult

	now := r.clock()
	events, err := r.store.FetchDue(ctx, now, r.batchSize)
	if err != nil {
		return result, fmt.Errorf("fetch failure: %w", err)
	}
	result.Fetched = len(events)
	if len(events) == 0 {
		return result, nil
	}

	metrics.BatchSize.Observe(float64(len(events)))
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
		r.logger.Info("Batch cycle telemetry",
			"fetched", result.Fetched,
			"sent", result.Sent,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	for _, evt := range events {
		if ctx.Err() != nil {
			r.logger.Warn("Shutdown signal received. Leaving remaining events pending",
				"remaining", len(events)-result.Sent-result.Failed-result.Skipped)
			return result, ctx.Err()
		}
		if !evt.IsDue(now) {
			r.logger.Warn("Store returned an event that is not due, leaving it", "event_id", evt.ID, "status", evt.Status)
			result.Skipped++
			continue
		}

		switch r.publishOne(ctx, evt) {
		case outcomeSent:
			result.Sent++
		case outcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	return result, nil
}

type publishOutcome int

const (
	outcomeSent publishOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (r *Relay) publishOne(ctx context.Context, evt models.OutboxEvent) publishOutcome {
	l := r.logger.With("event_id", evt.ID, "routing_key", evt.RoutingKey)

	if pubErr := r.broker.Publish(ctx, evt); pubErr != nil {
		attempt := evt.AttemptCount + 1
		next := r.clock().Add(RetryDelay(attempt))

		updated, err := r.store.MarkAsFailed(ctx, evt.ID, next, Truncate(pubErr.Error(), MaxLastErrorLen))
		if err != nil {
			l.Error("Publish failed and the failure could not be recorded", "publish_error", pubErr, "error", err)
			metrics.MessagesPublished.WithLabelValues("failed", evt.RoutingKey).Inc()
			return outcomeFailed
		}
		if !updated {
			l.Info("Publish failed but the event was already sent by another relay")
			metrics.MessagesPublished.WithLabelValues("skipped", evt.RoutingKey).Inc()
			return outcomeSkipped
		}

		l.Warn("Publish failed, retry scheduled", "attempt", attempt, "next_attempt_at", next, "error", pubErr)
		metrics.MessagesPublished.WithLabelValues("failed", evt.RoutingKey).Inc()
		return outcomeFailed
	}

	updated, err := r.store.MarkAsSent(ctx, evt.ID, r.clock())
	if err != nil {
		// the message is out; the row stays PENDING and will be published again
		l.Error("Message sent but failed to update status in DB", "error", err)
		metrics.MessagesPublished.WithLabelValues("failed", evt.RoutingKey).Inc()
		return outcomeFailed
	}
	if !updated {
		l.Info("Event already marked as sent by another relay")
		metrics.MessagesPublished.WithLabelValues("skipped", evt.RoutingKey).Inc()
		return outcomeSkipped
	}

	l.Debug("Event published")
	metrics.MessagesPublished.WithLabelValues("sent", evt.RoutingKey).Inc()
	return outcomeSent
}

// Run ticks with a fixed delay between the end of one batch and the start of the next,
// so ticks never overlap. It returns when ctx is cancelled.
func (r *Relay) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("👋 Relay loop stopped")
			return
		case <-timer.C:
		}

		if _, err := r.ProcessNextBatch(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Batch processing error", "error", err)
		}

		timer.Reset(interval)
	}
}

// MonitorBacklog periodically reports the PENDING backlog and rows stuck in retry.
// It never moves or drops rows.
func (r *Relay) MonitorBacklog(ctx context.Context, interval time.Duration, stuckAttempts int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.ReportBacklog(ctx, stuckAttempts)
		case <-ctx.Done():
			r.logger.Info("🛑 Backlog monitor stopped")
			return
		}
	}
}

// ReportBacklog runs a single backlog check
func (r *Relay) ReportBacklog(ctx context.Context, stuckAttempts int) (db.BacklogStats, error) {
	stats, err := r.store.Backlog(ctx, stuckAttempts)
	if err != nil {
		r.logger.Error("Backlog check failed", "error", err)
		return stats, err
	}

	metrics.OutboxBacklog.Set(float64(stats.Pending))
	metrics.OutboxStuck.Set(float64(stats.Stuck))

	if stats.Stuck > 0 {
		r.logger.Warn("Outbox events keep failing to publish",
			"stuck", stats.Stuck,
			"threshold_attempts", stuckAttempts,
			"pending", stats.Pending,
		)
	}
	return stats, nil
}

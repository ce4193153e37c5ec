package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/LLL3993/Music-Microservices/pkg/metrics"
)

// InboxStore is an atomic put-if-absent ledger keyed by event id
type InboxStore interface {
	InsertIfAbsent(ctx context.Context, id, routingKey string, processedAt time.Time) (bool, error)
	Release(ctx context.Context, id string) error
}

// InboxService decides whether a delivery is the first one for its event id
type InboxService struct {
	store  InboxStore
	clock  Clock
	logger *slog.Logger
}

func NewInboxService(store InboxStore, clock Clock, logger *slog.Logger) *InboxService {
	if clock == nil {
		clock = UTCNow
	}
	return &InboxService{store: store, clock: clock, logger: logger}
}

// TryClaim returns true exactly once per distinct event id.
// Events without an id cannot be deduplicated and are always processed.
func (s *InboxService) TryClaim(ctx context.Context, eventID, routingKey string) (bool, error) {
	if strings.TrimSpace(eventID) == "" {
		metrics.InboxClaims.WithLabelValues("anonymous").Inc()
		return true, nil
	}

	claimed, err := s.store.InsertIfAbsent(ctx, eventID, routingKey, s.clock())
	if err != nil {
		metrics.InboxClaims.WithLabelValues("error").Inc()
		return false, err
	}

	if claimed {
		metrics.InboxClaims.WithLabelValues("claimed").Inc()
	} else {
		metrics.InboxClaims.WithLabelValues("duplicate").Inc()
		s.logger.Debug("Duplicate delivery ignored", "event_id", eventID, "routing_key", routingKey)
	}
	return claimed, nil
}

// Release forgets a claim whose side effects were rolled back
func (s *InboxService) Release(ctx context.Context, eventID string) error {
	if strings.TrimSpace(eventID) == "" {
		return nil
	}
	if err := s.store.Release(ctx, eventID); err != nil {
		return err
	}
	metrics.InboxReleases.Inc()
	return nil
}

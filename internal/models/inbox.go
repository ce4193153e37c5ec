package models

import "time"

// InboxEvent is one entry of the consumer-side dedup ledger
type InboxEvent struct {
	ID          string    `db:"id"`
	RoutingKey  string    `db:"routing_key"`
	ProcessedAt time.Time `db:"processed_at"`
}

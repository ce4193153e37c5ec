package models

import "time"

// OutboxStatus is the publish state of an outbox row. It only ever moves PENDING -> SENT
type OutboxStatus string

const (
	StatusPending OutboxStatus = "PENDING"
	StatusSent    OutboxStatus = "SENT"
)

// OutboxEvent represents a row in the outbox_event table
type OutboxEvent struct {
	ID            string       `db:"id"`
	ExchangeName  string       `db:"exchange_name"`
	RoutingKey    string       `db:"routing_key"`
	Payload       []byte       `db:"payload_json"`
	Status        OutboxStatus `db:"status"`
	AttemptCount  int          `db:"attempt_count"`
	NextAttemptAt *time.Time   `db:"next_attempt_at"`
	CreatedAt     time.Time    `db:"created_at"`
	SentAt        *time.Time   `db:"sent_at"`
	LastError     *string      `db:"last_error"`
}

// IsDue reports whether the row is eligible for a publish attempt at now
func (e OutboxEvent) IsDue(now time.Time) bool {
	if e.Status != StatusPending {
		return false
	}
	return e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)
}

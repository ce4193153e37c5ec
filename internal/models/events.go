package models

import "time"

// Broker topology shared by the producing and consuming services
const (
	ExchangeMusicEvents = "music.events"

	RoutingKeyUserDeleted = "user.deleted"
	RoutingKeySongDeleted = "meta.song.deleted"

	QueueListUserDeleted = "list.user.deleted"
	QueueListSongDeleted = "list.song.deleted"
)

// QueueBindings maps every consumer queue to the routing key it is bound with
var QueueBindings = map[string]string{
	QueueListUserDeleted: RoutingKeyUserDeleted,
	QueueListSongDeleted: RoutingKeySongDeleted,
}

// UserDeletedEvent is the message body published when a user account is removed
type UserDeletedEvent struct {
	EventID    string    `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
	Username   string    `json:"username"`
}

// SongDeletedEvent is the message body published when song metadata is removed
type SongDeletedEvent struct {
	EventID    string    `json:"eventId"`
	OccurredAt time.Time `json:"occurredAt"`
	SongName   string    `json:"songName"`
}

package service

import (
	"context"
	"database/sql"
	"log/slog"
)

// TxRunner executes fn inside one database transaction
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}

// CatalogStore deletes catalog rows and reports the natural key other services reference
type CatalogStore interface {
	DeleteUserByID(ctx context.Context, tx *sql.Tx, id int64) (string, error)
	DeleteSongByID(ctx context.Context, tx *sql.Tx, id int64) (string, error)
}

// CatalogService performs producer-side deletions. Each deletion and its event commit together.
type CatalogService struct {
	tx      TxRunner
	store   CatalogStore
	emitter *EventEmitter
	logger  *slog.Logger
}

func NewCatalogService(tx TxRunner, store CatalogStore, emitter *EventEmitter, logger *slog.Logger) *CatalogService {
	return &CatalogService{tx: tx, store: store, emitter: emitter, logger: logger}
}

// DeleteUser removes the account and enqueues user.deleted. Unknown ids yield db.ErrNotFound
func (s *CatalogService) DeleteUser(ctx context.Context, id int64) error {
	return s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		username, err := s.store.DeleteUserByID(ctx, tx, id)
		if err != nil {
			return err
		}
		eventID, err := s.emitter.UserDeleted(ctx, tx, username)
		if err != nil {
			return err
		}
		s.logger.Info("User deleted", "user_id", id, "username", username, "event_id", eventID)
		return nil
	})
}

// DeleteSong removes the song metadata and enqueues meta.song.deleted
func (s *CatalogService) DeleteSong(ctx context.Context, id int64) error {
	return s.tx.WithTx(ctx, func(tx *sql.Tx) error {
		songName, err := s.store.DeleteSongByID(ctx, tx, id)
		if err != nil {
			return err
		}
		eventID, err := s.emitter.SongDeleted(ctx, tx, songName)
		if err != nil {
			return err
		}
		s.logger.Info("Song deleted", "song_id", id, "song_name", songName, "event_id", eventID)
		return nil
	})
}

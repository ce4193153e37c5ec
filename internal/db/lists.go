package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/LLL3993/Music-Microservices/internal/models"
)

// ListsRepository owns playlists and favorites on the consuming side
type ListsRepository struct {
	db *Database
}

func NewListsRepository(db *Database) *ListsRepository {
	return &ListsRepository{db: db}
}

// CleanupByUsername deletes every playlist entry, playlist and favorite owned by username.
// It returns the total number of rows removed.
func (r *ListsRepository) CleanupByUsername(ctx context.Context, tx *sql.Tx, username string) (int64, error) {
	return r.deleteAll(ctx, tx, username,
		`DELETE FROM playlist_detail WHERE username = $1`,
		`DELETE FROM playlist WHERE username = $1`,
		`DELETE FROM favorite WHERE username = $1`,
	)
}

// CleanupBySongName deletes every playlist entry and favorite pointing at songName
func (r *ListsRepository) CleanupBySongName(ctx context.Context, tx *sql.Tx, songName string) (int64, error) {
	return r.deleteAll(ctx, tx, songName,
		`DELETE FROM playlist_detail WHERE song_name = $1`,
		`DELETE FROM favorite WHERE song_name = $1`,
	)
}

func (r *ListsRepository) deleteAll(ctx context.Context, tx *sql.Tx, key string, queries ...string) (int64, error) {
	if tx == nil {
		return 0, ErrTxRequired
	}

	var total int64
	for _, q := range queries {
		res, err := tx.ExecContext(ctx, r.db.Rebind(q), key)
		if err != nil {
			return 0, fmt.Errorf("cleanup failed: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

func (r *ListsRepository) CreatePlaylist(ctx context.Context, p models.Playlist) error {
	query := r.db.Rebind(`
		INSERT INTO playlist (playlist_name, username, description, is_public)
		VALUES ($1, $2, $3, $4)
	`)
	if _, err := r.db.DB().ExecContext(ctx, query, p.PlaylistName, p.Username, p.Description, p.IsPublic); err != nil {
		return fmt.Errorf("failed to create playlist %s: %w", p.PlaylistName, err)
	}
	return nil
}

func (r *ListsRepository) AddToPlaylist(ctx context.Context, d models.PlaylistDetail) error {
	query := r.db.Rebind(`
		INSERT INTO playlist_detail (username, playlist_name, song_name)
		VALUES ($1, $2, $3)
	`)
	if _, err := r.db.DB().ExecContext(ctx, query, d.Username, d.PlaylistName, d.SongName); err != nil {
		return fmt.Errorf("failed to add %s to playlist %s: %w", d.SongName, d.PlaylistName, err)
	}
	return nil
}

func (r *ListsRepository) AddFavorite(ctx context.Context, f models.Favorite) error {
	query := r.db.Rebind(`INSERT INTO favorite (username, song_name) VALUES ($1, $2)`)
	if _, err := r.db.DB().ExecContext(ctx, query, f.Username, f.SongName); err != nil {
		return fmt.Errorf("failed to add favorite %s: %w", f.SongName, err)
	}
	return nil
}

// CountRows returns the total row count across the list tables
func (r *ListsRepository) CountRows(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.DB().QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM playlist)
		     + (SELECT COUNT(*) FROM playlist_detail)
		     + (SELECT COUNT(*) FROM favorite)
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count list rows: %w", err)
	}
	return n, nil
}

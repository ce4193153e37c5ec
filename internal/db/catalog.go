package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/LLL3993/Music-Microservices/internal/models"
)

// CatalogRepository owns the users and meta tables on the producing side
type CatalogRepository struct {
	db *Database
}

func NewCatalogRepository(db *Database) *CatalogRepository {
	return &CatalogRepository{db: db}
}

func (r *CatalogRepository) CreateUser(ctx context.Context, u models.User) (int64, error) {
	query := r.db.Rebind(`
		INSERT INTO users (username, email, password, is_admin)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`)

	var id int64
	if err := r.db.DB().QueryRowContext(ctx, query, u.Username, u.Email, u.Password, u.IsAdmin).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create user %s: %w", u.Username, err)
	}
	return id, nil
}

func (r *CatalogRepository) CreateSong(ctx context.Context, s models.Song) (int64, error) {
	query := r.db.Rebind(`
		INSERT INTO meta (song_name, artist)
		VALUES ($1, $2)
		RETURNING id
	`)

	var id int64
	if err := r.db.DB().QueryRowContext(ctx, query, s.SongName, s.Artist).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create song %s: %w", s.SongName, err)
	}
	return id, nil
}

// DeleteUserByID removes the user inside tx and returns its username
func (r *CatalogRepository) DeleteUserByID(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	if tx == nil {
		return "", ErrTxRequired
	}

	query := r.db.Rebind(`DELETE FROM users WHERE id = $1 RETURNING username`)

	var username string
	if err := tx.QueryRowContext(ctx, query, id).Scan(&username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to delete user %d: %w", id, err)
	}
	return username, nil
}

// DeleteSongByID removes the song metadata inside tx and returns its name
func (r *CatalogRepository) DeleteSongByID(ctx context.Context, tx *sql.Tx, id int64) (string, error) {
	if tx == nil {
		return "", ErrTxRequired
	}

	query := r.db.Rebind(`DELETE FROM meta WHERE id = $1 RETURNING song_name`)

	var songName string
	if err := tx.QueryRowContext(ctx, query, id).Scan(&songName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to delete song %d: %w", id, err)
	}
	return songName, nil
}

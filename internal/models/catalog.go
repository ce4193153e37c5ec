package models

// User is an account owned by the user service
type User struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Email    string `db:"email"`
	Password string `db:"password"`
	IsAdmin  bool   `db:"is_admin"`
}

// Song is a metadata row owned by the meta service
type Song struct {
	ID       int64  `db:"id"`
	SongName string `db:"song_name"`
	Artist   string `db:"artist"`
}

// Playlist, PlaylistDetail and Favorite reference users and songs by name only,
// so they are cleaned up from deletion events instead of foreign keys.
type Playlist struct {
	ID           int64   `db:"id"`
	PlaylistName string  `db:"playlist_name"`
	Username     string  `db:"username"`
	Description  *string `db:"description"`
	IsPublic     bool    `db:"is_public"`
}

type PlaylistDetail struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PlaylistName string `db:"playlist_name"`
	SongName     string `db:"song_name"`
}

type Favorite struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	SongName string `db:"song_name"`
}

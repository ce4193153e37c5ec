// Package dbtest opens migrated SQLite databases for tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LLL3993/Music-Microservices/internal/db"
)

// Open returns a fresh database under t.TempDir() with every migration applied
func Open(t *testing.T) *db.Database {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dsn := db.SQLiteDSN(filepath.Join(t.TempDir(), "test.db"))

	database, err := db.Open(context.Background(), string(db.DialectSQLite), dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, database.Migrate(context.Background()))
	return database
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a lookup by primary key matches no row
	ErrNotFound = errors.New("record not found")
	// ErrTxRequired is returned by writes that must join the caller's transaction
	ErrTxRequired = errors.New("transaction required")
)

// Dialect identifies the SQL flavour spoken by the underlying driver
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// Database wraps the connection pool together with its dialect.
// Queries are written with $N placeholders, each used once and in ascending order,
// so they can be rebound to ? for SQLite.
type Database struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the store selected by driver ("postgres" or "sqlite") and verifies it with a ping
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Database, error) {
	var (
		conn    *sql.DB
		dialect Dialect
		err     error
	)

	switch driver {
	case string(DialectPostgres):
		dialect = DialectPostgres
		conn, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres connection: %w", err)
		}
		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(30 * time.Minute)
		conn.SetConnMaxIdleTime(10 * time.Minute)
	case string(DialectSQLite):
		dialect = DialectSQLite
		conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
		}
		// SQLite allows a single writer; one connection avoids SQLITE_BUSY between our own goroutines
		conn.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s ping failed: %w", dialect, err)
	}

	logger.Info("Connected to database", "dialect", dialect)

	return &Database{db: conn, dialect: dialect, logger: logger}, nil
}

// SQLiteDSN builds a modernc sqlite DSN for a database file with the pragmas the repositories rely on
func SQLiteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_time_format=sqlite"
}

func (d *Database) DB() *sql.DB { return d.db }

func (d *Database) Dialect() Dialect { return d.dialect }

// Rebind rewrites $N placeholders into the form expected by the dialect
func (d *Database) Rebind(query string) string {
	if d.dialect != DialectSQLite {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

// BeginTx starts a transaction with ReadCommitted isolation level
func (d *Database) BeginTx(ctx context.Context) (*sql.Tx, error) {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	if d.dialect == DialectSQLite {
		// sqlite only knows serializable
		opts = nil
	}
	return d.db.BeginTx(ctx, opts)
}

// WithTx runs fn inside a transaction, committing on success and rolling back on error or panic
func (d *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := d.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				d.logger.Error("Rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close gracefully shuts down the connection pool
func (d *Database) Close() error {
	d.logger.Info("Closing database connection pool", "dialect", d.dialect)
	return d.db.Close()
}

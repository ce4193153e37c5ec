package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations
var migrationsFS embed.FS

func (d *Database) migrationProvider() (*goose.Provider, error) {
	gooseDialect := goose.DialectPostgres
	if d.dialect == DialectSQLite {
		gooseDialect = goose.DialectSQLite3
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(d.dialect))
	if err != nil {
		return nil, fmt.Errorf("locate %s migrations: %w", d.dialect, err)
	}

	provider, err := goose.NewProvider(gooseDialect, d.db, sub)
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return provider, nil
}

// Migrate applies every pending migration for the current dialect
func (d *Database) Migrate(ctx context.Context) error {
	provider, err := d.migrationProvider()
	if err != nil {
		return err
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	for _, r := range results {
		d.logger.Info("Applied migration", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

// MigrateDown rolls back the most recently applied migration
func (d *Database) MigrateDown(ctx context.Context) error {
	provider, err := d.migrationProvider()
	if err != nil {
		return err
	}

	r, err := provider.Down(ctx)
	if err != nil {
		return fmt.Errorf("goose down: %w", err)
	}
	if r != nil {
		d.logger.Info("Rolled back migration", "source", r.Source.Path)
	}
	return nil
}

// SchemaVersion reports the highest applied migration version
func (d *Database) SchemaVersion(ctx context.Context) (int64, error) {
	provider, err := d.migrationProvider()
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

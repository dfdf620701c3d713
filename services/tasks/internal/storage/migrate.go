package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

type Direction int

const (
	// MigrateUp применяет недостающие миграции
	MigrateUp Direction = iota
	// MigrateReset удаляет схему и создаёт её заново (все данные теряются)
	MigrateReset
)

const (
	migrationsTable = "schema_migrations"
	pingAttempts    = 5
	pingDelay       = time.Second
)

// Migrate открывает отдельное подключение (golang-migrate закрывает его сам)
// и приводит схему к последней версии. Возвращает итоговую версию.
func Migrate(ctx context.Context, opts Options, dir Direction, log logrus.FieldLogger) (uint, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return 0, err
	}

	db, err := sql.Open(string(dialect), opts.DSN)
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	if err := waitForDatabase(ctx, db, log); err != nil {
		_ = db.Close()
		return 0, err
	}

	m, err := newMigrator(db, dialect)
	if err != nil {
		_ = db.Close()
		return 0, err
	}
	defer m.Close()

	if version, dirty, err := m.Version(); errors.Is(err, migrate.ErrNilVersion) {
		log.Info("no migrations applied yet")
	} else if err != nil {
		log.WithError(err).Warn("could not read migration version")
	} else {
		log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("current migration version")
	}

	if dir == MigrateReset {
		log.Warn("dropping tasks schema")
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return 0, fmt.Errorf("failed to roll back migrations: %w", err)
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("migration %d left the schema dirty", version)
	}
	log.WithField("version", version).Info("database schema is up to date")
	return version, nil
}

func newMigrator(db *sql.DB, dialect Dialect) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+string(dialect))
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	var driver database.Driver
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedDriver, dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func waitForDatabase(ctx context.Context, db *sql.DB, log logrus.FieldLogger) error {
	var err error
	for attempt := 1; attempt <= pingAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		if attempt == pingAttempts {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Warn("database not ready, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pingDelay):
		}
	}
	return fmt.Errorf("database not ready after %d attempts: %w", pingAttempts, err)
}

package database

import (
	"context"
	"embed"
	stderrors "errors"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/NikhilSetiya/servermon/pkg/errors"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded schema migrations for the connection's dialect
type Migrator struct {
	migrate *migrate.Migrate
	source  source.Driver
	// ownsDriver is set when closing the migrate driver leaves db open.
	ownsDriver bool
}

// NewMigrator creates a migrator over an open connection. It does not take
// ownership of the connection.
func NewMigrator(db *DB) (*Migrator, error) {
	if db == nil || db.DB == nil {
		return nil, errors.NewValidationError("database connection is required")
	}

	src, err := iofs.New(migrationFiles, "migrations/"+db.driver)
	if err != nil {
		return nil, errors.NewInternalError("failed to open migration source").WithCause(err)
	}

	var driver migratedb.Driver
	ownsDriver := false
	switch db.driver {
	case DriverPostgres:
		// A dedicated connection; closing it does not close the pool.
		conn, connErr := db.DB.DB.Conn(context.Background())
		if connErr != nil {
			err = connErr
			break
		}
		driver, err = postgres.WithConnection(context.Background(), conn, &postgres.Config{})
		if err != nil {
			conn.Close()
		}
		ownsDriver = true
	case DriverSQLite:
		driver, err = sqlite3.WithInstance(db.DB.DB, &sqlite3.Config{})
	default:
		err = stderrors.New("unsupported driver " + db.driver)
	}
	if err != nil {
		src.Close()
		return nil, errors.NewInternalError("failed to create migration driver").WithCause(err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.driver, driver)
	if err != nil {
		src.Close()
		if ownsDriver {
			driver.Close()
		}
		return nil, errors.NewInternalError("failed to create migrate instance").WithCause(err)
	}

	return &Migrator{migrate: m, source: src, ownsDriver: ownsDriver}, nil
}

// Close releases the migration source and any dedicated connection; the
// database itself stays open.
func (m *Migrator) Close() error {
	if m.ownsDriver {
		sourceErr, dbErr := m.migrate.Close()
		return stderrors.Join(sourceErr, dbErr)
	}
	return m.source.Close()
}

// Up runs all available migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to run migrations").WithCause(err)
	}
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to rollback migrations").WithCause(err)
	}
	return nil
}

// Steps runs n migrations up (positive) or down (negative)
func (m *Migrator) Steps(n int) error {
	if err := m.migrate.Steps(n); err != nil && !stderrors.Is(err, migrate.ErrNoChange) {
		return errors.NewInternalError("failed to run migration steps").WithCause(err)
	}
	return nil
}

// Version returns the current migration version
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if stderrors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.NewInternalError("failed to get migration version").WithCause(err)
	}
	return version, dirty, nil
}

// Migrate runs all pending migrations on db.
func Migrate(db *DB) error {
	m, err := NewMigrator(db)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}

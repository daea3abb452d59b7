package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	catalogdomain "github.com/factline/factline/internal/catalog/domain"
	"github.com/factline/factline/internal/computed"
	linkdomain "github.com/factline/factline/internal/link/domain"
	pointdomain "github.com/factline/factline/internal/point/domain"
	segmentdomain "github.com/factline/factline/internal/segment/domain"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

const migrationsDir = "migrations"

// RunMigrations applies the embedded postgres migrations so a fresh
// database is usable on first start.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not close the migrator here, it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema through gorm for dialects without
// versioned migrations, like the sqlite development setup.
func AutoMigrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&pointdomain.MetricPoint{},
		&pointdomain.IngestBatch{},
		&catalogdomain.MetricDefinition{},
		&catalogdomain.DataSource{},
		&linkdomain.Link{},
		&segmentdomain.Segment{},
		&computed.SessionRollup{},
	)
}

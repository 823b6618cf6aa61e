// Package migration keeps the schema in step with the domain models. Postgres
// deployments run the embedded SQL migrations on startup so the service is
// usable out of the box; other engines (sqlite for local runs) fall back to
// AutoMigrate.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/lumilearn/creditcore/internal/config"
	creditdomain "github.com/lumilearn/creditcore/internal/credit/domain"
	insightdomain "github.com/lumilearn/creditcore/internal/insight/domain"
)

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
	// Do not close the migrator here because it would close the shared *sql.DB.

	return nil
}

// AutoMigrate creates the schema from the gorm models. Used for engines the
// embedded SQL does not target, and by test fixtures.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&creditdomain.Wallet{},
		&creditdomain.Organization{},
		&creditdomain.OrgMember{},
		&creditdomain.UsageTransaction{},
		&insightdomain.InsightEntry{},
	)
}

func Run(db *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if cfg.DBType == "postgres" {
		log.Info("running embedded sql migrations")
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}

	log.Info("running schema auto-migration", zap.String("db_type", cfg.DBType))
	return AutoMigrate(db)
}

var Module = fx.Module("migration",
	fx.Invoke(Run),
)

package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"leadflow/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ClaimMigrationVersion is the schema version that adds
// follow_ups.notification_claimed_at.
const ClaimMigrationVersion uint = 2

// NewMigrator creates a migrate instance over the embedded migrations.
func NewMigrator(databaseURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrator: %w", err)
	}
	return m, nil
}

// RunMigrations applies all pending migrations. Being up to date is not an
// error.
func RunMigrations(databaseURL string) error {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version. An empty schema
// reports version 0.
func SchemaVersion(databaseURL string) (uint, bool, error) {
	m, err := NewMigrator(databaseURL)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// ResolveClaimSupport decides at startup whether the claim column may be
// used. mode "enabled" and "legacy" are taken at face value; "auto" asks
// versionFn and requires a clean schema at or past ClaimMigrationVersion.
func ResolveClaimSupport(mode string, versionFn func() (uint, bool, error)) (bool, error) {
	switch mode {
	case config.ClaimModeEnabled:
		return true, nil
	case config.ClaimModeLegacy:
		return false, nil
	case config.ClaimModeAuto, "":
		version, dirty, err := versionFn()
		if err != nil {
			return false, err
		}
		return !dirty && version >= ClaimMigrationVersion, nil
	default:
		return false, fmt.Errorf("unknown claim mode %q", mode)
	}
}

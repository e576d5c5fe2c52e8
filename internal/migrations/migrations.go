// Package migrations embeds the canonical store schema and applies it with golang-migrate.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// FS exposes the embedded migration files.
func FS() embed.FS { return files }

// MigrateURL turns a postgres DSN into a pgx5 migrate URL pinned to schema. Only the
// migration connection uses search_path; runtime writes use qualified identifiers.
func MigrateURL(dsn, schema string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
	default:
		return "", fmt.Errorf("unsupported dsn scheme %q", u.Scheme)
	}
	u.Scheme = "pgx5"
	if schema != "" {
		q := u.Query()
		q.Set("search_path", schema)
		q.Set("x-migrations-table", "relay_schema_migrations")
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Up applies every pending migration. It returns the resulting version.
func Up(dsn, schema string) (uint, error) {
	m, err := newMigrate(dsn, schema)
	if err != nil {
		return 0, err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migrate version: %w", err)
	}
	return version, nil
}

// Down rolls back steps migrations.
func Down(dsn, schema string, steps int) error {
	m, err := newMigrate(dsn, schema)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

func newMigrate(dsn, schema string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	target, err := MigrateURL(strings.TrimSpace(dsn), schema)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, target)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}

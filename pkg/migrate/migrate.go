// Package migrate applies versioned SQL migrations from an embedded
// filesystem. Each file is named {version}_{name}.sql and holds an up and a
// down section separated by "-- +migrate Up" / "-- +migrate Down" markers.
package migrate

import (
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/castrelay/castrelay/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Load reads all migration files under dir, sorted by version. Files that do
// not follow the naming scheme are skipped with a warning.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, err := parseFilename(entry.Name())
		if err != nil {
			log.Warn().Err(err).Str("file", entry.Name()).Msg("Skipping invalid migration file")
			continue
		}

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		up, down := splitSections(string(content))
		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			Up:      up,
			Down:    down,
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// parseFilename extracts version and name from "001_initial_schema.sql".
func parseFilename(filename string) (int, string, error) {
	base := strings.TrimSuffix(filename, ".sql")
	versionPart, name, found := strings.Cut(base, "_")
	if !found || name == "" {
		return 0, "", fmt.Errorf("migration filename %q is not {version}_{name}.sql", filename)
	}

	version, err := strconv.Atoi(versionPart)
	if err != nil {
		return 0, "", fmt.Errorf("migration filename %q has no numeric version: %w", filename, err)
	}
	return version, name, nil
}

// splitSections separates a migration file into its up and down SQL.
// Content before the first marker belongs to the up section.
func splitSections(content string) (up, down string) {
	var upLines, downLines []string
	inDown := false

	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			inDown = false
		case downMarker:
			inDown = true
		default:
			if inDown {
				downLines = append(downLines, line)
			} else {
				upLines = append(upLines, line)
			}
		}
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n")
}

// Migrator applies migrations against a PostgreSQL database, tracking applied
// versions in a schema_migrations table.
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// New connects to the configured database and loads the migrations from dir.
func New(cfg *config.DatabaseConfig, fsys fs.FS, dir string) (*Migrator, error) {
	migrations, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Migrator{db: db, migrations: migrations}, nil
}

// Close releases the database connection.
func (m *Migrator) Close() error {
	return m.db.Close()
}

// Up applies all pending migrations in version order.
func (m *Migrator) Up() error {
	if err := m.ensureTable(); err != nil {
		return err
	}
	applied, err := m.appliedVersions()
	if err != nil {
		return err
	}

	pending := 0
	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		if err := m.apply(migration); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Applied migration")
		pending++
	}

	if pending == 0 {
		log.Info().Msg("No pending migrations")
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down() error {
	if err := m.ensureTable(); err != nil {
		return err
	}
	applied, err := m.appliedVersions()
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		log.Info().Msg("No migrations to roll back")
		return nil
	}

	last := 0
	for version := range applied {
		if version > last {
			last = version
		}
	}

	for _, migration := range m.migrations {
		if migration.Version != last {
			continue
		}
		if err := m.revert(migration); err != nil {
			return fmt.Errorf("rollback of %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("Rolled back migration")
		return nil
	}
	return fmt.Errorf("migration file for applied version %d not found", last)
}

func (m *Migrator) ensureTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Up); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES ($1, $2)",
		migration.Version, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

func (m *Migrator) revert(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(migration.Down); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
		return fmt.Errorf("failed to unrecord migration: %w", err)
	}
	return tx.Commit()
}

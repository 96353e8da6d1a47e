package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// schemaVersion is the current expected schema version.
const schemaVersion = 2

// migration is a single schema step with one script per dialect.
type migration struct {
	Version     int
	Description string
	SQLite      string
	Postgres    string
}

func (m migration) script(d Dialect) string {
	if d == DialectPostgres {
		return m.Postgres
	}
	return m.SQLite
}

// migrations is the ordered list of schema migrations.
// Each migration is applied exactly once, tracked in the schema_version table.
var migrations = []migration{
	{
		Version:     1,
		Description: "base schema: sources, notes",
		SQLite: `
		CREATE TABLE IF NOT EXISTS sources (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			api_key     TEXT NOT NULL DEFAULT '',
			url         TEXT NOT NULL DEFAULT '',
			credentials TEXT NOT NULL DEFAULT '{}',
			is_active   INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_name ON sources(lower(name));

		CREATE TABLE IF NOT EXISTS notes (
			id                TEXT PRIMARY KEY,
			content           TEXT NOT NULL,
			source_id         TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			recipient         TEXT NOT NULL DEFAULT '',
			is_command        INTEGER NOT NULL DEFAULT 0,
			command_type      TEXT NOT NULL DEFAULT '',
			is_file           INTEGER NOT NULL DEFAULT 0,
			file_type         TEXT NOT NULL DEFAULT '',
			file_name         TEXT NOT NULL DEFAULT '',
			file_url          TEXT NOT NULL DEFAULT '',
			google_drive_id   TEXT NOT NULL DEFAULT '',
			google_drive_link TEXT NOT NULL DEFAULT '',
			created_at        DATETIME NOT NULL,
			updated_at        DATETIME NOT NULL
		);
		`,
		Postgres: `
		CREATE TABLE IF NOT EXISTS sources (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			api_key     TEXT NOT NULL DEFAULT '',
			url         TEXT NOT NULL DEFAULT '',
			credentials TEXT NOT NULL DEFAULT '{}',
			is_active   BOOLEAN NOT NULL DEFAULT TRUE,
			created_at  TIMESTAMPTZ NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_sources_name ON sources(lower(name));

		CREATE TABLE IF NOT EXISTS notes (
			id                TEXT PRIMARY KEY,
			content           TEXT NOT NULL,
			source_id         TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			recipient         TEXT NOT NULL DEFAULT '',
			is_command        BOOLEAN NOT NULL DEFAULT FALSE,
			command_type      TEXT NOT NULL DEFAULT '',
			is_file           BOOLEAN NOT NULL DEFAULT FALSE,
			file_type         TEXT NOT NULL DEFAULT '',
			file_name         TEXT NOT NULL DEFAULT '',
			file_url          TEXT NOT NULL DEFAULT '',
			google_drive_id   TEXT NOT NULL DEFAULT '',
			google_drive_link TEXT NOT NULL DEFAULT '',
			created_at        TIMESTAMPTZ NOT NULL,
			updated_at        TIMESTAMPTZ NOT NULL
		);
		`,
	},
	{
		Version:     2,
		Description: "v2: recipient timeline index",
		SQLite: `
		CREATE INDEX IF NOT EXISTS idx_notes_recipient ON notes(recipient, created_at);
		CREATE INDEX IF NOT EXISTS idx_notes_source ON notes(source_id);
		`,
		Postgres: `
		CREATE INDEX IF NOT EXISTS idx_notes_recipient ON notes(recipient, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_notes_source ON notes(source_id);
		`,
	},
}

// RunMigrations applies all pending schema migrations.
// It uses a schema_version table to track which migrations have been applied.
func RunMigrations(db *sql.DB, d Dialect, logger *slog.Logger) error {
	appliedAt := "DATETIME DEFAULT CURRENT_TIMESTAMP"
	if d == DialectPostgres {
		appliedAt = "TIMESTAMPTZ DEFAULT NOW()"
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  ` + appliedAt + `
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	currentVersion := 0
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("query schema version: %w", err)
	}

	record := rebind(d, "INSERT INTO schema_version (version, description) VALUES (?, ?)")

	for _, m := range migrations {
		if m.Version <= currentVersion {
			continue
		}

		logger.Info("applying migration",
			"version", m.Version,
			"description", m.Description,
			"dialect", string(d),
		)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.script(d)); err != nil {
			tx.Rollback()
			logger.Warn("migration script failed, retrying statement by statement",
				"version", m.Version,
				"err", err,
			)
			if err := applyMigrationStatements(db, d, m, logger); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(record, m.Version, m.Description); err != nil {
				tx.Rollback()
				return fmt.Errorf("record migration v%d: %w", m.Version, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("commit migration v%d: %w", m.Version, err)
			}
		}

		logger.Info("migration applied", "version", m.Version)
	}

	return nil
}

// applyMigrationStatements applies each statement on its own, skipping
// objects that already exist.
func applyMigrationStatements(db *sql.DB, d Dialect, m migration, logger *slog.Logger) error {
	for _, stmt := range splitSQL(m.script(d)) {
		if _, err := db.Exec(stmt); err != nil {
			msg := strings.ToLower(err.Error())
			if strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists") {
				logger.Debug("migration statement skipped (already applied)", "stmt_prefix", truncate(stmt, 60))
				continue
			}
			return fmt.Errorf("migration v%d statement failed: %w\nSQL: %s", m.Version, err, truncate(stmt, 200))
		}
	}

	if _, err := db.Exec(
		rebind(d, "INSERT INTO schema_version (version, description) VALUES (?, ?)"),
		m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("record migration v%d: %w", m.Version, err)
	}
	return nil
}

// splitSQL splits a multi-statement script on semicolons, dropping blanks.
func splitSQL(script string) []string {
	var result []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// GetSchemaVersion returns the current schema version from the database.
func GetSchemaVersion(db *sql.DB, d Dialect) (int, error) {
	var probe string
	switch d {
	case DialectPostgres:
		probe = "SELECT table_name FROM information_schema.tables WHERE table_name = 'schema_version'"
	default:
		probe = "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'"
	}
	var tableName string
	if err := db.QueryRow(probe).Scan(&tableName); err != nil {
		return 0, nil // no table yet
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

// SchemaVersion reports the version this build expects.
func SchemaVersion() int { return schemaVersion }

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// SchemaVersion is the version a fully migrated database reports.
const SchemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, inside a transaction.
var migrations = []migration{
	{
		Version:     1,
		Description: "directory, notifications, audit_log",
		SQL: `
		CREATE TABLE IF NOT EXISTS organizations (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS senders (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			address         TEXT NOT NULL,
			role            TEXT NOT NULL CHECK (role IN ('teacher', 'admin')),
			class_name      TEXT NOT NULL DEFAULT '',
			organization_id TEXT NOT NULL REFERENCES organizations(id),
			UNIQUE (address, role)
		);

		CREATE TABLE IF NOT EXISTS guardians (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			address         TEXT NOT NULL,
			language        TEXT NOT NULL DEFAULT 'en',
			organization_id TEXT NOT NULL REFERENCES organizations(id)
		);
		CREATE INDEX IF NOT EXISTS idx_guardians_org ON guardians(organization_id);

		CREATE TABLE IF NOT EXISTS students (
			id              TEXT PRIMARY KEY,
			name            TEXT NOT NULL DEFAULT '',
			class_name      TEXT NOT NULL,
			organization_id TEXT NOT NULL REFERENCES organizations(id),
			guardian_id     TEXT NOT NULL REFERENCES guardians(id)
		);
		CREATE INDEX IF NOT EXISTS idx_students_class ON students(organization_id, class_name);

		CREATE TABLE IF NOT EXISTS notifications (
			id              TEXT PRIMARY KEY,
			type            TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			scope_kind      TEXT NOT NULL,
			class_name      TEXT NOT NULL DEFAULT '',
			organization_id TEXT NOT NULL,
			payload         TEXT NOT NULL,
			created_at      DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notifications_time ON notifications(created_at);

		CREATE TABLE IF NOT EXISTS notification_bodies (
			notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
			position        INTEGER NOT NULL,
			recipient_id    TEXT NOT NULL,
			address         TEXT NOT NULL,
			language        TEXT NOT NULL,
			body            TEXT NOT NULL,
			PRIMARY KEY (notification_id, position)
		);

		CREATE TABLE IF NOT EXISTS audit_log (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			action      TEXT NOT NULL,
			address     TEXT,
			role        TEXT,
			intent      TEXT,
			result      TEXT,
			details     TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(created_at);
		`,
	},
	{
		Version:     2,
		Description: "delivery log",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			notification_id TEXT NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
			address         TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			attempts        INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_notification ON deliveries(notification_id);
		`,
	},
}

// RunMigrations applies every migration newer than the recorded version.
func RunMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

// GetSchemaVersion returns the highest applied migration, or 0 for a fresh database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&name)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query schema_version table: %w", err)
	}

	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return version, nil
}

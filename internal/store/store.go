// Package store persists the school directory, notifications, deliveries and
// the audit log in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"schoolcomm/internal/domain"
)

var (
	_ domain.Directory         = (*SQLiteStore)(nil)
	_ domain.NotificationStore = (*SQLiteStore)(nil)
	_ domain.DeliveryLog       = (*SQLiteStore)(nil)
	_ domain.AuditLogger       = (*SQLiteStore)(nil)
)

// SQLiteStore is safe for concurrent use; all access goes through a single
// connection.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath, logger: logger}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Checkpoint flushes the WAL into the main database file.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, address, role, intent, result, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Action, entry.Address, entry.Role, entry.Intent, entry.Result, entry.Details,
	)
	return err
}

// AppliedSchemaVersion reports the highest applied migration.
func (s *SQLiteStore) AppliedSchemaVersion() (int, error) {
	return GetSchemaVersion(s.db)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

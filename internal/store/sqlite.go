// Package store provides persistent storage backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"modernc.org/sqlite" // Pure-Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/soyeahso/anonrelay/internal/domain"
	"github.com/soyeahso/anonrelay/internal/logging"
)

// DB wraps a SQLite database connection with migration support.
type DB struct {
	sql *sql.DB
	log *logging.Logger
}

// Open opens (or creates) a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for tests).
func Open(path string, log *logging.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	// Each connection to ":memory:" gets its own database.
	if path == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
	}

	db := &DB{sql: sqlDB, log: log.Sub("store")}

	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	db.log.Info().Str("path", path).Msg("database opened")
	return db, nil
}

// connPragmas run on every connection the pool opens. busy_timeout and
// foreign_keys are per-connection settings.
var connPragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
}

// dsn attaches the connection pragmas to path. Transactions begin
// IMMEDIATE so concurrent writers queue on busy_timeout instead of failing
// a lock upgrade.
func dsn(path string) string {
	q := make([]string, 0, len(connPragmas)+1)
	for _, p := range connPragmas {
		q = append(q, "_pragma="+p)
	}
	q = append(q, "_txlock=immediate")
	return path + "?" + strings.Join(q, "&")
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.log.Info().Msg("closing database")
	return db.sql.Close()
}

// SQL returns the underlying *sql.DB for direct queries.
func (db *DB) SQL() *sql.DB {
	return db.sql
}

// migrate runs all pending migrations.
func (db *DB) migrate() error {
	// Create migrations tracking table
	if _, err := db.sql.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := db.isMigrationApplied(m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		db.log.Info().Int("version", m.Version).Str("name", m.Name).Msg("applying migration")

		tx, err := db.sql.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// Stats aggregates row counts for the operator dashboard and RPC.
type Stats struct {
	Users     int `json:"users"`
	Operators int `json:"operators"`
	Messages  int `json:"messages"`
	Unread    int `json:"unread"`
}

// Stats returns aggregate counts across users and messages.
func (db *DB) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := db.sql.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_operator = 1),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM messages WHERE is_read = 0)
	`).Scan(&st.Users, &st.Operators, &st.Messages, &st.Unread)
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return st, nil
}

// Ping checks that the database answers queries.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.sql.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// unavailable wraps a backend failure so callers can match ErrStorageUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (db *DB) isMigrationApplied(version int) (bool, error) {
	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking migration %d: %w", version, err)
	}
	return count > 0, nil
}

// Admin is the operator read model: aggregate counts plus the user and
// message listings with both parties visible.
type Admin struct {
	DB       *DB
	Users    *UserStore
	Messages *MessageStore
}

// NewAdmin builds the operator read model over db.
func NewAdmin(db *DB) Admin {
	return Admin{DB: db, Users: NewUserStore(db), Messages: NewMessageStore(db)}
}

// Stats returns aggregate counts.
func (a Admin) Stats(ctx context.Context) (Stats, error) { return a.DB.Stats(ctx) }

// ListUsers returns users newest first.
func (a Admin) ListUsers(ctx context.Context, limit int) ([]domain.User, error) {
	return a.Users.List(ctx, limit)
}

// ListMessages returns messages newest first with sender and recipient.
func (a Admin) ListMessages(ctx context.Context, limit int) ([]domain.AdminMessageView, error) {
	return a.Messages.ListAdmin(ctx, limit)
}

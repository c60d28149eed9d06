package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"slotkeeper/internal/lock"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the SQLite ledger. Writes for an owner run in a BEGIN IMMEDIATE
// transaction, which holds the database write lock across processes, behind
// an in-process keyed mutex so waiting respects the caller's context.
type DB struct {
	db     *sql.DB
	path   string
	locks  *lock.KeyedMutex
	logger *zerolog.Logger
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const dsnParams = "_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	memory := path == ":memory:"
	if !memory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?"+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := logger.With().Str("component", "sqlite").Logger()
	l.Info().Str("path", path).Msg("Database initialized")
	return &DB{db: db, path: path, locks: lock.NewKeyedMutex(), logger: &l}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS event_types (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            owner_id TEXT NOT NULL,
            slug TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            location TEXT NOT NULL DEFAULT '',
            duration_minutes INTEGER NOT NULL,
            time_zone TEXT NOT NULL,
            availability TEXT NOT NULL DEFAULT '[]',
            allow_recurring BOOLEAN NOT NULL DEFAULT 0,
            recurring_count INTEGER NOT NULL DEFAULT 1,
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type_id INTEGER NOT NULL REFERENCES event_types(id),
            owner_id TEXT NOT NULL,
            start_unix INTEGER NOT NULL,
            end_unix INTEGER NOT NULL,
            duration_minutes INTEGER NOT NULL,
            first_name TEXT NOT NULL DEFAULT '',
            last_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            recurring_group_id TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL,
            CHECK (start_unix < end_unix)
        )`,
		`CREATE TABLE IF NOT EXISTS profiles (
            owner_id TEXT PRIMARY KEY,
            full_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            profile_slug TEXT NOT NULL UNIQUE,
            time_zone TEXT NOT NULL DEFAULT '',
            created_at INTEGER NOT NULL,
            updated_at INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS slug_redirects (
            slug TEXT PRIMARY KEY,
            owner_id TEXT NOT NULL,
            created_at INTEGER NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_event_types_owner ON event_types(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_owner_start ON bookings(owner_id, start_unix)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_group ON bookings(recurring_group_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func normalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}

// Path is the database file the store was opened with.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

func (db *DB) Close() error {
	return db.db.Close()
}

// Package sqlstore implements the repository interfaces on top of database/sql.
//
// Two backends share the same queries and schema:
//   - SQLite through modernc.org/sqlite (pure Go, no CGo), the default
//   - PostgreSQL through the pgx database/sql driver
//
// Queries are written once with "?" placeholders. The dialect rewrites them
// for drivers that expect numbered placeholders, and knows how to recognise a
// unique-constraint violation so repositories can report apperror.ErrConflict.
//
// Timestamps are stored as fixed-width UTC text (see timeLayout). That keeps
// natural-key equality and ORDER BY identical on both backends.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/glucose-api/internal/model"
)

const (
	pgMaxOpenConns    = 25
	pgMaxIdleConns    = 25
	pgConnMaxLifetime = 5 * time.Minute
	pingTimeout       = 5 * time.Second
)

// timeLayout is microsecond precision with a fixed width, so lexical order of
// the stored text equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// OpenSQLite opens (creating if needed) a SQLite database and runs migrations.
//
// dbPath examples:
//   - "data/glucose.db"  → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests)
func OpenSQLite(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening sqlite database: %w", err)
	}

	// ONE CONNECTION:
	// SQLite serialises writers anyway, and every new connection to ":memory:"
	// would see a brand-new empty database. A single pooled connection avoids
	// both "database is locked" errors and vanishing test data.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging sqlite database: %w", err)
	}

	// WAL allows readers while a write is in progress. Foreign keys are off by
	// default in SQLite; the cascade from metadata to readings needs them.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
		}
	}

	return open(conn, sqliteDialect)
}

// OpenPostgres connects to PostgreSQL using a pgx DSN and runs migrations.
func OpenPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening postgres database: %w", err)
	}

	conn.SetMaxOpenConns(pgMaxOpenConns)
	conn.SetMaxIdleConns(pgMaxIdleConns)
	conn.SetConnMaxLifetime(pgConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging postgres database: %w", err)
	}

	return open(conn, postgresDialect)
}

func open(conn *sql.DB, d dialect) (*DB, error) {
	db := &DB{conn: conn, dialect: d}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: running %s migrations: %w", d.name, err)
	}
	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. Every statement is idempotent.
func (db *DB) migrate() error {
	for _, stmt := range schema() {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func schema() []string {
	clinical := make([]string, len(model.ClinicalFields))
	for i, f := range model.ClinicalFields {
		clinical[i] = "\t\t\t" + f + " TEXT"
	}

	return []string{
		`CREATE TABLE IF NOT EXISTS glucose_metadata (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at TEXT NOT NULL,
			created_by TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_glucose_metadata_user_id
			ON glucose_metadata(user_id)`,
		`CREATE TABLE IF NOT EXISTS glucose_levels (
			id               TEXT PRIMARY KEY,
			metadata_id      TEXT NOT NULL REFERENCES glucose_metadata(id) ON DELETE CASCADE,
			device           TEXT NOT NULL,
			serial_number    TEXT NOT NULL,
			device_timestamp TEXT NOT NULL,
			recording_type   TEXT NOT NULL,
` + strings.Join(clinical, ",\n") + `
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_glucose_levels_natural_key
			ON glucose_levels(metadata_id, device, serial_number, device_timestamp)`,
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned when a row does not exist
var ErrNotFound = errors.New("not found")

// Driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the run ledger connection. Queries are written with $N
// placeholders and rebound for SQLite.
type DB struct {
	*sql.DB
	driver string
}

// NewDB opens the ledger and creates the schema if needed
func NewDB(databaseURL string) (*DB, error) {
	driver := DetectDriver(databaseURL)

	conn, err := sql.Open(driver, dsnFor(driver, databaseURL))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single connection keeps :memory: databases shared
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	db := &DB{DB: conn, driver: driver}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Driver returns the driver name
func (db *DB) Driver() string {
	return db.driver
}

// DetectDriver picks the driver from the URL
func DetectDriver(databaseURL string) string {
	lower := strings.ToLower(databaseURL)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DriverPostgres
	}
	return DriverSQLite
}

func dsnFor(driver, databaseURL string) string {
	if driver == DriverSQLite {
		return strings.TrimPrefix(databaseURL, "sqlite://")
	}
	return databaseURL
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

func (db *DB) rebind(query string) string {
	if db.driver != DriverSQLite {
		return query
	}
	return placeholder.ReplaceAllString(query, "?$1")
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return db.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return db.QueryRowContext(ctx, db.rebind(query), args...)
}

type txRunner struct {
	tx *sql.Tx
	db *DB
}

func (t txRunner) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.db.rebind(query), args...)
}

// isUniqueViolation reports whether err is a unique constraint failure on either driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

func (db *DB) withTx(ctx context.Context, fn func(txRunner) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(txRunner{tx: tx, db: db}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (db *DB) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.driver == DriverPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			provider TEXT NOT NULL,
			experiment TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL,
			job_name TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			base_output_dir TEXT NOT NULL,
			spec_yaml TEXT NOT NULL DEFAULT '',
			final_metric DOUBLE PRECISION,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS run_events (
			id %s,
			run_id TEXT NOT NULL,
			at TIMESTAMP NOT NULL,
			from_state TEXT,
			to_state TEXT NOT NULL,
			reason TEXT NOT NULL,
			meta_json TEXT NOT NULL DEFAULT '{}'
		)`, serial),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS run_artifacts (
			id %s,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			uri TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			meta_json TEXT NOT NULL DEFAULT '{}'
		)`, serial),
		`CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events (run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_run_artifacts_run_id ON run_artifacts (run_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

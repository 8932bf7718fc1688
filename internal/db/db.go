// Package db is the run ledger: one sqlite table recording every job run.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/livinlefevreloca/refresher/tools/migrator"
)

const driverName = "sqlite3"

// DB is an open run ledger
type DB struct {
	*sql.DB
	path string
}

// Config holds ledger settings
type Config struct {
	// DSN is the sqlite database file, or ":memory:"
	DSN string `toml:"dsn"`

	// BusyTimeout bounds how long a write waits on another process holding
	// the ledger, such as `history` reading while `serve` records a run
	BusyTimeout time.Duration `toml:"busy_timeout"`

	SkipMigrations bool `toml:"skip_migrations"`
}

// DefaultConfig returns the ledger defaults
func DefaultConfig() Config {
	return Config{
		DSN:         "refresher.db",
		BusyTimeout: 5 * time.Second,
	}
}

// Validate checks the ledger settings
func (c Config) Validate() error {
	if c.DSN == "" {
		return errors.New("database dsn must not be empty")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("busy_timeout must not be negative, got %v", c.BusyTimeout)
	}
	return nil
}

// Standard errors
var (
	ErrNotFound  = errors.New("db: not found")
	ErrDuplicate = errors.New("db: duplicate key")
)

// Open opens the ledger and applies pending migrations unless skipped
func Open(config Config) (*DB, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	conn, err := sql.Open(driverName, connectionString(config))
	if err != nil {
		return nil, err
	}

	// Runs are sequential, and every connection to :memory: is a separate
	// database
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open ledger %s: %w", config.DSN, err)
	}

	db := &DB{DB: conn, path: config.DSN}

	if !config.SkipMigrations {
		if err := migrator.RunMigrations(db.DB, Migrations()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return db, nil
}

// connectionString appends go-sqlite3 connection parameters to the DSN.
// WAL lets readers proceed while a run is being recorded; it does not apply
// to in-memory databases.
func connectionString(config Config) string {
	params := url.Values{}
	params.Set("_foreign_keys", "on")
	params.Set("_busy_timeout", fmt.Sprint(config.BusyTimeout.Milliseconds()))
	if config.DSN != ":memory:" {
		params.Set("_journal_mode", "WAL")
	}

	sep := "?"
	if strings.Contains(config.DSN, "?") {
		sep = "&"
	}
	return config.DSN + sep + params.Encode()
}

// Path returns the DSN the ledger was opened with
func (db *DB) Path() string {
	return db.path
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}

// IsDuplicate checks if error is a duplicate key error
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDuplicate) {
		return true
	}

	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

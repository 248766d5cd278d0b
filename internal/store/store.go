package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jackfruitco/simworks-sub000/internal/outbox"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - call_records and persisted_chunks
// 2 - call_records.claimed_until (drain lease)
const currentSchemaVersion = 2

// Dialect captures the SQL differences between supported databases.
type Dialect struct {
	Name string

	// numbered placeholders ($1, $2) instead of '?'.
	numbered bool

	// claimLock is appended to the claim SELECT.
	claimLock string
}

var (
	// SQLite serializes writers; the claim runs in a BEGIN IMMEDIATE
	// transaction so two claimers never read the same free rows.
	SQLite = Dialect{Name: "sqlite3"}

	// Postgres skips rows another claimer has locked.
	Postgres = Dialect{Name: "postgres", numbered: true, claimLock: "FOR UPDATE SKIP LOCKED"}
)

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Store is the SQL outbox store shared by the SQLite and Postgres backends.
type Store struct {
	db  *sql.DB
	d   Dialect
	now func() time.Time
}

var _ outbox.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*config)

type config struct {
	extraDDL []string
	now      func() time.Time
}

// WithSchema runs additional DDL after the outbox schema. Domain packages use
// it to create their tables in the same database.
func WithSchema(ddl ...string) Option {
	return func(c *config) { c.extraDDL = append(c.extraDDL, ddl...) }
}

// WithClock overrides the time source used for store-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

func buildConfig(opts []Option) config {
	c := config{now: time.Now}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// New wraps an already-migrated database. Backends other than SQLite use it
// after applying their own schema.
func New(db *sql.DB, d Dialect, opts ...Option) *Store {
	c := buildConfig(opts)
	return &Store{db: db, d: d, now: c.now}
}

// Open creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention across processes
//   - foreign key enforcement
//   - immediate transactions, so a claim takes the write lock before reading
func Open(path string, opts ...Option) (*Store, error) {
	c := buildConfig(opts)

	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_txlock=immediate"
	} else {
		dsn += "?_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite has a single writer; one connection avoids SQLITE_BUSY inside
	// the process and makes in-process claimers queue on the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := applySchema(db, c.extraDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, d: SQLite, now: c.now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database for domain stores that share it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() Dialect {
	return s.d
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB, extra []string) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if version == 1 {
		if _, err := db.Exec(`ALTER TABLE call_records ADD COLUMN claimed_until TIMESTAMP`); err != nil {
			return fmt.Errorf("migrate to version 2: %w", err)
		}
	}
	for i, ddl := range extra {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("execute extra schema %d: %w", i, err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.d.Rebind(query), args...)
}

// timestamp normalizes times before they reach the driver so ordering by
// completion time is consistent across backends.
func timestamp(t time.Time) time.Time {
	return t.UTC()
}

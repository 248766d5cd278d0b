// Package postgres opens the outbox store on PostgreSQL through the pgx
// database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jackfruitco/simworks-sub000/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	ConnMaxLifetime time.Duration

	// Schema holds additional DDL applied after the outbox schema.
	Schema []string
}

// Open connects to dsn, applies the schema and returns a store using the
// Postgres dialect.
func Open(ctx context.Context, dsn string, o Options, opts ...store.Option) (*store.Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrate(ctx, db, o.Schema); err != nil {
		db.Close()
		return nil, err
	}
	return store.New(db, store.Postgres, opts...), nil
}

func migrate(ctx context.Context, db *sql.DB, extra []string) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	for i, ddl := range extra {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("apply extra schema %d: %w", i, err)
		}
	}
	return nil
}

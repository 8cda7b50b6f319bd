// Package postgres is the PostgreSQL implementation of store.Store, used
// when several cshub instances share one token table.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/revittco/cshub/internal/store"
)

//go:embed schema.sql
var schema string

var _ store.Store = (*DB)(nil)

// DBTX is the subset of *pgxpool.Pool the store needs. pgxmock pools
// satisfy it too.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is a PostgreSQL-backed token store.
type DB struct {
	db DBTX
}

// New wraps an existing pool. The schema is assumed to exist.
func New(db DBTX) *DB {
	return &DB{db: db}
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	d := New(pool)
	if err := d.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// Migrate creates any missing tables. Safe to run on every start.
func (d *DB) Migrate(ctx context.Context) error {
	if _, err := d.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.Ping(ctx)
}

func (d *DB) Close() error {
	d.db.Close()
	return nil
}

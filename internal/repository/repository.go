// Package repository is the PostgreSQL storage layer for accounts and the
// account event log.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/signsure/signsure/internal/repository/migrations"
)

const (
	pgUniqueViolation = "23505"

	defaultMaxConns int32 = 10
	defaultMinConns int32 = 2
)

// Repository wraps a pgx pool. All queries live in methods on it.
type Repository struct {
	pool *pgxpool.Pool
}

// New opens a pool for databaseURL and pings it once.
func New(ctx context.Context, databaseURL string) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	applyPoolDefaults(cfg)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Repository{pool: pool}, nil
}

// applyPoolDefaults sizes the pool unless the URL already carries
// pool_max_conns or pool_min_conns.
func applyPoolDefaults(cfg *pgxpool.Config) {
	conn := cfg.ConnString()
	if !strings.Contains(conn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	if !strings.Contains(conn, "pool_min_conns") {
		cfg.MinConns = min(defaultMinConns, cfg.MaxConns)
	}
}

// Migrate runs the embedded goose migrations over the pool.
func (r *Repository) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	return migrations.Up(ctx, db)
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) Close() {
	r.pool.Close()
}

// Pool exposes the pool for tests and migrations tooling.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

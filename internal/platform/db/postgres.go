// Package db bootstraps the Postgres database behind the shared route store.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	poolSize        = 10
	connMaxLifetime = 30 * time.Minute
)

// routeCacheDDL creates the route store table. created_at carries no default:
// rows are stamped by the writer so expiry is judged against a single clock.
var routeCacheDDL = []string{
	`CREATE TABLE IF NOT EXISTS route_cache (
		route_key  TEXT PRIMARY KEY,
		payload    BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_route_cache_created_at ON route_cache (created_at)`,
}

// Connect opens a pgx-backed pool, checks that the server answers within ctx
// and makes sure the route_cache table exists. Running it against an already
// prepared database is a no-op apart from the ping.
func Connect(ctx context.Context, databaseURL string) (*sql.DB, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, errors.New("route store db: database url is empty")
	}

	pool, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("route store db: open: %w", err)
	}
	pool.SetMaxOpenConns(poolSize)
	pool.SetMaxIdleConns(poolSize)
	pool.SetConnMaxLifetime(connMaxLifetime)

	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("route store db: ping: %w", err)
	}
	if err := ensureRouteCache(ctx, pool); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return pool, nil
}

func ensureRouteCache(ctx context.Context, pool *sql.DB) error {
	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("route store db: begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, stmt := range routeCacheDDL {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("route store db: schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("route store db: commit schema: %w", err)
	}
	return nil
}

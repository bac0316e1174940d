package db

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool creates a connection pool and pins the search path to the service
// schema. The gamehost schema carries the servers table whose unique index on
// port is the engine's correctness anchor (see migrations/001_init.sql).
func NewPool(dsn, schema string) (*pgxpool.Pool, error) {
	ctx := context.Background()

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}

	if schema != "" {
		if _, err := pool.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", schema)); err != nil {
			return nil, fmt.Errorf("set search_path: %w", err)
		}
	}

	log.Printf("[db] Connected to PostgreSQL (schema: %s)", schema)

	return pool, nil
}

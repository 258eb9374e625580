// Package postgres is the live state tier: the open-position mirror
// and the append-only trade journal the keeper reconciles against on
// restart. Money columns are NUMERIC and cross the driver boundary as
// strings, so decimal values never pass through a float.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool is the shared pgx connection pool handed to every store.
type Pool struct {
	*pgxpool.Pool
}

// NewPool opens a pool against dsn and verifies it with a ping, so a
// bad DSN fails at startup rather than on the first journal write.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// uniqueViolation reports whether err carries the unique_violation
// SQLSTATE. Journal writes treat it as an idempotent replay, not a
// failure.
func uniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

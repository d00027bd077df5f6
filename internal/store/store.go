// Package store is the PostgreSQL persistence for the gateway: the durable
// job queue backend and the workflow, webhook, proof and API key records.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IMPORTANT:
// All job status changes MUST go through transitionJob. Domain record
// status changes MUST be checked against their transition table and guard
// the UPDATE on the previous status. Any other UPDATE of a status column
// is a correctness bug.

type Store struct {
	connectionPool *pgxpool.Pool
	now            func() time.Time
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	maxConnections  = 10
	minConnections  = 2
	connectionLimit = time.Hour
)

// NewStore opens the pool and checks the database answers before
// returning.
func NewStore(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolConfig.MaxConns = maxConnections
	poolConfig.MinConns = minConnections
	poolConfig.MaxConnLifetime = connectionLimit

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{connectionPool: pool, now: time.Now}, nil
}

// Pool exposes the connection pool for migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.connectionPool
}

func (s *Store) Close() {
	s.connectionPool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.connectionPool.Ping(ctx)
}

package store

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TransactionFunc runs inside one transaction. Returning an error rolls the
// transaction back.
type TransactionFunc func(tx pgx.Tx) error

// WithTransaction runs fn in a read committed transaction and commits when
// fn returns nil. Row locks taken with FOR UPDATE are held until then.
func (s *Store) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	return pgx.BeginTxFunc(ctx, s.connectionPool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

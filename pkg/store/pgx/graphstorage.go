package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	BeginTx(ctx context.Context, txOptions pgxv5.TxOptions) (pgxv5.Tx, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL.
type GraphDBStorage struct {
	conn   pgxIConn
	txOpts pgxv5.TxOptions
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithIsolation sets the isolation level of every transaction.
func WithIsolation(level pgxv5.TxIsoLevel) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.txOpts.IsoLevel = level
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage using an existing
// pool or connection.
func NewGraphDBStorageWithConnection(
	conn pgxIConn,
	opts ...GraphDBStorageOption,
) *GraphDBStorage {
	s := &GraphDBStorage{
		conn: conn,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

var _ store.GraphStorage = (*GraphDBStorage)(nil)

func (s *GraphDBStorage) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, s.txOpts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&graphTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// graphTx implements store.Tx over one pgx transaction.
type graphTx struct {
	q querier
}

var _ store.Tx = (*graphTx)(nil)

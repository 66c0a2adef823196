package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

const connectionTypeColumns = `key, constraint_type, single_by, allowed_parent_types, allowed_child_types,
	forward_predicate, inverse_predicate`

func scanConnectionType(row pgxv5.Row) (common.ConnectionType, error) {
	var (
		ct         common.ConnectionType
		constraint string
		singleBy   string
	)
	err := row.Scan(
		&ct.Key, &constraint, &singleBy, &ct.AllowedParentTypes, &ct.AllowedChildTypes,
		&ct.ForwardPredicate, &ct.InversePredicate,
	)
	ct.Constraint = common.Constraint(constraint)
	ct.SingleBy = common.SingleSide(singleBy)
	return ct, err
}

func (t *graphTx) GetConnectionType(ctx context.Context, key string) (common.ConnectionType, error) {
	row := t.q.QueryRow(ctx, `SELECT `+connectionTypeColumns+` FROM connection_types WHERE key = $1`, key)
	ct, err := scanConnectionType(row)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.ConnectionType{}, fmt.Errorf("connection type %s: %w", key, store.ErrNotFound)
		}
		return common.ConnectionType{}, err
	}
	return ct, nil
}

func (t *graphTx) ListConnectionTypes(ctx context.Context) ([]common.ConnectionType, error) {
	rows, err := t.q.Query(ctx, `SELECT `+connectionTypeColumns+` FROM connection_types ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.ConnectionType
	for rows.Next() {
		ct, err := scanConnectionType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ct)
	}
	return out, rows.Err()
}

func (t *graphTx) UpsertConnectionType(ctx context.Context, ct common.ConnectionType) error {
	parents := ct.AllowedParentTypes
	if parents == nil {
		parents = []string{}
	}
	children := ct.AllowedChildTypes
	if children == nil {
		children = []string{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO connection_types (`+connectionTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			constraint_type = EXCLUDED.constraint_type,
			single_by = EXCLUDED.single_by,
			allowed_parent_types = EXCLUDED.allowed_parent_types,
			allowed_child_types = EXCLUDED.allowed_child_types,
			forward_predicate = EXCLUDED.forward_predicate,
			inverse_predicate = EXCLUDED.inverse_predicate`,
		ct.Key, string(ct.Constraint), string(ct.SingleBy), parents, children,
		ct.ForwardPredicate, ct.InversePredicate)
	if err != nil {
		return fmt.Errorf("upsert connection type %s: %w", ct.Key, err)
	}
	return nil
}

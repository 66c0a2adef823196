package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

const connectionTypeColumns = `key, constraint_type, single_by, allowed_parent_types, allowed_child_types,
	forward_predicate, inverse_predicate`

func scanConnectionType(row scanner) (common.ConnectionType, error) {
	var (
		ct                common.ConnectionType
		constraint        string
		singleBy          string
		parents, children string
	)
	err := row.Scan(&ct.Key, &constraint, &singleBy, &parents, &children,
		&ct.ForwardPredicate, &ct.InversePredicate)
	if err != nil {
		return common.ConnectionType{}, err
	}
	ct.Constraint = common.Constraint(constraint)
	ct.SingleBy = common.SingleSide(singleBy)
	if err := json.Unmarshal([]byte(parents), &ct.AllowedParentTypes); err != nil {
		return common.ConnectionType{}, fmt.Errorf("connection type %s: parent types: %w", ct.Key, err)
	}
	if err := json.Unmarshal([]byte(children), &ct.AllowedChildTypes); err != nil {
		return common.ConnectionType{}, fmt.Errorf("connection type %s: child types: %w", ct.Key, err)
	}
	return ct, nil
}

func encodeTypes(types []string) (string, error) {
	if types == nil {
		types = []string{}
	}
	raw, err := json.Marshal(types)
	return string(raw), err
}

func (t *repoTx) GetConnectionType(ctx context.Context, key string) (common.ConnectionType, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+connectionTypeColumns+` FROM connection_types WHERE key = ?`, key)
	ct, err := scanConnectionType(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ConnectionType{}, fmt.Errorf("connection type %s: %w", key, store.ErrNotFound)
		}
		return common.ConnectionType{}, err
	}
	return ct, nil
}

func (t *repoTx) ListConnectionTypes(ctx context.Context) ([]common.ConnectionType, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+connectionTypeColumns+` FROM connection_types ORDER BY key`)
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

func (t *repoTx) UpsertConnectionType(ctx context.Context, ct common.ConnectionType) error {
	parents, err := encodeTypes(ct.AllowedParentTypes)
	if err != nil {
		return err
	}
	children, err := encodeTypes(ct.AllowedChildTypes)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO connection_types (`+connectionTypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			constraint_type = excluded.constraint_type,
			single_by = excluded.single_by,
			allowed_parent_types = excluded.allowed_parent_types,
			allowed_child_types = excluded.allowed_child_types,
			forward_predicate = excluded.forward_predicate,
			inverse_predicate = excluded.inverse_predicate`,
		ct.Key, string(ct.Constraint), string(ct.SingleBy), parents, children,
		ct.ForwardPredicate, ct.InversePredicate)
	if err != nil {
		return fmt.Errorf("upsert connection type %s: %w", ct.Key, err)
	}
	return nil
}

package pgx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

const connectionColumns = `id, parent_id, child_id, type, span_id, created_at`

func scanConnection(row pgxv5.Row) (common.Connection, error) {
	var c common.Connection
	err := row.Scan(&c.ID, &c.ParentID, &c.ChildID, &c.Type, &c.SpanID, &c.CreatedAt)
	return c, err
}

// buildConnectionQuery renders the WHERE clause for a filter. An empty
// filter selects every connection.
func buildConnectionQuery(f store.ConnectionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("parent_id", f.ParentID)
	add("child_id", f.ChildID)
	add("span_id", f.SpanID)
	add("type", f.Type)

	sql := `SELECT ` + connectionColumns + ` FROM connections`
	if len(conds) > 0 {
		sql += ` WHERE ` + strings.Join(conds, " AND ")
	}
	sql += ` ORDER BY created_at, id`
	return sql, args
}

func (t *graphTx) GetConnection(ctx context.Context, id string) (common.Connection, error) {
	row := t.q.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = $1`, id)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.Connection{}, fmt.Errorf("connection %s: %w", id, store.ErrNotFound)
		}
		return common.Connection{}, err
	}
	return c, nil
}

func (t *graphTx) ListConnections(ctx context.Context, filter store.ConnectionFilter) ([]common.Connection, error) {
	sql, args := buildConnectionQuery(filter)
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *graphTx) CountIncidentConnections(ctx context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.q.Query(ctx, `
		SELECT id, count(*) FROM (
			SELECT parent_id AS id FROM connections WHERE parent_id = ANY($1)
			UNION ALL
			SELECT child_id AS id FROM connections WHERE child_id = ANY($1)
		) incident
		GROUP BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    string
			count int64
		)
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		out[id] = int(count)
	}
	return out, rows.Err()
}

func (t *graphTx) InsertConnection(ctx context.Context, c common.Connection) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.ParentID, c.ChildID, c.Type, c.SpanID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert connection %s: %w", c.ID, err)
	}
	return nil
}

func (t *graphTx) UpdateConnection(ctx context.Context, c common.Connection) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE connections SET parent_id = $2, child_id = $3, type = $4, span_id = $5
		WHERE id = $1`,
		c.ID, c.ParentID, c.ChildID, c.Type, c.SpanID)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("connection %s: %w", c.ID, store.ErrNotFound)
	}
	return nil
}

func (t *graphTx) DeleteConnections(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM connections WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete connections: %w", err)
	}
	return tag.RowsAffected(), nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

const connectionColumns = `id, parent_id, child_id, type, span_id, created_at`

func scanConnection(row scanner) (common.Connection, error) {
	var (
		c       common.Connection
		created int64
	)
	if err := row.Scan(&c.ID, &c.ParentID, &c.ChildID, &c.Type, &c.SpanID, &created); err != nil {
		return common.Connection{}, err
	}
	c.CreatedAt = fromNanos(created)
	return c, nil
}

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
		conds = append(conds, col+" = ?")
	}
	add("parent_id", f.ParentID)
	add("child_id", f.ChildID)
	add("span_id", f.SpanID)
	add("type", f.Type)

	q := `SELECT ` + connectionColumns + ` FROM connections`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at, id`
	return q, args
}

func (t *repoTx) GetConnection(ctx context.Context, id string) (common.Connection, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+connectionColumns+` FROM connections WHERE id = ?`, id)
	c, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Connection{}, fmt.Errorf("connection %s: %w", id, store.ErrNotFound)
		}
		return common.Connection{}, err
	}
	return c, nil
}

func (t *repoTx) ListConnections(ctx context.Context, filter store.ConnectionFilter) ([]common.Connection, error) {
	q, args := buildConnectionQuery(filter)
	rows, err := t.tx.QueryContext(ctx, q, args...)
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

func (t *repoTx) CountIncidentConnections(ctx context.Context, ids []string) (map[string]int, error) {
	ids = store.DedupeStrings(ids)
	out := make(map[string]int, len(ids))
	// Each id is bound twice, once per side.
	err := store.ChunkRange(len(ids), maxVars/2, func(start, end int) error {
		chunk := ids[start:end]
		ph := placeholders(len(chunk))
		args := append(stringArgs(chunk), stringArgs(chunk)...)
		rows, err := t.tx.QueryContext(ctx, `
			SELECT span_id, count(*) FROM (
				SELECT parent_id AS span_id FROM connections WHERE parent_id IN (`+ph+`)
				UNION ALL
				SELECT child_id AS span_id FROM connections WHERE child_id IN (`+ph+`)
			) GROUP BY span_id`, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id string
				n  int
			)
			if err := rows.Scan(&id, &n); err != nil {
				return err
			}
			out[id] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *repoTx) InsertConnection(ctx context.Context, c common.Connection) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO connections (`+connectionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.ParentID, c.ChildID, c.Type, c.SpanID, toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert connection %s: %w", c.ID, err)
	}
	return nil
}

func (t *repoTx) UpdateConnection(ctx context.Context, c common.Connection) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE connections SET parent_id = ?, child_id = ?, type = ?, span_id = ?
		WHERE id = ?`,
		c.ParentID, c.ChildID, c.Type, c.SpanID, c.ID)
	if err != nil {
		return fmt.Errorf("update connection %s: %w", c.ID, err)
	}
	return requireRow(res, "connection", c.ID)
}

func (t *repoTx) DeleteConnections(ctx context.Context, ids []string) (int64, error) {
	ids = store.DedupeStrings(ids)
	var total int64
	err := store.ChunkRange(len(ids), maxVars, func(start, end int) error {
		chunk := ids[start:end]
		res, err := t.tx.ExecContext(ctx,
			`DELETE FROM connections WHERE id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("delete connections: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	return total, err
}

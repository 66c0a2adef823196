package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

const spanColumns = `id, type, name, description,
	start_year, start_month, start_day,
	end_year, end_month, end_day,
	access_level, metadata, sources, owner_id, updater_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpan(row scanner) (common.Span, error) {
	var (
		s          common.Span
		sy, sm, sd sql.NullInt64
		ey, em, ed sql.NullInt64
		access     string
		md, src    string
		created    int64
		updated    int64
	)
	err := row.Scan(
		&s.ID, &s.Type, &s.Name, &s.Description,
		&sy, &sm, &sd,
		&ey, &em, &ed,
		&access, &md, &src, &s.OwnerID, &s.UpdaterID, &created, &updated,
	)
	if err != nil {
		return common.Span{}, err
	}
	s.Start = dateFromColumns(sy, sm, sd)
	s.End = dateFromColumns(ey, em, ed)
	s.AccessLevel = common.AccessLevel(access)
	s.CreatedAt = fromNanos(created)
	s.UpdatedAt = fromNanos(updated)
	if s.Metadata, err = common.UnmarshalMetadata([]byte(md)); err != nil {
		return common.Span{}, fmt.Errorf("span %s: invalid metadata: %w", s.ID, err)
	}
	if src != "" {
		if err := json.Unmarshal([]byte(src), &s.Sources); err != nil {
			return common.Span{}, fmt.Errorf("span %s: invalid sources: %w", s.ID, err)
		}
	}
	return s, nil
}

func collectSpans(rows *sql.Rows) ([]common.Span, error) {
	defer rows.Close()
	var out []common.Span
	for rows.Next() {
		s, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func dateFromColumns(y, m, d sql.NullInt64) *common.Date {
	if !y.Valid {
		return nil
	}
	out := common.Date{Year: int(y.Int64)}
	if m.Valid {
		out.Month = int(m.Int64)
		if d.Valid {
			out.Day = int(d.Int64)
		}
	}
	return &out
}

func dateColumns(d *common.Date) (any, any, any) {
	if d == nil {
		return nil, nil, nil
	}
	var month, day any
	if d.Month != 0 {
		month = d.Month
		if d.Day != 0 {
			day = d.Day
		}
	}
	return d.Year, month, day
}

// Timestamps are stored as unix nanoseconds so ordering is exact.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func spanArgs(s common.Span) ([]any, error) {
	md, err := common.MarshalMetadata(s.Metadata)
	if err != nil {
		return nil, fmt.Errorf("span %s: encode metadata: %w", s.ID, err)
	}
	sources := s.Sources
	if sources == nil {
		sources = []common.Source{}
	}
	src, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("span %s: encode sources: %w", s.ID, err)
	}
	sy, sm, sd := dateColumns(s.Start)
	ey, em, ed := dateColumns(s.End)
	access := s.AccessLevel
	if access == "" {
		access = common.AccessPrivate
	}
	return []any{
		s.ID, s.Type, s.Name, s.Description,
		sy, sm, sd,
		ey, em, ed,
		string(access), string(md), string(src), s.OwnerID, s.UpdaterID,
		toNanos(s.CreatedAt), toNanos(s.UpdatedAt),
	}, nil
}

// foldName lowercases name with full Unicode rules; SQLite's NOCASE only
// folds ASCII.
func foldName(name string) string {
	return cases.Lower(language.Und).String(name)
}

// jsonPath quotes a metadata key for json_extract.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func (t *repoTx) GetSpan(ctx context.Context, id string) (common.Span, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+spanColumns+` FROM spans WHERE id = ?`, id)
	s, err := scanSpan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Span{}, fmt.Errorf("span %s: %w", id, store.ErrNotFound)
		}
		return common.Span{}, err
	}
	return s, nil
}

func (t *repoTx) GetSpans(ctx context.Context, ids []string) ([]common.Span, error) {
	ids = store.DedupeStrings(ids)
	var out []common.Span
	err := store.ChunkRange(len(ids), maxVars, func(start, end int) error {
		chunk := ids[start:end]
		rows, err := t.tx.QueryContext(ctx,
			`SELECT `+spanColumns+` FROM spans WHERE id IN (`+placeholders(len(chunk))+`) ORDER BY created_at, id`,
			stringArgs(chunk)...)
		if err != nil {
			return err
		}
		spans, err := collectSpans(rows)
		if err != nil {
			return err
		}
		out = append(out, spans...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (t *repoTx) FindSpansByExternalID(ctx context.Context, key, value string) ([]common.Span, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE json_extract(metadata, ?) = ? AND type <> 'connection'
		ORDER BY created_at, id`, jsonPath(key), value)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *repoTx) FindSpansByName(ctx context.Context, typ, name string) ([]common.Span, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE type = ? AND name_folded = ?
		ORDER BY created_at, id`, typ, foldName(name))
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *repoTx) FindSpansReferencing(ctx context.Context, needle string) ([]common.Span, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE instr(metadata, ?) > 0
		ORDER BY created_at, id`, needle)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *repoTx) ListDuplicateSpans(ctx context.Context) ([]common.Span, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE type <> 'connection'
		  AND (type, coalesce(json_extract(metadata, '$.subtype'), ''), name) IN (
			SELECT type, coalesce(json_extract(metadata, '$.subtype'), ''), name
			FROM spans
			WHERE type <> 'connection'
			GROUP BY 1, 2, 3
			HAVING count(*) > 1
		  )
		ORDER BY type, coalesce(json_extract(metadata, '$.subtype'), ''), name, created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *repoTx) InsertSpan(ctx context.Context, span common.Span) error {
	args, err := spanArgs(span)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO spans (`+spanColumns+`, name_folded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		append(args, foldName(span.Name))...)
	if err != nil {
		return fmt.Errorf("insert span %s: %w", span.ID, err)
	}
	return nil
}

func (t *repoTx) UpdateSpan(ctx context.Context, span common.Span) error {
	args, err := spanArgs(span)
	if err != nil {
		return err
	}
	// Rotate id to the end and drop created_at.
	params := append(args[1:15:15], args[16], foldName(span.Name), args[0])
	res, err := t.tx.ExecContext(ctx, `
		UPDATE spans SET
			type = ?, name = ?, description = ?,
			start_year = ?, start_month = ?, start_day = ?,
			end_year = ?, end_month = ?, end_day = ?,
			access_level = ?, metadata = ?, sources = ?,
			owner_id = ?, updater_id = ?, updated_at = ?, name_folded = ?
		WHERE id = ?`,
		params...)
	if err != nil {
		return fmt.Errorf("update span %s: %w", span.ID, err)
	}
	return requireRow(res, "span", span.ID)
}

func (t *repoTx) UpdateSpanMetadata(ctx context.Context, id string, md common.Metadata) error {
	raw, err := common.MarshalMetadata(md)
	if err != nil {
		return fmt.Errorf("span %s: encode metadata: %w", id, err)
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE spans SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(raw), toNanos(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update span metadata %s: %w", id, err)
	}
	return requireRow(res, "span", id)
}

func (t *repoTx) DeleteSpans(ctx context.Context, ids []string) (int64, error) {
	ids = store.DedupeStrings(ids)
	var total int64
	err := store.ChunkRange(len(ids), maxVars, func(start, end int) error {
		chunk := ids[start:end]
		res, err := t.tx.ExecContext(ctx,
			`DELETE FROM spans WHERE id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return fmt.Errorf("delete spans: %w", err)
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

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
	}
	return nil
}

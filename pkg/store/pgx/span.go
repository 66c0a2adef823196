package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

const spanColumns = `id, type, name, description,
	start_year, start_month, start_day,
	end_year, end_month, end_day,
	access_level, metadata, sources, owner_id, updater_id, created_at, updated_at`

func scanSpan(row pgxv5.Row) (common.Span, error) {
	var (
		s          common.Span
		sy, sm, sd *int
		ey, em, ed *int
		access     string
		md, src    []byte
	)
	err := row.Scan(
		&s.ID, &s.Type, &s.Name, &s.Description,
		&sy, &sm, &sd,
		&ey, &em, &ed,
		&access, &md, &src, &s.OwnerID, &s.UpdaterID, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return common.Span{}, err
	}
	s.Start = dateFromColumns(sy, sm, sd)
	s.End = dateFromColumns(ey, em, ed)
	s.AccessLevel = common.AccessLevel(access)
	if s.Metadata, err = common.UnmarshalMetadata(md); err != nil {
		return common.Span{}, fmt.Errorf("span %s: invalid metadata: %w", s.ID, err)
	}
	if len(src) > 0 {
		if err := json.Unmarshal(src, &s.Sources); err != nil {
			return common.Span{}, fmt.Errorf("span %s: invalid sources: %w", s.ID, err)
		}
	}
	return s, nil
}

func collectSpans(rows pgxv5.Rows) ([]common.Span, error) {
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

func dateFromColumns(y, m, d *int) *common.Date {
	if y == nil {
		return nil
	}
	out := common.Date{Year: *y}
	if m != nil {
		out.Month = *m
		if d != nil {
			out.Day = *d
		}
	}
	return &out
}

// dateColumns splits a date into nullable year, month and day arguments.
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
		string(access), string(md), string(src), s.OwnerID, s.UpdaterID, s.CreatedAt, s.UpdatedAt,
	}, nil
}

func (t *graphTx) GetSpan(ctx context.Context, id string) (common.Span, error) {
	row := t.q.QueryRow(ctx, `SELECT `+spanColumns+` FROM spans WHERE id = $1`, id)
	s, err := scanSpan(row)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.Span{}, fmt.Errorf("span %s: %w", id, store.ErrNotFound)
		}
		return common.Span{}, err
	}
	return s, nil
}

func (t *graphTx) GetSpans(ctx context.Context, ids []string) ([]common.Span, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+spanColumns+` FROM spans WHERE id = ANY($1) ORDER BY created_at, id`, ids)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *graphTx) FindSpansByExternalID(ctx context.Context, key, value string) ([]common.Span, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE metadata->>$1 = $2 AND type <> 'connection'
		ORDER BY created_at, id`, key, value)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *graphTx) FindSpansByName(ctx context.Context, typ, name string) ([]common.Span, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE type = $1 AND lower(name) = lower($2)
		ORDER BY created_at, id`, typ, name)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *graphTx) FindSpansReferencing(ctx context.Context, needle string) ([]common.Span, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE strpos(metadata::text, $1) > 0
		ORDER BY created_at, id`, needle)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *graphTx) ListDuplicateSpans(ctx context.Context) ([]common.Span, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+spanColumns+` FROM spans
		WHERE type <> 'connection'
		  AND (type, coalesce(metadata->>'subtype', ''), name) IN (
			SELECT type, coalesce(metadata->>'subtype', ''), name
			FROM spans
			WHERE type <> 'connection'
			GROUP BY 1, 2, 3
			HAVING count(*) > 1
		  )
		ORDER BY type, coalesce(metadata->>'subtype', ''), name, created_at, id`)
	if err != nil {
		return nil, err
	}
	return collectSpans(rows)
}

func (t *graphTx) InsertSpan(ctx context.Context, span common.Span) error {
	args, err := spanArgs(span)
	if err != nil {
		return err
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO spans (`+spanColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14, $15, $16, $17)`,
		args...)
	if err != nil {
		return fmt.Errorf("insert span %s: %w", span.ID, err)
	}
	return nil
}

func (t *graphTx) UpdateSpan(ctx context.Context, span common.Span) error {
	args, err := spanArgs(span)
	if err != nil {
		return err
	}
	// created_at is immutable; drop it from the argument list.
	args = append(args[:15:15], args[16])
	tag, err := t.q.Exec(ctx, `
		UPDATE spans SET
			type = $2, name = $3, description = $4,
			start_year = $5, start_month = $6, start_day = $7,
			end_year = $8, end_month = $9, end_day = $10,
			access_level = $11, metadata = $12::jsonb, sources = $13::jsonb,
			owner_id = $14, updater_id = $15, updated_at = $16
		WHERE id = $1`,
		args...)
	if err != nil {
		return fmt.Errorf("update span %s: %w", span.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("span %s: %w", span.ID, store.ErrNotFound)
	}
	return nil
}

func (t *graphTx) UpdateSpanMetadata(ctx context.Context, id string, md common.Metadata) error {
	raw, err := common.MarshalMetadata(md)
	if err != nil {
		return fmt.Errorf("span %s: encode metadata: %w", id, err)
	}
	tag, err := t.q.Exec(ctx, `UPDATE spans SET metadata = $2::jsonb, updated_at = now() WHERE id = $1`, id, string(raw))
	if err != nil {
		return fmt.Errorf("update span metadata %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("span %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (t *graphTx) DeleteSpans(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.q.Exec(ctx, `DELETE FROM spans WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete spans: %w", err)
	}
	return tag.RowsAffected(), nil
}

package pgx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

func intp(v int) *int { return &v }

func TestDateColumnsRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   *common.Date
	}{
		{name: "nil", in: nil},
		{name: "year", in: &common.Date{Year: 1815}},
		{name: "month", in: &common.Date{Year: 1815, Month: 12}},
		{name: "day", in: &common.Date{Year: 1815, Month: 12, Day: 10}},
		{name: "bce", in: &common.Date{Year: -43, Month: 3, Day: 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			y, m, d := dateColumns(tt.in)
			var yp, mp, dp *int
			if y != nil {
				yp = intp(y.(int))
			}
			if m != nil {
				mp = intp(m.(int))
			}
			if d != nil {
				dp = intp(d.(int))
			}
			assert.Equal(t, tt.in, dateFromColumns(yp, mp, dp))
		})
	}
}

func TestDateFromColumnsIgnoresDayWithoutMonth(t *testing.T) {
	got := dateFromColumns(intp(1900), nil, intp(3))
	require.NotNil(t, got)
	assert.Equal(t, common.Date{Year: 1900}, *got)
}

func TestBuildConnectionQuery(t *testing.T) {
	sql, args := buildConnectionQuery(store.ConnectionFilter{})
	assert.NotContains(t, sql, "WHERE")
	assert.Empty(t, args)

	sql, args = buildConnectionQuery(store.ConnectionFilter{ParentID: "p", Type: "created"})
	assert.Contains(t, sql, "WHERE parent_id = $1 AND type = $2")
	assert.Equal(t, []any{"p", "created"}, args)

	sql, args = buildConnectionQuery(store.ConnectionFilter{SpanID: "s"})
	assert.Contains(t, sql, "WHERE span_id = $1")
	assert.Equal(t, []any{"s"}, args)
}

func TestSpanArgsDefaults(t *testing.T) {
	args, err := spanArgs(common.Span{ID: "a", Type: "person", Name: "Ada"})
	require.NoError(t, err)
	require.Len(t, args, 17)
	assert.Equal(t, string(common.AccessPrivate), args[10])
	assert.Equal(t, "{}", args[11])
	assert.Equal(t, "[]", args[12])
}

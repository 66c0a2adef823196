package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
	"github.com/OFFIS-RIT/spans/pkg/store/sqlite"
)

var tester = common.Actor{ID: "user-1"}

// stepClock advances one second per reading so creation order is strict.
type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestClient(t *testing.T, mutate ...func(*NewGraphClientParams)) (*GraphClient, *sqlite.Repository) {
	t.Helper()
	repo, err := sqlite.NewRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.EnsureSchema(context.Background()))

	params := NewGraphClientParams{Storage: repo}
	for _, m := range mutate {
		m(&params)
	}
	g, err := NewGraphClient(params)
	require.NoError(t, err)

	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	g.now = clock.now

	require.NoError(t, g.SeedConnectionTypes(context.Background()))
	return g, repo
}

func resolve(t *testing.T, g *GraphClient, c Candidate) ResolveResult {
	t.Helper()
	res, err := g.Resolve(context.Background(), tester, c)
	require.NoError(t, err)
	return res
}

func spanOf(t *testing.T, g *GraphClient, typ, name string, md common.Metadata) common.Span {
	t.Helper()
	return resolve(t, g, Candidate{Type: typ, Name: name, Metadata: md}).Span
}

func connect(t *testing.T, g *GraphClient, parent, child, typ string) ConnectResult {
	t.Helper()
	res, err := g.Connect(context.Background(), tester, common.ConnectionDraft{
		ParentID: parent, ChildID: child, Type: typ,
	})
	require.NoError(t, err)
	return res
}

// insertConnection writes a connection and its relationship-span directly,
// bypassing validation, to build graph states importers could leave behind.
func insertConnection(t *testing.T, g *GraphClient, id, parent, child, typ, spanID string) {
	t.Helper()
	err := g.storage.WithTx(context.Background(), func(tx store.Tx) error {
		if _, err := tx.GetSpan(context.Background(), spanID); store.IsNotFound(err) {
			now := g.now()
			if err := tx.InsertSpan(context.Background(), common.Span{
				ID: spanID, Type: common.TypeConnection, Name: typ,
				Metadata: common.Metadata{}, CreatedAt: now, UpdatedAt: now,
			}); err != nil {
				return err
			}
		}
		return tx.InsertConnection(context.Background(), common.Connection{
			ID: id, ParentID: parent, ChildID: child, Type: typ, SpanID: spanID, CreatedAt: g.now(),
		})
	})
	require.NoError(t, err)
}

func getSpan(t *testing.T, g *GraphClient, id string) (common.Span, error) {
	t.Helper()
	var s common.Span
	err := g.storage.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		s, err = tx.GetSpan(context.Background(), id)
		return err
	})
	return s, err
}

func allConnections(t *testing.T, g *GraphClient) []common.Connection {
	t.Helper()
	var out []common.Connection
	err := g.storage.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		out, err = tx.ListConnections(context.Background(), store.ConnectionFilter{})
		return err
	})
	require.NoError(t, err)
	return out
}

func date(y, m, d int) *common.Date {
	return &common.Date{Year: y, Month: m, Day: d}
}

// relationshipSpans lists relationship-spans created for connection type typ.
func relationshipSpans(t *testing.T, g *GraphClient, typ string) []common.Span {
	t.Helper()
	var out []common.Span
	err := g.storage.WithTx(context.Background(), func(tx store.Tx) error {
		found, err := tx.FindSpansReferencing(context.Background(), typ)
		if err != nil {
			return err
		}
		for _, s := range found {
			if s.Type == common.TypeConnection && s.Metadata.GetString(common.MetaConnectionType) == typ {
				out = append(out, s)
			}
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

// insertSpan stores a span directly so duplicates the resolver would
// reconcile can be set up.
func insertSpan(t *testing.T, g *GraphClient, id, typ, name string, md common.Metadata) common.Span {
	t.Helper()
	if md == nil {
		md = common.Metadata{}
	}
	now := g.now()
	s := common.Span{
		ID: id, Type: typ, Name: name, Metadata: md,
		AccessLevel: common.AccessPrivate, CreatedAt: now, UpdatedAt: now,
	}
	err := g.storage.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.InsertSpan(context.Background(), s)
	})
	require.NoError(t, err)
	return s
}

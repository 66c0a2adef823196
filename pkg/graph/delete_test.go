package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

func TestDeleteSpan_RemovesIncidentConnections(t *testing.T) {
	g, _ := newTestClient(t)
	ctx := context.Background()

	a := spanOf(t, g, common.TypePerson, "A", nil)
	b := spanOf(t, g, common.TypePerson, "B", nil)
	c := spanOf(t, g, common.TypePerson, "C", nil)
	ab := connect(t, g, a.ID, b.ID, "family")
	ca := connect(t, g, c.ID, a.ID, "family")
	bc := connect(t, g, b.ID, c.ID, "family")

	res, err := g.DeleteSpan(ctx, tester, a.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ab.Connection.ID, ca.Connection.ID}, res.DeletedConnections)
	assert.ElementsMatch(t, []string{ab.Connection.SpanID, ca.Connection.SpanID}, res.DeletedRelationshipSpans)

	conns := allConnections(t, g)
	require.Len(t, conns, 1)
	assert.Equal(t, bc.Connection.ID, conns[0].ID)

	for _, id := range append(res.DeletedRelationshipSpans, a.ID) {
		_, err := getSpan(t, g, id)
		assert.ErrorIs(t, err, common.ErrNotFound)
	}
}

func TestDeleteSpan_RelationshipSpanDeletesConnection(t *testing.T) {
	g, _ := newTestClient(t)
	a := spanOf(t, g, common.TypePerson, "A", nil)
	b := spanOf(t, g, common.TypePerson, "B", nil)
	ab := connect(t, g, a.ID, b.ID, "family")

	res, err := g.DeleteSpan(context.Background(), tester, ab.Connection.SpanID)
	require.NoError(t, err)
	assert.Equal(t, []string{ab.Connection.ID}, res.DeletedConnections)
	assert.Empty(t, allConnections(t, g))

	_, err = getSpan(t, g, a.ID)
	assert.NoError(t, err)
}

func TestDeleteSpan_NotFound(t *testing.T) {
	g, _ := newTestClient(t)
	_, err := g.DeleteSpan(context.Background(), tester, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

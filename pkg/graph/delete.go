package graph

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

type DeleteResult struct {
	SpanID                   string   `json:"span_id"`
	DeletedConnections       []string `json:"deleted_connections,omitempty"`
	DeletedRelationshipSpans []string `json:"deleted_relationship_spans,omitempty"`
}

// DeleteSpan removes a span with its incident connections and their
// relationship-spans. Deleting a relationship-span removes the connection
// it backs.
func (g *GraphClient) DeleteSpan(ctx context.Context, actor common.Actor, id string) (DeleteResult, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("delete", start)

	res := DeleteResult{SpanID: id}
	err := g.withLocks(ctx, []string{lockKey(id)}, func(ctx context.Context) error {
		return g.storage.WithTx(ctx, func(tx store.Tx) error {
			span, err := tx.GetSpan(ctx, id)
			if err != nil {
				return err
			}

			var conns []common.Connection
			if span.Type == common.TypeConnection {
				conns, err = tx.ListConnections(ctx, store.ConnectionFilter{SpanID: id})
				if err != nil {
					return err
				}
			} else {
				for _, f := range []store.ConnectionFilter{{ParentID: id}, {ChildID: id}} {
					found, err := tx.ListConnections(ctx, f)
					if err != nil {
						return err
					}
					conns = append(conns, found...)
				}
				for _, c := range conns {
					res.DeletedRelationshipSpans = append(res.DeletedRelationshipSpans, c.SpanID)
				}
			}

			res.DeletedConnections = store.ConnectionIDs(conns)
			if _, err := tx.DeleteConnections(ctx, res.DeletedConnections); err != nil {
				return err
			}
			_, err = tx.DeleteSpans(ctx, append([]string{id}, res.DeletedRelationshipSpans...))
			return err
		})
	})
	if err != nil {
		logger.Error("[Delete] Failed to delete span", "id", id, "err", err)
		return DeleteResult{}, err
	}

	logger.Info("[Delete] Deleted span",
		"id", id, "actor", actor.ID, "connections", len(res.DeletedConnections))
	return res, nil
}

func lockKey(spanID string) string {
	return "span/" + spanID
}

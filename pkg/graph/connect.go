package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

type ConnectResult struct {
	Connection       common.Connection `json:"connection"`
	RelationshipSpan common.Span       `json:"relationship_span"`
	// Duplicate marks an identical single connection that already existed;
	// nothing was written.
	Duplicate bool `json:"duplicate,omitempty"`
}

// errDuplicateConnection rolls back the tentative relationship-span of a
// draft that turned out to be an existing connection.
var errDuplicateConnection = errors.New("duplicate connection")

// Connect persists draft as a connection together with its
// relationship-span. The span is written first and validation runs before
// the connection insert; a rejected draft rolls both back and is returned
// as *common.Violation.
func (g *GraphClient) Connect(ctx context.Context, actor common.Actor, draft common.ConnectionDraft) (ConnectResult, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("connect", start)

	draft.Start, draft.End = common.NormalizeDate(draft.Start), common.NormalizeDate(draft.End)

	var (
		res       ConnectResult
		validated ValidationResult
	)
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		now := g.now()
		spanID, err := g.newID()
		if err != nil {
			return fmt.Errorf("generate span id: %w", err)
		}
		connID, err := g.newID()
		if err != nil {
			return fmt.Errorf("generate connection id: %w", err)
		}

		span := common.Span{
			ID:          spanID,
			Type:        common.TypeConnection,
			Name:        draft.Type,
			Start:       cloneDate(draft.Start),
			End:         cloneDate(draft.End),
			AccessLevel: common.AccessPrivate,
			Metadata:    common.Metadata{common.MetaConnectionType: common.String(draft.Type)},
			OwnerID:     actor.ID,
			UpdaterID:   actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertSpan(ctx, span); err != nil {
			return err
		}

		validated, err = g.validateTx(ctx, tx, draft)
		if err != nil {
			return err
		}
		if validated.Violation != nil {
			return validated.Violation
		}
		if validated.Duplicate != nil {
			res.Connection = *validated.Duplicate
			res.Duplicate = true
			return errDuplicateConnection
		}

		if validated.ClearDates {
			span.Start, span.End = nil, nil
		}
		parent, err := tx.GetSpan(ctx, draft.ParentID)
		if err != nil {
			return err
		}
		child, err := tx.GetSpan(ctx, draft.ChildID)
		if err != nil {
			return err
		}
		span.Name = validated.Type.Forward(parent.Name, child.Name)
		span.UpdatedAt = now
		if err := tx.UpdateSpan(ctx, span); err != nil {
			return err
		}

		conn := common.Connection{
			ID:        connID,
			ParentID:  draft.ParentID,
			ChildID:   draft.ChildID,
			Type:      draft.Type,
			SpanID:    span.ID,
			CreatedAt: now,
		}
		if err := tx.InsertConnection(ctx, conn); err != nil {
			return err
		}
		res.Connection = conn
		res.RelationshipSpan = span
		return nil
	})

	if errors.Is(err, errDuplicateConnection) {
		g.metrics.ObserveValidate("duplicate")
		if err := g.loadRelationshipSpan(ctx, &res); err != nil {
			return ConnectResult{}, err
		}
		logger.Debug("[Connect] Connection already exists", "id", res.Connection.ID, "type", draft.Type)
		return res, nil
	}
	if err != nil {
		var v *common.Violation
		if errors.As(err, &v) {
			g.metrics.ObserveValidate(v.Code())
			logger.Debug("[Connect] Connection rejected",
				"type", draft.Type, "parent", draft.ParentID, "child", draft.ChildID, "reason", v.Error())
			return ConnectResult{}, v
		}
		logger.Error("[Connect] Failed to create connection", "type", draft.Type, "err", err)
		return ConnectResult{}, err
	}

	g.metrics.ObserveValidate(validated.label())
	logger.Debug("[Connect] Created connection",
		"id", res.Connection.ID, "type", draft.Type, "parent", draft.ParentID, "child", draft.ChildID)
	return res, nil
}

func (g *GraphClient) loadRelationshipSpan(ctx context.Context, res *ConnectResult) error {
	return g.storage.WithTx(ctx, func(tx store.Tx) error {
		span, err := tx.GetSpan(ctx, res.Connection.SpanID)
		if err != nil {
			return err
		}
		res.RelationshipSpan = span
		return nil
	})
}

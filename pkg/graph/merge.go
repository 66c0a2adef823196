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

// MergeResult counts what a merge changed, or would change for a preview.
type MergeResult struct {
	TargetID string `json:"target_id"`
	SourceID string `json:"source_id"`
	Preview  bool   `json:"preview,omitempty"`

	ReassignedParents  []string `json:"reassigned_parents,omitempty"`
	ReassignedChildren []string `json:"reassigned_children,omitempty"`
	ReassignedSpanSlot string   `json:"reassigned_span_slot,omitempty"`

	// DeletedSelfLoops are connections between source and target.
	DeletedSelfLoops []string `json:"deleted_self_loops,omitempty"`
	// DeletedSlotCollisions are connections backed by source whose slot on
	// target was already taken.
	DeletedSlotCollisions []string `json:"deleted_slot_collisions,omitempty"`
	// DeletedRelationshipSpans back the deleted self-loops.
	DeletedRelationshipSpans []string `json:"deleted_relationship_spans,omitempty"`

	RewrittenSpans      []string `json:"rewritten_spans,omitempty"`
	RewrittenReferences int      `json:"rewritten_references"`

	// AbsorbedFields names target fields filled or upgraded from source.
	AbsorbedFields []string `json:"absorbed_fields,omitempty"`
}

func (r MergeResult) DeletedConnections() int {
	return len(r.DeletedSelfLoops) + len(r.DeletedSlotCollisions)
}

// Merge collapses source into target in one transaction. Connections and
// relationship-span slots move to target, metadata references are
// rewritten, source citations and dates are folded into target and source
// is deleted. Any failure rolls everything back and
// is returned as *common.MergeError.
func (g *GraphClient) Merge(ctx context.Context, actor common.Actor, targetID, sourceID string) (MergeResult, error) {
	return g.merge(ctx, actor, targetID, sourceID, false)
}

// PreviewMerge runs the merge in a transaction that is always rolled back.
func (g *GraphClient) PreviewMerge(ctx context.Context, targetID, sourceID string) (MergeResult, error) {
	return g.merge(ctx, common.SystemActor, targetID, sourceID, true)
}

func (g *GraphClient) merge(ctx context.Context, actor common.Actor, targetID, sourceID string, preview bool) (MergeResult, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("merge", start)

	fail := func(err error, opened bool) (MergeResult, error) {
		g.metrics.ObserveMerge("error", 0)
		logger.Error("[Merge] Merge failed", "target", targetID, "source", sourceID, "preview", preview, "err", err)
		return MergeResult{}, &common.MergeError{
			TargetID:   targetID,
			SourceID:   sourceID,
			RolledBack: opened,
			Err:        err,
		}
	}

	if targetID == "" || sourceID == "" {
		return fail(fmt.Errorf("%w: target and source are required", common.ErrNotFound), false)
	}
	if targetID == sourceID {
		return fail(common.ErrSelfMerge, false)
	}

	var (
		res    MergeResult
		opened bool
	)
	work := func(tx store.Tx) error {
		opened = true
		var err error
		res, err = g.mergeTx(ctx, tx, actor, targetID, sourceID)
		return err
	}

	err := g.withLocks(ctx, []string{lockKey(targetID), lockKey(sourceID)}, func(ctx context.Context) error {
		if preview {
			return g.rollbackAfter(ctx, work)
		}
		return g.storage.WithTx(ctx, work)
	})
	if err != nil {
		return fail(err, opened)
	}

	res.Preview = preview
	if preview {
		g.metrics.ObserveMerge("preview", 0)
		return res, nil
	}

	g.metrics.ObserveMerge("success", res.DeletedConnections())
	logger.Info("[Merge] Merged span",
		"target", targetID, "source", sourceID, "actor", actor.ID,
		"reassigned", len(res.ReassignedParents)+len(res.ReassignedChildren),
		"deleted_connections", res.DeletedConnections(),
		"rewritten_references", res.RewrittenReferences)
	return res, nil
}

func (g *GraphClient) mergeTx(ctx context.Context, tx store.Tx, actor common.Actor, targetID, sourceID string) (MergeResult, error) {
	res := MergeResult{TargetID: targetID, SourceID: sourceID}

	target, err := tx.GetSpan(ctx, targetID)
	if err != nil {
		return res, err
	}
	source, err := tx.GetSpan(ctx, sourceID)
	if err != nil {
		return res, err
	}
	if err := checkMergeTypes(target, source); err != nil {
		return res, err
	}

	orphans := make(map[string]struct{})

	// Outgoing edges.
	asParent, err := tx.ListConnections(ctx, store.ConnectionFilter{ParentID: sourceID})
	if err != nil {
		return res, err
	}
	for _, c := range asParent {
		if c.ChildID == targetID {
			res.DeletedSelfLoops = append(res.DeletedSelfLoops, c.ID)
			orphans[c.SpanID] = struct{}{}
			continue
		}
		c.ParentID = targetID
		if err := tx.UpdateConnection(ctx, c); err != nil {
			return res, err
		}
		res.ReassignedParents = append(res.ReassignedParents, c.ID)
	}

	// Incoming edges.
	asChild, err := tx.ListConnections(ctx, store.ConnectionFilter{ChildID: sourceID})
	if err != nil {
		return res, err
	}
	for _, c := range asChild {
		if c.ParentID == targetID {
			res.DeletedSelfLoops = append(res.DeletedSelfLoops, c.ID)
			orphans[c.SpanID] = struct{}{}
			continue
		}
		c.ChildID = targetID
		if err := tx.UpdateConnection(ctx, c); err != nil {
			return res, err
		}
		res.ReassignedChildren = append(res.ReassignedChildren, c.ID)
	}

	if len(res.DeletedSelfLoops) > 0 {
		if _, err := tx.DeleteConnections(ctx, res.DeletedSelfLoops); err != nil {
			return res, err
		}
	}

	// Relationship-span slot. Deleting a self-loop above may have freed
	// target's slot, so occupancy is read after those deletes.
	backedBySource, err := tx.ListConnections(ctx, store.ConnectionFilter{SpanID: sourceID})
	if err != nil {
		return res, err
	}
	if len(backedBySource) > 0 {
		backedByTarget, err := tx.ListConnections(ctx, store.ConnectionFilter{SpanID: targetID})
		if err != nil {
			return res, err
		}
		occupied := len(backedByTarget) > 0
		for _, c := range backedBySource {
			if occupied {
				res.DeletedSlotCollisions = append(res.DeletedSlotCollisions, c.ID)
				continue
			}
			c.SpanID = targetID
			if err := tx.UpdateConnection(ctx, c); err != nil {
				return res, err
			}
			res.ReassignedSpanSlot = c.ID
			occupied = true
		}
		if len(res.DeletedSlotCollisions) > 0 {
			if _, err := tx.DeleteConnections(ctx, res.DeletedSlotCollisions); err != nil {
				return res, err
			}
		}
	}

	// Soft references anywhere in metadata.
	referencing, err := tx.FindSpansReferencing(ctx, sourceID)
	if err != nil {
		return res, err
	}
	for _, s := range referencing {
		if s.ID == sourceID {
			continue
		}
		if _, ok := orphans[s.ID]; ok {
			continue
		}
		md, n := s.Metadata.ReplaceString(sourceID, targetID)
		if n == 0 {
			continue
		}
		if err := tx.UpdateSpanMetadata(ctx, s.ID, md); err != nil {
			return res, err
		}
		res.RewrittenSpans = append(res.RewrittenSpans, s.ID)
		res.RewrittenReferences += n
	}

	deleted, err := tx.DeleteSpans(ctx, []string{sourceID})
	if err != nil {
		return res, err
	}
	if deleted == 0 {
		return res, fmt.Errorf("span %s: %w", sourceID, store.ErrNotFound)
	}

	if len(orphans) > 0 {
		ids := make([]string, 0, len(orphans))
		for id := range orphans {
			if id != targetID {
				ids = append(ids, id)
			}
		}
		if _, err := tx.DeleteSpans(ctx, ids); err != nil {
			return res, err
		}
		res.DeletedRelationshipSpans = ids
	}

	// Re-read target, its metadata may have been rewritten above.
	target, err = tx.GetSpan(ctx, targetID)
	if err != nil {
		return res, err
	}
	target, res.AbsorbedFields = g.absorb(target, source)
	target.UpdaterID = actor.ID
	target.UpdatedAt = g.now()
	if err := tx.UpdateSpan(ctx, target); err != nil {
		return res, err
	}

	if err := assertMerged(ctx, tx, sourceID); err != nil {
		return res, err
	}
	return res, nil
}

// checkMergeTypes requires both spans to share type, and subtype when both
// carry one.
func checkMergeTypes(target, source common.Span) error {
	if source.Type != target.Type {
		return fmt.Errorf("%w: %s is %s, %s is %s",
			common.ErrMergeTypeIncompatible, source.ID, source.Type, target.ID, target.Type)
	}
	ts, ss := target.Subtype(), source.Subtype()
	if ts != "" && ss != "" && ts != ss {
		return fmt.Errorf("%w: %s is %s/%s, %s is %s/%s",
			common.ErrMergeTypeIncompatible, source.ID, source.Type, ss, target.ID, target.Type, ts)
	}
	return nil
}

// absorb folds what source knows into target without overwriting stored
// values: citations are unioned, dates follow the resolver's upgrade
// rules and empty fields are filled.
func (g *GraphClient) absorb(target, source common.Span) (common.Span, []string) {
	out := target.Clone()
	var fields []string

	if sources, changed := common.MergeSources(out.Sources, source.Sources); changed {
		out.Sources = sources
		fields = append(fields, "sources")
	}
	if d, changed := common.UpgradeDate(out.Start, source.Start); changed {
		out.Start = d
		fields = append(fields, "start_date")
	}
	if d, changed := common.UpgradeDate(out.End, source.End); changed {
		out.End = d
		fields = append(fields, "end_date")
	}
	if out.Description == "" && source.Description != "" {
		out.Description = source.Description
		fields = append(fields, "description")
	}
	if out.Metadata == nil {
		out.Metadata = common.Metadata{}
	}
	for _, key := range []string{g.externalKey, common.MetaSubtype} {
		v, ok := source.Metadata[key]
		if !ok || v.IsEmpty() {
			continue
		}
		if cur, ok := out.Metadata[key]; ok && !cur.IsEmpty() {
			continue
		}
		out.Metadata[key] = v.Clone()
		fields = append(fields, key)
	}
	return out, fields
}

// assertMerged re-reads the graph for leftovers of source.
func assertMerged(ctx context.Context, tx store.Tx, sourceID string) error {
	for _, f := range []store.ConnectionFilter{{ParentID: sourceID}, {ChildID: sourceID}, {SpanID: sourceID}} {
		left, err := tx.ListConnections(ctx, f)
		if err != nil {
			return err
		}
		if len(left) > 0 {
			return errors.New("connections still reference the merged span")
		}
	}
	return nil
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

// Candidate is the plain record an import adapter hands to Resolve.
type Candidate struct {
	Type        string             `json:"type" validate:"required"`
	ExternalID  string             `json:"external_id,omitempty"`
	Name        string             `json:"name" validate:"required"`
	Description string             `json:"description,omitempty"`
	Start       *common.Date       `json:"start_date,omitempty"`
	End         *common.Date       `json:"end_date,omitempty"`
	AccessLevel common.AccessLevel `json:"access_level,omitempty"`
	Metadata    common.Metadata    `json:"metadata,omitempty"`
	Sources     []common.Source    `json:"sources,omitempty"`
}

func (c Candidate) subtype() string {
	return c.Metadata.GetString(common.MetaSubtype)
}

type Action string

const (
	ActionCreated   Action = "created"
	ActionUpdated   Action = "updated"
	ActionUnchanged Action = "unchanged"
)

// Match reasons reported in ResolveResult.MatchedBy.
const (
	MatchedByExternalID = "external_id"
	MatchedByName       = "name"
)

type ResolveResult struct {
	Span      common.Span `json:"span"`
	Action    Action      `json:"action"`
	MatchedBy string      `json:"matched_by,omitempty"`
	DryRun    bool        `json:"dry_run,omitempty"`
}

// ResolveOptions tunes a single resolution. A dry run computes the result
// without writing. ForceState pins the reported lifecycle state.
type ResolveOptions struct {
	DryRun     bool
	ForceState common.State
}

// Resolve finds or creates the span described by c and merges c into it
// without destroying stored values.
func (g *GraphClient) Resolve(ctx context.Context, actor common.Actor, c Candidate) (ResolveResult, error) {
	return g.ResolveWithOptions(ctx, actor, c, ResolveOptions{})
}

func (g *GraphClient) ResolveWithOptions(ctx context.Context, actor common.Actor, c Candidate, opts ResolveOptions) (ResolveResult, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("resolve", start)

	if err := g.checkCandidate(&c); err != nil {
		g.metrics.ObserveResolve("error")
		return ResolveResult{}, err
	}

	var res ResolveResult
	run := func(tx store.Tx) error {
		var err error
		res, err = g.resolveTx(ctx, tx, actor, c, !opts.DryRun)
		return err
	}

	var err error
	if opts.DryRun {
		err = g.rollbackAfter(ctx, run)
	} else {
		err = g.storage.WithTx(ctx, run)
	}
	if err != nil {
		g.metrics.ObserveResolve("error")
		var mismatch *common.TypeMismatchError
		if errors.As(err, &mismatch) {
			logger.Warn("[Resolve] External id registered under another type",
				"key", mismatch.ExternalKey, "id", mismatch.ExternalID,
				"requested", mismatch.RequestedType, "found", mismatch.FoundType)
		} else {
			logger.Error("[Resolve] Failed to resolve candidate", "type", c.Type, "name", c.Name, "err", err)
		}
		return ResolveResult{}, err
	}

	res.DryRun = opts.DryRun
	if opts.ForceState != "" {
		res.Span.StateOverride = opts.ForceState
	}
	g.metrics.ObserveResolve(string(res.Action))
	logger.Debug("[Resolve] Resolved candidate",
		"id", res.Span.ID, "type", c.Type, "action", res.Action, "matched_by", res.MatchedBy, "dry_run", opts.DryRun)
	return res, nil
}

func (g *GraphClient) checkCandidate(c *Candidate) error {
	c.Type = strings.TrimSpace(c.Type)
	c.Name = strings.TrimSpace(c.Name)
	c.ExternalID = strings.TrimSpace(c.ExternalID)
	if c.Type == "" {
		return fmt.Errorf("%w: type is required", common.ErrInvalidCandidate)
	}
	if c.Type == common.TypeConnection {
		return fmt.Errorf("%w: relationship-spans are created through connections", common.ErrInvalidCandidate)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", common.ErrInvalidCandidate)
	}
	c.Start, c.End = common.NormalizeDate(c.Start), common.NormalizeDate(c.End)
	for _, d := range []*common.Date{c.Start, c.End} {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidCandidate, err)
		}
	}
	switch c.AccessLevel {
	case "", common.AccessPrivate, common.AccessShared, common.AccessPublic:
	default:
		return fmt.Errorf("%w: unknown access level %q", common.ErrInvalidCandidate, c.AccessLevel)
	}
	return nil
}

func (g *GraphClient) resolveTx(ctx context.Context, tx store.Tx, actor common.Actor, c Candidate, write bool) (ResolveResult, error) {
	existing, matchedBy, err := g.findMatch(ctx, tx, c)
	if err != nil {
		return ResolveResult{}, err
	}

	now := g.now()
	if existing == nil {
		span, err := g.newSpanFromCandidate(actor, c, now)
		if err != nil {
			return ResolveResult{}, err
		}
		if write {
			if err := tx.InsertSpan(ctx, span); err != nil {
				return ResolveResult{}, err
			}
		}
		return ResolveResult{Span: span, Action: ActionCreated}, nil
	}

	merged, changed := g.mergeCandidate(*existing, c)
	if !changed {
		return ResolveResult{Span: *existing, Action: ActionUnchanged, MatchedBy: matchedBy}, nil
	}
	merged.UpdaterID = actor.ID
	merged.UpdatedAt = now
	if write {
		if err := tx.UpdateSpan(ctx, merged); err != nil {
			return ResolveResult{}, err
		}
	}
	return ResolveResult{Span: merged, Action: ActionUpdated, MatchedBy: matchedBy}, nil
}

// findMatch runs the identity chain: external id within the type first,
// then an exact case-insensitive name within the type.
func (g *GraphClient) findMatch(ctx context.Context, tx store.Tx, c Candidate) (*common.Span, string, error) {
	if c.ExternalID != "" {
		byID, err := tx.FindSpansByExternalID(ctx, g.externalKey, c.ExternalID)
		if err != nil {
			return nil, "", err
		}
		for i := range byID {
			if byID[i].Type == c.Type {
				return &byID[i], MatchedByExternalID, nil
			}
		}
		if len(byID) > 0 {
			return nil, "", &common.TypeMismatchError{
				ExternalKey:   g.externalKey,
				ExternalID:    c.ExternalID,
				RequestedType: c.Type,
				FoundType:     byID[0].Type,
				SpanID:        byID[0].ID,
			}
		}
	}

	byName, err := tx.FindSpansByName(ctx, c.Type, c.Name)
	if err != nil {
		return nil, "", err
	}
	for i := range byName {
		if g.nameMatchUsable(byName[i], c) {
			return &byName[i], MatchedByName, nil
		}
	}
	return nil, "", nil
}

// nameMatchUsable rejects name matches that are provably different
// entities: another subtype, or another external id.
func (g *GraphClient) nameMatchUsable(s common.Span, c Candidate) bool {
	if sub := c.subtype(); sub != "" {
		if existing := s.Subtype(); existing != "" && existing != sub {
			return false
		}
	}
	if c.ExternalID != "" {
		if existing := s.Metadata.GetString(g.externalKey); existing != "" && existing != c.ExternalID {
			return false
		}
	}
	return true
}

func (g *GraphClient) newSpanFromCandidate(actor common.Actor, c Candidate, now time.Time) (common.Span, error) {
	id, err := g.newID()
	if err != nil {
		return common.Span{}, fmt.Errorf("generate span id: %w", err)
	}
	md := c.Metadata.Clone()
	if md == nil {
		md = common.Metadata{}
	}
	if c.ExternalID != "" {
		md[g.externalKey] = common.String(c.ExternalID)
	}
	sources, _ := common.MergeSources(nil, c.Sources)
	access := c.AccessLevel
	if access == "" {
		access = common.AccessPrivate
	}
	return common.Span{
		ID:          id,
		Type:        c.Type,
		Name:        c.Name,
		Description: c.Description,
		Start:       cloneDate(c.Start),
		End:         cloneDate(c.End),
		AccessLevel: access,
		Metadata:    md,
		Sources:     sources,
		OwnerID:     actor.ID,
		UpdaterID:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// mergeCandidate applies c to a copy of s. Stored values survive unless
// they are empty, the incoming value is a precision upgrade, or the field
// is kept in sync with the import source.
func (g *GraphClient) mergeCandidate(s common.Span, c Candidate) (common.Span, bool) {
	out := s.Clone()
	changed := false

	if out.Name == "" && c.Name != "" {
		out.Name = c.Name
		changed = true
	}
	if out.Description == "" && c.Description != "" {
		out.Description = c.Description
		changed = true
	}
	if c.AccessLevel == common.AccessPublic && out.AccessLevel != common.AccessPublic {
		out.AccessLevel = common.AccessPublic
		changed = true
	}

	var dateChanged bool
	if out.Start, dateChanged = common.UpgradeDate(out.Start, c.Start); dateChanged {
		changed = true
	}
	if out.End, dateChanged = common.UpgradeDate(out.End, c.End); dateChanged {
		changed = true
	}

	incoming := c.Metadata.Clone()
	if c.ExternalID != "" {
		if incoming == nil {
			incoming = common.Metadata{}
		}
		incoming[g.externalKey] = common.String(c.ExternalID)
	}
	if out.Metadata == nil {
		out.Metadata = common.Metadata{}
	}
	for _, key := range incoming.Keys() {
		v := incoming[key]
		if v.IsEmpty() {
			continue
		}
		current, ok := out.Metadata[key]
		switch {
		case !ok || current.IsEmpty():
			out.Metadata[key] = v
			changed = true
		case g.syncedKey(key) && !current.Equal(v):
			out.Metadata[key] = v
			changed = true
		}
	}

	var sourcesChanged bool
	if out.Sources, sourcesChanged = common.MergeSources(out.Sources, c.Sources); sourcesChanged {
		changed = true
	}

	return out, changed
}

// syncedKey reports metadata keys that always follow the import source:
// identifiers, the subtype tag and configured refresh fields.
func (g *GraphClient) syncedKey(key string) bool {
	if key == g.externalKey || key == common.MetaSubtype || strings.HasSuffix(key, "_id") {
		return true
	}
	_, ok := g.refreshFields[key]
	return ok
}

func cloneDate(d *common.Date) *common.Date {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

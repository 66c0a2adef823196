package graph

import (
	"context"
	"errors"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

// ValidationResult is the outcome of checking a connection draft.
// Exactly one of Violation and Duplicate is set when the draft cannot be
// inserted as a new connection.
type ValidationResult struct {
	Type      common.ConnectionType `json:"type"`
	Violation *common.Violation     `json:"violation,omitempty"`
	// Duplicate is the existing identical connection of a single type.
	Duplicate *common.Connection `json:"duplicate,omitempty"`
	// ClearDates is set when a timeless type was offered dates that must
	// be dropped before persisting.
	ClearDates bool `json:"clear_dates,omitempty"`
}

func (r ValidationResult) Valid() bool {
	return r.Violation == nil
}

func (r ValidationResult) label() string {
	switch {
	case r.Violation != nil:
		return r.Violation.Code()
	case r.Duplicate != nil:
		return "duplicate"
	default:
		return "valid"
	}
}

// Validate checks draft against the registry and the stored graph.
// Rule failures are returned in the result, not as error.
func (g *GraphClient) Validate(ctx context.Context, draft common.ConnectionDraft) (ValidationResult, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("validate", start)

	draft.Start, draft.End = common.NormalizeDate(draft.Start), common.NormalizeDate(draft.End)
	var res ValidationResult
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = g.validateTx(ctx, tx, draft)
		return err
	})
	if err != nil {
		return ValidationResult{}, err
	}
	g.metrics.ObserveValidate(res.label())
	if res.Violation != nil {
		logger.Debug("[Validate] Connection draft rejected",
			"type", draft.Type, "parent", draft.ParentID, "child", draft.ChildID, "reason", res.Violation.Error())
	}
	return res, nil
}

func (g *GraphClient) validateTx(ctx context.Context, tx store.Tx, draft common.ConnectionDraft) (ValidationResult, error) {
	if draft.ParentID == "" || draft.ChildID == "" || draft.Type == "" {
		return ValidationResult{Violation: common.NewViolation(common.ErrInvalidCandidate,
			"parent_id, child_id and type are required")}, nil
	}
	if draft.ParentID == draft.ChildID {
		return ValidationResult{Violation: common.NewViolation(common.ErrSelfLoop,
			"span %s cannot be connected to itself", draft.ParentID)}, nil
	}
	for _, d := range []*common.Date{draft.Start, draft.End} {
		if d == nil {
			continue
		}
		if err := d.Validate(); err != nil {
			return ValidationResult{Violation: common.NewViolation(common.ErrInvalidCandidate, "%v", err)}, nil
		}
	}

	ct, err := g.connectionType(ctx, tx, draft.Type)
	if err != nil {
		if store.IsNotFound(err) {
			return ValidationResult{Violation: common.NewViolation(common.ErrUnknownConnectionType,
				"connection type %q is not registered", draft.Type)}, nil
		}
		return ValidationResult{}, err
	}
	res := ValidationResult{Type: ct}

	parent, v, err := endpoint(ctx, tx, "parent", draft.ParentID)
	if err != nil || v != nil {
		res.Violation = v
		return res, err
	}
	child, v, err := endpoint(ctx, tx, "child", draft.ChildID)
	if err != nil || v != nil {
		res.Violation = v
		return res, err
	}

	// Endpoint types are checked for every constraint.
	if parent.Type == common.TypeConnection || child.Type == common.TypeConnection {
		res.Violation = &common.Violation{
			Kind:    common.ErrConnectionSpanEndpoint,
			Message: "relationship-spans cannot be connection endpoints",
		}
		return res, nil
	}
	if !ct.AllowsParent(parent.Type) {
		res.Violation = common.ParentTypeViolation(parent.Type, ct.AllowedParentTypes)
		return res, nil
	}
	if !ct.AllowsChild(child.Type) {
		res.Violation = common.ChildTypeViolation(child.Type, ct.AllowedChildTypes)
		return res, nil
	}

	switch ct.Constraint {
	case common.ConstraintSingle:
		dup, v, err := checkSingle(ctx, tx, ct, draft)
		if err != nil {
			return ValidationResult{}, err
		}
		res.Duplicate, res.Violation = dup, v
	case common.ConstraintTimeless:
		if draft.Start != nil || draft.End != nil {
			if g.rejectTimelessDates {
				res.Violation = common.NewViolation(common.ErrTimelessDates,
					"connection type %s does not carry dates", ct.Key)
			} else {
				res.ClearDates = true
			}
		}
	}
	return res, nil
}

func endpoint(ctx context.Context, tx store.Tx, side, id string) (common.Span, *common.Violation, error) {
	s, err := tx.GetSpan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return common.Span{}, common.NewViolation(common.ErrNotFound, "%s span %s does not exist", side, id), nil
		}
		return common.Span{}, nil, err
	}
	return s, nil, nil
}

// checkSingle enforces one connection of the type per keyed endpoint.
// The identical connection is reported as duplicate, any other as
// violation.
func checkSingle(ctx context.Context, tx store.Tx, ct common.ConnectionType, draft common.ConnectionDraft) (*common.Connection, *common.Violation, error) {
	filter := store.ConnectionFilter{Type: ct.Key}
	side := ct.SingleBy
	if side == common.SingleByChild {
		filter.ChildID = draft.ChildID
	} else {
		side = common.SingleByParent
		filter.ParentID = draft.ParentID
	}

	existing, err := tx.ListConnections(ctx, filter)
	if err != nil {
		return nil, nil, err
	}
	for i := range existing {
		if existing[i].ParentID == draft.ParentID && existing[i].ChildID == draft.ChildID {
			return &existing[i], nil, nil
		}
	}
	if len(existing) > 0 {
		other := existing[0]
		v := common.NewViolation(common.ErrCardinalityViolation,
			"%s %s already has a %s connection (%s -> %s)", side, keyedID(side, draft), ct.Key, other.ParentID, other.ChildID)
		v.ExistingID = other.ID
		return nil, v, nil
	}
	return nil, nil, nil
}

func keyedID(side common.SingleSide, draft common.ConnectionDraft) string {
	if side == common.SingleByChild {
		return draft.ChildID
	}
	return draft.ParentID
}

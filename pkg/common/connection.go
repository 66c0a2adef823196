package common

import (
	"slices"
	"strings"
	"time"
)

// Connection is a directed, typed edge. SpanID references the
// relationship-span carrying the edge's temporal extent and is unique
// across all connections.
type Connection struct {
	ID        string    `json:"id"`
	ParentID  string    `json:"parent_id"`
	ChildID   string    `json:"child_id"`
	Type      string    `json:"type"`
	SpanID    string    `json:"span_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ConnectionDraft is the plain record import adapters hand in before a
// connection is persisted.
type ConnectionDraft struct {
	ParentID string `json:"parent_id" validate:"required"`
	ChildID  string `json:"child_id" validate:"required"`
	Type     string `json:"type" validate:"required"`
	Start    *Date  `json:"start_date,omitempty"`
	End      *Date  `json:"end_date,omitempty"`
}

type Constraint string

const (
	ConstraintSingle   Constraint = "single"
	ConstraintMultiple Constraint = "multiple"
	ConstraintTimeless Constraint = "timeless"
)

func (c Constraint) Valid() bool {
	switch c {
	case ConstraintSingle, ConstraintMultiple, ConstraintTimeless:
		return true
	}
	return false
}

// SingleSide names the endpoint a single constraint is keyed on.
type SingleSide string

const (
	SingleByParent SingleSide = "parent"
	SingleByChild  SingleSide = "child"
)

// ConnectionType is a registry entry. Empty allowed sets accept any span
// type except connection.
type ConnectionType struct {
	Key                string     `json:"key"`
	Constraint         Constraint `json:"constraint"`
	SingleBy           SingleSide `json:"single_by,omitempty"`
	AllowedParentTypes []string   `json:"allowed_parent_types"`
	AllowedChildTypes  []string   `json:"allowed_child_types"`
	ForwardPredicate   string     `json:"forward_predicate"`
	InversePredicate   string     `json:"inverse_predicate"`
}

func (t ConnectionType) AllowsParent(typ string) bool {
	return allows(t.AllowedParentTypes, typ)
}

func (t ConnectionType) AllowsChild(typ string) bool {
	return allows(t.AllowedChildTypes, typ)
}

func allows(set []string, typ string) bool {
	if typ == TypeConnection {
		return false
	}
	return len(set) == 0 || slices.Contains(set, typ)
}

// Forward renders the forward predicate, e.g. "{parent} created {child}".
func (t ConnectionType) Forward(parent, child string) string {
	return renderPredicate(t.ForwardPredicate, parent, child, t.Key)
}

// Inverse renders the inverse predicate, e.g. "{child} was created by {parent}".
func (t ConnectionType) Inverse(parent, child string) string {
	return renderPredicate(t.InversePredicate, parent, child, t.Key)
}

func renderPredicate(tpl, parent, child, key string) string {
	if tpl == "" {
		tpl = "{parent} " + strings.ReplaceAll(key, "_", " ") + " {child}"
	}
	return strings.NewReplacer("{parent}", parent, "{child}", child).Replace(tpl)
}

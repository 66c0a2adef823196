package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrTypeMismatch           = errors.New("external id registered under a different type")
	ErrInvalidEndpointType    = errors.New("invalid endpoint type")
	ErrCardinalityViolation   = errors.New("cardinality violation")
	ErrMergeTypeIncompatible  = errors.New("relationship-span cannot merge into a non relationship-span")
	ErrSelfMerge              = errors.New("cannot merge a span into itself")
	ErrSelfLoop               = errors.New("connection parent and child are the same span")
	ErrTimelessDates          = errors.New("timeless connection cannot carry dates")
	ErrUnknownConnectionType  = errors.New("unknown connection type")
	ErrInvalidCandidate       = errors.New("invalid candidate")
	ErrConnectionSpanEndpoint = fmt.Errorf("%w: relationship-span used as endpoint", ErrInvalidEndpointType)
)

// TypeMismatchError is returned by the resolver when the external id
// already belongs to a span of another type.
type TypeMismatchError struct {
	ExternalKey   string
	ExternalID    string
	RequestedType string
	FoundType     string
	SpanID        string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf(
		"%s=%s belongs to %s span %s, requested type %s",
		e.ExternalKey, e.ExternalID, e.FoundType, e.SpanID, e.RequestedType,
	)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// Violation is the structured rejection produced by connection validation.
// Kind is one of the sentinel errors above.
type Violation struct {
	Kind       error    `json:"-"`
	Message    string   `json:"message"`
	Allowed    []string `json:"allowed,omitempty"`
	ExistingID string   `json:"existing_id,omitempty"`
}

func (v *Violation) Error() string {
	if v.Message == "" {
		return v.Kind.Error()
	}
	return v.Kind.Error() + ": " + v.Message
}

func (v *Violation) Unwrap() error { return v.Kind }

// Code is a stable machine readable name for Kind.
func (v *Violation) Code() string {
	switch {
	case errors.Is(v.Kind, ErrInvalidEndpointType):
		return "invalid_endpoint_type"
	case errors.Is(v.Kind, ErrCardinalityViolation):
		return "cardinality_violation"
	case errors.Is(v.Kind, ErrSelfLoop):
		return "self_loop"
	case errors.Is(v.Kind, ErrTimelessDates):
		return "timeless_dates"
	case errors.Is(v.Kind, ErrUnknownConnectionType):
		return "unknown_connection_type"
	case errors.Is(v.Kind, ErrNotFound):
		return "not_found"
	default:
		return "invalid"
	}
}

func NewViolation(kind error, format string, args ...any) *Violation {
	return &Violation{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func endpointViolation(side, typ string, allowed []string) *Violation {
	v := &Violation{
		Kind:    ErrInvalidEndpointType,
		Allowed: allowed,
	}
	if len(allowed) == 0 {
		v.Message = fmt.Sprintf("%s type %q is not allowed", side, typ)
	} else {
		v.Message = fmt.Sprintf("%s type %q is not allowed, expected one of [%s]", side, typ, strings.Join(allowed, ", "))
	}
	return v
}

// ParentTypeViolation and ChildTypeViolation name the allowed set.
func ParentTypeViolation(typ string, allowed []string) *Violation {
	return endpointViolation("parent", typ, allowed)
}

func ChildTypeViolation(typ string, allowed []string) *Violation {
	return endpointViolation("child", typ, allowed)
}

// MergeError wraps any failure of a merge. A merge runs in one transaction,
// so RolledBack is true whenever the transaction had been opened.
type MergeError struct {
	TargetID   string
	SourceID   string
	RolledBack bool
	Err        error
}

func (e *MergeError) Error() string {
	state := "nothing written"
	if e.RolledBack {
		state = "rolled back, nothing written"
	}
	return fmt.Sprintf("merge %s into %s failed (%s): %v", e.SourceID, e.TargetID, state, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

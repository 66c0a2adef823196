package common

import (
	"slices"
	"strings"
	"time"
)

// Span types known to the importers. The set is open; any non-empty type
// string is accepted.
const (
	TypePerson       = "person"
	TypePlace        = "place"
	TypeOrganisation = "organisation"
	TypeThing        = "thing"
	TypeEvent        = "event"
	TypeBand         = "band"
	TypeConnection   = "connection"
	TypeSet          = "set"
	TypeRole         = "role"
	TypePhase        = "phase"
)

// Metadata keys with special meaning.
const (
	MetaSubtype        = "subtype"
	MetaConnectionType = "connection_type"
	DefaultExternalKey = "wikidata_id"
)

// State is the lifecycle state of a span.
type State string

const (
	StatePlaceholder State = "placeholder"
	StateComplete    State = "complete"
)

// DeriveState returns complete iff a start year is resolvable.
func DeriveState(start *Date) State {
	if start == nil || start.Year == 0 {
		return StatePlaceholder
	}
	return StateComplete
}

type AccessLevel string

const (
	AccessPrivate AccessLevel = "private"
	AccessShared  AccessLevel = "shared"
	AccessPublic  AccessLevel = "public"
)

// Source is a citation attached to a span. Sources are unique by URL.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
	Note  string `json:"note,omitempty"`
}

// Span is a node of the knowledge graph. Spans of type connection only
// exist as the relationship-span backing exactly one Connection.
type Span struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Start       *Date       `json:"start_date,omitempty"`
	End         *Date       `json:"end_date,omitempty"`
	AccessLevel AccessLevel `json:"access_level"`
	Metadata    Metadata    `json:"metadata"`
	Sources     []Source    `json:"sources"`
	OwnerID     string      `json:"owner_id,omitempty"`
	UpdaterID   string      `json:"updater_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// StateOverride pins State for transient views such as import dry-runs.
	// It is never persisted.
	StateOverride State `json:"-"`
}

// State is derived from the start date unless overridden.
func (s Span) State() State {
	if s.StateOverride != "" {
		return s.StateOverride
	}
	return DeriveState(s.Start)
}

func (s Span) Subtype() string {
	return s.Metadata.GetString(MetaSubtype)
}

// IdentityKey is the (type, subtype, name) triple used for duplicate
// detection. Name comparison is exact.
func (s Span) IdentityKey() IdentityKey {
	return IdentityKey{Type: s.Type, Subtype: s.Subtype(), Name: s.Name}
}

// Clone returns a deep copy.
func (s Span) Clone() Span {
	out := s
	if s.Start != nil {
		d := *s.Start
		out.Start = &d
	}
	if s.End != nil {
		d := *s.End
		out.End = &d
	}
	out.Metadata = s.Metadata.Clone()
	out.Sources = slices.Clone(s.Sources)
	return out
}

// Equal compares the persisted content of two spans, ignoring timestamps
// and provenance stamps.
func (s Span) Equal(o Span) bool {
	return s.ID == o.ID &&
		s.Type == o.Type &&
		s.Name == o.Name &&
		s.Description == o.Description &&
		equalDatePtr(s.Start, o.Start) &&
		equalDatePtr(s.End, o.End) &&
		s.AccessLevel == o.AccessLevel &&
		s.Metadata.Equal(o.Metadata) &&
		slices.Equal(s.Sources, o.Sources)
}

func equalDatePtr(a, b *Date) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// MergeSources appends incoming citations whose URL is not yet present.
// Citations without URL are skipped.
func MergeSources(existing, incoming []Source) ([]Source, bool) {
	seen := make(map[string]struct{}, len(existing))
	for _, src := range existing {
		seen[normalizeURL(src.URL)] = struct{}{}
	}
	out := existing
	changed := false
	for _, src := range incoming {
		key := normalizeURL(src.URL)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, src)
		changed = true
	}
	return out, changed
}

func normalizeURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

type IdentityKey struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Name    string `json:"name"`
}

// Actor is the user on whose behalf an operation runs. It is stamped as
// owner on creation and updater on every write.
type Actor struct {
	ID string `json:"id"`
}

// SystemActor is used by background jobs.
var SystemActor = Actor{ID: "system"}

package store

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = common.ErrNotFound

// GraphStorage persists spans, connections, the connection type registry
// and bulk repair progress. Every read and write happens inside WithTx.
type GraphStorage interface {
	// WithTx runs fn in one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; fn's error is returned as is.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// ConnectionFilter selects connections; non-empty fields are ANDed.
type ConnectionFilter struct {
	ParentID string
	ChildID  string
	SpanID   string
	Type     string
}

func (f ConnectionFilter) Empty() bool {
	return f == ConnectionFilter{}
}

// Tx is the transactional view over the graph tables.
type Tx interface {
	GetSpan(ctx context.Context, id string) (common.Span, error)
	GetSpans(ctx context.Context, ids []string) ([]common.Span, error)
	// FindSpansByExternalID matches metadata[key] == value across all types,
	// oldest first.
	FindSpansByExternalID(ctx context.Context, key, value string) ([]common.Span, error)
	// FindSpansByName matches name case-insensitively within typ, oldest first.
	FindSpansByName(ctx context.Context, typ, name string) ([]common.Span, error)
	// FindSpansReferencing returns spans whose metadata text contains needle.
	// Callers must confirm exact string values themselves.
	FindSpansReferencing(ctx context.Context, needle string) ([]common.Span, error)
	// ListDuplicateSpans returns every non-connection span whose
	// (type, subtype, name) key is shared with at least one other span.
	ListDuplicateSpans(ctx context.Context) ([]common.Span, error)
	InsertSpan(ctx context.Context, span common.Span) error
	UpdateSpan(ctx context.Context, span common.Span) error
	UpdateSpanMetadata(ctx context.Context, id string, md common.Metadata) error
	DeleteSpans(ctx context.Context, ids []string) (int64, error)

	GetConnection(ctx context.Context, id string) (common.Connection, error)
	ListConnections(ctx context.Context, filter ConnectionFilter) ([]common.Connection, error)
	// CountIncidentConnections counts connections having the span as parent
	// or child. Ids without connections are absent from the result.
	CountIncidentConnections(ctx context.Context, ids []string) (map[string]int, error)
	InsertConnection(ctx context.Context, conn common.Connection) error
	UpdateConnection(ctx context.Context, conn common.Connection) error
	DeleteConnections(ctx context.Context, ids []string) (int64, error)

	GetConnectionType(ctx context.Context, key string) (common.ConnectionType, error)
	ListConnectionTypes(ctx context.Context) ([]common.ConnectionType, error)
	UpsertConnectionType(ctx context.Context, t common.ConnectionType) error

	InsertRepairRun(ctx context.Context, run common.RepairRun) error
	UpdateRepairRun(ctx context.Context, run common.RepairRun) error
	GetRepairRun(ctx context.Context, runID string) (common.RepairRun, error)
}

// IsNotFound reports whether err is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

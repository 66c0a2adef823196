package graph

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/metrics"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

// KeepPolicy selects which member of a zero-connection duplicate group
// survives a repair.
type KeepPolicy string

const (
	KeepNewest KeepPolicy = "newest"
	KeepOldest KeepPolicy = "oldest"
)

// ParseKeepPolicy accepts "newest" and "oldest"; empty means newest.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch KeepPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", KeepNewest:
		return KeepNewest, nil
	case KeepOldest:
		return KeepOldest, nil
	}
	return "", errors.New("keep policy must be newest or oldest")
}

// Locker serialises work on overlapping keys across processes.
// leaselock.Locker satisfies it.
type Locker interface {
	WithLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
}

// GraphClient is the entry point of the resolution and merge engine.
// Every operation runs in a single storage transaction.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	storage store.GraphStorage
	locker  Locker
	metrics *metrics.Metrics

	keepPolicy          KeepPolicy
	externalKey         string
	refreshFields       map[string]struct{}
	rejectTimelessDates bool

	now   func() time.Time
	newID func() (string, error)

	typesMu sync.RWMutex
	types   map[string]common.ConnectionType
}

// NewGraphClientParams defines the configuration parameters for creating
// a new GraphClient.
//
// Storage is required. Locker and Metrics are optional.
// ExternalKey is the metadata key holding external identifiers and
// defaults to wikidata_id. RefreshFields lists metadata keys whose
// incoming value always replaces the stored one. RejectTimelessDates
// turns dated drafts of timeless connection types into violations instead
// of clearing the dates.
type NewGraphClientParams struct {
	Storage             store.GraphStorage
	Locker              Locker
	Metrics             *metrics.Metrics
	KeepPolicy          KeepPolicy
	ExternalKey         string
	RefreshFields       []string
	RejectTimelessDates bool
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Storage:    storage,
//		KeepPolicy: graph.KeepNewest,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Storage == nil {
		return nil, errors.New("graph storage is required")
	}
	keep := params.KeepPolicy
	if keep == "" {
		keep = KeepNewest
	}
	if keep != KeepNewest && keep != KeepOldest {
		return nil, errors.New("keep policy must be newest or oldest")
	}
	externalKey := params.ExternalKey
	if externalKey == "" {
		externalKey = common.DefaultExternalKey
	}
	refresh := make(map[string]struct{}, len(params.RefreshFields))
	for _, f := range params.RefreshFields {
		if f = strings.TrimSpace(f); f != "" {
			refresh[f] = struct{}{}
		}
	}

	g := &GraphClient{
		storage:             params.Storage,
		locker:              params.Locker,
		metrics:             params.Metrics,
		keepPolicy:          keep,
		externalKey:         externalKey,
		refreshFields:       refresh,
		rejectTimelessDates: params.RejectTimelessDates,
		now:                 func() time.Time { return time.Now().UTC() },
		newID:               func() (string, error) { return gonanoid.New() },
		types:               make(map[string]common.ConnectionType),
	}

	return g, nil
}

// ExternalKey is the metadata key external identifiers are stored under.
func (g *GraphClient) ExternalKey() string {
	return g.externalKey
}

func (g *GraphClient) KeepPolicy() KeepPolicy {
	return g.keepPolicy
}

// withLocks runs fn under the configured Locker, or directly without one.
func (g *GraphClient) withLocks(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	if g.locker == nil {
		return fn(ctx)
	}
	return g.locker.WithLocks(ctx, keys, fn)
}

// errRollback aborts a transaction whose work must not be committed, such
// as dry runs and previews.
var errRollback = errors.New("rollback requested")

// rollbackAfter runs fn in a transaction that is always rolled back.
func (g *GraphClient) rollbackAfter(ctx context.Context, fn func(tx store.Tx) error) error {
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errRollback
	})
	if errors.Is(err, errRollback) {
		return nil
	}
	return err
}

package graph

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

// countChunk bounds the ids per incident count query.
const countChunk = 400

// FindGroups lists every set of two or more spans sharing
// (type, subtype, name) and classifies it. It never writes; results are
// advisory and re-checked by Merge and the repair job.
func (g *GraphClient) FindGroups(ctx context.Context) ([]common.DuplicateGroup, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("find_groups", start)

	var groups []common.DuplicateGroup
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		groups, err = g.findGroupsTx(ctx, tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("[Duplicates] Found duplicate groups", "count", len(groups))
	return groups, nil
}

func (g *GraphClient) findGroupsTx(ctx context.Context, tx store.Tx) ([]common.DuplicateGroup, error) {
	spans, err := tx.ListDuplicateSpans(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(spans))
	for i, s := range spans {
		ids[i] = s.ID
	}
	counts, err := store.CountIncidentChunked(ctx, tx, ids, countChunk)
	if err != nil {
		return nil, err
	}

	var (
		order []common.IdentityKey
		byKey = make(map[common.IdentityKey][]common.DuplicateMember)
	)
	for _, s := range spans {
		// Exact, case-sensitive identity; storage only pre-groups.
		key := s.IdentityKey()
		if _, ok := byKey[key]; !ok {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], common.DuplicateMember{
			ID:              s.ID,
			CreatedAt:       s.CreatedAt,
			ConnectionCount: counts[s.ID],
		})
	}

	groups := make([]common.DuplicateGroup, 0, len(order))
	for _, key := range order {
		members := byKey[key]
		if len(members) < 2 {
			continue
		}
		groups = append(groups, g.classify(key, members))
	}
	return groups, nil
}

func (g *GraphClient) classify(key common.IdentityKey, members []common.DuplicateMember) common.DuplicateGroup {
	slices.SortFunc(members, func(a, b common.DuplicateMember) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	group := common.DuplicateGroup{Key: key, Members: members}

	connected := slices.ContainsFunc(members, func(m common.DuplicateMember) bool {
		return m.ConnectionCount > 0
	})
	if !connected {
		group.Kind = common.GroupZeroConnection
		keep := members[len(members)-1]
		if g.keepPolicy == KeepOldest {
			keep = members[0]
		}
		group.Keep = keep.ID
		// Delete in newest-first order, matching the keep ordering.
		for i := len(members) - 1; i >= 0; i-- {
			if members[i].ID != keep.ID {
				group.Delete = append(group.Delete, members[i].ID)
			}
		}
		return group
	}

	group.Kind = common.GroupExactDuplicate
	ranked := slices.Clone(members)
	slices.SortStableFunc(ranked, func(a, b common.DuplicateMember) int {
		return cmp.Compare(b.ConnectionCount, a.ConnectionCount)
	})
	group.SuggestedTarget = ranked[0].ID
	group.SuggestedSource = ranked[1].ID
	return group
}

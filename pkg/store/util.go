package store

import (
	"context"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

func ChunkRange(total, chunkSize int, fn func(start, end int) error) error {
	if total <= 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = total
	}
	for start := 0; start < total; start += chunkSize {
		end := min(start+chunkSize, total)
		if err := fn(start, end); err != nil {
			return err
		}
	}
	return nil
}

func DedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// CountIncidentChunked splits large id sets so a single query never binds
// more than chunkSize parameters.
func CountIncidentChunked(ctx context.Context, tx Tx, ids []string, chunkSize int) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	err := ChunkRange(len(ids), chunkSize, func(start, end int) error {
		counts, err := tx.CountIncidentConnections(ctx, ids[start:end])
		if err != nil {
			return err
		}
		for id, n := range counts {
			out[id] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConnectionIDs collects the ids of conns.
func ConnectionIDs(conns []common.Connection) []string {
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID
	}
	return ids
}

package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/logger"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

// RepairRequest is the queued unit of work of a bulk repair.
type RepairRequest struct {
	RunID   string `json:"run_id"`
	ActorID string `json:"actor_id"`
}

// RepairQueue hands repair requests to the background worker.
type RepairQueue interface {
	PublishRepair(ctx context.Context, req RepairRequest) error
}

var ErrRepairFinished = errors.New("repair run already finished")

// RepairedGroup records what a repair did with one zero-connection group.
type RepairedGroup struct {
	Key     common.IdentityKey `json:"key"`
	Kept    string             `json:"kept"`
	Deleted []string           `json:"deleted,omitempty"`
	// Skipped groups changed since detection and were left alone.
	Skipped bool `json:"skipped,omitempty"`
}

type RepairReport struct {
	Run    common.RepairRun `json:"run"`
	Groups []RepairedGroup  `json:"groups"`
}

// DeletedIDs lists every span the run deleted.
func (r RepairReport) DeletedIDs() []string {
	var out []string
	for _, g := range r.Groups {
		out = append(out, g.Deleted...)
	}
	return out
}

// CreateRepairRun stores a pending progress record with a fresh run id.
func (g *GraphClient) CreateRepairRun(ctx context.Context, actor common.Actor) (common.RepairRun, error) {
	id, err := g.newID()
	if err != nil {
		return common.RepairRun{}, fmt.Errorf("generate run id: %w", err)
	}
	now := g.now()
	run := common.RepairRun{
		RunID:     id,
		Status:    common.RepairPending,
		ActorID:   actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = g.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertRepairRun(ctx, run)
	})
	if err != nil {
		return common.RepairRun{}, err
	}
	return run, nil
}

// SubmitRepair creates a run and queues it. A publish failure marks the
// run failed.
func (g *GraphClient) SubmitRepair(ctx context.Context, actor common.Actor, q RepairQueue) (common.RepairRun, error) {
	if q == nil {
		return common.RepairRun{}, errors.New("repair queue is not configured")
	}
	run, err := g.CreateRepairRun(ctx, actor)
	if err != nil {
		return common.RepairRun{}, err
	}

	if err := q.PublishRepair(ctx, RepairRequest{RunID: run.RunID, ActorID: actor.ID}); err != nil {
		run.Status = common.RepairFailed
		run.Error = err.Error()
		run.UpdatedAt = g.now()
		if uerr := g.saveRun(ctx, run); uerr != nil {
			logger.Error("[Repair] Failed to mark run failed", "run_id", run.RunID, "err", uerr)
		}
		return run, fmt.Errorf("queue repair run %s: %w", run.RunID, err)
	}

	logger.Info("[Repair] Submitted repair run", "run_id", run.RunID, "actor", actor.ID)
	return run, nil
}

// RepairStatus returns the progress record of runID.
func (g *GraphClient) RepairStatus(ctx context.Context, runID string) (common.RepairRun, error) {
	var run common.RepairRun
	err := g.storage.WithTx(ctx, func(tx store.Tx) error {
		var err error
		run, err = tx.GetRepairRun(ctx, runID)
		return err
	})
	return run, err
}

// RunRepair deletes the surplus members of every zero-connection group.
// Each group is handled in its own transaction that also advances the
// progress record, so pollers only ever see committed progress.
func (g *GraphClient) RunRepair(ctx context.Context, runID string) (RepairReport, error) {
	start := time.Now()
	defer g.metrics.ObserveDuration("repair", start)

	run, err := g.RepairStatus(ctx, runID)
	if err != nil {
		return RepairReport{}, err
	}
	if run.Status.Done() {
		return RepairReport{Run: run}, fmt.Errorf("%w: %s is %s", ErrRepairFinished, runID, run.Status)
	}

	report := RepairReport{Run: run}
	fail := func(err error) (RepairReport, error) {
		report.Run.Status = common.RepairFailed
		report.Run.Error = err.Error()
		report.Run.UpdatedAt = g.now()
		// The run context may be what failed.
		if uerr := g.saveRun(context.WithoutCancel(ctx), report.Run); uerr != nil {
			logger.Error("[Repair] Failed to mark run failed", "run_id", runID, "err", uerr)
		}
		logger.Error("[Repair] Repair run failed", "run_id", runID, "err", err)
		return report, err
	}

	groups, err := g.FindGroups(ctx)
	if err != nil {
		return fail(err)
	}
	groups = slices.DeleteFunc(groups, func(grp common.DuplicateGroup) bool {
		return grp.Kind != common.GroupZeroConnection
	})

	report.Run.Status = common.RepairRunning
	report.Run.TotalGroups = len(groups)
	report.Run.GroupsProcessed = 0
	report.Run.DeletedCount = 0
	report.Run.Error = ""
	report.Run.UpdatedAt = g.now()
	if err := g.saveRun(ctx, report.Run); err != nil {
		return fail(err)
	}
	logger.Info("[Repair] Started repair run", "run_id", runID, "groups", len(groups))

	for _, grp := range groups {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		var done RepairedGroup
		keys := make([]string, len(grp.Members))
		for i, m := range grp.Members {
			keys[i] = lockKey(m.ID)
		}
		next := report.Run
		err := g.withLocks(ctx, keys, func(ctx context.Context) error {
			return g.storage.WithTx(ctx, func(tx store.Tx) error {
				var err error
				done, err = repairGroupTx(ctx, tx, grp)
				if err != nil {
					return err
				}
				next.GroupsProcessed++
				next.DeletedCount += len(done.Deleted)
				next.UpdatedAt = g.now()
				return tx.UpdateRepairRun(ctx, next)
			})
		})
		if err != nil {
			return fail(fmt.Errorf("group %s/%s/%q: %w", grp.Key.Type, grp.Key.Subtype, grp.Key.Name, err))
		}
		report.Run = next
		report.Groups = append(report.Groups, done)
		g.metrics.ObserveRepairDeleted(len(done.Deleted))
	}

	report.Run.Status = common.RepairCompleted
	report.Run.UpdatedAt = g.now()
	if err := g.saveRun(ctx, report.Run); err != nil {
		return fail(err)
	}
	logger.Info("[Repair] Finished repair run",
		"run_id", runID, "groups", report.Run.GroupsProcessed, "deleted", report.Run.DeletedCount)
	return report, nil
}

// repairGroupTx re-checks a group against current state before deleting:
// every member must still be unconnected and the kept span must still
// exist under the same identity.
func repairGroupTx(ctx context.Context, tx store.Tx, grp common.DuplicateGroup) (RepairedGroup, error) {
	out := RepairedGroup{Key: grp.Key, Kept: grp.Keep}

	ids := make([]string, len(grp.Members))
	for i, m := range grp.Members {
		ids[i] = m.ID
	}
	counts, err := tx.CountIncidentConnections(ctx, ids)
	if err != nil {
		return out, err
	}
	if len(counts) > 0 {
		out.Skipped = true
		return out, nil
	}

	current, err := tx.GetSpans(ctx, ids)
	if err != nil {
		return out, err
	}
	present := make(map[string]bool, len(current))
	for _, s := range current {
		present[s.ID] = s.IdentityKey() == grp.Key
	}
	if !present[grp.Keep] {
		out.Skipped = true
		return out, nil
	}

	var toDelete []string
	for _, id := range grp.Delete {
		if present[id] {
			toDelete = append(toDelete, id)
		}
	}
	if len(toDelete) == 0 {
		return out, nil
	}
	if _, err := tx.DeleteSpans(ctx, toDelete); err != nil {
		return out, err
	}
	out.Deleted = toDelete
	return out, nil
}

func (g *GraphClient) saveRun(ctx context.Context, run common.RepairRun) error {
	return g.storage.WithTx(ctx, func(tx store.Tx) error {
		return tx.UpdateRepairRun(ctx, run)
	})
}

package util

import (
	"fmt"
	"time"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

// RepairProgress is the client facing view of a repair run.
type RepairProgress struct {
	RunID           string              `json:"run_id"`
	Status          common.RepairStatus `json:"status"`
	TotalGroups     int                 `json:"total_groups"`
	GroupsProcessed int                 `json:"groups_processed"`
	DeletedCount    int                 `json:"deleted_count"`
	Percentage      int32               `json:"percentage"`
	Step            string              `json:"step"`
	Error           string              `json:"error,omitempty"`
	Elapsed         int64               `json:"elapsed_seconds"`
}

func BuildRepairProgress(run common.RepairRun, now time.Time) RepairProgress {
	p := RepairProgress{
		RunID:           run.RunID,
		Status:          run.Status,
		TotalGroups:     run.TotalGroups,
		GroupsProcessed: run.GroupsProcessed,
		DeletedCount:    run.DeletedCount,
		Percentage:      CalculateRepairPercentage(run),
		Error:           run.Error,
	}

	switch run.Status {
	case common.RepairPending:
		p.Step = "queued"
	case common.RepairRunning:
		if run.TotalGroups == 0 {
			p.Step = "detecting duplicates"
		} else {
			p.Step = fmt.Sprintf("repairing %d/%d groups", run.GroupsProcessed, run.TotalGroups)
		}
	case common.RepairCompleted:
		p.Step = fmt.Sprintf("deleted %d spans in %d groups", run.DeletedCount, run.GroupsProcessed)
	case common.RepairFailed:
		p.Step = fmt.Sprintf("failed after %d/%d groups", run.GroupsProcessed, run.TotalGroups)
	}

	end := now
	if run.Status.Done() {
		end = run.UpdatedAt
	}
	if !run.CreatedAt.IsZero() && end.After(run.CreatedAt) {
		p.Elapsed = int64(end.Sub(run.CreatedAt) / time.Second)
	}
	return p
}

// CalculateRepairPercentage is 100 for completed runs and otherwise the
// share of processed groups, capped at 99 while the run is unfinished.
func CalculateRepairPercentage(run common.RepairRun) int32 {
	if run.Status == common.RepairCompleted {
		return 100
	}
	if run.TotalGroups <= 0 {
		return 0
	}
	pct := int64(run.GroupsProcessed) * 100 / int64(run.TotalGroups)
	if run.Status == common.RepairRunning {
		pct = min(pct, 99)
	}
	return int32(min(pct, 100))
}

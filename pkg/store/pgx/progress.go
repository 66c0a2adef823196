package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
	pgxv5 "github.com/jackc/pgx/v5"
)

const repairRunColumns = `run_id, total_groups, groups_processed, deleted_count, status, error, actor_id,
	created_at, updated_at`

func (t *graphTx) InsertRepairRun(ctx context.Context, run common.RepairRun) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO repair_runs (`+repairRunColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.RunID, run.TotalGroups, run.GroupsProcessed, run.DeletedCount, string(run.Status),
		run.Error, run.ActorID, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert repair run %s: %w", run.RunID, err)
	}
	return nil
}

// UpdateRepairRun only touches the row of this run, so concurrent runs
// never share counters.
func (t *graphTx) UpdateRepairRun(ctx context.Context, run common.RepairRun) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE repair_runs SET
			total_groups = $2, groups_processed = $3, deleted_count = $4,
			status = $5, error = $6, updated_at = $7
		WHERE run_id = $1`,
		run.RunID, run.TotalGroups, run.GroupsProcessed, run.DeletedCount,
		string(run.Status), run.Error, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update repair run %s: %w", run.RunID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repair run %s: %w", run.RunID, store.ErrNotFound)
	}
	return nil
}

func (t *graphTx) GetRepairRun(ctx context.Context, runID string) (common.RepairRun, error) {
	var (
		run    common.RepairRun
		status string
	)
	err := t.q.QueryRow(ctx, `SELECT `+repairRunColumns+` FROM repair_runs WHERE run_id = $1`, runID).Scan(
		&run.RunID, &run.TotalGroups, &run.GroupsProcessed, &run.DeletedCount, &status,
		&run.Error, &run.ActorID, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return common.RepairRun{}, fmt.Errorf("repair run %s: %w", runID, store.ErrNotFound)
		}
		return common.RepairRun{}, err
	}
	run.Status = common.RepairStatus(status)
	return run, nil
}

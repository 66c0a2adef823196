package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/spans/pkg/common"
	"github.com/OFFIS-RIT/spans/pkg/store"
)

const repairRunColumns = `run_id, total_groups, groups_processed, deleted_count, status, error, actor_id,
	created_at, updated_at`

func (t *repoTx) InsertRepairRun(ctx context.Context, run common.RepairRun) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO repair_runs (`+repairRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TotalGroups, run.GroupsProcessed, run.DeletedCount, string(run.Status),
		run.Error, run.ActorID, toNanos(run.CreatedAt), toNanos(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert repair run %s: %w", run.RunID, err)
	}
	return nil
}

func (t *repoTx) UpdateRepairRun(ctx context.Context, run common.RepairRun) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE repair_runs SET
			total_groups = ?, groups_processed = ?, deleted_count = ?,
			status = ?, error = ?, updated_at = ?
		WHERE run_id = ?`,
		run.TotalGroups, run.GroupsProcessed, run.DeletedCount,
		string(run.Status), run.Error, toNanos(run.UpdatedAt), run.RunID)
	if err != nil {
		return fmt.Errorf("update repair run %s: %w", run.RunID, err)
	}
	return requireRow(res, "repair run", run.RunID)
}

func (t *repoTx) GetRepairRun(ctx context.Context, runID string) (common.RepairRun, error) {
	var (
		run              common.RepairRun
		status           string
		created, updated int64
	)
	err := t.tx.QueryRowContext(ctx, `SELECT `+repairRunColumns+` FROM repair_runs WHERE run_id = ?`, runID).Scan(
		&run.RunID, &run.TotalGroups, &run.GroupsProcessed, &run.DeletedCount, &status,
		&run.Error, &run.ActorID, &created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.RepairRun{}, fmt.Errorf("repair run %s: %w", runID, store.ErrNotFound)
		}
		return common.RepairRun{}, err
	}
	run.Status = common.RepairStatus(status)
	run.CreatedAt = fromNanos(created)
	run.UpdatedAt = fromNanos(updated)
	return run, nil
}

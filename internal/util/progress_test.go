package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OFFIS-RIT/spans/pkg/common"
)

func TestCalculateRepairPercentage(t *testing.T) {
	tests := []struct {
		name string
		run  common.RepairRun
		want int32
	}{
		{"pending without groups", common.RepairRun{Status: common.RepairPending}, 0},
		{"running halfway", common.RepairRun{Status: common.RepairRunning, TotalGroups: 4, GroupsProcessed: 2}, 50},
		{"running all processed", common.RepairRun{Status: common.RepairRunning, TotalGroups: 3, GroupsProcessed: 3}, 99},
		{"completed without groups", common.RepairRun{Status: common.RepairCompleted}, 100},
		{"failed", common.RepairRun{Status: common.RepairFailed, TotalGroups: 10, GroupsProcessed: 1}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateRepairPercentage(tt.run))
		})
	}
}

func TestBuildRepairProgress(t *testing.T) {
	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	running := BuildRepairProgress(common.RepairRun{
		RunID:           "r1",
		Status:          common.RepairRunning,
		TotalGroups:     8,
		GroupsProcessed: 2,
		CreatedAt:       created,
	}, created.Add(90*time.Second))
	assert.Equal(t, "repairing 2/8 groups", running.Step)
	assert.Equal(t, int32(25), running.Percentage)
	assert.Equal(t, int64(90), running.Elapsed)

	done := BuildRepairProgress(common.RepairRun{
		RunID:           "r1",
		Status:          common.RepairCompleted,
		TotalGroups:     2,
		GroupsProcessed: 2,
		DeletedCount:    3,
		CreatedAt:       created,
		UpdatedAt:       created.Add(10 * time.Second),
	}, created.Add(time.Hour))
	assert.Equal(t, "deleted 3 spans in 2 groups", done.Step)
	assert.Equal(t, int64(10), done.Elapsed)

	queued := BuildRepairProgress(common.RepairRun{Status: common.RepairPending}, created)
	assert.Equal(t, "queued", queued.Step)
	assert.Zero(t, queued.Elapsed)
}

package common

import "time"

type GroupKind string

const (
	// GroupZeroConnection groups have no incident connections on any member
	// and can be resolved by deleting all but one member.
	GroupZeroConnection GroupKind = "zero_connection"
	// GroupExactDuplicate groups need the merge engine.
	GroupExactDuplicate GroupKind = "exact_duplicate"
)

type DuplicateMember struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"created_at"`
	ConnectionCount int       `json:"connection_count"`
}

// DuplicateGroup is a set of at least two spans sharing an IdentityKey.
// Zero-connection groups fill Keep/Delete; exact-duplicate groups fill the
// suggested merge target and source.
type DuplicateGroup struct {
	Key     IdentityKey       `json:"key"`
	Kind    GroupKind         `json:"kind"`
	Members []DuplicateMember `json:"members"`

	Keep   string   `json:"keep,omitempty"`
	Delete []string `json:"delete,omitempty"`

	SuggestedTarget string `json:"suggested_target,omitempty"`
	SuggestedSource string `json:"suggested_source,omitempty"`
}

type RepairStatus string

const (
	RepairPending   RepairStatus = "pending"
	RepairRunning   RepairStatus = "running"
	RepairCompleted RepairStatus = "completed"
	RepairFailed    RepairStatus = "failed"
)

func (s RepairStatus) Done() bool {
	return s == RepairCompleted || s == RepairFailed
}

// RepairRun is the pollable progress record of one bulk repair invocation.
type RepairRun struct {
	RunID           string       `json:"run_id"`
	TotalGroups     int          `json:"total_groups"`
	GroupsProcessed int          `json:"groups_processed"`
	DeletedCount    int          `json:"deleted_count"`
	Status          RepairStatus `json:"status"`
	Error           string       `json:"error,omitempty"`
	ActorID         string       `json:"actor_id,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

package models

import "time"

// ExecutionLogStatus is the recorded outcome of a single node visit.
type ExecutionLogStatus string

const (
	ExecutionLogStatusCompleted ExecutionLogStatus = "completed"
	ExecutionLogStatusWaiting   ExecutionLogStatus = "waiting"
	ExecutionLogStatusFailed    ExecutionLogStatus = "failed"
)

// ExecutionLog is one append-only record per node visit. Besides serving as
// the audit trail, the log is how a join node attributes which upstream source
// delivered an input. Attribution compares CompletedAt wall-clock timestamps;
// two sources completing at the same instant are indistinguishable, a known
// boundary condition of this design.
type ExecutionLog struct {
	ID          string             `json:"id"`
	InstanceID  string             `json:"instance_id" validate:"required"`
	NodeID      string             `json:"node_id"     validate:"required"`
	NodeType    NodeType           `json:"node_type"`
	Status      ExecutionLogStatus `json:"status"`
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

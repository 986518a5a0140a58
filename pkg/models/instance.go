package models

import (
	"slices"
	"time"
)

// InstanceStatus represents the lifecycle state of a workflow instance.
type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusWaiting   InstanceStatus = "waiting"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further progress.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusCancelled
}

// Reserved top-level context keys.
const (
	ContextKeyTrigger  = "trigger"
	ContextKeyNodes    = "nodes"
	ContextKeyInternal = "_internal"
)

// Internal bookkeeping keys under _internal.
const (
	internalKeyJoinState = "joinState"
	internalKeyJoinSeen  = "joinSeen"
	internalKeyLoops     = "loops"
	internalKeyDelays    = "delays"
	internalKeyParent    = "parent"
	internalKeyCounters  = "counters"
)

// ErrorInfo captures the diagnostic stored when an instance fails.
type ErrorInfo struct {
	NodeID   string    `json:"node_id,omitempty"`
	Message  string    `json:"message"`
	FailedAt time.Time `json:"failed_at"`
}

// WorkflowInstance is the mutable execution record of one workflow run against
// a specific entity. The context document is a single shared mutable value
// threaded through the interpreter loop; branches of a fork observe each
// other's writes.
type WorkflowInstance struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id" validate:"required"`
	VersionID    string         `json:"version_id"    validate:"required"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Status       InstanceStatus `json:"status"`
	ActiveNodes  []string       `json:"active_nodes,omitempty"`
	Context      map[string]any `json:"context"`
	ErrorInfo    *ErrorInfo     `json:"error_info,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// NewInstanceContext builds the initial context document with reserved keys.
func NewInstanceContext(triggerPayload map[string]any) map[string]any {
	if triggerPayload == nil {
		triggerPayload = map[string]any{}
	}

	return map[string]any{
		ContextKeyTrigger:  triggerPayload,
		ContextKeyNodes:    map[string]any{},
		ContextKeyInternal: map[string]any{},
	}
}

// IsTerminal reports whether the instance can make further progress.
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status.IsTerminal()
}

// NodeOutputs returns the per-node output section of the context, creating it
// when absent.
func (i *WorkflowInstance) NodeOutputs() map[string]any {
	return i.contextSection(ContextKeyNodes)
}

// NodeOutput returns the recorded output of a node, nil when none exists.
func (i *WorkflowInstance) NodeOutput(nodeID string) map[string]any {
	output, _ := i.NodeOutputs()[nodeID].(map[string]any)

	return output
}

// MergeNodeOutput merges data into the node's recorded output.
func (i *WorkflowInstance) MergeNodeOutput(nodeID string, data map[string]any) {
	outputs := i.NodeOutputs()

	existing, _ := outputs[nodeID].(map[string]any)
	if existing == nil {
		existing = map[string]any{}
	}

	for k, v := range data {
		existing[k] = v
	}

	outputs[nodeID] = existing
}

// EntityDocument returns the bound entity carried in the trigger payload,
// nil when the instance runs detached.
func (i *WorkflowInstance) EntityDocument() map[string]any {
	trigger, _ := i.Context[ContextKeyTrigger].(map[string]any)
	entity, _ := trigger["entity"].(map[string]any)

	return entity
}

// Internal returns the engine bookkeeping section, creating it when absent.
func (i *WorkflowInstance) Internal() map[string]any {
	return i.contextSection(ContextKeyInternal)
}

func (i *WorkflowInstance) contextSection(key string) map[string]any {
	if i.Context == nil {
		i.Context = map[string]any{}
	}

	section, ok := i.Context[key].(map[string]any)
	if !ok {
		section = map[string]any{}
		i.Context[key] = section
	}

	return section
}

func (i *WorkflowInstance) internalMap(key string) map[string]any {
	internal := i.Internal()

	section, ok := internal[key].(map[string]any)
	if !ok {
		section = map[string]any{}
		internal[key] = section
	}

	return section
}

// JoinCompletedInputs returns the distinct upstream sources recorded for a
// join node. Values survive a JSON round trip, so both []string and []any
// encodings are accepted.
func (i *WorkflowInstance) JoinCompletedInputs(joinNodeID string) []string {
	state := i.internalMap(internalKeyJoinState)

	switch recorded := state[joinNodeID].(type) {
	case []string:
		return recorded
	case []any:
		sources := make([]string, 0, len(recorded))
		for _, v := range recorded {
			if s, ok := v.(string); ok {
				sources = append(sources, s)
			}
		}

		return sources
	default:
		return nil
	}
}

// AddJoinInput records an upstream source for a join node. Duplicate sources
// are kept out of the set.
func (i *WorkflowInstance) AddJoinInput(joinNodeID, sourceNodeID string) []string {
	sources := i.JoinCompletedInputs(joinNodeID)
	if !slices.Contains(sources, sourceNodeID) {
		sources = append(sources, sourceNodeID)
	}

	i.internalMap(internalKeyJoinState)[joinNodeID] = sources

	return sources
}

// JoinLastObserved returns the high-water completion timestamp the join has
// already accounted for. Log rows at or before this mark are not re-counted.
func (i *WorkflowInstance) JoinLastObserved(joinNodeID string) (time.Time, bool) {
	raw, ok := i.internalMap(internalKeyJoinSeen)[joinNodeID].(string)
	if !ok {
		return time.Time{}, false
	}

	observed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return observed, true
}

// SetJoinLastObserved advances the join's high-water completion timestamp.
func (i *WorkflowInstance) SetJoinLastObserved(joinNodeID string, observed time.Time) {
	i.internalMap(internalKeyJoinSeen)[joinNodeID] = observed.UTC().Format(time.RFC3339Nano)
}

// LoopIteration returns the completed iteration count of a loop node.
func (i *WorkflowInstance) LoopIteration(loopNodeID string) int {
	loops := i.internalMap(internalKeyLoops)

	switch count := loops[loopNodeID].(type) {
	case int:
		return count
	case float64:
		return int(count)
	default:
		return 0
	}
}

// IncrementLoopIteration bumps and returns the iteration count of a loop node.
func (i *WorkflowInstance) IncrementLoopIteration(loopNodeID string) int {
	next := i.LoopIteration(loopNodeID) + 1
	i.internalMap(internalKeyLoops)[loopNodeID] = next

	return next
}

// SetDelayWake records the wall-clock wake time for a delay node.
func (i *WorkflowInstance) SetDelayWake(nodeID string, wakeAt time.Time) {
	i.internalMap(internalKeyDelays)[nodeID] = wakeAt.UTC().Format(time.RFC3339Nano)
}

// DelayWake returns the recorded wake time for a delay node, zero when the
// delay is event-driven or unknown.
func (i *WorkflowInstance) DelayWake(nodeID string) (time.Time, bool) {
	raw, ok := i.internalMap(internalKeyDelays)[nodeID].(string)
	if !ok {
		return time.Time{}, false
	}

	wakeAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}

	return wakeAt, true
}

// ClearDelay removes delay bookkeeping once the node resumes.
func (i *WorkflowInstance) ClearDelay(nodeID string) {
	delete(i.internalMap(internalKeyDelays), nodeID)
}

// ParentLink identifies the parent instance awaiting a subworkflow child.
type ParentLink struct {
	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
}

// SetParentLink records the parent instance/node that spawned this child.
func (i *WorkflowInstance) SetParentLink(link ParentLink) {
	i.Internal()[internalKeyParent] = map[string]any{
		"instance_id": link.InstanceID,
		"node_id":     link.NodeID,
	}
}

// ParentLink returns the parent linkage for a subworkflow child, if any.
func (i *WorkflowInstance) ParentLink() (ParentLink, bool) {
	raw, ok := i.Internal()[internalKeyParent].(map[string]any)
	if !ok {
		return ParentLink{}, false
	}

	instanceID, _ := raw["instance_id"].(string)
	nodeID, _ := raw["node_id"].(string)

	if instanceID == "" || nodeID == "" {
		return ParentLink{}, false
	}

	return ParentLink{InstanceID: instanceID, NodeID: nodeID}, true
}

// IncrementCounter implements the read-modify-write numeric counter used by
// the {{increment}} template value. Counters start at 0.
func (i *WorkflowInstance) IncrementCounter(name string) float64 {
	counters := i.internalMap(internalKeyCounters)

	current, _ := counters[name].(float64)
	counters[name] = current + 1

	return current + 1
}

// AddActiveNode marks a node as awaiting resumption.
func (i *WorkflowInstance) AddActiveNode(nodeID string) {
	if !slices.Contains(i.ActiveNodes, nodeID) {
		i.ActiveNodes = append(i.ActiveNodes, nodeID)
	}
}

// RemoveActiveNode clears a node from the awaiting set.
func (i *WorkflowInstance) RemoveActiveNode(nodeID string) {
	i.ActiveNodes = slices.DeleteFunc(i.ActiveNodes, func(id string) bool {
		return id == nodeID
	})
}

// HasActiveNode reports whether the node is awaiting resumption.
func (i *WorkflowInstance) HasActiveNode(nodeID string) bool {
	return slices.Contains(i.ActiveNodes, nodeID)
}

// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/tideflow-io/tideflow/pkg/models"
)

type EventType string

// Kafka topic for workflow lifecycle events.
const Topic = "tideflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Instance lifecycle events.
	InstanceStartedEvent   EventType = "instance.started"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceFailedEvent    EventType = "instance.failed"
	InstanceCancelledEvent EventType = "instance.cancelled"
	InstanceSuspendedEvent EventType = "instance.suspended"
	InstanceResumedEvent   EventType = "instance.resumed"

	// Node events.
	NodeExecutedEvent EventType = "node.executed"

	// Approval gate events.
	GateOpenedEvent       EventType = "gate.opened"
	ApprovalRecordedEvent EventType = "approval.recorded"
	GateResolvedEvent     EventType = "gate.resolved"

	// Version lifecycle events.
	VersionPublishedEvent EventType = "version.published"
	VersionArchivedEvent  EventType = "version.archived"
)

type BaseEvent struct {
	ID           string         `json:"id"`
	Type         EventType      `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	DefinitionID string         `json:"definition_id,omitempty"`
	InstanceID   string         `json:"instance_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type InstanceStarted struct {
	BaseEvent

	VersionID  string         `json:"version_id"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	Trigger    map[string]any `json:"trigger,omitempty"`
}

func (e InstanceStarted) GetType() EventType {
	return InstanceStartedEvent
}

type InstanceCompleted struct {
	BaseEvent

	Duration time.Duration `json:"duration"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceFailed struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Error  string `json:"error"`
}

func (e InstanceFailed) GetType() EventType {
	return InstanceFailedEvent
}

type InstanceCancelled struct {
	BaseEvent
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// InstanceSuspended is published when the interpreter parks an instance on an
// approval, delay or subworkflow node.
type InstanceSuspended struct {
	BaseEvent

	ActiveNodes []string `json:"active_nodes"`
	Reason      string   `json:"reason"`
}

func (e InstanceSuspended) GetType() EventType {
	return InstanceSuspendedEvent
}

type InstanceResumed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Port   string `json:"port,omitempty"`
}

func (e InstanceResumed) GetType() EventType {
	return InstanceResumedEvent
}

type NodeExecuted struct {
	BaseEvent

	NodeID   string                    `json:"node_id"`
	NodeType models.NodeType           `json:"node_type"`
	Status   models.ExecutionLogStatus `json:"status"`
}

func (e NodeExecuted) GetType() EventType {
	return NodeExecutedEvent
}

type GateOpened struct {
	BaseEvent

	GateID        string              `json:"gate_id"`
	NodeID        string              `json:"node_id"`
	ApprovalType  models.ApprovalType `json:"approval_type"`
	RequiredCount int                 `json:"required_count"`
	Approvers     []string            `json:"approvers"`
}

func (e GateOpened) GetType() EventType {
	return GateOpenedEvent
}

type ApprovalRecorded struct {
	BaseEvent

	GateID        string          `json:"gate_id"`
	ApproverID    string          `json:"approver_id"`
	Decision      models.Decision `json:"decision"`
	ApprovedCount int             `json:"approved_count"`
	RequiredCount int             `json:"required_count"`
}

func (e ApprovalRecorded) GetType() EventType {
	return ApprovalRecordedEvent
}

type GateResolved struct {
	BaseEvent

	GateID    string            `json:"gate_id"`
	Status    models.GateStatus `json:"status"`
	Satisfied bool              `json:"satisfied"`
}

func (e GateResolved) GetType() EventType {
	return GateResolvedEvent
}

type VersionPublished struct {
	BaseEvent

	VersionID string `json:"version_id"`
	Number    int    `json:"number"`
}

func (e VersionPublished) GetType() EventType {
	return VersionPublishedEvent
}

type VersionArchived struct {
	BaseEvent

	VersionID string `json:"version_id"`
	Number    int    `json:"number"`
}

func (e VersionArchived) GetType() EventType {
	return VersionArchivedEvent
}

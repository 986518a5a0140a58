// Package persistence provides the data storage abstraction for workflow
// definitions, versions, instances, execution logs and approvals.
package persistence

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/models"
)

// Persistence aggregates the repositories the engine and managers depend on.
// Implementations must provide per-record atomic writes; the engine performs
// "read instance, apply node logic, write instance" as one unit and relies on
// the store for row-level atomicity.
type Persistence interface {
	Definitions() DefinitionRepository
	Versions() VersionRepository
	Instances() InstanceRepository
	ExecutionLogs() ExecutionLogRepository
	Approvals() ApprovalRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// DefinitionRepository stores workflow definitions.
type DefinitionRepository interface {
	Save(ctx context.Context, definition *models.WorkflowDefinition) error
	GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	GetBySlug(ctx context.Context, slug string) (*models.WorkflowDefinition, error)
	List(ctx context.Context) ([]*models.WorkflowDefinition, error)
}

// VersionRepository stores workflow versions.
type VersionRepository interface {
	Save(ctx context.Context, version *models.WorkflowVersion) error
	GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error)
	ListByDefinition(ctx context.Context, definitionID string) ([]*models.WorkflowVersion, error)
}

// InstanceRepository stores workflow instances.
type InstanceRepository interface {
	Save(ctx context.Context, instance *models.WorkflowInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// FindActiveByEntity returns the non-terminal instance of a definition
	// bound to the given entity, or ErrInstanceNotFound when none exists.
	FindActiveByEntity(ctx context.Context, definitionID, entityType, entityID string) (*models.WorkflowInstance, error)
	ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error)
}

// ExecutionLogRepository appends and reads the per-instance audit trail.
type ExecutionLogRepository interface {
	Append(ctx context.Context, entry *models.ExecutionLog) error
	ListByInstance(ctx context.Context, instanceID string) ([]*models.ExecutionLog, error)
}

// ApprovalRepository stores approval gates and per-approver records.
type ApprovalRepository interface {
	SaveGate(ctx context.Context, gate *models.ApprovalGate) error
	GetGate(ctx context.Context, id string) (*models.ApprovalGate, error)
	GetGateByNode(ctx context.Context, instanceID, nodeID string) (*models.ApprovalGate, error)
	ListGatesByInstance(ctx context.Context, instanceID string) ([]*models.ApprovalGate, error)

	SaveApproval(ctx context.Context, approval *models.Approval) error
	GetApproval(ctx context.Context, id string) (*models.Approval, error)
	GetApprovalByToken(ctx context.Context, token string) (*models.Approval, error)
	ListApprovalsByGate(ctx context.Context, gateID string) ([]*models.Approval, error)
}

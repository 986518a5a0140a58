package web

import "github.com/tideflow-io/tideflow/pkg/models"

// CreateWorkflowRequest registers a new workflow definition.
type CreateWorkflowRequest struct {
	Slug        string `json:"slug"        validate:"required,min=3,max=100"`
	Name        string `json:"name"        validate:"required,min=3,max=100"`
	Description string `json:"description" validate:"max=500"`
}

// CreateDraftRequest opens a new draft version of a definition.
type CreateDraftRequest struct {
	Nodes       map[string]*models.Node `json:"nodes"        validate:"required"`
	Canvas      map[string]any          `json:"canvas"`
	ChangeNotes string                  `json:"change_notes" validate:"max=1000"`
}

// UpdateDraftRequest replaces a draft version's graph.
type UpdateDraftRequest struct {
	Nodes       map[string]*models.Node `json:"nodes"        validate:"required"`
	Canvas      map[string]any          `json:"canvas"`
	ChangeNotes string                  `json:"change_notes" validate:"max=1000"`
}

// StartInstanceRequest starts a workflow run against an entity.
type StartInstanceRequest struct {
	WorkflowSlug string         `json:"workflow_slug" validate:"required"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	Trigger      map[string]any `json:"trigger"`
}

// ResumeInstanceRequest re-enters a suspended instance at a node.
type ResumeInstanceRequest struct {
	NodeID     string         `json:"node_id" validate:"required"`
	Port       string         `json:"port"`
	ResumeData map[string]any `json:"resume_data"`
}

// CancelInstanceRequest cancels a non-terminal instance.
type CancelInstanceRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// MigrateInstanceRequest repoints an instance at another published version.
type MigrateInstanceRequest struct {
	TargetVersionID string `json:"target_version_id" validate:"required"`
}

// DecisionRequest records an approver's verdict on a gate.
type DecisionRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Decision   string `json:"decision"    validate:"required,oneof=approve reject abstain"`
	Comment    string `json:"comment"     validate:"max=1000"`
}

// TokenDecisionRequest records a verdict identified by an issued token.
type TokenDecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject abstain"`
	Comment  string `json:"comment"  validate:"max=1000"`
}

// DelegateRequest reassigns a pending approval to another approver.
type DelegateRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
}

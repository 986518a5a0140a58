package models

import "time"

// VersionStatus represents the lifecycle state of a workflow version.
type VersionStatus string

const (
	VersionStatusDraft     VersionStatus = "draft"     // Editable, not executable
	VersionStatusPublished VersionStatus = "published" // Current active, executable
	VersionStatusArchived  VersionStatus = "archived"  // Historical, immutable, not executable
)

// WorkflowVersion is one immutable validated node graph of a definition.
// Version numbers are monotonic per definition. Only draft versions may be
// edited; publishing archives the previously published version.
type WorkflowVersion struct {
	ID           string           `json:"id"`
	DefinitionID string           `json:"definition_id" validate:"required"`
	Number       int              `json:"number"        validate:"min=1"`
	Status       VersionStatus    `json:"status"        validate:"required"`
	Nodes        map[string]*Node `json:"nodes"`
	Canvas       map[string]any   `json:"canvas,omitempty"` // Presentation only, ignored by the interpreter
	ChangeNotes  string           `json:"change_notes,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	PublishedAt  *time.Time       `json:"published_at,omitempty"`
	ArchivedAt   *time.Time       `json:"archived_at,omitempty"`
}

// TriggerNodeID returns the id of the single trigger node, or "" when the
// graph has none. Graphs with zero or multiple triggers fail validation, so
// executable versions always resolve exactly one.
func (v *WorkflowVersion) TriggerNodeID() string {
	for id, node := range v.Nodes {
		if node.Type == NodeTypeTrigger {
			return id
		}
	}

	return ""
}

// IncomingEdges returns every (sourceNodeID, edge) pair targeting nodeID.
func (v *WorkflowVersion) IncomingEdges(nodeID string) []IncomingEdge {
	var incoming []IncomingEdge

	for sourceID, node := range v.Nodes {
		for _, edge := range node.Outputs {
			if edge.Target == nodeID {
				incoming = append(incoming, IncomingEdge{SourceNodeID: sourceID, Edge: edge})
			}
		}
	}

	return incoming
}

// IncomingEdge pairs an edge with the node that declares it.
type IncomingEdge struct {
	SourceNodeID string
	Edge         Edge
}

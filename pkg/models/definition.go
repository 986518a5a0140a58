// Package models defines the core domain models for durable workflow execution.
package models

import "time"

// WorkflowDefinition is the stable identity of a workflow. It owns a history of
// versions; at most one of them is published (current) at any time.
type WorkflowDefinition struct {
	ID               string    `json:"id"`
	Slug             string    `json:"slug"                         validate:"required,min=3"`
	Name             string    `json:"name"                         validate:"required,min=3"`
	Description      string    `json:"description"`
	CurrentVersionID string    `json:"current_version_id,omitempty"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasPublishedVersion reports whether the definition currently points at a
// published version.
func (d *WorkflowDefinition) HasPublishedVersion() bool {
	return d.CurrentVersionID != ""
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tideflow-io/tideflow/pkg/events"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
)

// executeSubworkflowNode parks the parent on the node and defers the child
// start until the parent has been persisted, so a child that completes
// synchronously finds the parent's node active when it signals back.
func (e *Engine) executeSubworkflowNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
	startedAt time.Time,
) ([]childStart, error) {
	slug := node.ConfigString(models.ConfigWorkflowSlug)
	if slug == "" {
		return nil, fmt.Errorf("subworkflow node %s has no %s", nodeID, models.ConfigWorkflowSlug)
	}

	instance.AddActiveNode(nodeID)

	if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusWaiting, startedAt); err != nil {
		return nil, err
	}

	payload := map[string]any{}

	if input, ok := node.Config["input"].(map[string]any); ok {
		for key, value := range renderedGateConfig(input, instance) {
			payload[key] = value
		}
	}

	return []childStart{{slug: slug, nodeID: nodeID, payload: payload}}, nil
}

// startChild spawns the child instance with a parent link. The child runs to
// completion or suspension inside this call.
func (e *Engine) startChild(ctx context.Context, parent *models.WorkflowInstance, child childStart) error {
	definition, err := e.persistence.Definitions().GetBySlug(ctx, child.slug)
	if err != nil {
		return fmt.Errorf("subworkflow %q: %w", child.slug, err)
	}

	if !definition.HasPublishedVersion() {
		return fmt.Errorf("subworkflow %q: %w", child.slug, ErrNoPublishedVersion)
	}

	version, err := e.persistence.Versions().GetByID(ctx, definition.CurrentVersionID)
	if err != nil {
		return err
	}

	triggerNodeID := version.TriggerNodeID()
	if triggerNodeID == "" {
		return fmt.Errorf("subworkflow %q version has no trigger node", child.slug)
	}

	startedAt := e.now()

	childInstance := &models.WorkflowInstance{
		ID:           uuid.NewString(),
		DefinitionID: definition.ID,
		VersionID:    version.ID,
		Status:       models.InstanceStatusRunning,
		Context:      models.NewInstanceContext(child.payload),
		CreatedAt:    startedAt,
		UpdatedAt:    startedAt,
	}
	childInstance.SetParentLink(models.ParentLink{InstanceID: parent.ID, NodeID: child.nodeID})

	if err := e.persistence.Instances().Save(ctx, childInstance); err != nil {
		return err
	}

	e.publish(ctx, childInstance.ID, events.InstanceStarted{
		BaseEvent: e.baseEvent(events.InstanceStartedEvent, childInstance),
		VersionID: version.ID,
		Trigger:   child.payload,
	})

	e.logger.InfoContext(ctx, "Subworkflow started",
		"parent_instance_id", parent.ID, "child_instance_id", childInstance.ID, "workflow", child.slug)

	if err := e.appendLog(ctx, childInstance, triggerNodeID, models.NodeTypeTrigger, models.ExecutionLogStatusCompleted, startedAt); err != nil {
		return err
	}

	queue := unitsFromEdges(version.Nodes[triggerNodeID].Outputs)

	return e.run(ctx, childInstance, version, queue)
}

// notifyParent resumes the parent instance when a subworkflow child reaches
// completed. The hook only fires while the parent still has the subworkflow
// node active; cancelled parents leave the child's completion unobserved.
func (e *Engine) notifyParent(ctx context.Context, child *models.WorkflowInstance) error {
	link, ok := child.ParentLink()
	if !ok {
		return nil
	}

	parent, err := e.persistence.Instances().GetByID(ctx, link.InstanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil
		}

		return err
	}

	if parent.IsTerminal() || !parent.HasActiveNode(link.NodeID) {
		e.logger.DebugContext(ctx, "Parent no longer awaiting subworkflow completion",
			"parent_instance_id", link.InstanceID, "child_instance_id", child.ID)

		return nil
	}

	resumeData := map[string]any{
		"childInstanceId": child.ID,
		"childStatus":     string(child.Status),
	}

	if nodes, ok := child.Context[models.ContextKeyNodes].(map[string]any); ok {
		resumeData["childOutputs"] = nodes
	}

	_, err = e.ResumeWorkflow(ctx, link.InstanceID, link.NodeID, models.PortDefault, resumeData)

	return err
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tideflow-io/tideflow/pkg/actions"
	"github.com/tideflow-io/tideflow/pkg/conditions"
	"github.com/tideflow-io/tideflow/pkg/events"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/template"
)

// frontierUnit is one queued (node, incoming port) pair awaiting
// interpretation.
type frontierUnit struct {
	nodeID string
	port   string
}

// childStart defers spawning a subworkflow child until the parent has been
// persisted as waiting, so a synchronously completing child finds its parent
// with the subworkflow node active.
type childStart struct {
	slug    string
	nodeID  string
	payload map[string]any
}

func unitsFromEdges(edges []models.Edge) []frontierUnit {
	units := make([]frontierUnit, 0, len(edges))
	for _, edge := range edges {
		units = append(units, frontierUnit{nodeID: edge.Target, port: edge.Port})
	}

	return units
}

// run drains the frontier queue one unit at a time. Fork branches share the
// instance's single mutable context, so ordering of side effects follows the
// declared output order and later branches observe earlier branches' writes.
func (e *Engine) run(
	ctx context.Context,
	instance *models.WorkflowInstance,
	version *models.WorkflowVersion,
	queue []frontierUnit,
) error {
	var pendingChildren []childStart

	for len(queue) > 0 {
		unit := queue[0]
		queue = queue[1:]

		node, ok := version.Nodes[unit.nodeID]
		if !ok {
			return e.failInstance(ctx, instance, unit.nodeID,
				fmt.Sprintf("node %s not present in graph", unit.nodeID))
		}

		next, children, err := e.executeNode(ctx, instance, version, node, unit)
		if err != nil {
			return e.failInstance(ctx, instance, unit.nodeID, err.Error())
		}

		queue = append(queue, next...)
		pendingChildren = append(pendingChildren, children...)
	}

	if err := e.settle(ctx, instance); err != nil {
		return err
	}

	for _, child := range pendingChildren {
		if err := e.startChild(ctx, instance, child); err != nil {
			return e.failInstance(ctx, instance, child.nodeID, err.Error())
		}
	}

	return nil
}

// settle persists the instance once the queue drains: waiting when blocked
// nodes remain, completed otherwise.
func (e *Engine) settle(ctx context.Context, instance *models.WorkflowInstance) error {
	now := e.now()
	instance.UpdatedAt = now

	if len(instance.ActiveNodes) > 0 {
		instance.Status = models.InstanceStatusWaiting

		if err := e.persistence.Instances().Save(ctx, instance); err != nil {
			return err
		}

		e.publish(ctx, instance.ID, events.InstanceSuspended{
			BaseEvent:   e.baseEvent(events.InstanceSuspendedEvent, instance),
			ActiveNodes: instance.ActiveNodes,
			Reason:      "frontier blocked on external events",
		})

		return nil
	}

	instance.Status = models.InstanceStatusCompleted
	instance.CompletedAt = &now

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return err
	}

	e.publish(ctx, instance.ID, events.InstanceCompleted{
		BaseEvent: e.baseEvent(events.InstanceCompletedEvent, instance),
		Duration:  now.Sub(instance.CreatedAt),
	})

	e.logger.InfoContext(ctx, "Workflow completed", "instance_id", instance.ID)

	return e.notifyParent(ctx, instance)
}

// failInstance marks the instance failed with diagnostic info. A node fault
// never propagates as a raised error across the engine boundary.
func (e *Engine) failInstance(ctx context.Context, instance *models.WorkflowInstance, nodeID, message string) error {
	now := e.now()

	instance.Status = models.InstanceStatusFailed
	instance.UpdatedAt = now
	instance.CompletedAt = &now
	instance.ErrorInfo = &models.ErrorInfo{
		NodeID:   nodeID,
		Message:  message,
		FailedAt: now,
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return err
	}

	e.publish(ctx, instance.ID, events.InstanceFailed{
		BaseEvent: e.baseEvent(events.InstanceFailedEvent, instance),
		NodeID:    nodeID,
		Error:     message,
	})

	e.logger.ErrorContext(ctx, "Workflow failed",
		"instance_id", instance.ID, "node_id", nodeID, "error", message)

	return nil
}

// executeNode dispatches one frontier unit by node type. A panic inside node
// logic is captured and reported as a node failure.
func (e *Engine) executeNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	version *models.WorkflowVersion,
	node *models.Node,
	unit frontierUnit,
) (next []frontierUnit, children []childStart, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			next = nil
			children = nil
			err = fmt.Errorf("panic while executing node %s: %v", unit.nodeID, recovered)
		}
	}()

	startedAt := e.now()

	switch node.Type {
	case models.NodeTypeTrigger:
		next = unitsFromEdges(node.Outputs)
	case models.NodeTypeAction:
		next, err = e.executeActionNode(ctx, instance, node, unit.nodeID)
	case models.NodeTypeCondition:
		next, err = e.executeConditionNode(ctx, instance, node, unit.nodeID)
	case models.NodeTypeFork:
		next = unitsFromEdges(node.Outputs)
	case models.NodeTypeJoin:
		return e.executeJoinNode(ctx, instance, version, node, unit.nodeID, startedAt)
	case models.NodeTypeLoop:
		next, err = e.executeLoopNode(ctx, instance, node, unit.nodeID)
	case models.NodeTypeDelay:
		next, err = e.executeDelayNode(ctx, instance, node, unit.nodeID, startedAt)
	case models.NodeTypeSubworkflow:
		children, err = e.executeSubworkflowNode(ctx, instance, node, unit.nodeID, startedAt)
	case models.NodeTypeApproval:
		err = e.executeApprovalNode(ctx, instance, node, unit.nodeID, startedAt)
	case models.NodeTypeEnd:
		err = e.appendLog(ctx, instance, unit.nodeID, node.Type, models.ExecutionLogStatusCompleted, startedAt)

		return nil, nil, err
	default:
		return nil, nil, fmt.Errorf("unknown node type %q", node.Type)
	}

	if err != nil {
		return nil, nil, err
	}

	// Suspending node types write their own log rows above.
	switch node.Type {
	case models.NodeTypeDelay, models.NodeTypeSubworkflow, models.NodeTypeApproval, models.NodeTypeJoin:
	default:
		if logErr := e.appendLog(ctx, instance, unit.nodeID, node.Type, models.ExecutionLogStatusCompleted, startedAt); logErr != nil {
			return nil, nil, logErr
		}
	}

	return next, children, nil
}

func (e *Engine) executeActionNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
) ([]frontierUnit, error) {
	specs, err := decodeActionSpecs(node.Config)
	if err != nil {
		return nil, err
	}

	run := &actions.Run{Instance: instance, NodeID: nodeID}

	result := e.actions.Execute(ctx, specs, run)

	output := map[string]any{"success": result.Success}
	if encoded, err := json.Marshal(result.Results); err == nil {
		var results []any
		if json.Unmarshal(encoded, &results) == nil {
			output["results"] = results
		}
	}

	instance.MergeNodeOutput(nodeID, output)

	if !result.Success {
		return nil, fmt.Errorf("action chain failed at %s", failedStep(result))
	}

	return unitsFromEdges(node.OutputsFor(models.PortDefault)), nil
}

func decodeActionSpecs(config map[string]any) ([]actions.Spec, error) {
	raw, ok := config["actions"]
	if !ok {
		return nil, nil
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action specs: %w", err)
	}

	var specs []actions.Spec
	if err := json.Unmarshal(encoded, &specs); err != nil {
		return nil, fmt.Errorf("failed to decode action specs: %w", err)
	}

	return specs, nil
}

func failedStep(result *actions.Result) string {
	for _, sub := range result.Results {
		if sub.Status == actions.StatusFailed {
			return fmt.Sprintf("%s: %s", sub.Type, sub.Message)
		}
	}

	return "unknown step"
}

func (e *Engine) executeConditionNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
) ([]frontierUnit, error) {
	spec := conditionSpec(node.Config)

	input, err := e.conditionInput(ctx, instance)
	if err != nil {
		return nil, err
	}

	result := e.conditions.Evaluate(ctx, spec, input)

	port := models.PortFalse
	if result {
		port = models.PortTrue
	}

	instance.MergeNodeOutput(nodeID, map[string]any{"result": result, "port": port})

	return unitsFromEdges(node.OutputsFor(port)), nil
}

// conditionSpec accepts either a structured condition or a free-text
// expression config key.
func conditionSpec(config map[string]any) map[string]any {
	if structured, ok := config["condition"].(map[string]any); ok {
		return structured
	}

	if expression, ok := config["expression"].(string); ok {
		return map[string]any{"expression": expression}
	}

	return nil
}

// conditionInput assembles the evaluation document from the instance: the
// trigger payload's entity and user bindings plus the live gate statuses.
func (e *Engine) conditionInput(ctx context.Context, instance *models.WorkflowInstance) (*conditions.Input, error) {
	gateStatus, err := e.approvals.GateStatusByNode(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	input := &conditions.Input{
		Entity:     instance.EntityDocument(),
		Context:    instance.Context,
		GateStatus: gateStatus,
		Anchor:     instance.CreatedAt,
	}

	trigger, _ := instance.Context[models.ContextKeyTrigger].(map[string]any)
	if userID, ok := trigger["user_id"].(string); ok {
		input.UserID = userID
	}

	return input, nil
}

// executeJoinNode attributes incoming inputs by scanning the execution-log
// trail: a source counts once it has a completed row strictly after the
// join's high-water mark. Two sources completing at the identical instant can
// therefore be under-counted, leaving the join waiting; this is a known
// boundary condition of timestamp attribution.
// TODO: attribute join inputs by a monotonic sequence number instead of
// wall-clock completion time.
func (e *Engine) executeJoinNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	version *models.WorkflowVersion,
	node *models.Node,
	nodeID string,
	startedAt time.Time,
) ([]frontierUnit, []childStart, error) {
	incoming := version.IncomingEdges(nodeID)

	expected := make(map[string]bool, len(incoming))
	for _, edge := range incoming {
		expected[edge.SourceNodeID] = true
	}

	completed := instance.JoinCompletedInputs(nodeID)
	if len(completed) >= len(expected) {
		// Already fired; a late branch re-delivering into the join is a no-op.
		return nil, nil, nil
	}

	trail, err := e.persistence.ExecutionLogs().ListByInstance(ctx, instance.ID)
	if err != nil {
		return nil, nil, err
	}

	lastObserved, _ := instance.JoinLastObserved(nodeID)
	highWater := lastObserved

	for _, entry := range trail {
		if entry.Status != models.ExecutionLogStatusCompleted || !expected[entry.NodeID] {
			continue
		}

		if !entry.CompletedAt.After(lastObserved) {
			continue
		}

		completed = instance.AddJoinInput(nodeID, entry.NodeID)

		if entry.CompletedAt.After(highWater) {
			highWater = entry.CompletedAt
		}
	}

	if highWater.After(lastObserved) {
		instance.SetJoinLastObserved(nodeID, highWater)
	}

	if len(completed) >= len(expected) {
		instance.RemoveActiveNode(nodeID)

		if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusCompleted, startedAt); err != nil {
			return nil, nil, err
		}

		return unitsFromEdges(node.OutputsFor(models.PortDefault)), nil, nil
	}

	instance.AddActiveNode(nodeID)

	if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusWaiting, startedAt); err != nil {
		return nil, nil, err
	}

	return nil, nil, nil
}

func (e *Engine) executeLoopNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
) ([]frontierUnit, error) {
	maxIterations, ok := node.ConfigInt(models.ConfigMaxIterations)
	if !ok || maxIterations <= 0 {
		return nil, fmt.Errorf("loop node %s has no positive %s", nodeID, models.ConfigMaxIterations)
	}

	exit := false

	if spec, ok := node.Config["exitCondition"].(map[string]any); ok {
		input, err := e.conditionInput(ctx, instance)
		if err != nil {
			return nil, err
		}

		exit = e.conditions.Evaluate(ctx, spec, input)
	} else if expression, ok := node.Config["exitCondition"].(string); ok {
		input, err := e.conditionInput(ctx, instance)
		if err != nil {
			return nil, err
		}

		exit = e.conditions.Evaluate(ctx, map[string]any{"expression": expression}, input)
	}

	iteration := instance.LoopIteration(nodeID)

	if !exit && iteration < maxIterations {
		instance.IncrementLoopIteration(nodeID)

		return unitsFromEdges(node.OutputsFor(models.PortBody)), nil
	}

	return unitsFromEdges(node.OutputsFor(models.PortExit)), nil
}

func (e *Engine) executeDelayNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
	startedAt time.Time,
) ([]frontierUnit, error) {
	waitEvent := node.ConfigString(models.ConfigWaitEvent)
	duration := node.ConfigString(models.ConfigDuration)

	if waitEvent == "" {
		deadline := ParseDeadline(duration, e.now())
		if deadline != nil && !deadline.After(e.now()) {
			// Already expired, pass straight through.
			if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusCompleted, startedAt); err != nil {
				return nil, err
			}

			return unitsFromEdges(node.OutputsFor(models.PortDefault)), nil
		}

		if deadline != nil {
			instance.SetDelayWake(nodeID, *deadline)
		}
	}

	instance.AddActiveNode(nodeID)

	if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusWaiting, startedAt); err != nil {
		return nil, err
	}

	return nil, nil
}

func (e *Engine) executeApprovalNode(
	ctx context.Context,
	instance *models.WorkflowInstance,
	node *models.Node,
	nodeID string,
	startedAt time.Time,
) error {
	rendered := renderedGateConfig(node.Config, instance)

	gate, err := e.approvals.CreateGate(ctx, instance, nodeID, rendered, instance.EntityDocument())
	if err != nil {
		return err
	}

	instance.AddActiveNode(nodeID)

	if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusWaiting, startedAt); err != nil {
		return err
	}

	e.publish(ctx, instance.ID, events.GateOpened{
		BaseEvent:     e.baseEvent(events.GateOpenedEvent, instance),
		GateID:        gate.ID,
		NodeID:        nodeID,
		ApprovalType:  gate.ApprovalType,
		RequiredCount: gate.RequiredCount,
		Approvers:     gate.Approvers,
	})

	return nil
}

// renderedGateConfig resolves template placeholders in gate config strings
// against the instance context.
func renderedGateConfig(config map[string]any, instance *models.WorkflowInstance) map[string]any {
	rendered := make(map[string]any, len(config))
	for key, value := range config {
		if text, ok := value.(string); ok {
			rendered[key] = template.RenderValue(text, instance.Context, nil)

			continue
		}

		rendered[key] = value
	}

	return rendered
}

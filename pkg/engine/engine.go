// Package engine implements the graph interpreter: it walks a published
// version's node graph for one instance at a time, dispatching per node type
// and suspending on approval, delay and subworkflow nodes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tideflow-io/tideflow/pkg/actions"
	"github.com/tideflow-io/tideflow/pkg/approval"
	"github.com/tideflow-io/tideflow/pkg/conditions"
	"github.com/tideflow-io/tideflow/pkg/eventbus"
	"github.com/tideflow-io/tideflow/pkg/events"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/otelhelper"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Engine operation errors. Every public operation fails fast with a reason
// naming the violated rule.
var (
	ErrActiveInstanceExists = errors.New("workflow already has an active instance")
	ErrWorkflowInactive     = errors.New("workflow definition is not active")
	ErrNoPublishedVersion   = errors.New("workflow definition has no published version")
	ErrInstanceTerminal     = errors.New("transition not available: instance is terminal")
	ErrNodeNotActive        = errors.New("transition not available: node is not awaiting resumption")
)

// Engine interprets workflow graphs. One engine serves many instances; a
// single instance must not be driven by two concurrent resume calls.
type Engine struct {
	persistence persistence.Persistence
	actions     *actions.Executor
	conditions  *conditions.Evaluator
	approvals   *approval.Manager
	eventBus    eventbus.EventBus
	tracer      trace.Tracer
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine wires the interpreter. The event bus and tracer may be nil; a nil
// tracer disables span export without branching at call sites.
func NewEngine(
	logger *slog.Logger,
	store persistence.Persistence,
	executor *actions.Executor,
	evaluator *conditions.Evaluator,
	approvals *approval.Manager,
	bus eventbus.EventBus,
	tracer trace.Tracer,
) *Engine {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("tideflow-engine")
	}

	return &Engine{
		persistence: store,
		actions:     executor,
		conditions:  evaluator,
		approvals:   approvals,
		eventBus:    bus,
		tracer:      tracer,
		logger:      logger.With("module", "engine"),
		now:         time.Now,
	}
}

// WithClock overrides the engine's clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now

	return e
}

// StartWorkflow creates and runs a new instance of the definition's published
// version. A second start for the same (entityType, entityID) while the first
// instance is non-terminal fails with ErrActiveInstanceExists.
func (e *Engine) StartWorkflow(
	ctx context.Context,
	slug string,
	entityType, entityID string,
	triggerPayload map[string]any,
) (instance *models.WorkflowInstance, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.start_workflow",
		attribute.String(otelhelper.DefinitionSlug, slug),
		attribute.String(otelhelper.EntityTypeKey, entityType),
		attribute.String(otelhelper.EntityIDKey, entityID))

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.DefinitionSlug, slug))
		}

		span.End()
	}()

	definition, err := e.persistence.Definitions().GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	if !definition.Active {
		return nil, ErrWorkflowInactive
	}

	if !definition.HasPublishedVersion() {
		return nil, ErrNoPublishedVersion
	}

	if entityID != "" {
		_, err := e.persistence.Instances().FindActiveByEntity(ctx, definition.ID, entityType, entityID)
		if err == nil {
			return nil, ErrActiveInstanceExists
		}

		if !errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, err
		}
	}

	version, err := e.persistence.Versions().GetByID(ctx, definition.CurrentVersionID)
	if err != nil {
		return nil, err
	}

	triggerNodeID := version.TriggerNodeID()
	if triggerNodeID == "" {
		return nil, fmt.Errorf("version %s has no trigger node", version.ID)
	}

	startedAt := e.now()

	instance = &models.WorkflowInstance{
		ID:           uuid.NewString(),
		DefinitionID: definition.ID,
		VersionID:    version.ID,
		EntityType:   entityType,
		EntityID:     entityID,
		Status:       models.InstanceStatusRunning,
		Context:      models.NewInstanceContext(triggerPayload),
		CreatedAt:    startedAt,
		UpdatedAt:    startedAt,
	}

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.InstanceIDKey, instance.ID))

	e.publish(ctx, instance.ID, events.InstanceStarted{
		BaseEvent:  e.baseEvent(events.InstanceStartedEvent, instance),
		VersionID:  version.ID,
		EntityType: entityType,
		EntityID:   entityID,
		Trigger:    triggerPayload,
	})

	e.logger.InfoContext(ctx, "Workflow started",
		"instance_id", instance.ID, "definition", slug, "version", version.Number,
		"entity_type", entityType, "entity_id", entityID)

	if err := e.appendLog(ctx, instance, triggerNodeID, models.NodeTypeTrigger, models.ExecutionLogStatusCompleted, startedAt); err != nil {
		return nil, err
	}

	queue := unitsFromEdges(version.Nodes[triggerNodeID].Outputs)

	if err := e.run(ctx, instance, version, queue); err != nil {
		return nil, err
	}

	return instance, nil
}

// ResumeWorkflow re-enters the interpreter at a suspended node. Terminal
// instances always fail fast; the node must be in the instance's active set.
func (e *Engine) ResumeWorkflow(
	ctx context.Context,
	instanceID, nodeID, port string,
	resumeData map[string]any,
) (instance *models.WorkflowInstance, err error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.resume_workflow",
		attribute.String(otelhelper.InstanceIDKey, instanceID),
		attribute.String(otelhelper.NodeIDKey, nodeID))

	defer func() {
		if err != nil {
			otelhelper.SetError(span, err, attribute.String(otelhelper.NodeIDKey, nodeID))
		}

		span.End()
	}()

	instance, err = e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.IsTerminal() {
		return nil, fmt.Errorf("%w (status %s)", ErrInstanceTerminal, instance.Status)
	}

	if !instance.HasActiveNode(nodeID) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotActive, nodeID)
	}

	version, err := e.persistence.Versions().GetByID(ctx, instance.VersionID)
	if err != nil {
		return nil, err
	}

	node, ok := version.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s not present in version %s", nodeID, version.ID)
	}

	if port == "" {
		port = models.PortDefault
	}

	instance.RemoveActiveNode(nodeID)
	instance.ClearDelay(nodeID)
	instance.Status = models.InstanceStatusRunning

	if len(resumeData) > 0 {
		instance.MergeNodeOutput(nodeID, resumeData)
	}

	if err := e.appendLog(ctx, instance, nodeID, node.Type, models.ExecutionLogStatusCompleted, e.now()); err != nil {
		return nil, err
	}

	e.publish(ctx, instance.ID, events.InstanceResumed{
		BaseEvent: e.baseEvent(events.InstanceResumedEvent, instance),
		NodeID:    nodeID,
		Port:      port,
	})

	e.logger.InfoContext(ctx, "Workflow resumed",
		"instance_id", instanceID, "node_id", nodeID, "port", port)

	queue := unitsFromEdges(node.OutputsFor(port))

	if err := e.run(ctx, instance, version, queue); err != nil {
		return nil, err
	}

	return instance, nil
}

// CancelWorkflow transitions a non-terminal instance to cancelled and cancels
// its pending approval gates. Child subworkflow instances are not cascaded;
// they keep running as orphans.
func (e *Engine) CancelWorkflow(ctx context.Context, instanceID, reason string) (*models.WorkflowInstance, error) {
	instance, err := e.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.IsTerminal() {
		return nil, fmt.Errorf("%w (status %s)", ErrInstanceTerminal, instance.Status)
	}

	cancelledAt := e.now()
	instance.Status = models.InstanceStatusCancelled
	instance.UpdatedAt = cancelledAt
	instance.CompletedAt = &cancelledAt

	if err := e.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, err
	}

	if err := e.approvals.CancelGatesForInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	e.publish(ctx, instance.ID, events.InstanceCancelled{
		BaseEvent: e.baseEvent(events.InstanceCancelledEvent, instance),
	})

	e.logger.InfoContext(ctx, "Workflow cancelled",
		"instance_id", instanceID, "reason", reason)

	return instance, nil
}

func (e *Engine) baseEvent(eventType events.EventType, instance *models.WorkflowInstance) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    e.now(),
		DefinitionID: instance.DefinitionID,
		InstanceID:   instance.ID,
	}
}

// publish sends a lifecycle event; delivery problems are logged, never fatal.
func (e *Engine) publish(ctx context.Context, key string, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	if err := e.eventBus.Publish(ctx, key, event); err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) appendLog(
	ctx context.Context,
	instance *models.WorkflowInstance,
	nodeID string,
	nodeType models.NodeType,
	status models.ExecutionLogStatus,
	startedAt time.Time,
) error {
	entry := &models.ExecutionLog{
		ID:          uuid.NewString(),
		InstanceID:  instance.ID,
		NodeID:      nodeID,
		NodeType:    nodeType,
		Status:      status,
		StartedAt:   startedAt,
		CompletedAt: e.now(),
	}

	if err := e.persistence.ExecutionLogs().Append(ctx, entry); err != nil {
		return err
	}

	e.publish(ctx, instance.ID, events.NodeExecuted{
		BaseEvent: e.baseEvent(events.NodeExecutedEvent, instance),
		NodeID:    nodeID,
		NodeType:  nodeType,
		Status:    status,
	})

	return nil
}

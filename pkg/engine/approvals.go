package engine

import (
	"context"

	"github.com/tideflow-io/tideflow/pkg/approval"
	"github.com/tideflow-io/tideflow/pkg/events"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// RecordApproval applies a decision identified by gate and approver, then
// advances the owning instance according to the gate outcome.
func (e *Engine) RecordApproval(
	ctx context.Context,
	gateID, approverID string,
	decision models.Decision,
	comment string,
) (*approval.GateResult, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.record_approval",
		attribute.String(otelhelper.GateIDKey, gateID))
	defer span.End()

	result, err := e.approvals.Record(ctx, gateID, approverID, decision, comment)
	if err != nil {
		return nil, err
	}

	if err := e.applyGateResult(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// ResolveApprovalByToken applies a decision identified by an issued token.
func (e *Engine) ResolveApprovalByToken(
	ctx context.Context,
	token string,
	decision models.Decision,
	comment string,
) (*approval.GateResult, error) {
	result, err := e.approvals.ResolveByToken(ctx, token, decision, comment)
	if err != nil {
		return nil, err
	}

	if err := e.applyGateResult(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// DelegateApproval reassigns a pending approval token to another approver.
func (e *Engine) DelegateApproval(ctx context.Context, token, newApproverID string) (*models.Approval, error) {
	return e.approvals.Delegate(ctx, token, newApproverID)
}

// applyGateResult advances the instance owning the gate. An intermediate
// approval fires the gate node's on_each_approval edges while the node stays
// active; a final outcome resumes the instance through the resolved port.
func (e *Engine) applyGateResult(ctx context.Context, result *approval.GateResult) error {
	gate := result.Gate

	instance, err := e.persistence.Instances().GetByID(ctx, gate.InstanceID)
	if err != nil {
		return err
	}

	e.publish(ctx, instance.ID, events.ApprovalRecorded{
		BaseEvent:     e.baseEvent(events.ApprovalRecordedEvent, instance),
		GateID:        gate.ID,
		ApproverID:    result.ApproverID,
		Decision:      result.Decision,
		ApprovedCount: result.ApprovedCount,
		RequiredCount: result.RequiredCount,
	})

	progress := map[string]any{
		"approvedCount":  result.ApprovedCount,
		"requiredCount":  result.RequiredCount,
		"approverId":     result.ApproverID,
		"decision":       string(result.Decision),
		"nextApproverId": result.NextApproverID,
		"approvalChain":  result.Chain,
	}

	if !result.Final {
		// Detached gates (opened by a request_approval action) have no
		// parked node to fire edges from.
		if !instance.HasActiveNode(gate.NodeID) {
			return nil
		}

		version, err := e.persistence.Versions().GetByID(ctx, instance.VersionID)
		if err != nil {
			return err
		}

		node, ok := version.Nodes[gate.NodeID]
		if !ok {
			return nil
		}

		instance.MergeNodeOutput(gate.NodeID, progress)

		// The gate node stays active, so the instance settles back to
		// waiting after the side branch drains.
		return e.run(ctx, instance, version, unitsFromEdges(node.OutputsFor(models.PortOnEachApproval)))
	}

	e.publish(ctx, instance.ID, events.GateResolved{
		BaseEvent: e.baseEvent(events.GateResolvedEvent, instance),
		GateID:    gate.ID,
		Status:    gate.Status,
		Satisfied: result.Satisfied,
	})

	if !instance.HasActiveNode(gate.NodeID) {
		return nil
	}

	_, err = e.ResumeWorkflow(ctx, instance.ID, gate.NodeID, result.Port, progress)

	return err
}

// Package approval implements the approval gate subsystem: gate creation from
// node config, decision recording, token resolution and delegation.
package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tideflow-io/tideflow/pkg/identity"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/notify"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/settings"
	"github.com/tideflow-io/tideflow/pkg/template"
)

// Manager decision errors.
var (
	ErrGateResolved      = errors.New("approval gate already resolved")
	ErrAlreadyRecorded   = errors.New("decision already recorded for this approver")
	ErrUnknownDecision   = errors.New("unrecognized decision value")
	ErrNotCurrentInChain = errors.New("approver is not at the current position in the chain")
	ErrDelegationDenied  = errors.New("gate does not allow delegation")
	ErrNoApprovers       = errors.New("no approvers resolved from gate rule")
)

// GateConfig is the node-config shape of an approval gate.
type GateConfig struct {
	ApprovalType    models.ApprovalType    `json:"approvalType"`
	Threshold       models.ThresholdConfig `json:"threshold"`
	Approvers       models.ApproverRule    `json:"approvers"`
	AllowDelegation bool                   `json:"allowDelegation"`
	OnSatisfied     string                 `json:"onSatisfied,omitempty"`
	OnDenied        string                 `json:"onDenied,omitempty"`
}

// GateResult reports the effect of one recorded decision. Final is true only
// when the decision resolved the gate; an intermediate approval keeps the
// gate pending and carries the progress counters for on_each_approval
// consumers.
type GateResult struct {
	Gate           *models.ApprovalGate
	Final          bool
	Satisfied      bool
	Port           string
	ApprovedCount  int
	RequiredCount  int
	ApproverID     string
	Decision       models.Decision
	NextApproverID string
	Chain          []string
}

// Manager owns approval gate state transitions.
type Manager struct {
	persistence persistence.Persistence
	settings    settings.Settings
	membership  identity.Membership
	tokens      TokenStore
	dispatcher  notify.Dispatcher
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager wires the approval subsystem. The dispatcher may be nil when no
// notification sink is configured.
func NewManager(
	logger *slog.Logger,
	store persistence.Persistence,
	appSettings settings.Settings,
	membership identity.Membership,
	tokens TokenStore,
	dispatcher notify.Dispatcher,
) *Manager {
	return &Manager{
		persistence: store,
		settings:    appSettings,
		membership:  membership,
		tokens:      tokens,
		dispatcher:  dispatcher,
		logger:      logger.With("module", "approval"),
		now:         time.Now,
	}
}

// WithClock overrides the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now

	return m
}

// ParseGateConfig decodes an approval node's config map.
func ParseGateConfig(config map[string]any) (*GateConfig, error) {
	encoded, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode gate config: %w", err)
	}

	gateConfig := &GateConfig{}
	if err := json.Unmarshal(encoded, gateConfig); err != nil {
		return nil, fmt.Errorf("failed to decode gate config: %w", err)
	}

	if gateConfig.ApprovalType == "" {
		gateConfig.ApprovalType = models.ApprovalTypeThreshold
	}

	return gateConfig, nil
}

// CreateGate resolves the gate's threshold and approver list against the
// entity document and opens the gate. Chain gates issue a token only for the
// first approver; every other type issues tokens for all approvers up front.
func (m *Manager) CreateGate(
	ctx context.Context,
	instance *models.WorkflowInstance,
	nodeID string,
	config map[string]any,
	entity map[string]any,
) (*models.ApprovalGate, error) {
	gateConfig, err := ParseGateConfig(config)
	if err != nil {
		return nil, err
	}

	approvers, err := m.resolveApprovers(ctx, gateConfig.Approvers, entity)
	if err != nil {
		return nil, err
	}

	if len(approvers) == 0 {
		return nil, ErrNoApprovers
	}

	requiredCount, err := m.resolveThreshold(ctx, gateConfig, len(approvers), entity)
	if err != nil {
		return nil, err
	}

	gate := &models.ApprovalGate{
		ID:                    uuid.NewString(),
		InstanceID:            instance.ID,
		NodeID:                nodeID,
		ApprovalType:          gateConfig.ApprovalType,
		Threshold:             gateConfig.Threshold,
		ApproverRule:          gateConfig.Approvers,
		AllowDelegation:       gateConfig.AllowDelegation,
		OnSatisfiedTransition: gateConfig.OnSatisfied,
		OnDeniedTransition:    gateConfig.OnDenied,
		Status:                models.GateStatusPending,
		RequiredCount:         requiredCount,
		Approvers:             approvers,
		CreatedAt:             m.now(),
	}

	if err := m.persistence.Approvals().SaveGate(ctx, gate); err != nil {
		return nil, err
	}

	for order, approverID := range approvers {
		slot := &models.Approval{
			ID:         uuid.NewString(),
			GateID:     gate.ID,
			ApproverID: approverID,
			Order:      order,
			CreatedAt:  m.now(),
		}

		// Serial pick-next: chain gates only arm the head of the chain.
		if gate.ApprovalType != models.ApprovalTypeChain || order == 0 {
			if err := m.issueToken(ctx, slot); err != nil {
				return nil, err
			}
		}

		if err := m.persistence.Approvals().SaveApproval(ctx, slot); err != nil {
			return nil, err
		}

		if slot.Token != "" {
			m.notifyApprover(ctx, gate, slot)
		}
	}

	m.logger.InfoContext(ctx, "Approval gate opened",
		"gate_id", gate.ID, "instance_id", instance.ID, "node_id", nodeID,
		"type", gate.ApprovalType, "required", requiredCount, "approvers", len(approvers))

	return gate, nil
}

// RequestApproval opens an ad-hoc gate from an action step. Unlike an
// approval node the instance is not parked on the gate; its outcome is
// observable through the approval_gate condition leaf.
func (m *Manager) RequestApproval(
	ctx context.Context,
	instance *models.WorkflowInstance,
	nodeID string,
	config map[string]any,
) error {
	_, err := m.CreateGate(ctx, instance, nodeID, config, instance.EntityDocument())

	return err
}

// resolveThreshold turns the threshold config into a concrete required count.
func (m *Manager) resolveThreshold(ctx context.Context, config *GateConfig, approverCount int, entity map[string]any) (int, error) {
	switch config.ApprovalType {
	case models.ApprovalTypeAnyOne:
		return 1, nil
	case models.ApprovalTypeUnanimous, models.ApprovalTypeChain:
		return approverCount, nil
	case models.ApprovalTypeThreshold:
		// fall through to the discriminated union below
	default:
		return 0, fmt.Errorf("unknown approval type %q", config.ApprovalType)
	}

	threshold := config.Threshold

	switch threshold.Type {
	case models.ThresholdFixed, "":
		if threshold.Value > 0 {
			return threshold.Value, nil
		}

		if threshold.Default > 0 {
			return threshold.Default, nil
		}

		return 1, nil
	case models.ThresholdAppSetting:
		value, err := m.settings.GetInt(ctx, threshold.Key)
		if err != nil {
			m.logger.DebugContext(ctx, "Threshold setting lookup failed, using default",
				"key", threshold.Key, "default", threshold.Default, "error", err)

			return max(threshold.Default, 1), nil
		}

		return max(value, 1), nil
	case models.ThresholdEntityField:
		value, found := template.Lookup(entity, threshold.Field)
		if found {
			if number, ok := value.(float64); ok && number >= 1 {
				return int(number), nil
			}
		}

		return max(threshold.Default, 1), nil
	default:
		return 0, fmt.Errorf("unknown threshold type %q", threshold.Type)
	}
}

// resolveApprovers expands the approver rule into a concrete ordered list.
func (m *Manager) resolveApprovers(ctx context.Context, rule models.ApproverRule, entity map[string]any) ([]string, error) {
	switch rule.Type {
	case models.ApproverRuleMembers:
		return rule.Members, nil
	case models.ApproverRuleRole:
		return m.membership.UsersWithRole(ctx, rule.Role)
	case models.ApproverRulePermission:
		return m.membership.UsersWithPermission(ctx, rule.Permission)
	case models.ApproverRuleEntityField:
		value, found := template.Lookup(entity, rule.Field)
		if !found {
			return nil, nil
		}

		switch typed := value.(type) {
		case string:
			return []string{typed}, nil
		case []any:
			var approvers []string
			for _, item := range typed {
				approvers = append(approvers, template.Stringify(item))
			}

			return approvers, nil
		case []string:
			return typed, nil
		default:
			return nil, nil
		}
	default:
		return nil, fmt.Errorf("unknown approver rule type %q", rule.Type)
	}
}

func (m *Manager) issueToken(ctx context.Context, slot *models.Approval) error {
	slot.Token = uuid.NewString()

	if err := m.tokens.Put(ctx, slot.Token, slot.ID); err != nil {
		return err
	}

	return nil
}

func (m *Manager) notifyApprover(ctx context.Context, gate *models.ApprovalGate, slot *models.Approval) {
	if m.dispatcher == nil {
		return
	}

	message := &notify.Message{
		Kind:       "approval_request",
		Recipients: []string{slot.ApproverID},
		Subject:    "Approval requested",
		Data: map[string]any{
			"gate_id":     gate.ID,
			"instance_id": gate.InstanceID,
			"token":       slot.Token,
		},
	}

	if err := m.dispatcher.Dispatch(ctx, message); err != nil {
		m.logger.WarnContext(ctx, "Approval notification failed",
			"gate_id", gate.ID, "approver_id", slot.ApproverID, "error", err)
	}
}

// Record registers a decision by approver ID.
func (m *Manager) Record(ctx context.Context, gateID, approverID string, decision models.Decision, comment string) (*GateResult, error) {
	gate, err := m.persistence.Approvals().GetGate(ctx, gateID)
	if err != nil {
		return nil, err
	}

	slots, err := m.persistence.Approvals().ListApprovalsByGate(ctx, gateID)
	if err != nil {
		return nil, err
	}

	var slot *models.Approval

	for _, candidate := range slots {
		if candidate.ApproverID == approverID {
			slot = candidate

			break
		}
	}

	if slot == nil {
		return nil, fmt.Errorf("user %q is not an approver on this gate", approverID)
	}

	return m.decide(ctx, gate, slots, slot, decision, comment)
}

// ResolveByToken registers a decision identified by an issued token.
func (m *Manager) ResolveByToken(ctx context.Context, token string, decision models.Decision, comment string) (*GateResult, error) {
	approvalID, err := m.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	slot, err := m.persistence.Approvals().GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	gate, err := m.persistence.Approvals().GetGate(ctx, slot.GateID)
	if err != nil {
		return nil, err
	}

	slots, err := m.persistence.Approvals().ListApprovalsByGate(ctx, gate.ID)
	if err != nil {
		return nil, err
	}

	for _, candidate := range slots {
		if candidate.ID == slot.ID {
			slot = candidate

			break
		}
	}

	return m.decide(ctx, gate, slots, slot, decision, comment)
}

// decide applies one decision and computes the gate outcome.
func (m *Manager) decide(
	ctx context.Context,
	gate *models.ApprovalGate,
	slots []*models.Approval,
	slot *models.Approval,
	decision models.Decision,
	comment string,
) (*GateResult, error) {
	if gate.Status.IsResolved() {
		return nil, ErrGateResolved
	}

	if !decision.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDecision, decision)
	}

	if slot.Decided() {
		return nil, ErrAlreadyRecorded
	}

	if gate.ApprovalType == models.ApprovalTypeChain && slot.Order != gate.CurrentOrder {
		return nil, ErrNotCurrentInChain
	}

	decidedAt := m.now()
	slot.Decision = decision
	slot.Comment = comment
	slot.DecidedAt = &decidedAt

	if err := m.persistence.Approvals().SaveApproval(ctx, slot); err != nil {
		return nil, err
	}

	if slot.Token != "" {
		_ = m.tokens.Delete(ctx, slot.Token)
	}

	result := &GateResult{
		Gate:          gate,
		ApproverID:    slot.ApproverID,
		Decision:      decision,
		RequiredCount: gate.RequiredCount,
		Chain:         gate.Approvers,
	}

	approved, undecided := tally(slots)
	result.ApprovedCount = approved

	outcome := m.evaluateGate(gate, decision, approved, undecided)

	switch outcome {
	case models.GateStatusSatisfied, models.GateStatusDenied:
		gate.Status = outcome
		gate.ResolvedAt = &decidedAt

		result.Final = true
		result.Satisfied = outcome == models.GateStatusSatisfied
		result.Port = m.resolvePort(gate, result.Satisfied)

		m.invalidateTokens(ctx, slots)
	default:
		if gate.ApprovalType == models.ApprovalTypeChain {
			if err := m.advanceChain(ctx, gate, slots, result); err != nil {
				return nil, err
			}
		}
	}

	if err := m.persistence.Approvals().SaveGate(ctx, gate); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Approval decision recorded",
		"gate_id", gate.ID, "approver_id", slot.ApproverID, "decision", decision,
		"approved", approved, "required", gate.RequiredCount, "final", result.Final)

	return result, nil
}

// tally counts decisions across the gate's slots. An abstain consumes the
// slot without counting toward approval.
func tally(slots []*models.Approval) (approved, undecided int) {
	for _, slot := range slots {
		switch {
		case !slot.Decided():
			undecided++
		case slot.Decision == models.DecisionApprove:
			approved++
		}
	}

	return approved, undecided
}

// evaluateGate returns the gate status implied by the current tally, or
// pending when the gate stays open. An abstain never resolves a gate: it may
// leave satisfaction unreachable, but the gate stays pending until a later
// approve or reject exhausts the slots (stale gates are the deadline sweep's
// problem, not the abstainer's).
func (m *Manager) evaluateGate(
	gate *models.ApprovalGate,
	decision models.Decision,
	approved, undecided int,
) models.GateStatus {
	if decision == models.DecisionAbstain {
		return models.GateStatusPending
	}

	switch gate.ApprovalType {
	case models.ApprovalTypeAnyOne:
		if decision == models.DecisionApprove {
			return models.GateStatusSatisfied
		}

		if undecided == 0 && approved == 0 {
			return models.GateStatusDenied
		}
	case models.ApprovalTypeUnanimous, models.ApprovalTypeChain:
		if decision == models.DecisionReject {
			return models.GateStatusDenied
		}

		if approved == len(gate.Approvers) {
			return models.GateStatusSatisfied
		}

		// Everyone has spoken and unanimity was not reached.
		if undecided == 0 {
			return models.GateStatusDenied
		}
	case models.ApprovalTypeThreshold:
		if approved >= gate.RequiredCount {
			return models.GateStatusSatisfied
		}

		if undecided == 0 {
			return models.GateStatusDenied
		}
	}

	return models.GateStatusPending
}

func (m *Manager) resolvePort(gate *models.ApprovalGate, satisfied bool) string {
	if satisfied {
		if gate.OnSatisfiedTransition != "" {
			return gate.OnSatisfiedTransition
		}

		return models.PortApproved
	}

	if gate.OnDeniedTransition != "" {
		return gate.OnDeniedTransition
	}

	return models.PortRejected
}

// advanceChain moves a chain gate to the next order and arms that approver's
// token.
func (m *Manager) advanceChain(ctx context.Context, gate *models.ApprovalGate, slots []*models.Approval, result *GateResult) error {
	gate.CurrentOrder++

	for _, slot := range slots {
		if slot.Order != gate.CurrentOrder || slot.Decided() {
			continue
		}

		if err := m.issueToken(ctx, slot); err != nil {
			return err
		}

		if err := m.persistence.Approvals().SaveApproval(ctx, slot); err != nil {
			return err
		}

		result.NextApproverID = slot.ApproverID

		m.notifyApprover(ctx, gate, slot)

		break
	}

	return nil
}

func (m *Manager) invalidateTokens(ctx context.Context, slots []*models.Approval) {
	for _, slot := range slots {
		if slot.Token != "" && !slot.Decided() {
			_ = m.tokens.Delete(ctx, slot.Token)
		}
	}
}

// Delegate reassigns an undecided token to a new approver, invalidating the
// old token.
func (m *Manager) Delegate(ctx context.Context, token, newApproverID string) (*models.Approval, error) {
	approvalID, err := m.tokens.Get(ctx, token)
	if err != nil {
		return nil, err
	}

	slot, err := m.persistence.Approvals().GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	gate, err := m.persistence.Approvals().GetGate(ctx, slot.GateID)
	if err != nil {
		return nil, err
	}

	if !gate.AllowDelegation {
		return nil, ErrDelegationDenied
	}

	if gate.Status.IsResolved() {
		return nil, ErrGateResolved
	}

	if slot.Decided() {
		return nil, ErrAlreadyRecorded
	}

	if err := m.tokens.Delete(ctx, slot.Token); err != nil {
		return nil, err
	}

	previousApprover := slot.ApproverID
	slot.ApproverID = newApproverID

	if err := m.issueToken(ctx, slot); err != nil {
		return nil, err
	}

	if err := m.persistence.Approvals().SaveApproval(ctx, slot); err != nil {
		return nil, err
	}

	for index, approverID := range gate.Approvers {
		if approverID == previousApprover {
			gate.Approvers[index] = newApproverID
		}
	}

	if err := m.persistence.Approvals().SaveGate(ctx, gate); err != nil {
		return nil, err
	}

	m.notifyApprover(ctx, gate, slot)

	m.logger.InfoContext(ctx, "Approval delegated",
		"gate_id", gate.ID, "from", previousApprover, "to", newApproverID)

	return slot, nil
}

// CancelGatesForInstance cancels every unresolved gate of an instance and
// invalidates their outstanding tokens.
func (m *Manager) CancelGatesForInstance(ctx context.Context, instanceID string) error {
	gates, err := m.persistence.Approvals().ListGatesByInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	cancelledAt := m.now()

	for _, gate := range gates {
		if gate.Status.IsResolved() {
			continue
		}

		gate.Status = models.GateStatusCancelled
		gate.ResolvedAt = &cancelledAt

		if err := m.persistence.Approvals().SaveGate(ctx, gate); err != nil {
			return err
		}

		slots, err := m.persistence.Approvals().ListApprovalsByGate(ctx, gate.ID)
		if err != nil {
			return err
		}

		m.invalidateTokens(ctx, slots)
	}

	return nil
}

// GateStatusByNode reports satisfaction per gate node for condition leaves.
func (m *Manager) GateStatusByNode(ctx context.Context, instanceID string) (map[string]bool, error) {
	gates, err := m.persistence.Approvals().ListGatesByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]bool, len(gates))
	for _, gate := range gates {
		statuses[gate.NodeID] = gate.Status == models.GateStatusSatisfied
	}

	return statuses, nil
}

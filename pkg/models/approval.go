package models

import "time"

// ApprovalType selects the satisfaction rule of an approval gate.
type ApprovalType string

const (
	ApprovalTypeThreshold ApprovalType = "threshold" // approved_count >= resolved threshold
	ApprovalTypeUnanimous ApprovalType = "unanimous" // all expected approvers approve; one reject denies
	ApprovalTypeAnyOne    ApprovalType = "any_one"   // first approve satisfies
	ApprovalTypeChain     ApprovalType = "chain"     // ordered approvers, serial pick-next
)

// GateStatus is the lifecycle state of an approval gate.
type GateStatus string

const (
	GateStatusPending   GateStatus = "pending"
	GateStatusSatisfied GateStatus = "satisfied"
	GateStatusDenied    GateStatus = "denied"
	GateStatusCancelled GateStatus = "cancelled"
)

// IsResolved reports whether the gate reached a final state.
func (s GateStatus) IsResolved() bool {
	return s != GateStatusPending
}

// Decision is a single approver's verdict. Abstain never changes counts and
// never resolves a gate.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionAbstain Decision = "abstain"
)

// Valid reports whether the decision is one of the recognized values.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject || d == DecisionAbstain
}

// Threshold config discriminator values.
const (
	ThresholdFixed       = "fixed"
	ThresholdAppSetting  = "app_setting"
	ThresholdEntityField = "entity_field"
)

// ThresholdConfig is the discriminated union controlling how many approvals a
// threshold gate requires.
type ThresholdConfig struct {
	Type    string `json:"type"              validate:"oneof=fixed app_setting entity_field"`
	Value   int    `json:"value,omitempty"`   // fixed
	Key     string `json:"key,omitempty"`     // app_setting
	Field   string `json:"field,omitempty"`   // entity_field
	Default int    `json:"default,omitempty"` // fallback for lookups
}

// Approver rule discriminator values.
const (
	ApproverRuleRole        = "role"
	ApproverRulePermission  = "permission"
	ApproverRuleMembers     = "members"
	ApproverRuleEntityField = "entity_field"
)

// ApproverRule determines which users may decide a gate.
type ApproverRule struct {
	Type       string   `json:"type"                 validate:"oneof=role permission members entity_field"`
	Role       string   `json:"role,omitempty"`
	Permission string   `json:"permission,omitempty"`
	Members    []string `json:"members,omitempty"`
	Field      string   `json:"field,omitempty"`
}

// ApprovalGate binds an approval node to its resolved configuration for one
// instance. Approvers is the resolved, ordered approver list; order only
// matters for chain gates.
type ApprovalGate struct {
	ID                    string          `json:"id"`
	InstanceID            string          `json:"instance_id" validate:"required"`
	NodeID                string          `json:"node_id"     validate:"required"`
	ApprovalType          ApprovalType    `json:"approval_type"`
	Threshold             ThresholdConfig `json:"threshold"`
	ApproverRule          ApproverRule    `json:"approver_rule"`
	AllowDelegation       bool            `json:"allow_delegation"`
	OnSatisfiedTransition string          `json:"on_satisfied_transition,omitempty"`
	OnDeniedTransition    string          `json:"on_denied_transition,omitempty"`
	Status                GateStatus      `json:"status"`
	RequiredCount         int             `json:"required_count"`
	Approvers             []string        `json:"approvers"`
	CurrentOrder          int             `json:"current_order"`
	CreatedAt             time.Time       `json:"created_at"`
	ResolvedAt            *time.Time      `json:"resolved_at,omitempty"`
}

// Approval tracks one approver's slot on a gate: the issued token and, once
// decided, the recorded decision. One decision per approver per gate.
type Approval struct {
	ID         string     `json:"id"`
	GateID     string     `json:"gate_id"     validate:"required"`
	ApproverID string     `json:"approver_id" validate:"required"`
	Order      int        `json:"order"`
	Token      string     `json:"token,omitempty"`
	Decision   Decision   `json:"decision,omitempty"`
	Comment    string     `json:"comment,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
}

// Decided reports whether this approver already recorded a decision.
func (a *Approval) Decided() bool {
	return a.DecidedAt != nil
}

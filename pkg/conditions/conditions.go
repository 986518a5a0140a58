// Package conditions evaluates workflow condition specifications.
//
// A condition spec is a JSON document combining `all`, `any` and `not`
// combinators over typed leaf conditions, or a free-text `expression`. The
// evaluator fails closed: malformed specs, unknown leaf types and unknown
// operators all evaluate to false instead of raising.
package conditions

import (
	"context"
	"log/slog"
	"time"

	"github.com/tideflow-io/tideflow/pkg/identity"
)

// Input carries everything a condition may inspect during evaluation.
type Input struct {
	// UserID is the acting user for permission, role and ownership leaves.
	UserID string
	// Entity is the bound domain entity, if any.
	Entity map[string]any
	// Context is the owning instance's context document.
	Context map[string]any
	// ManagedIDs are entity IDs the acting user manages, used by the
	// parent_of_minor ownership kind.
	ManagedIDs []string
	// GateStatus maps gate node IDs to whether the gate is satisfied.
	GateStatus map[string]bool
	// Anchor is the reference time for elapsed-time conditions.
	Anchor time.Time
}

// Document returns the lookup root used by field leaves and expressions.
func (in *Input) Document() map[string]any {
	return map[string]any{
		"entity":  in.Entity,
		"context": in.Context,
		"user_id": in.UserID,
	}
}

// LeafFunc evaluates a single typed leaf condition.
type LeafFunc func(ctx context.Context, config map[string]any, input *Input) bool

// Evaluator evaluates condition specs against an input document.
type Evaluator struct {
	leaves     map[string]LeafFunc
	membership identity.Membership
	logger     *slog.Logger
	now        func() time.Time
}

// NewEvaluator returns an evaluator with all built-in leaf types registered.
func NewEvaluator(logger *slog.Logger, membership identity.Membership) *Evaluator {
	evaluator := &Evaluator{
		leaves:     make(map[string]LeafFunc),
		membership: membership,
		logger:     logger.With("module", "conditions"),
		now:        time.Now,
	}

	evaluator.Register("permission", evaluator.evaluatePermission)
	evaluator.Register("role", evaluator.evaluateRole)
	evaluator.Register("field", evaluator.evaluateField)
	evaluator.Register("ownership", evaluator.evaluateOwnership)
	evaluator.Register("workflow_context", evaluator.evaluateWorkflowContext)
	evaluator.Register("approval_gate", evaluator.evaluateApprovalGate)
	evaluator.Register("time", evaluator.evaluateTime)

	return evaluator
}

// Register adds or replaces a leaf condition type.
func (e *Evaluator) Register(name string, leaf LeafFunc) {
	e.leaves[name] = leaf
}

// WithClock overrides the evaluator's clock, for tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now

	return e
}

// Evaluate resolves a condition spec to a boolean. A nil or empty spec is
// vacuously true.
func (e *Evaluator) Evaluate(ctx context.Context, spec map[string]any, input *Input) bool {
	if len(spec) == 0 {
		return true
	}

	if input == nil {
		input = &Input{}
	}

	if nested, ok := spec["all"].([]any); ok {
		for _, item := range nested {
			child, ok := item.(map[string]any)
			if !ok || !e.Evaluate(ctx, child, input) {
				return false
			}
		}

		return true
	}

	if nested, ok := spec["any"].([]any); ok {
		for _, item := range nested {
			child, ok := item.(map[string]any)
			if ok && e.Evaluate(ctx, child, input) {
				return true
			}
		}

		return false
	}

	if nested, ok := spec["not"].(map[string]any); ok {
		return !e.Evaluate(ctx, nested, input)
	}

	if expression, ok := spec["expression"].(string); ok {
		return evaluateExpression(expression, input.Document())
	}

	leafType, ok := spec["type"].(string)
	if !ok {
		e.logger.DebugContext(ctx, "Condition spec has no combinator, expression or type", "spec", spec)

		return false
	}

	leaf, ok := e.leaves[leafType]
	if !ok {
		e.logger.DebugContext(ctx, "Unknown condition type", "type", leafType)

		return false
	}

	return leaf(ctx, spec, input)
}

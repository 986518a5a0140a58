package conditions

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tideflow-io/tideflow/pkg/identity"
)

func newTestEvaluator() *Evaluator {
	membership := identity.NewStatic(
		map[string][]string{"alice": {"hr_manager"}},
		map[string][]string{"alice": {"warrants.approve"}, "bob": {"warrants.view"}},
	)

	return NewEvaluator(slog.Default(), membership)
}

func testInput() *Input {
	return &Input{
		UserID: "alice",
		Entity: map[string]any{
			"id":           "warrant-1",
			"status":       "pending",
			"amount":       float64(250),
			"requester_id": "bob",
			"recipient_id": "alice",
			"tags":         []any{"urgent", "finance"},
		},
		Context: map[string]any{
			"trigger": map[string]any{"source": "api"},
			"retries": float64(2),
		},
	}
}

func TestEvaluateEmptySpecIsTrue(t *testing.T) {
	evaluator := newTestEvaluator()

	assert.True(t, evaluator.Evaluate(context.Background(), nil, testInput()))
	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{}, testInput()))
}

func TestEvaluateCombinators(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	statusPending := map[string]any{"type": "field", "field": "status", "operator": "eq", "value": "pending"}
	statusClosed := map[string]any{"type": "field", "field": "status", "operator": "eq", "value": "closed"}

	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{
		"all": []any{statusPending},
	}, input))
	assert.False(t, evaluator.Evaluate(context.Background(), map[string]any{
		"all": []any{statusPending, statusClosed},
	}, input))
	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{
		"any": []any{statusClosed, statusPending},
	}, input))
	assert.False(t, evaluator.Evaluate(context.Background(), map[string]any{
		"any": []any{},
	}, input))
	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{
		"all": []any{},
	}, input))
	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{
		"not": statusClosed,
	}, input))
	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{
		"all": []any{
			statusPending,
			map[string]any{"not": statusClosed},
		},
	}, input))
}

func TestEvaluateFieldOperators(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	tests := []struct {
		name     string
		config   map[string]any
		expected bool
	}{
		{"eq entity fallback", map[string]any{"type": "field", "field": "status", "operator": "eq", "value": "pending"}, true},
		{"eq literal path", map[string]any{"type": "field", "field": "entity.status", "operator": "eq", "value": "pending"}, true},
		{"neq", map[string]any{"type": "field", "field": "status", "operator": "neq", "value": "closed"}, true},
		{"gt numeric", map[string]any{"type": "field", "field": "amount", "operator": "gt", "value": float64(100)}, true},
		{"gte string number", map[string]any{"type": "field", "field": "amount", "operator": "gte", "value": "250"}, true},
		{"lt false", map[string]any{"type": "field", "field": "amount", "operator": "lt", "value": float64(100)}, false},
		{"in", map[string]any{"type": "field", "field": "status", "operator": "in", "value": []any{"pending", "open"}}, true},
		{"not_in", map[string]any{"type": "field", "field": "status", "operator": "not_in", "value": []any{"closed"}}, true},
		{"is_set", map[string]any{"type": "field", "field": "status", "operator": "is_set"}, true},
		{"is_set missing", map[string]any{"type": "field", "field": "missing", "operator": "is_set"}, false},
		{"is_empty missing", map[string]any{"type": "field", "field": "missing", "operator": "is_empty"}, true},
		{"contains list", map[string]any{"type": "field", "field": "tags", "operator": "contains", "value": "urgent"}, true},
		{"contains substring", map[string]any{"type": "field", "field": "status", "operator": "contains", "value": "end"}, true},
		{"starts_with", map[string]any{"type": "field", "field": "status", "operator": "starts_with", "value": "pen"}, true},
		{"ends_with", map[string]any{"type": "field", "field": "status", "operator": "ends_with", "value": "ing"}, true},
		{"unknown operator fails closed", map[string]any{"type": "field", "field": "status", "operator": "matches", "value": "x"}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, evaluator.Evaluate(context.Background(), test.config, input))
		})
	}
}

func TestEvaluatePermissionAndRole(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "permission", "permission": "warrants.approve"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "permission", "permission": "warrants.delete"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "role", "role": "hr_manager"}, input))

	anonymous := testInput()
	anonymous.UserID = ""
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "role", "role": "hr_manager"}, anonymous))
}

func TestEvaluateOwnership(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "ownership", "ownership": "recipient"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "ownership", "ownership": "requester"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "ownership", "ownership": "any"}, input))

	guardian := testInput()
	guardian.UserID = "carol"
	guardian.ManagedIDs = []string{"warrant-1"}
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "ownership", "ownership": "parent_of_minor"}, guardian))
}

func TestEvaluateWorkflowContext(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "workflow_context", "field": "trigger.source", "operator": "eq", "value": "api"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "workflow_context", "field": "retries", "operator": "lte", "value": float64(3)}, input))
}

func TestEvaluateApprovalGate(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()
	input.GateStatus = map[string]bool{"manager_approval": true, "legal_approval": false}

	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "approval_gate", "gate": "manager_approval", "status": "met"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "approval_gate", "gate": "legal_approval", "status": "not_met"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "approval_gate", "gate": "unknown", "status": "not_met"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "approval_gate", "gate": "unknown", "status": "met"}, input))
}

func TestEvaluateTime(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	evaluator := newTestEvaluator().WithClock(func() time.Time { return now })

	input := testInput()
	input.Anchor = now.Add(-3 * 24 * time.Hour)

	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "time", "duration": "2d", "operator": "elapsed_gte"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "time", "duration": "5d", "operator": "elapsed_gte"}, input))
	assert.True(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "time", "duration": "5d", "operator": "elapsed_lt"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "time", "duration": "soon"}, input))
}

func TestEvaluateExpression(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	tests := []struct {
		expression string
		expected   bool
	}{
		{`status == "pending"`, true},
		{`status == 'closed'`, false},
		{`status != "closed"`, true},
		{`amount > 100`, true},
		{`amount >= 250`, true},
		{`amount < 100`, false},
		{`amount <= 250`, true},
		{`entity.amount == 250`, true},
		{`status`, true},
		{`missing_field`, false},
		{`context.retries`, true},
		{``, false},
	}

	for _, test := range tests {
		t.Run(test.expression, func(t *testing.T) {
			spec := map[string]any{"expression": test.expression}
			assert.Equal(t, test.expected, evaluator.Evaluate(context.Background(), spec, input))
		})
	}
}

func TestEvaluateFailsClosed(t *testing.T) {
	evaluator := newTestEvaluator()
	input := testInput()

	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "telepathy"}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"unknown_key": true}, input))
	assert.False(t, evaluator.Evaluate(context.Background(),
		map[string]any{"type": "field", "field": "status"}, input))
}

func TestRegisterCustomLeaf(t *testing.T) {
	evaluator := newTestEvaluator()
	evaluator.Register("always", func(context.Context, map[string]any, *Input) bool { return true })

	assert.True(t, evaluator.Evaluate(context.Background(), map[string]any{"type": "always"}, testInput()))
}

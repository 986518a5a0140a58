package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tideflow-io/tideflow/pkg/actions"
	"github.com/tideflow-io/tideflow/pkg/approval"
	"github.com/tideflow-io/tideflow/pkg/conditions"
	"github.com/tideflow-io/tideflow/pkg/identity"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/persistence/file"
	"github.com/tideflow-io/tideflow/pkg/settings"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	engine    *Engine
	store     persistence.Persistence
	executor  *actions.Executor
	approvals *approval.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	membership := identity.NewStatic(
		map[string][]string{
			"alice": {"manager"},
			"bob":   {"manager"},
			"carol": {"manager"},
		},
		map[string][]string{
			"alice": {"warrants.approve"},
		},
	)

	approvals := approval.NewManager(
		slog.Default(), store, settings.NewStatic(nil), membership, approval.NewMemoryTokenStore(), nil)

	executor := actions.NewExecutor(slog.Default(), nil, approvals)
	evaluator := conditions.NewEvaluator(slog.Default(), membership)

	return &harness{
		engine:    NewEngine(slog.Default(), store, executor, evaluator, approvals, nil, nil),
		store:     store,
		executor:  executor,
		approvals: approvals,
	}
}

// publish stores a definition with a single published version built from the
// given node graph and returns its slug.
func (h *harness) publish(t *testing.T, slug string, nodes map[string]*models.Node) *models.WorkflowDefinition {
	t.Helper()

	ctx := context.Background()
	now := time.Now()

	version := &models.WorkflowVersion{
		ID:           uuid.NewString(),
		DefinitionID: uuid.NewString(),
		Number:       1,
		Status:       models.VersionStatusPublished,
		Nodes:        nodes,
		CreatedAt:    now,
		UpdatedAt:    now,
		PublishedAt:  &now,
	}

	definition := &models.WorkflowDefinition{
		ID:               version.DefinitionID,
		Slug:             slug,
		Name:             slug,
		CurrentVersionID: version.ID,
		Active:           true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	require.NoError(t, h.store.Versions().Save(ctx, version))
	require.NoError(t, h.store.Definitions().Save(ctx, definition))

	return definition
}

func edge(port, target string) models.Edge {
	return models.Edge{Port: port, Target: target}
}

func linearNodes() map[string]*models.Node {
	return map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "mark")}},
		"mark": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{"key": "stage", "value": "done"}},
				},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	}
}

func TestStartWorkflowRunsToCompletion(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "onboarding", linearNodes())

	instance, err := h.engine.StartWorkflow(context.Background(), "onboarding", "warrant", "w-1",
		map[string]any{"user_id": "alice"})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	require.NotNil(t, instance.CompletedAt)
	assert.Equal(t, "done", instance.Context["stage"])
	assert.Empty(t, instance.ActiveNodes)

	trail, err := h.store.ExecutionLogs().ListByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "start", trail[0].NodeID)
	assert.Equal(t, "mark", trail[1].NodeID)
	assert.Equal(t, "finish", trail[2].NodeID)
}

func TestStartWorkflowRejectsDuplicateActiveEntity(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "review", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "wait")}},
		"wait":  {Type: models.NodeTypeDelay, Config: map[string]any{"duration": "1h"}, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	})

	first, err := h.engine.StartWorkflow(context.Background(), "review", "warrant", "w-1", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaiting, first.Status)

	_, err = h.engine.StartWorkflow(context.Background(), "review", "warrant", "w-1", nil)
	assert.ErrorIs(t, err, ErrActiveInstanceExists)

	// Detached starts carry no entity identity, so no duplicate check applies.
	_, err = h.engine.StartWorkflow(context.Background(), "review", "", "", nil)
	require.NoError(t, err)
}

func TestStartWorkflowFailsFastOnLifecycle(t *testing.T) {
	h := newHarness(t)

	definition := h.publish(t, "dormant", linearNodes())
	definition.Active = false
	require.NoError(t, h.store.Definitions().Save(context.Background(), definition))

	_, err := h.engine.StartWorkflow(context.Background(), "dormant", "", "", nil)
	assert.ErrorIs(t, err, ErrWorkflowInactive)

	unpublished := h.publish(t, "draft-only", linearNodes())
	unpublished.CurrentVersionID = ""
	require.NoError(t, h.store.Definitions().Save(context.Background(), unpublished))

	_, err = h.engine.StartWorkflow(context.Background(), "draft-only", "", "", nil)
	assert.ErrorIs(t, err, ErrNoPublishedVersion)
}

func TestConditionBranching(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "triage", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "check")}},
		"check": {
			Type:   models.NodeTypeCondition,
			Config: map[string]any{"expression": `entity.amount > 100`},
			Outputs: []models.Edge{
				edge(models.PortTrue, "escalate"),
				edge(models.PortFalse, "finish"),
			},
		},
		"escalate": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{"key": "escalated", "value": true}},
				},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "triage", "warrant", "w-9",
		map[string]any{"entity": map[string]any{"amount": float64(250)}})
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, true, instance.Context["escalated"])

	output := instance.NodeOutput("check")
	assert.Equal(t, true, output["result"])
	assert.Equal(t, models.PortTrue, output["port"])
}

func forkJoinNodes(branchActions map[string]any) map[string]*models.Node {
	return map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "split")}},
		"split": {
			Type: models.NodeTypeFork,
			Outputs: []models.Edge{
				edge(models.PortDefault, "left"),
				edge(models.PortDefault, "right"),
			},
		},
		"left": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{"key": "left", "value": "seen"}},
				},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "merge")},
		},
		"right": {
			Type:    models.NodeTypeAction,
			Config:  branchActions,
			Outputs: []models.Edge{edge(models.PortDefault, "merge")},
		},
		"merge":  {Type: models.NodeTypeJoin, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	}
}

func TestForkJoinCompletesInDeclarationOrder(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "parallel", forkJoinNodes(nil))

	instance, err := h.engine.StartWorkflow(context.Background(), "parallel", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)

	trail, err := h.store.ExecutionLogs().ListByInstance(context.Background(), instance.ID)
	require.NoError(t, err)

	var order []string
	for _, entry := range trail {
		if entry.Status == models.ExecutionLogStatusCompleted {
			order = append(order, entry.NodeID)
		}
	}

	// Branch order follows the fork's declared outputs.
	assert.Equal(t, []string{"start", "split", "left", "right", "merge", "finish"}, order)
}

func TestForkBranchesShareContext(t *testing.T) {
	h := newHarness(t)

	nodes := forkJoinNodes(map[string]any{
		"actions": []any{
			map[string]any{"type": "set_context", "config": map[string]any{"key": "observed", "value": "{{left}}"}},
		},
	})
	h.publish(t, "shared-context", nodes)

	instance, err := h.engine.StartWorkflow(context.Background(), "shared-context", "", "", nil)
	require.NoError(t, err)

	// The right branch runs after the left one and observes its write.
	assert.Equal(t, "seen", instance.Context["observed"])
}

func TestJoinUnderCountsSameInstantCompletions(t *testing.T) {
	h := newHarness(t)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.engine.WithClock(func() time.Time { return fixed })

	// One branch reaches the join directly from the fork, so the join
	// observes the fork's completion before the other source has run.
	h.publish(t, "same-instant", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "split")}},
		"split": {
			Type: models.NodeTypeFork,
			Outputs: []models.Edge{
				edge(models.PortDefault, "merge"),
				edge(models.PortDefault, "slow"),
			},
		},
		"slow":   {Type: models.NodeTypeAction, Outputs: []models.Edge{edge(models.PortDefault, "merge")}},
		"merge":  {Type: models.NodeTypeJoin, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "same-instant", "", "", nil)
	require.NoError(t, err)

	// The second source completed at the instant already recorded as the
	// join's high-water mark, so its input is never attributed.
	assert.Equal(t, models.InstanceStatusWaiting, instance.Status)
	assert.True(t, instance.HasActiveNode("merge"))
	assert.Equal(t, []string{"split"}, instance.JoinCompletedInputs("merge"))
}

func TestLoopIterationsBounded(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "retry", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "again")}},
		"again": {
			Type:   models.NodeTypeLoop,
			Config: map[string]any{"maxIterations": float64(2)},
			Outputs: []models.Edge{
				edge(models.PortBody, "tick"),
				edge(models.PortExit, "finish"),
			},
		},
		"tick": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{"key": "ticks", "value": "{{increment}}"}},
				},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "again")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "retry", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
	assert.Equal(t, float64(2), instance.Context["ticks"])
	assert.Equal(t, 2, instance.LoopIteration("again"))
}

func TestLoopRequiresPositiveMaxIterations(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "unbounded", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "again")}},
		"again": {
			Type:    models.NodeTypeLoop,
			Outputs: []models.Edge{edge(models.PortExit, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "unbounded", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	require.NotNil(t, instance.ErrorInfo)
	assert.Equal(t, "again", instance.ErrorInfo.NodeID)
}

func TestActionFailureFailsInstance(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "fragile", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "act")}},
		"act": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{}},
				},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "fragile", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	require.NotNil(t, instance.ErrorInfo)
	assert.Equal(t, "act", instance.ErrorInfo.NodeID)
	assert.Contains(t, instance.ErrorInfo.Message, "set_context")
}

func TestNodePanicIsCapturedAsFailure(t *testing.T) {
	h := newHarness(t)

	h.executor.Register("boom", func(context.Context, map[string]any, *actions.Run) (*actions.SubResult, error) {
		panic("wires crossed")
	})

	h.publish(t, "volatile", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "act")}},
		"act": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{map[string]any{"type": "boom"}},
			},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "volatile", "", "", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusFailed, instance.Status)
	require.NotNil(t, instance.ErrorInfo)
	assert.Contains(t, instance.ErrorInfo.Message, "panic")
}

func TestExpiredDelayPassesThrough(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "instant", map[string]*models.Node{
		"start":  {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "wait")}},
		"wait":   {Type: models.NodeTypeDelay, Config: map[string]any{"duration": "0m"}, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "instant", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, instance.Status)
}

func TestSweeperResumesExpiredDelays(t *testing.T) {
	h := newHarness(t)

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.engine.WithClock(func() time.Time { return clock })

	h.publish(t, "cooldown", map[string]*models.Node{
		"start":  {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "wait")}},
		"wait":   {Type: models.NodeTypeDelay, Config: map[string]any{"duration": "3d"}, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "cooldown", "", "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaiting, instance.Status)

	wakeAt, ok := instance.DelayWake("wait")
	require.True(t, ok)
	assert.Equal(t, clock.Add(72*time.Hour), wakeAt)

	resumed, err := h.engine.ProcessScheduledTransitions(context.Background())
	require.NoError(t, err)
	assert.Zero(t, resumed)

	clock = clock.Add(73 * time.Hour)

	resumed, err = h.engine.ProcessScheduledTransitions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	reloaded, err := h.store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)
}

func TestResumeWorkflowGuards(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "guarded", linearNodes())

	instance, err := h.engine.StartWorkflow(context.Background(), "guarded", "", "", nil)
	require.NoError(t, err)

	_, err = h.engine.ResumeWorkflow(context.Background(), instance.ID, "mark", "", nil)
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestResumeWorkflowRequiresActiveNode(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "idle", map[string]*models.Node{
		"start":  {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "wait")}},
		"wait":   {Type: models.NodeTypeDelay, Config: map[string]any{"duration": "1h"}, Outputs: []models.Edge{edge(models.PortDefault, "finish")}},
		"finish": {Type: models.NodeTypeEnd},
	})

	instance, err := h.engine.StartWorkflow(context.Background(), "idle", "", "", nil)
	require.NoError(t, err)

	_, err = h.engine.ResumeWorkflow(context.Background(), instance.ID, "finish", "", nil)
	assert.ErrorIs(t, err, ErrNodeNotActive)
}

func approvalNodes(gateConfig map[string]any) map[string]*models.Node {
	nodes := map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "gate")}},
		"gate": {
			Type:   models.NodeTypeApproval,
			Config: gateConfig,
			Outputs: []models.Edge{
				edge(models.PortApproved, "granted"),
				edge(models.PortRejected, "denied"),
				edge(models.PortOnEachApproval, "tick"),
			},
		},
		"tick": {
			Type: models.NodeTypeAction,
			Config: map[string]any{
				"actions": []any{
					map[string]any{"type": "set_context", "config": map[string]any{"key": "approvalTicks", "value": "{{increment}}"}},
				},
			},
		},
		"granted": {Type: models.NodeTypeEnd},
		"denied":  {Type: models.NodeTypeEnd},
	}

	return nodes
}

func TestApprovalGateSuspendsAndResumes(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "sign-off", approvalNodes(map[string]any{
		"approvalType": "any_one",
		"approvers":    map[string]any{"type": "members", "members": []any{"alice"}},
	}))

	instance, err := h.engine.StartWorkflow(context.Background(), "sign-off", "warrant", "w-2", nil)
	require.NoError(t, err)

	assert.Equal(t, models.InstanceStatusWaiting, instance.Status)
	assert.True(t, instance.HasActiveNode("gate"))

	gates, err := h.store.Approvals().ListGatesByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, gates, 1)

	result, err := h.engine.RecordApproval(context.Background(), gates[0].ID, "alice", models.DecisionApprove, "ok")
	require.NoError(t, err)
	assert.True(t, result.Final)
	assert.True(t, result.Satisfied)
	assert.Equal(t, models.PortApproved, result.Port)

	reloaded, err := h.store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)

	output := reloaded.NodeOutput("gate")
	assert.Equal(t, float64(1), output["approvedCount"])
}

func TestApprovalRejectionTakesDeniedPort(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "veto", approvalNodes(map[string]any{
		"approvalType": "unanimous",
		"approvers":    map[string]any{"type": "members", "members": []any{"alice", "bob"}},
	}))

	instance, err := h.engine.StartWorkflow(context.Background(), "veto", "", "", nil)
	require.NoError(t, err)

	gates, err := h.store.Approvals().ListGatesByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	require.Len(t, gates, 1)

	result, err := h.engine.RecordApproval(context.Background(), gates[0].ID, "bob", models.DecisionReject, "no")
	require.NoError(t, err)
	assert.True(t, result.Final)
	assert.False(t, result.Satisfied)
	assert.Equal(t, models.PortRejected, result.Port)

	reloaded, err := h.store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)

	trail, err := h.store.ExecutionLogs().ListByInstance(context.Background(), reloaded.ID)
	require.NoError(t, err)
	assert.Equal(t, "denied", trail[len(trail)-1].NodeID)
}

func TestChainFiresOnEachApprovalUntilFinal(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "escalation", approvalNodes(map[string]any{
		"approvalType": "chain",
		"approvers":    map[string]any{"type": "members", "members": []any{"alice", "bob", "carol"}},
	}))

	instance, err := h.engine.StartWorkflow(context.Background(), "escalation", "", "", nil)
	require.NoError(t, err)

	gates, err := h.store.Approvals().ListGatesByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	gateID := gates[0].ID

	result, err := h.engine.RecordApproval(context.Background(), gateID, "alice", models.DecisionApprove, "")
	require.NoError(t, err)
	assert.False(t, result.Final)
	assert.Equal(t, "bob", result.NextApproverID)

	// Out-of-order chain decisions are rejected.
	_, err = h.engine.RecordApproval(context.Background(), gateID, "carol", models.DecisionApprove, "")
	assert.ErrorIs(t, err, approval.ErrNotCurrentInChain)

	result, err = h.engine.RecordApproval(context.Background(), gateID, "bob", models.DecisionApprove, "")
	require.NoError(t, err)
	assert.False(t, result.Final)

	middle, err := h.store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaiting, middle.Status)
	assert.Equal(t, float64(2), middle.Context["approvalTicks"])

	result, err = h.engine.RecordApproval(context.Background(), gateID, "carol", models.DecisionApprove, "")
	require.NoError(t, err)
	assert.True(t, result.Final)
	assert.True(t, result.Satisfied)

	final, err := h.store.Instances().GetByID(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, final.Status)

	// The final approval resumes through the approved port; no third tick.
	assert.Equal(t, float64(2), final.Context["approvalTicks"])
}

func TestResolveApprovalByTokenIsSingleUse(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "token-flow", approvalNodes(map[string]any{
		"approvalType": "any_one",
		"approvers":    map[string]any{"type": "members", "members": []any{"alice"}},
	}))

	instance, err := h.engine.StartWorkflow(context.Background(), "token-flow", "", "", nil)
	require.NoError(t, err)

	gates, err := h.store.Approvals().ListGatesByInstance(context.Background(), instance.ID)
	require.NoError(t, err)

	slots, err := h.store.Approvals().ListApprovalsByGate(context.Background(), gates[0].ID)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	token := slots[0].Token

	result, err := h.engine.ResolveApprovalByToken(context.Background(), token, models.DecisionApprove, "")
	require.NoError(t, err)
	assert.True(t, result.Final)

	_, err = h.engine.ResolveApprovalByToken(context.Background(), token, models.DecisionApprove, "")
	assert.ErrorIs(t, err, approval.ErrTokenInvalid)
}

func TestCancelWorkflowCancelsGatesAndOrphansChildren(t *testing.T) {
	h := newHarness(t)
	h.publish(t, "cancellable", approvalNodes(map[string]any{
		"approvalType": "any_one",
		"approvers":    map[string]any{"type": "members", "members": []any{"alice"}},
	}))

	instance, err := h.engine.StartWorkflow(context.Background(), "cancellable", "", "", nil)
	require.NoError(t, err)

	cancelled, err := h.engine.CancelWorkflow(context.Background(), instance.ID, "superseded")
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	gates, err := h.store.Approvals().ListGatesByInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GateStatusCancelled, gates[0].Status)

	_, err = h.engine.CancelWorkflow(context.Background(), instance.ID, "again")
	assert.ErrorIs(t, err, ErrInstanceTerminal)
}

func TestSubworkflowResumesParentOnCompletion(t *testing.T) {
	h := newHarness(t)

	h.publish(t, "child-flow", linearNodes())
	h.publish(t, "parent-flow", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "call")}},
		"call": {
			Type:    models.NodeTypeSubworkflow,
			Config:  map[string]any{"workflowSlug": "child-flow"},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	parent, err := h.engine.StartWorkflow(context.Background(), "parent-flow", "", "", nil)
	require.NoError(t, err)

	// The child completed synchronously, which resumed the parent.
	reloaded, err := h.store.Instances().GetByID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCompleted, reloaded.Status)

	output := reloaded.NodeOutput("call")
	assert.Equal(t, string(models.InstanceStatusCompleted), output["childStatus"])
	assert.NotEmpty(t, output["childInstanceId"])
}

func TestSubworkflowMissingTargetFailsParent(t *testing.T) {
	h := newHarness(t)

	h.publish(t, "broken-parent", map[string]*models.Node{
		"start": {Type: models.NodeTypeTrigger, Outputs: []models.Edge{edge(models.PortDefault, "call")}},
		"call": {
			Type:    models.NodeTypeSubworkflow,
			Config:  map[string]any{"workflowSlug": "no-such-flow"},
			Outputs: []models.Edge{edge(models.PortDefault, "finish")},
		},
		"finish": {Type: models.NodeTypeEnd},
	})

	parent, err := h.engine.StartWorkflow(context.Background(), "broken-parent", "", "", nil)
	require.NoError(t, err)

	reloaded, err := h.store.Instances().GetByID(context.Background(), parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusFailed, reloaded.Status)
}

func TestStartWorkflowRecordsSpanError(t *testing.T) {
	h := newHarness(t)

	recorder := tracetest.NewSpanRecorder()
	h.engine.tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("tideflow-test")

	_, err := h.engine.StartWorkflow(context.Background(), "no-such-flow", "", "", nil)
	require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "engine.start_workflow", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestResumeWorkflowRecordsSpanError(t *testing.T) {
	h := newHarness(t)

	recorder := tracetest.NewSpanRecorder()
	h.engine.tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("tideflow-test")

	h.publish(t, "done-flow", linearNodes())

	instance, err := h.engine.StartWorkflow(context.Background(), "done-flow", "", "", nil)
	require.NoError(t, err)
	require.Equal(t, models.InstanceStatusCompleted, instance.Status)

	_, err = h.engine.ResumeWorkflow(context.Background(), instance.ID, "mark", "", nil)
	require.ErrorIs(t, err, ErrInstanceTerminal)

	var resumeSpans int

	for _, span := range recorder.Ended() {
		if span.Name() != "engine.resume_workflow" {
			continue
		}

		resumeSpans++

		assert.Equal(t, codes.Error, span.Status().Code)
	}

	assert.Equal(t, 1, resumeSpans)
}

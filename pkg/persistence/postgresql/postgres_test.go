package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{"approvals", "approval_gates", "execution_logs", "workflow_instances", "workflow_versions", "workflow_definitions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("tideflow_test"),
			postgres.WithUsername("tideflow"),
			postgres.WithPassword("tideflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		err := db.Close()
		require.NoError(t, err)
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'workflow_definitions')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "workflow_definitions table should exist")

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'schema_migrations')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "schema_migrations table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestNewPersistence_HealthCheck(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	err := p.HealthCheck(ctx)
	assert.NoError(t, err)
}

func TestNewPersistence_SaveAndRetrieveDefinition(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	definition := &models.WorkflowDefinition{
		ID:          uuid.NewString(),
		Slug:        "expense-approval",
		Name:        "Expense Approval",
		Description: "Routes expenses above the limit to a manager",
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := p.Definitions().Save(ctx, definition)
	require.NoError(t, err)

	retrieved, err := p.Definitions().GetByID(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, definition.Slug, retrieved.Slug)
	assert.Equal(t, definition.Name, retrieved.Name)
	assert.True(t, retrieved.Active)

	bySlug, err := p.Definitions().GetBySlug(ctx, "expense-approval")
	require.NoError(t, err)
	assert.Equal(t, definition.ID, bySlug.ID)

	_, err = p.Definitions().GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

	// Upsert keeps the same row
	definition.Name = "Expense Approval v2"
	definition.CurrentVersionID = uuid.NewString()
	err = p.Definitions().Save(ctx, definition)
	require.NoError(t, err)

	updated, err := p.Definitions().GetByID(ctx, definition.ID)
	require.NoError(t, err)
	assert.Equal(t, "Expense Approval v2", updated.Name)
	assert.Equal(t, definition.CurrentVersionID, updated.CurrentVersionID)

	listed, err := p.Definitions().List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestNewPersistence_VersionRoundTrip(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	definition := &models.WorkflowDefinition{
		ID:        uuid.NewString(),
		Slug:      "versioned-flow",
		Name:      "Versioned Flow",
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Definitions().Save(ctx, definition))

	version := &models.WorkflowVersion{
		ID:           uuid.NewString(),
		DefinitionID: definition.ID,
		Number:       1,
		Status:       models.VersionStatusDraft,
		Nodes: map[string]*models.Node{
			"start": {
				Type:    models.NodeTypeTrigger,
				Outputs: []models.Edge{{Port: models.PortDefault, Target: "check"}},
			},
			"check": {
				Type:    models.NodeTypeCondition,
				Config:  map[string]any{"expression": "entity.amount > 100"},
				Outputs: []models.Edge{{Port: models.PortTrue, Target: "finish"}, {Port: models.PortFalse, Target: "finish"}},
			},
			"finish": {Type: models.NodeTypeEnd},
		},
		Canvas:      map[string]any{"start": map[string]any{"x": 10, "y": 20}},
		ChangeNotes: "initial draft",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, p.Versions().Save(ctx, version))

	retrieved, err := p.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retrieved.Number)
	assert.Equal(t, models.VersionStatusDraft, retrieved.Status)
	assert.Len(t, retrieved.Nodes, 3)
	assert.Equal(t, "entity.amount > 100", retrieved.Nodes["check"].Config["expression"])
	assert.Equal(t, "check", retrieved.Nodes["start"].Outputs[0].Target)
	assert.Nil(t, retrieved.PublishedAt)

	// Publish transition sticks through the upsert
	publishedAt := now.Add(time.Minute)
	version.Status = models.VersionStatusPublished
	version.PublishedAt = &publishedAt
	require.NoError(t, p.Versions().Save(ctx, version))

	published, err := p.Versions().GetByID(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)
	assert.True(t, published.PublishedAt.Equal(publishedAt))

	second := &models.WorkflowVersion{
		ID:           uuid.NewString(),
		DefinitionID: definition.ID,
		Number:       2,
		Status:       models.VersionStatusDraft,
		Nodes:        version.Nodes,
		CreatedAt:    now.Add(time.Hour),
		UpdatedAt:    now.Add(time.Hour),
	}
	require.NoError(t, p.Versions().Save(ctx, second))

	versions, err := p.Versions().ListByDefinition(ctx, definition.ID)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 1, versions[0].Number)
	assert.Equal(t, 2, versions[1].Number)

	_, err = p.Versions().GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, persistence.ErrVersionNotFound)
}

func TestNewPersistence_InstanceLifecycle(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	instance := &models.WorkflowInstance{
		ID:           uuid.NewString(),
		DefinitionID: uuid.NewString(),
		VersionID:    uuid.NewString(),
		EntityType:   "expense",
		EntityID:     "exp-42",
		Status:       models.InstanceStatusWaiting,
		ActiveNodes:  []string{"gate"},
		Context: models.NewInstanceContext(map[string]any{
			"entity": map[string]any{"amount": float64(250)},
		}),
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Instances().Save(ctx, instance))

	retrieved, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusWaiting, retrieved.Status)
	assert.Equal(t, []string{"gate"}, retrieved.ActiveNodes)
	assert.Equal(t, float64(250), retrieved.EntityDocument()["amount"])
	assert.Nil(t, retrieved.ErrorInfo)

	active, err := p.Instances().FindActiveByEntity(ctx, instance.DefinitionID, "expense", "exp-42")
	require.NoError(t, err)
	assert.Equal(t, instance.ID, active.ID)

	waiting, err := p.Instances().ListByStatus(ctx, models.InstanceStatusWaiting)
	require.NoError(t, err)
	assert.Len(t, waiting, 1)

	// Terminal instances drop out of the active-by-entity lookup
	completedAt := now.Add(time.Minute)
	instance.Status = models.InstanceStatusCompleted
	instance.ActiveNodes = nil
	instance.CompletedAt = &completedAt
	require.NoError(t, p.Instances().Save(ctx, instance))

	_, err = p.Instances().FindActiveByEntity(ctx, instance.DefinitionID, "expense", "exp-42")
	assert.ErrorIs(t, err, persistence.ErrInstanceNotFound)

	completed, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)
	assert.Empty(t, completed.ActiveNodes)
}

func TestNewPersistence_InstanceErrorInfo(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	instance := &models.WorkflowInstance{
		ID:           uuid.NewString(),
		DefinitionID: uuid.NewString(),
		VersionID:    uuid.NewString(),
		Status:       models.InstanceStatusFailed,
		Context:      models.NewInstanceContext(nil),
		ErrorInfo: &models.ErrorInfo{
			NodeID:   "notify",
			Message:  "action failed: unknown action type",
			FailedAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, p.Instances().Save(ctx, instance))

	retrieved, err := p.Instances().GetByID(ctx, instance.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.ErrorInfo)
	assert.Equal(t, "notify", retrieved.ErrorInfo.NodeID)
	assert.Contains(t, retrieved.ErrorInfo.Message, "unknown action type")
}

func TestNewPersistence_ExecutionLogOrdering(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	instanceID := uuid.NewString()
	base := time.Now().UTC().Truncate(time.Millisecond)

	entries := []*models.ExecutionLog{
		{ID: uuid.NewString(), InstanceID: instanceID, NodeID: "start", NodeType: models.NodeTypeTrigger, Status: models.ExecutionLogStatusCompleted, StartedAt: base, CompletedAt: base},
		{ID: uuid.NewString(), InstanceID: instanceID, NodeID: "work", NodeType: models.NodeTypeAction, Status: models.ExecutionLogStatusCompleted, StartedAt: base.Add(time.Second), CompletedAt: base.Add(2 * time.Second)},
		{ID: uuid.NewString(), InstanceID: instanceID, NodeID: "gate", NodeType: models.NodeTypeApproval, Status: models.ExecutionLogStatusWaiting, StartedAt: base.Add(3 * time.Second), CompletedAt: base.Add(3 * time.Second)},
	}
	for _, entry := range entries {
		require.NoError(t, p.ExecutionLogs().Append(ctx, entry))
	}

	trail, err := p.ExecutionLogs().ListByInstance(ctx, instanceID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "start", trail[0].NodeID)
	assert.Equal(t, "work", trail[1].NodeID)
	assert.Equal(t, "gate", trail[2].NodeID)
	assert.Equal(t, models.ExecutionLogStatusWaiting, trail[2].Status)

	other, err := p.ExecutionLogs().ListByInstance(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestNewPersistence_GateAndApprovals(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	gate := &models.ApprovalGate{
		ID:            uuid.NewString(),
		InstanceID:    uuid.NewString(),
		NodeID:        "gate",
		ApprovalType:  models.ApprovalTypeChain,
		Threshold:     models.ThresholdConfig{Type: models.ThresholdFixed, Value: 2},
		ApproverRule:  models.ApproverRule{Type: models.ApproverRuleMembers, Members: []string{"alice", "bob"}},
		Status:        models.GateStatusPending,
		RequiredCount: 2,
		Approvers:     []string{"alice", "bob"},
		CreatedAt:     now,
	}
	require.NoError(t, p.Approvals().SaveGate(ctx, gate))

	retrieved, err := p.Approvals().GetGate(ctx, gate.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalTypeChain, retrieved.ApprovalType)
	assert.Equal(t, []string{"alice", "bob"}, retrieved.Approvers)
	assert.Equal(t, 2, retrieved.Threshold.Value)
	assert.Equal(t, 0, retrieved.CurrentOrder)

	byNode, err := p.Approvals().GetGateByNode(ctx, gate.InstanceID, "gate")
	require.NoError(t, err)
	assert.Equal(t, gate.ID, byNode.ID)

	slot := &models.Approval{
		ID:         uuid.NewString(),
		GateID:     gate.ID,
		ApproverID: "alice",
		Order:      0,
		Token:      uuid.NewString(),
		CreatedAt:  now,
	}
	require.NoError(t, p.Approvals().SaveApproval(ctx, slot))

	byToken, err := p.Approvals().GetApprovalByToken(ctx, slot.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", byToken.ApproverID)
	assert.False(t, byToken.Decided())

	// Record the decision and advance the chain
	decidedAt := now.Add(time.Minute)
	slot.Decision = models.DecisionApprove
	slot.Comment = "looks fine"
	slot.DecidedAt = &decidedAt
	require.NoError(t, p.Approvals().SaveApproval(ctx, slot))

	gate.CurrentOrder = 1
	require.NoError(t, p.Approvals().SaveGate(ctx, gate))

	decided, err := p.Approvals().GetApproval(ctx, slot.ID)
	require.NoError(t, err)
	assert.True(t, decided.Decided())
	assert.Equal(t, models.DecisionApprove, decided.Decision)
	assert.Equal(t, "looks fine", decided.Comment)

	advanced, err := p.Approvals().GetGate(ctx, gate.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, advanced.CurrentOrder)

	perGate, err := p.Approvals().ListApprovalsByGate(ctx, gate.ID)
	require.NoError(t, err)
	assert.Len(t, perGate, 1)

	_, err = p.Approvals().GetApprovalByToken(ctx, "missing-token")
	assert.ErrorIs(t, err, persistence.ErrTokenNotFound)

	gates, err := p.Approvals().ListGatesByInstance(ctx, gate.InstanceID)
	require.NoError(t, err)
	assert.Len(t, gates, 1)
}

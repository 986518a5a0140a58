package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
)

func marshalJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode json column: %w", err)
	}

	return data, nil
}

func unmarshalJSON(data []byte, target any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to decode json column: %w", err)
	}

	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}

// DefinitionRepository stores workflow definitions in PostgreSQL.
type DefinitionRepository struct {
	db *sql.DB
}

func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, slug, name, description, current_version_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			slug = EXCLUDED.slug,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			current_version_id = EXCLUDED.current_version_id,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at`,
		definition.ID, definition.Slug, definition.Name, definition.Description,
		definition.CurrentVersionID, definition.Active, definition.CreatedAt, definition.UpdatedAt)
	if err != nil {
		return persistence.NewStoreError("Save", "definition", definition.ID, err)
	}

	return nil
}

func (r *DefinitionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return r.get(ctx, "id = $1", id)
}

func (r *DefinitionRepository) GetBySlug(ctx context.Context, slug string) (*models.WorkflowDefinition, error) {
	return r.get(ctx, "slug = $1", slug)
}

func (r *DefinitionRepository) get(ctx context.Context, where, arg string) (*models.WorkflowDefinition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, name, description, current_version_id, active, created_at, updated_at
		FROM workflow_definitions WHERE `+where, arg)

	var definition models.WorkflowDefinition

	err := row.Scan(&definition.ID, &definition.Slug, &definition.Name, &definition.Description,
		&definition.CurrentVersionID, &definition.Active, &definition.CreatedAt, &definition.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrDefinitionNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("Get", "definition", arg, err)
	}

	return &definition, nil
}

func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, slug, name, description, current_version_id, active, created_at, updated_at
		FROM workflow_definitions ORDER BY created_at`)
	if err != nil {
		return nil, persistence.NewStoreError("List", "definition", "", err)
	}
	defer rows.Close()

	var definitions []*models.WorkflowDefinition

	for rows.Next() {
		var definition models.WorkflowDefinition

		err := rows.Scan(&definition.ID, &definition.Slug, &definition.Name, &definition.Description,
			&definition.CurrentVersionID, &definition.Active, &definition.CreatedAt, &definition.UpdatedAt)
		if err != nil {
			return nil, persistence.NewStoreError("List", "definition", "", err)
		}

		definitions = append(definitions, &definition)
	}

	return definitions, rows.Err()
}

// VersionRepository stores workflow versions in PostgreSQL.
type VersionRepository struct {
	db *sql.DB
}

func (r *VersionRepository) Save(ctx context.Context, version *models.WorkflowVersion) error {
	nodes, err := marshalJSON(version.Nodes)
	if err != nil {
		return persistence.NewStoreError("Save", "version", version.ID, err)
	}

	canvas, err := marshalJSON(version.Canvas)
	if err != nil {
		return persistence.NewStoreError("Save", "version", version.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_versions (id, definition_id, number, status, nodes, canvas, change_notes,
			created_at, updated_at, published_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			nodes = EXCLUDED.nodes,
			canvas = EXCLUDED.canvas,
			change_notes = EXCLUDED.change_notes,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at,
			archived_at = EXCLUDED.archived_at`,
		version.ID, version.DefinitionID, version.Number, version.Status, nodes, canvas,
		version.ChangeNotes, version.CreatedAt, version.UpdatedAt,
		nullTime(version.PublishedAt), nullTime(version.ArchivedAt))
	if err != nil {
		return persistence.NewStoreError("Save", "version", version.ID, err)
	}

	return nil
}

func (r *VersionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, definition_id, number, status, nodes, canvas, change_notes,
			created_at, updated_at, published_at, archived_at
		FROM workflow_versions WHERE id = $1`, id)

	version, err := scanVersion(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrVersionNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "version", id, err)
	}

	return version, nil
}

func (r *VersionRepository) ListByDefinition(ctx context.Context, definitionID string) ([]*models.WorkflowVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, definition_id, number, status, nodes, canvas, change_notes,
			created_at, updated_at, published_at, archived_at
		FROM workflow_versions WHERE definition_id = $1 ORDER BY number`, definitionID)
	if err != nil {
		return nil, persistence.NewStoreError("ListByDefinition", "version", definitionID, err)
	}
	defer rows.Close()

	var versions []*models.WorkflowVersion

	for rows.Next() {
		version, err := scanVersion(rows.Scan)
		if err != nil {
			return nil, persistence.NewStoreError("ListByDefinition", "version", definitionID, err)
		}

		versions = append(versions, version)
	}

	return versions, rows.Err()
}

func scanVersion(scan func(...any) error) (*models.WorkflowVersion, error) {
	var (
		version                 models.WorkflowVersion
		nodes, canvas           []byte
		publishedAt, archivedAt sql.NullTime
	)

	err := scan(&version.ID, &version.DefinitionID, &version.Number, &version.Status,
		&nodes, &canvas, &version.ChangeNotes, &version.CreatedAt, &version.UpdatedAt,
		&publishedAt, &archivedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(nodes, &version.Nodes); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(canvas, &version.Canvas); err != nil {
		return nil, err
	}

	version.PublishedAt = timePtr(publishedAt)
	version.ArchivedAt = timePtr(archivedAt)

	return &version, nil
}

// InstanceRepository stores workflow instances in PostgreSQL.
type InstanceRepository struct {
	db *sql.DB
}

func (r *InstanceRepository) Save(ctx context.Context, instance *models.WorkflowInstance) error {
	activeNodes, err := marshalJSON(instance.ActiveNodes)
	if err != nil {
		return persistence.NewStoreError("Save", "instance", instance.ID, err)
	}

	contextDoc, err := marshalJSON(instance.Context)
	if err != nil {
		return persistence.NewStoreError("Save", "instance", instance.ID, err)
	}

	var errorInfo []byte
	if instance.ErrorInfo != nil {
		errorInfo, err = marshalJSON(instance.ErrorInfo)
		if err != nil {
			return persistence.NewStoreError("Save", "instance", instance.ID, err)
		}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, version_id, entity_type, entity_id, status,
			active_nodes, context, error_info, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			version_id = EXCLUDED.version_id,
			status = EXCLUDED.status,
			active_nodes = EXCLUDED.active_nodes,
			context = EXCLUDED.context,
			error_info = EXCLUDED.error_info,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`,
		instance.ID, instance.DefinitionID, instance.VersionID, instance.EntityType, instance.EntityID,
		instance.Status, activeNodes, contextDoc, errorInfo,
		instance.CreatedAt, instance.UpdatedAt, nullTime(instance.CompletedAt))
	if err != nil {
		return persistence.NewStoreError("Save", "instance", instance.ID, err)
	}

	return nil
}

func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, selectInstance+` WHERE id = $1`, id)

	instance, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrInstanceNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetByID", "instance", id, err)
	}

	return instance, nil
}

func (r *InstanceRepository) FindActiveByEntity(ctx context.Context, definitionID, entityType, entityID string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, selectInstance+`
		WHERE definition_id = $1 AND entity_type = $2 AND entity_id = $3
			AND status NOT IN ('completed', 'failed', 'cancelled')
		ORDER BY created_at DESC LIMIT 1`,
		definitionID, entityType, entityID)

	instance, err := scanInstance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrInstanceNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("FindActiveByEntity", "instance", entityID, err)
	}

	return instance, nil
}

func (r *InstanceRepository) ListByStatus(ctx context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, selectInstance+` WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, persistence.NewStoreError("ListByStatus", "instance", string(status), err)
	}
	defer rows.Close()

	var instances []*models.WorkflowInstance

	for rows.Next() {
		instance, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, persistence.NewStoreError("ListByStatus", "instance", string(status), err)
		}

		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

const selectInstance = `
	SELECT id, definition_id, version_id, entity_type, entity_id, status,
		active_nodes, context, error_info, created_at, updated_at, completed_at
	FROM workflow_instances`

func scanInstance(scan func(...any) error) (*models.WorkflowInstance, error) {
	var (
		instance                        models.WorkflowInstance
		activeNodes, contextDoc, errDoc []byte
		completedAt                     sql.NullTime
	)

	err := scan(&instance.ID, &instance.DefinitionID, &instance.VersionID,
		&instance.EntityType, &instance.EntityID, &instance.Status,
		&activeNodes, &contextDoc, &errDoc,
		&instance.CreatedAt, &instance.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(activeNodes, &instance.ActiveNodes); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(contextDoc, &instance.Context); err != nil {
		return nil, err
	}

	if len(errDoc) > 0 {
		instance.ErrorInfo = &models.ErrorInfo{}
		if err := unmarshalJSON(errDoc, instance.ErrorInfo); err != nil {
			return nil, err
		}
	}

	instance.CompletedAt = timePtr(completedAt)

	return &instance, nil
}

// ExecutionLogRepository appends execution log rows.
type ExecutionLogRepository struct {
	db *sql.DB
}

func (r *ExecutionLogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, instance_id, node_id, node_type, status, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.InstanceID, entry.NodeID, entry.NodeType, entry.Status,
		entry.StartedAt, entry.CompletedAt)
	if err != nil {
		return persistence.NewStoreError("Append", "execution_log", entry.ID, err)
	}

	return nil
}

func (r *ExecutionLogRepository) ListByInstance(ctx context.Context, instanceID string) ([]*models.ExecutionLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, instance_id, node_id, node_type, status, started_at, completed_at
		FROM execution_logs WHERE instance_id = $1 ORDER BY completed_at, id`, instanceID)
	if err != nil {
		return nil, persistence.NewStoreError("ListByInstance", "execution_log", instanceID, err)
	}
	defer rows.Close()

	var entries []*models.ExecutionLog

	for rows.Next() {
		var entry models.ExecutionLog

		err := rows.Scan(&entry.ID, &entry.InstanceID, &entry.NodeID, &entry.NodeType,
			&entry.Status, &entry.StartedAt, &entry.CompletedAt)
		if err != nil {
			return nil, persistence.NewStoreError("ListByInstance", "execution_log", instanceID, err)
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// ApprovalRepository stores gates and approvals.
type ApprovalRepository struct {
	db *sql.DB
}

func (r *ApprovalRepository) SaveGate(ctx context.Context, gate *models.ApprovalGate) error {
	threshold, err := marshalJSON(gate.Threshold)
	if err != nil {
		return persistence.NewStoreError("SaveGate", "gate", gate.ID, err)
	}

	rule, err := marshalJSON(gate.ApproverRule)
	if err != nil {
		return persistence.NewStoreError("SaveGate", "gate", gate.ID, err)
	}

	approvers, err := marshalJSON(gate.Approvers)
	if err != nil {
		return persistence.NewStoreError("SaveGate", "gate", gate.ID, err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO approval_gates (id, instance_id, node_id, approval_type, threshold, approver_rule,
			allow_delegation, on_satisfied_transition, on_denied_transition, status, required_count,
			approvers, current_order, created_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			required_count = EXCLUDED.required_count,
			approvers = EXCLUDED.approvers,
			current_order = EXCLUDED.current_order,
			resolved_at = EXCLUDED.resolved_at`,
		gate.ID, gate.InstanceID, gate.NodeID, gate.ApprovalType, threshold, rule,
		gate.AllowDelegation, gate.OnSatisfiedTransition, gate.OnDeniedTransition,
		gate.Status, gate.RequiredCount, approvers, gate.CurrentOrder,
		gate.CreatedAt, nullTime(gate.ResolvedAt))
	if err != nil {
		return persistence.NewStoreError("SaveGate", "gate", gate.ID, err)
	}

	return nil
}

const selectGate = `
	SELECT id, instance_id, node_id, approval_type, threshold, approver_rule,
		allow_delegation, on_satisfied_transition, on_denied_transition, status,
		required_count, approvers, current_order, created_at, resolved_at
	FROM approval_gates`

func (r *ApprovalRepository) GetGate(ctx context.Context, id string) (*models.ApprovalGate, error) {
	row := r.db.QueryRowContext(ctx, selectGate+` WHERE id = $1`, id)

	gate, err := scanGate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrGateNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetGate", "gate", id, err)
	}

	return gate, nil
}

func (r *ApprovalRepository) GetGateByNode(ctx context.Context, instanceID, nodeID string) (*models.ApprovalGate, error) {
	row := r.db.QueryRowContext(ctx, selectGate+`
		WHERE instance_id = $1 AND node_id = $2 ORDER BY created_at DESC LIMIT 1`, instanceID, nodeID)

	gate, err := scanGate(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrGateNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetGateByNode", "gate", nodeID, err)
	}

	return gate, nil
}

func (r *ApprovalRepository) ListGatesByInstance(ctx context.Context, instanceID string) ([]*models.ApprovalGate, error) {
	rows, err := r.db.QueryContext(ctx, selectGate+` WHERE instance_id = $1 ORDER BY created_at`, instanceID)
	if err != nil {
		return nil, persistence.NewStoreError("ListGatesByInstance", "gate", instanceID, err)
	}
	defer rows.Close()

	var gates []*models.ApprovalGate

	for rows.Next() {
		gate, err := scanGate(rows.Scan)
		if err != nil {
			return nil, persistence.NewStoreError("ListGatesByInstance", "gate", instanceID, err)
		}

		gates = append(gates, gate)
	}

	return gates, rows.Err()
}

func scanGate(scan func(...any) error) (*models.ApprovalGate, error) {
	var (
		gate                       models.ApprovalGate
		threshold, rule, approvers []byte
		resolvedAt                 sql.NullTime
	)

	err := scan(&gate.ID, &gate.InstanceID, &gate.NodeID, &gate.ApprovalType, &threshold, &rule,
		&gate.AllowDelegation, &gate.OnSatisfiedTransition, &gate.OnDeniedTransition, &gate.Status,
		&gate.RequiredCount, &approvers, &gate.CurrentOrder, &gate.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(threshold, &gate.Threshold); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(rule, &gate.ApproverRule); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(approvers, &gate.Approvers); err != nil {
		return nil, err
	}

	gate.ResolvedAt = timePtr(resolvedAt)

	return &gate, nil
}

func (r *ApprovalRepository) SaveApproval(ctx context.Context, approval *models.Approval) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approvals (id, gate_id, approver_id, approver_order, token, decision, comment, created_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			approver_id = EXCLUDED.approver_id,
			token = EXCLUDED.token,
			decision = EXCLUDED.decision,
			comment = EXCLUDED.comment,
			decided_at = EXCLUDED.decided_at`,
		approval.ID, approval.GateID, approval.ApproverID, approval.Order, approval.Token,
		approval.Decision, approval.Comment, approval.CreatedAt, nullTime(approval.DecidedAt))
	if err != nil {
		return persistence.NewStoreError("SaveApproval", "approval", approval.ID, err)
	}

	return nil
}

const selectApproval = `
	SELECT id, gate_id, approver_id, approver_order, token, decision, comment, created_at, decided_at
	FROM approvals`

func (r *ApprovalRepository) GetApproval(ctx context.Context, id string) (*models.Approval, error) {
	row := r.db.QueryRowContext(ctx, selectApproval+` WHERE id = $1`, id)

	approval, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrApprovalNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetApproval", "approval", id, err)
	}

	return approval, nil
}

func (r *ApprovalRepository) GetApprovalByToken(ctx context.Context, token string) (*models.Approval, error) {
	if token == "" {
		return nil, persistence.ErrTokenNotFound
	}

	row := r.db.QueryRowContext(ctx, selectApproval+` WHERE token = $1`, token)

	approval, err := scanApproval(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTokenNotFound
	}

	if err != nil {
		return nil, persistence.NewStoreError("GetApprovalByToken", "approval", "", err)
	}

	return approval, nil
}

func (r *ApprovalRepository) ListApprovalsByGate(ctx context.Context, gateID string) ([]*models.Approval, error) {
	rows, err := r.db.QueryContext(ctx, selectApproval+` WHERE gate_id = $1 ORDER BY approver_order, created_at`, gateID)
	if err != nil {
		return nil, persistence.NewStoreError("ListApprovalsByGate", "approval", gateID, err)
	}
	defer rows.Close()

	var approvals []*models.Approval

	for rows.Next() {
		approval, err := scanApproval(rows.Scan)
		if err != nil {
			return nil, persistence.NewStoreError("ListApprovalsByGate", "approval", gateID, err)
		}

		approvals = append(approvals, approval)
	}

	return approvals, rows.Err()
}

func scanApproval(scan func(...any) error) (*models.Approval, error) {
	var (
		approval  models.Approval
		decidedAt sql.NullTime
	)

	err := scan(&approval.ID, &approval.GateID, &approval.ApproverID, &approval.Order,
		&approval.Token, &approval.Decision, &approval.Comment, &approval.CreatedAt, &decidedAt)
	if err != nil {
		return nil, err
	}

	approval.DecidedAt = timePtr(decidedAt)

	return &approval, nil
}

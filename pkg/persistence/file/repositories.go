package file

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
)

const (
	kindDefinitions = "definitions"
	kindVersions    = "versions"
	kindInstances   = "instances"
	kindLogs        = "logs"
	kindGates       = "gates"
	kindApprovals   = "approvals"
)

// DefinitionRepository stores workflow definitions as JSON files.
type DefinitionRepository struct {
	store *Persistence
}

func (r *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
	return r.store.write(kindDefinitions, definition.ID, definition)
}

func (r *DefinitionRepository) GetByID(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	var definition models.WorkflowDefinition
	if err := r.store.read(kindDefinitions, id, &definition, persistence.ErrDefinitionNotFound); err != nil {
		return nil, err
	}

	return &definition, nil
}

func (r *DefinitionRepository) GetBySlug(ctx context.Context, slug string) (*models.WorkflowDefinition, error) {
	definitions, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	for _, definition := range definitions {
		if definition.Slug == slug {
			return definition, nil
		}
	}

	return nil, persistence.ErrDefinitionNotFound
}

func (r *DefinitionRepository) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	var definitions []*models.WorkflowDefinition

	err := r.store.readAll(kindDefinitions, func(data []byte) error {
		var definition models.WorkflowDefinition
		if err := json.Unmarshal(data, &definition); err != nil {
			return err
		}

		definitions = append(definitions, &definition)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].CreatedAt.Before(definitions[j].CreatedAt)
	})

	return definitions, nil
}

// VersionRepository stores workflow versions as JSON files.
type VersionRepository struct {
	store *Persistence
}

func (r *VersionRepository) Save(_ context.Context, version *models.WorkflowVersion) error {
	return r.store.write(kindVersions, version.ID, version)
}

func (r *VersionRepository) GetByID(_ context.Context, id string) (*models.WorkflowVersion, error) {
	var version models.WorkflowVersion
	if err := r.store.read(kindVersions, id, &version, persistence.ErrVersionNotFound); err != nil {
		return nil, err
	}

	return &version, nil
}

func (r *VersionRepository) ListByDefinition(_ context.Context, definitionID string) ([]*models.WorkflowVersion, error) {
	var versions []*models.WorkflowVersion

	err := r.store.readAll(kindVersions, func(data []byte) error {
		var version models.WorkflowVersion
		if err := json.Unmarshal(data, &version); err != nil {
			return err
		}

		if version.DefinitionID == definitionID {
			versions = append(versions, &version)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(versions, func(i, j int) bool {
		return versions[i].Number < versions[j].Number
	})

	return versions, nil
}

// InstanceRepository stores workflow instances as JSON files.
type InstanceRepository struct {
	store *Persistence
}

func (r *InstanceRepository) Save(_ context.Context, instance *models.WorkflowInstance) error {
	return r.store.write(kindInstances, instance.ID, instance)
}

func (r *InstanceRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	var instance models.WorkflowInstance
	if err := r.store.read(kindInstances, id, &instance, persistence.ErrInstanceNotFound); err != nil {
		return nil, err
	}

	return &instance, nil
}

func (r *InstanceRepository) FindActiveByEntity(_ context.Context, definitionID, entityType, entityID string) (*models.WorkflowInstance, error) {
	var active *models.WorkflowInstance

	err := r.store.readAll(kindInstances, func(data []byte) error {
		var instance models.WorkflowInstance
		if err := json.Unmarshal(data, &instance); err != nil {
			return err
		}

		if instance.DefinitionID == definitionID &&
			instance.EntityType == entityType &&
			instance.EntityID == entityID &&
			!instance.IsTerminal() {
			active = &instance
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if active == nil {
		return nil, persistence.ErrInstanceNotFound
	}

	return active, nil
}

func (r *InstanceRepository) ListByStatus(_ context.Context, status models.InstanceStatus) ([]*models.WorkflowInstance, error) {
	var instances []*models.WorkflowInstance

	err := r.store.readAll(kindInstances, func(data []byte) error {
		var instance models.WorkflowInstance
		if err := json.Unmarshal(data, &instance); err != nil {
			return err
		}

		if instance.Status == status {
			instances = append(instances, &instance)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt)
	})

	return instances, nil
}

// ExecutionLogRepository keeps one JSON array file per instance.
type ExecutionLogRepository struct {
	store *Persistence
}

func (r *ExecutionLogRepository) Append(ctx context.Context, entry *models.ExecutionLog) error {
	entries, err := r.ListByInstance(ctx, entry.InstanceID)
	if err != nil {
		return err
	}

	entries = append(entries, entry)

	return r.store.write(kindLogs, entry.InstanceID, entries)
}

func (r *ExecutionLogRepository) ListByInstance(_ context.Context, instanceID string) ([]*models.ExecutionLog, error) {
	var entries []*models.ExecutionLog

	err := r.store.read(kindLogs, instanceID, &entries, persistence.ErrInstanceNotFound)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, nil
		}

		return nil, err
	}

	return entries, nil
}

// ApprovalRepository stores gates and approvals as JSON files.
type ApprovalRepository struct {
	store *Persistence
}

func (r *ApprovalRepository) SaveGate(_ context.Context, gate *models.ApprovalGate) error {
	return r.store.write(kindGates, gate.ID, gate)
}

func (r *ApprovalRepository) GetGate(_ context.Context, id string) (*models.ApprovalGate, error) {
	var gate models.ApprovalGate
	if err := r.store.read(kindGates, id, &gate, persistence.ErrGateNotFound); err != nil {
		return nil, err
	}

	return &gate, nil
}

func (r *ApprovalRepository) GetGateByNode(ctx context.Context, instanceID, nodeID string) (*models.ApprovalGate, error) {
	gates, err := r.ListGatesByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	for _, gate := range gates {
		if gate.NodeID == nodeID {
			return gate, nil
		}
	}

	return nil, persistence.ErrGateNotFound
}

func (r *ApprovalRepository) ListGatesByInstance(_ context.Context, instanceID string) ([]*models.ApprovalGate, error) {
	var gates []*models.ApprovalGate

	err := r.store.readAll(kindGates, func(data []byte) error {
		var gate models.ApprovalGate
		if err := json.Unmarshal(data, &gate); err != nil {
			return err
		}

		if gate.InstanceID == instanceID {
			gates = append(gates, &gate)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(gates, func(i, j int) bool {
		return gates[i].CreatedAt.Before(gates[j].CreatedAt)
	})

	return gates, nil
}

func (r *ApprovalRepository) SaveApproval(_ context.Context, approval *models.Approval) error {
	return r.store.write(kindApprovals, approval.ID, approval)
}

func (r *ApprovalRepository) GetApproval(_ context.Context, id string) (*models.Approval, error) {
	var approval models.Approval
	if err := r.store.read(kindApprovals, id, &approval, persistence.ErrApprovalNotFound); err != nil {
		return nil, err
	}

	return &approval, nil
}

func (r *ApprovalRepository) GetApprovalByToken(_ context.Context, token string) (*models.Approval, error) {
	if token == "" {
		return nil, persistence.ErrTokenNotFound
	}

	var found *models.Approval

	err := r.store.readAll(kindApprovals, func(data []byte) error {
		var approval models.Approval
		if err := json.Unmarshal(data, &approval); err != nil {
			return err
		}

		if approval.Token == token {
			found = &approval
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if found == nil {
		return nil, persistence.ErrTokenNotFound
	}

	return found, nil
}

func (r *ApprovalRepository) ListApprovalsByGate(_ context.Context, gateID string) ([]*models.Approval, error) {
	var approvals []*models.Approval

	err := r.store.readAll(kindApprovals, func(data []byte) error {
		var approval models.Approval
		if err := json.Unmarshal(data, &approval); err != nil {
			return err
		}

		if approval.GateID == gateID {
			approvals = append(approvals, &approval)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(approvals, func(i, j int) bool {
		if approvals[i].Order != approvals[j].Order {
			return approvals[i].Order < approvals[j].Order
		}

		return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
	})

	return approvals, nil
}

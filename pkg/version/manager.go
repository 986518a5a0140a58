// Package version implements the draft/published/archived lifecycle of
// workflow versions: drafting, validation, publishing, structural comparison
// and migrating live instances between versions.
package version

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tideflow-io/tideflow/pkg/eventbus"
	"github.com/tideflow-io/tideflow/pkg/events"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
)

// Lifecycle rule violations.
var (
	ErrNotDraft           = errors.New("only draft versions can be edited")
	ErrNotPublishable     = errors.New("only draft versions can be published")
	ErrValidationFailed   = errors.New("version failed validation")
	ErrSlugTaken          = errors.New("workflow slug already in use")
	ErrMigrateTerminal    = errors.New("cannot migrate a terminal instance")
	ErrMigrateUnpublished = errors.New("migration target version is not published")
)

// Manager owns definition and version lifecycle transitions.
type Manager struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager wires the version lifecycle. The event bus may be nil.
func NewManager(logger *slog.Logger, store persistence.Persistence, bus eventbus.EventBus) *Manager {
	return &Manager{
		persistence: store,
		eventBus:    bus,
		logger:      logger.With("module", "version"),
		now:         time.Now,
	}
}

// WithClock overrides the manager's clock, for tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now

	return m
}

// CreateDefinition registers a new workflow identity with a unique slug.
func (m *Manager) CreateDefinition(ctx context.Context, slug, name, description string) (*models.WorkflowDefinition, error) {
	_, err := m.persistence.Definitions().GetBySlug(ctx, slug)
	if err == nil {
		return nil, fmt.Errorf("%w: %s", ErrSlugTaken, slug)
	}

	if !errors.Is(err, persistence.ErrDefinitionNotFound) {
		return nil, err
	}

	now := m.now()

	definition := &models.WorkflowDefinition{
		ID:          uuid.NewString(),
		Slug:        slug,
		Name:        name,
		Description: description,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Workflow definition created", "definition_id", definition.ID, "slug", slug)

	return definition, nil
}

// CreateDraft opens a new draft version with the next monotonic number.
func (m *Manager) CreateDraft(
	ctx context.Context,
	definitionID string,
	nodes map[string]*models.Node,
	canvas map[string]any,
	changeNotes string,
) (*models.WorkflowVersion, error) {
	definition, err := m.persistence.Definitions().GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	existing, err := m.persistence.Versions().ListByDefinition(ctx, definition.ID)
	if err != nil {
		return nil, err
	}

	number := 1
	for _, version := range existing {
		if version.Number >= number {
			number = version.Number + 1
		}
	}

	now := m.now()

	draft := &models.WorkflowVersion{
		ID:           uuid.NewString(),
		DefinitionID: definition.ID,
		Number:       number,
		Status:       models.VersionStatusDraft,
		Nodes:        nodes,
		Canvas:       canvas,
		ChangeNotes:  changeNotes,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.persistence.Versions().Save(ctx, draft); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "Draft version created",
		"definition_id", definition.ID, "version_id", draft.ID, "number", number)

	return draft, nil
}

// UpdateDraft replaces a draft's graph and presentation data. Published and
// archived versions are immutable.
func (m *Manager) UpdateDraft(
	ctx context.Context,
	versionID string,
	nodes map[string]*models.Node,
	canvas map[string]any,
	changeNotes string,
) (*models.WorkflowVersion, error) {
	draft, err := m.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if draft.Status != models.VersionStatusDraft {
		return nil, fmt.Errorf("%w (status %s)", ErrNotDraft, draft.Status)
	}

	draft.Nodes = nodes
	draft.Canvas = canvas

	if changeNotes != "" {
		draft.ChangeNotes = changeNotes
	}

	draft.UpdatedAt = m.now()

	if err := m.persistence.Versions().Save(ctx, draft); err != nil {
		return nil, err
	}

	return draft, nil
}

// Publish validates the draft, archives the previously published version and
// moves the definition's current-version pointer. A failed validation leaves
// all stored state untouched; the report travels with the error.
func (m *Manager) Publish(ctx context.Context, versionID string) (*models.WorkflowVersion, *ValidationReport, error) {
	draft, err := m.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, nil, err
	}

	if draft.Status != models.VersionStatusDraft {
		return nil, nil, fmt.Errorf("%w (status %s)", ErrNotPublishable, draft.Status)
	}

	report := Validate(draft)
	if !report.Valid {
		return nil, report, fmt.Errorf("%w: %d error(s)", ErrValidationFailed, len(report.Errors))
	}

	definition, err := m.persistence.Definitions().GetByID(ctx, draft.DefinitionID)
	if err != nil {
		return nil, report, err
	}

	now := m.now()

	if definition.CurrentVersionID != "" {
		previous, err := m.persistence.Versions().GetByID(ctx, definition.CurrentVersionID)
		if err != nil && !errors.Is(err, persistence.ErrVersionNotFound) {
			return nil, report, err
		}

		if previous != nil {
			previous.Status = models.VersionStatusArchived
			previous.ArchivedAt = &now
			previous.UpdatedAt = now

			if err := m.persistence.Versions().Save(ctx, previous); err != nil {
				return nil, report, err
			}

			m.publish(ctx, definition.ID, events.VersionArchived{
				BaseEvent: m.baseEvent(events.VersionArchivedEvent, definition.ID),
				VersionID: previous.ID,
				Number:    previous.Number,
			})
		}
	}

	draft.Status = models.VersionStatusPublished
	draft.PublishedAt = &now
	draft.UpdatedAt = now

	if err := m.persistence.Versions().Save(ctx, draft); err != nil {
		return nil, report, err
	}

	definition.CurrentVersionID = draft.ID
	definition.UpdatedAt = now

	if err := m.persistence.Definitions().Save(ctx, definition); err != nil {
		return nil, report, err
	}

	m.publish(ctx, definition.ID, events.VersionPublished{
		BaseEvent: m.baseEvent(events.VersionPublishedEvent, definition.ID),
		VersionID: draft.ID,
		Number:    draft.Number,
	})

	m.logger.InfoContext(ctx, "Version published",
		"definition_id", definition.ID, "version_id", draft.ID, "number", draft.Number,
		"warnings", len(report.Warnings))

	return draft, report, nil
}

// Archive retires a version. Archiving the currently published version clears
// the definition's pointer and deactivates the definition, leaving it without
// an executable version.
func (m *Manager) Archive(ctx context.Context, versionID string) (*models.WorkflowVersion, error) {
	version, err := m.persistence.Versions().GetByID(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if version.Status == models.VersionStatusArchived {
		return version, nil
	}

	now := m.now()
	version.Status = models.VersionStatusArchived
	version.ArchivedAt = &now
	version.UpdatedAt = now

	if err := m.persistence.Versions().Save(ctx, version); err != nil {
		return nil, err
	}

	definition, err := m.persistence.Definitions().GetByID(ctx, version.DefinitionID)
	if err != nil {
		return nil, err
	}

	if definition.CurrentVersionID == version.ID {
		definition.CurrentVersionID = ""
		definition.Active = false
		definition.UpdatedAt = now

		if err := m.persistence.Definitions().Save(ctx, definition); err != nil {
			return nil, err
		}
	}

	m.publish(ctx, definition.ID, events.VersionArchived{
		BaseEvent: m.baseEvent(events.VersionArchivedEvent, definition.ID),
		VersionID: version.ID,
		Number:    version.Number,
	})

	m.logger.InfoContext(ctx, "Version archived",
		"definition_id", definition.ID, "version_id", version.ID, "number", version.Number)

	return version, nil
}

// VersionDiff is the structural comparison of two graphs.
type VersionDiff struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Modified []string `json:"modified"`
}

// CompareVersions diffs two versions' graphs by node id.
func (m *Manager) CompareVersions(ctx context.Context, fromID, toID string) (*VersionDiff, error) {
	from, err := m.persistence.Versions().GetByID(ctx, fromID)
	if err != nil {
		return nil, err
	}

	to, err := m.persistence.Versions().GetByID(ctx, toID)
	if err != nil {
		return nil, err
	}

	diff := &VersionDiff{}

	for id, node := range to.Nodes {
		previous, exists := from.Nodes[id]
		if !exists {
			diff.Added = append(diff.Added, id)

			continue
		}

		if !reflect.DeepEqual(previous, node) {
			diff.Modified = append(diff.Modified, id)
		}
	}

	for id := range from.Nodes {
		if _, exists := to.Nodes[id]; !exists {
			diff.Removed = append(diff.Removed, id)
		}
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Modified)

	return diff, nil
}

// MigrateInstance repoints a live instance at another published version.
// Active nodes are auto-mapped when the target graph has a node with the same
// id; unmapped active nodes are dropped from the set and reported.
func (m *Manager) MigrateInstance(ctx context.Context, instanceID, targetVersionID string) (*models.WorkflowInstance, []string, error) {
	instance, err := m.persistence.Instances().GetByID(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	if instance.IsTerminal() {
		return nil, nil, fmt.Errorf("%w (status %s)", ErrMigrateTerminal, instance.Status)
	}

	target, err := m.persistence.Versions().GetByID(ctx, targetVersionID)
	if err != nil {
		return nil, nil, err
	}

	if target.Status != models.VersionStatusPublished {
		return nil, nil, fmt.Errorf("%w (status %s)", ErrMigrateUnpublished, target.Status)
	}

	var mapped, dropped []string

	for _, nodeID := range instance.ActiveNodes {
		if _, exists := target.Nodes[nodeID]; exists {
			mapped = append(mapped, nodeID)
		} else {
			dropped = append(dropped, nodeID)
		}
	}

	instance.VersionID = target.ID
	instance.ActiveNodes = mapped
	instance.UpdatedAt = m.now()

	if err := m.persistence.Instances().Save(ctx, instance); err != nil {
		return nil, nil, err
	}

	m.logger.InfoContext(ctx, "Instance migrated",
		"instance_id", instance.ID, "target_version_id", target.ID,
		"mapped_nodes", len(mapped), "dropped_nodes", len(dropped))

	return instance, dropped, nil
}

func (m *Manager) baseEvent(eventType events.EventType, definitionID string) events.BaseEvent {
	return events.BaseEvent{
		ID:           uuid.NewString(),
		Type:         eventType,
		Timestamp:    m.now(),
		DefinitionID: definitionID,
	}
}

func (m *Manager) publish(ctx context.Context, key string, event eventbus.Event) {
	if m.eventBus == nil {
		return
	}

	if err := m.eventBus.Publish(ctx, key, event); err != nil {
		m.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "error", err)
	}
}

// Package web provides the HTTP surface for workflow management: definition
// and version lifecycle, instance control and approval decisions.
package web

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/tideflow-io/tideflow/pkg/engine"
	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/version"
)

type APIHandlers struct {
	engine    *engine.Engine
	versions  *version.Manager
	store     persistence.Persistence
	validator *validator.Validate
}

func NewAPIHandlers(
	workflowEngine *engine.Engine,
	versionManager *version.Manager,
	store persistence.Persistence,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:    workflowEngine,
		versions:  versionManager,
		store:     store,
		validator: validate,
	}
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	definitions, err := h.store.Definitions().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": definitions})
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	definition, err := h.versions.CreateDefinition(c.Context(), req.Slug, req.Name, req.Description)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(definition)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	slug := c.Params("slug")
	if slug == "" {
		return badRequest(c, "Workflow slug is required")
	}

	definition, err := h.store.Definitions().GetBySlug(c.Context(), slug)
	if err != nil {
		return handleDomainError(c, err)
	}

	versions, err := h.store.Versions().ListByDefinition(c.Context(), definition.ID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{"workflow": definition, "versions": versions})
}

func (h *APIHandlers) CreateDraft(c fiber.Ctx) error {
	definitionID := c.Params("id")
	if definitionID == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req CreateDraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	draft, err := h.versions.CreateDraft(c.Context(), definitionID, req.Nodes, req.Canvas, req.ChangeNotes)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) UpdateDraft(c fiber.Ctx) error {
	versionID := c.Params("id")
	if versionID == "" {
		return badRequest(c, "Version ID is required")
	}

	var req UpdateDraftRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	draft, err := h.versions.UpdateDraft(c.Context(), versionID, req.Nodes, req.Canvas, req.ChangeNotes)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(draft)
}

func (h *APIHandlers) ValidateVersion(c fiber.Ctx) error {
	versionID := c.Params("id")
	if versionID == "" {
		return badRequest(c, "Version ID is required")
	}

	stored, err := h.store.Versions().GetByID(c.Context(), versionID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(version.Validate(stored))
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	versionID := c.Params("id")
	if versionID == "" {
		return badRequest(c, "Version ID is required")
	}

	published, report, err := h.versions.Publish(c.Context(), versionID)
	if err != nil {
		if errors.Is(err, version.ErrValidationFailed) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(report)
		}

		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"version": published, "report": report})
}

func (h *APIHandlers) ArchiveVersion(c fiber.Ctx) error {
	versionID := c.Params("id")
	if versionID == "" {
		return badRequest(c, "Version ID is required")
	}

	archived, err := h.versions.Archive(c.Context(), versionID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(archived)
}

func (h *APIHandlers) CompareVersions(c fiber.Ctx) error {
	fromID := c.Query("from")
	toID := c.Query("to")

	if fromID == "" || toID == "" {
		return badRequest(c, "Both from and to version ids are required")
	}

	diff, err := h.versions.CompareVersions(c.Context(), fromID, toID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(diff)
}

func (h *APIHandlers) StartInstance(c fiber.Ctx) error {
	var req StartInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.StartWorkflow(c.Context(), req.WorkflowSlug, req.EntityType, req.EntityID, req.Trigger)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.store.Instances().GetByID(c.Context(), instanceID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) GetInstanceLogs(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	trail, err := h.store.ExecutionLogs().ListByInstance(c.Context(), instanceID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"logs": trail})
}

func (h *APIHandlers) GetInstanceGates(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	gates, err := h.store.Approvals().ListGatesByInstance(c.Context(), instanceID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"gates": gates})
}

func (h *APIHandlers) ResumeInstance(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req ResumeInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, err := h.engine.ResumeWorkflow(c.Context(), instanceID, req.NodeID, req.Port, req.ResumeData)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req CancelInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	instance, err := h.engine.CancelWorkflow(c.Context(), instanceID, req.Reason)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) MigrateInstance(c fiber.Ctx) error {
	instanceID := c.Params("id")
	if instanceID == "" {
		return badRequest(c, "Instance ID is required")
	}

	var req MigrateInstanceRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	instance, dropped, err := h.versions.MigrateInstance(c.Context(), instanceID, req.TargetVersionID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(fiber.Map{"instance": instance, "dropped_nodes": dropped})
}

func (h *APIHandlers) RecordDecision(c fiber.Ctx) error {
	gateID := c.Params("gateId")
	if gateID == "" {
		return badRequest(c, "Gate ID is required")
	}

	var req DecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.RecordApproval(c.Context(), gateID, req.ApproverID, models.Decision(req.Decision), req.Comment)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(decisionResponse(result.Final, result.Satisfied, result.ApprovedCount, result.RequiredCount))
}

func (h *APIHandlers) ResolveByToken(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return badRequest(c, "Approval token is required")
	}

	var req TokenDecisionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.engine.ResolveApprovalByToken(c.Context(), token, models.Decision(req.Decision), req.Comment)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(decisionResponse(result.Final, result.Satisfied, result.ApprovedCount, result.RequiredCount))
}

func (h *APIHandlers) DelegateApproval(c fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return badRequest(c, "Approval token is required")
	}

	var req DelegateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	slot, err := h.engine.DelegateApproval(c.Context(), token, req.ApproverID)
	if err != nil {
		return handleDomainError(c, err)
	}

	return c.JSON(slot)
}

func decisionResponse(final, satisfied bool, approved, required int) fiber.Map {
	return fiber.Map{
		"final":          final,
		"satisfied":      satisfied,
		"approved_count": approved,
		"required_count": required,
	}
}

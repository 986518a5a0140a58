package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/tideflow-io/tideflow/pkg/approval"
	"github.com/tideflow-io/tideflow/pkg/engine"
	"github.com/tideflow-io/tideflow/pkg/persistence"
	"github.com/tideflow-io/tideflow/pkg/version"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleDomainError maps engine, version and approval rule violations onto
// problem responses. The reason string always names the violated rule.
func handleDomainError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, persistence.ErrDefinitionNotFound),
		errors.Is(err, persistence.ErrVersionNotFound),
		errors.Is(err, persistence.ErrInstanceNotFound),
		errors.Is(err, persistence.ErrGateNotFound),
		errors.Is(err, persistence.ErrApprovalNotFound),
		errors.Is(err, approval.ErrTokenInvalid):
		return notFound(c, err.Error())

	case errors.Is(err, engine.ErrActiveInstanceExists),
		errors.Is(err, engine.ErrWorkflowInactive),
		errors.Is(err, engine.ErrNoPublishedVersion),
		errors.Is(err, engine.ErrInstanceTerminal),
		errors.Is(err, engine.ErrNodeNotActive),
		errors.Is(err, version.ErrSlugTaken),
		errors.Is(err, version.ErrNotDraft),
		errors.Is(err, version.ErrNotPublishable),
		errors.Is(err, version.ErrMigrateTerminal),
		errors.Is(err, version.ErrMigrateUnpublished),
		errors.Is(err, approval.ErrGateResolved),
		errors.Is(err, approval.ErrAlreadyRecorded),
		errors.Is(err, approval.ErrNotCurrentInChain),
		errors.Is(err, approval.ErrDelegationDenied):
		return conflict(c, err.Error())

	case errors.Is(err, approval.ErrUnknownDecision),
		errors.Is(err, approval.ErrNoApprovers):
		return badRequest(c, err.Error())

	default:
		return internalError(c, err)
	}
}

package conditions

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/tideflow-io/tideflow/pkg/template"
)

func (e *Evaluator) evaluatePermission(ctx context.Context, config map[string]any, input *Input) bool {
	permission, _ := config["permission"].(string)
	if permission == "" || input.UserID == "" || e.membership == nil {
		return false
	}

	granted, err := e.membership.HasPermission(ctx, input.UserID, permission)
	if err != nil {
		e.logger.DebugContext(ctx, "Permission check failed", "permission", permission, "error", err)

		return false
	}

	return granted
}

func (e *Evaluator) evaluateRole(ctx context.Context, config map[string]any, input *Input) bool {
	role, _ := config["role"].(string)
	if role == "" || input.UserID == "" || e.membership == nil {
		return false
	}

	granted, err := e.membership.HasRole(ctx, input.UserID, role)
	if err != nil {
		e.logger.DebugContext(ctx, "Role check failed", "role", role, "error", err)

		return false
	}

	return granted
}

// evaluateField looks up a dot-path in the input document, falling back to the
// entity subtree when the literal path resolves to nothing.
func (e *Evaluator) evaluateField(_ context.Context, config map[string]any, input *Input) bool {
	path, _ := config["field"].(string)
	if path == "" {
		return false
	}

	operator, _ := config["operator"].(string)
	if operator == "" {
		return false
	}

	document := input.Document()

	actual, found := template.Lookup(document, path)
	if !found {
		actual, found = template.Lookup(document, "entity."+path)
	}

	return applyOperator(operator, actual, found, config["value"])
}

func (e *Evaluator) evaluateWorkflowContext(_ context.Context, config map[string]any, input *Input) bool {
	path, _ := config["field"].(string)
	if path == "" {
		return false
	}

	operator, _ := config["operator"].(string)
	if operator == "" {
		return false
	}

	actual, found := template.Lookup(input.Context, path)

	return applyOperator(operator, actual, found, config["value"])
}

func (e *Evaluator) evaluateOwnership(_ context.Context, config map[string]any, input *Input) bool {
	if input.UserID == "" {
		return false
	}

	kind, _ := config["ownership"].(string)

	switch kind {
	case "requester":
		return entityFieldMatches(input, "requester_id", input.UserID)
	case "recipient":
		return entityFieldMatches(input, "recipient_id", input.UserID)
	case "parent_of_minor":
		entityID, _ := template.Lookup(input.Entity, "id")

		return slices.Contains(input.ManagedIDs, template.Stringify(entityID))
	case "any":
		entityID, _ := template.Lookup(input.Entity, "id")

		return entityFieldMatches(input, "requester_id", input.UserID) ||
			entityFieldMatches(input, "recipient_id", input.UserID) ||
			slices.Contains(input.ManagedIDs, template.Stringify(entityID))
	default:
		return false
	}
}

func entityFieldMatches(input *Input, field, userID string) bool {
	value, found := template.Lookup(input.Entity, field)
	if !found {
		return false
	}

	return template.Stringify(value) == userID
}

func (e *Evaluator) evaluateApprovalGate(_ context.Context, config map[string]any, input *Input) bool {
	gateID, _ := config["gate"].(string)
	if gateID == "" {
		return false
	}

	met, known := input.GateStatus[gateID]

	expected, _ := config["status"].(string)

	switch expected {
	case "", "met":
		return known && met
	case "not_met":
		return !known || !met
	default:
		return false
	}
}

// evaluateTime compares the time elapsed since the input anchor against a
// duration written in day/hour/minute shorthand, e.g. "2d" or "30m".
func (e *Evaluator) evaluateTime(ctx context.Context, config map[string]any, input *Input) bool {
	if input.Anchor.IsZero() {
		return false
	}

	duration, _ := config["duration"].(string)

	window, ok := parseShorthandDuration(duration)
	if !ok {
		e.logger.DebugContext(ctx, "Unparseable time condition duration", "duration", duration)

		return false
	}

	elapsed := e.now().Sub(input.Anchor)

	operator, _ := config["operator"].(string)

	switch operator {
	case "", "elapsed_gte":
		return elapsed >= window
	case "elapsed_lt":
		return elapsed < window
	default:
		return false
	}
}

// parseShorthandDuration parses "<N>d", "<N>h" or "<N>m", case-insensitive.
func parseShorthandDuration(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if len(value) < 2 {
		return 0, false
	}

	unit := strings.ToLower(value[len(value)-1:])
	digits := value[:len(value)-1]

	var amount int64

	for _, char := range digits {
		if char < '0' || char > '9' {
			return 0, false
		}

		amount = amount*10 + int64(char-'0')
	}

	switch unit {
	case "d":
		return time.Duration(amount) * 24 * time.Hour, true
	case "h":
		return time.Duration(amount) * time.Hour, true
	case "m":
		return time.Duration(amount) * time.Minute, true
	default:
		return 0, false
	}
}

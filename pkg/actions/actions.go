// Package actions executes ordered action chains attached to workflow nodes.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tideflow-io/tideflow/pkg/models"
	"github.com/tideflow-io/tideflow/pkg/notify"
	"github.com/tideflow-io/tideflow/pkg/template"
)

// Sub-result statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusDeferred  = "deferred"
)

// Spec is a single action in a node's action chain.
type Spec struct {
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	Optional bool           `json:"optional,omitempty"`
}

// SubResult records the outcome of one action in a chain.
type SubResult struct {
	Type    string         `json:"type"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
}

// Result is the outcome of executing a whole chain.
type Result struct {
	Success bool        `json:"success"`
	Results []SubResult `json:"results"`
}

// Entity is a domain object bound to a workflow instance. Actions that
// mutate the entity run deferred when no entity is bound.
type Entity interface {
	SetField(ctx context.Context, field string, value any) error
	SetStatus(ctx context.Context, status string) error
}

// ApprovalRequester opens approval gates on behalf of the request_approval
// action.
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, instance *models.WorkflowInstance, nodeID string, config map[string]any) error
}

// Run carries the per-invocation state an action may read or mutate.
type Run struct {
	Instance *models.WorkflowInstance
	NodeID   string
	// Entity is the bound domain entity, nil when the workflow runs detached.
	Entity Entity
}

// ActionFunc executes one action. A nil error with a nil sub-result means a
// plain completion; actions return a sub-result to attach output or report a
// deferred status.
type ActionFunc func(ctx context.Context, config map[string]any, run *Run) (*SubResult, error)

// Executor runs action chains through a pluggable registry of action types.
type Executor struct {
	registry   map[string]ActionFunc
	dispatcher notify.Dispatcher
	approvals  ApprovalRequester
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor returns an executor with all built-in action types registered.
// The approval requester may be nil when the deployment has no gates.
func NewExecutor(logger *slog.Logger, dispatcher notify.Dispatcher, approvals ApprovalRequester) *Executor {
	executor := &Executor{
		registry:   make(map[string]ActionFunc),
		dispatcher: dispatcher,
		approvals:  approvals,
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("module", "actions"),
		now:        time.Now,
	}

	executor.Register("set_context", executor.executeSetContext)
	executor.Register("set_field", executor.executeSetField)
	executor.Register("send_email", executor.executeSendEmail)
	executor.Register("webhook", executor.executeWebhook)
	executor.Register("activate_warrant", executor.executeActivateWarrant)
	executor.Register("cancel_warrant", executor.executeCancelWarrant)
	executor.Register("request_approval", executor.executeRequestApproval)

	return executor
}

// Register adds or replaces an action type.
func (e *Executor) Register(name string, action ActionFunc) {
	e.registry[name] = action
}

// WithClock overrides the executor's clock, for tests.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now

	return e
}

// Execute runs the chain strictly in order. An unregistered or missing type
// records a failed sub-result but does not abort the chain; a non-optional
// action failure aborts the remaining chain and fails the whole call.
func (e *Executor) Execute(ctx context.Context, specs []Spec, run *Run) *Result {
	result := &Result{Success: true}

	for _, spec := range specs {
		if spec.Type == "" {
			result.Results = append(result.Results, SubResult{
				Status:  StatusFailed,
				Message: "action has no type",
			})

			continue
		}

		action, registered := e.registry[spec.Type]
		if !registered {
			result.Results = append(result.Results, SubResult{
				Type:    spec.Type,
				Status:  StatusFailed,
				Message: fmt.Sprintf("unknown action type %q", spec.Type),
			})

			continue
		}

		subResult, err := action(ctx, e.renderConfig(spec.Config, run), run)
		if subResult == nil {
			subResult = &SubResult{Status: StatusCompleted}
		}

		subResult.Type = spec.Type

		if err != nil {
			subResult.Status = StatusFailed
			subResult.Message = err.Error()
		}

		result.Results = append(result.Results, *subResult)

		if err != nil && !spec.Optional {
			result.Success = false

			return result
		}

		if err != nil {
			e.logger.WarnContext(ctx, "Optional action failed",
				"action", spec.Type, "node", run.NodeID, "error", err)
		}
	}

	return result
}

// renderConfig resolves {{dot.path}} templates in all string parameters
// against the instance context before the action sees them.
func (e *Executor) renderConfig(config map[string]any, run *Run) map[string]any {
	if len(config) == 0 {
		return config
	}

	data := map[string]any{}
	if run.Instance != nil {
		data = run.Instance.Context
	}

	opts := e.templateOptions(run)

	rendered := make(map[string]any, len(config))
	for key, value := range config {
		rendered[key] = renderValue(value, data, opts)
	}

	return rendered
}

func renderValue(value any, data map[string]any, opts *template.Options) any {
	switch typed := value.(type) {
	case string:
		return template.RenderValue(typed, data, opts)
	case map[string]any:
		rendered := make(map[string]any, len(typed))
		for key, item := range typed {
			rendered[key] = renderValue(item, data, opts)
		}

		return rendered
	case []any:
		rendered := make([]any, len(typed))
		for index, item := range typed {
			rendered[index] = renderValue(item, data, opts)
		}

		return rendered
	default:
		return value
	}
}

func (e *Executor) templateOptions(run *Run) *template.Options {
	return &template.Options{
		Now: e.now,
		Increment: func() float64 {
			if run.Instance == nil {
				return 0
			}

			return run.Instance.IncrementCounter(run.NodeID)
		},
	}
}

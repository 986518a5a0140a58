package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tideflow-io/tideflow/pkg/notify"
	"github.com/tideflow-io/tideflow/pkg/template"
)

var errNoApprovalSubsystem = errors.New("no approval subsystem configured")

// executeSetContext writes a value into the instance context at a dot path.
// Template tokens in the value, including {{now}} and {{increment}}, are
// resolved before this action runs.
func (e *Executor) executeSetContext(_ context.Context, config map[string]any, run *Run) (*SubResult, error) {
	key, _ := config["key"].(string)
	if key == "" {
		return nil, errors.New("set_context requires a key")
	}

	if run.Instance == nil {
		return nil, errors.New("set_context requires an instance")
	}

	setPath(run.Instance.Context, key, config["value"])

	return &SubResult{
		Status: StatusCompleted,
		Output: map[string]any{"key": key, "value": config["value"]},
	}, nil
}

// executeSetField mutates a field on the bound entity, or reports a deferred
// intent when no entity is bound.
func (e *Executor) executeSetField(ctx context.Context, config map[string]any, run *Run) (*SubResult, error) {
	field, _ := config["field"].(string)
	if field == "" {
		return nil, errors.New("set_field requires a field")
	}

	if run.Entity == nil {
		return &SubResult{
			Status: StatusDeferred,
			Output: map[string]any{"field": field, "value": config["value"]},
		}, nil
	}

	if err := run.Entity.SetField(ctx, field, config["value"]); err != nil {
		return nil, fmt.Errorf("failed to set field %q: %w", field, err)
	}

	return nil, nil
}

// executeSendEmail hands the message off to the notification dispatcher.
// Delivery failures are logged, not fatal.
func (e *Executor) executeSendEmail(ctx context.Context, config map[string]any, run *Run) (*SubResult, error) {
	recipients := stringList(config["to"])
	if len(recipients) == 0 {
		return nil, errors.New("send_email requires at least one recipient")
	}

	subject, _ := config["subject"].(string)
	body, _ := config["body"].(string)

	message := &notify.Message{
		Kind:       "email",
		Recipients: recipients,
		Subject:    subject,
		Body:       body,
	}

	if err := e.dispatcher.Dispatch(ctx, message); err != nil {
		e.logger.WarnContext(ctx, "Email dispatch failed",
			"node", run.NodeID, "recipients", recipients, "error", err)

		return &SubResult{
			Status: StatusCompleted,
			Output: map[string]any{"delivered": false},
		}, nil
	}

	return &SubResult{
		Status: StatusCompleted,
		Output: map[string]any{"delivered": true},
	}, nil
}

// executeWebhook fires an HTTP call. A non-2xx response or network failure
// only fails the action when config sets failOnError.
func (e *Executor) executeWebhook(ctx context.Context, config map[string]any, run *Run) (*SubResult, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, errors.New("webhook requires a url")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodPost
	}

	failOnError, _ := config["failOnError"].(bool)

	var body []byte

	if payload, ok := config["payload"]; ok {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
		}

		body = encoded
	}

	request, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook request: %w", err)
	}

	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := e.client.Do(request)
	if err != nil {
		if failOnError {
			return nil, fmt.Errorf("webhook call failed: %w", err)
		}

		e.logger.WarnContext(ctx, "Webhook call failed", "url", url, "error", err)

		return &SubResult{
			Status: StatusCompleted,
			Output: map[string]any{"delivered": false, "error": err.Error()},
		}, nil
	}
	defer func() { _ = response.Body.Close() }()

	output := map[string]any{"status": response.StatusCode}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		if failOnError {
			return nil, fmt.Errorf("webhook returned status %d", response.StatusCode)
		}

		e.logger.WarnContext(ctx, "Webhook returned non-success status",
			"url", url, "status", response.StatusCode)
	}

	return &SubResult{Status: StatusCompleted, Output: output}, nil
}

func (e *Executor) executeActivateWarrant(ctx context.Context, _ map[string]any, run *Run) (*SubResult, error) {
	return e.setEntityStatus(ctx, run, "active")
}

func (e *Executor) executeCancelWarrant(ctx context.Context, _ map[string]any, run *Run) (*SubResult, error) {
	return e.setEntityStatus(ctx, run, "cancelled")
}

func (e *Executor) setEntityStatus(ctx context.Context, run *Run, status string) (*SubResult, error) {
	if run.Entity == nil {
		return &SubResult{
			Status: StatusDeferred,
			Output: map[string]any{"status": status},
		}, nil
	}

	if err := run.Entity.SetStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to set entity status to %q: %w", status, err)
	}

	return nil, nil
}

// executeRequestApproval calls back into the approval gate subsystem.
func (e *Executor) executeRequestApproval(ctx context.Context, config map[string]any, run *Run) (*SubResult, error) {
	if e.approvals == nil {
		return nil, errNoApprovalSubsystem
	}

	if run.Instance == nil {
		return nil, errors.New("request_approval requires an instance")
	}

	if err := e.approvals.RequestApproval(ctx, run.Instance, run.NodeID, config); err != nil {
		return nil, fmt.Errorf("failed to request approval: %w", err)
	}

	return nil, nil
}

// setPath writes value into doc at a dot path, creating intermediate maps.
func setPath(doc map[string]any, path string, value any) {
	parts := strings.Split(path, ".")

	for _, part := range parts[:len(parts)-1] {
		next, ok := doc[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[part] = next
		}

		doc = next
	}

	doc[parts[len(parts)-1]] = value
}

func stringList(value any) []string {
	switch typed := value.(type) {
	case string:
		if typed == "" {
			return nil
		}

		return []string{typed}
	case []string:
		return typed
	case []any:
		var items []string

		for _, item := range typed {
			items = append(items, template.Stringify(item))
		}

		return items
	default:
		return nil
	}
}

// Package notify delivers workflow notifications such as approval requests
// and email actions to the outside world.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Message is a single notification to deliver.
type Message struct {
	// Kind describes the notification, e.g. "email" or "approval_request".
	Kind string `json:"kind"`
	// Recipients are user IDs or addresses depending on the kind.
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject,omitempty"`
	Body       string   `json:"body,omitempty"`
	// Data carries kind-specific payload such as approval tokens.
	Data map[string]any `json:"data,omitempty"`
}

// Dispatcher delivers notification messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, message *Message) error
}

// LogDispatcher writes notifications to the application log. It is the
// default when no webhook endpoint is configured.
type LogDispatcher struct {
	logger *slog.Logger
}

// NewLogDispatcher returns a dispatcher that only logs messages.
func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, message *Message) error {
	d.logger.InfoContext(ctx, "Notification dispatched",
		"kind", message.Kind,
		"recipients", message.Recipients,
		"subject", message.Subject)

	return nil
}

// WebhookDispatcher POSTs notifications as JSON to a configured endpoint.
type WebhookDispatcher struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookDispatcher returns a dispatcher that delivers to the endpoint.
func NewWebhookDispatcher(logger *slog.Logger, endpoint string) *WebhookDispatcher {
	return &WebhookDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

func (d *WebhookDispatcher) Dispatch(ctx context.Context, message *Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := d.client.Do(request)
	if err != nil {
		return fmt.Errorf("failed to deliver notification: %w", err)
	}
	defer func() { _ = response.Body.Close() }()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned status %d", response.StatusCode)
	}

	d.logger.DebugContext(ctx, "Notification delivered", "kind", message.Kind, "endpoint", d.endpoint)

	return nil
}

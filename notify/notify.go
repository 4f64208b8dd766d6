// Package notify delivers structured workflow events to external
// channels. Delivery is strictly best-effort: failures are logged and
// never escalate into the core workflow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/veerhq/veer/telemetry"
)

// EventKind identifies what completed.
type EventKind string

const (
	EventDriftDetected       EventKind = "drift_detected"
	EventDetectionClean      EventKind = "detection_clean"
	EventRemediationComplete EventKind = "remediation_complete"
	EventRollbackComplete    EventKind = "rollback_complete"
	EventTest                EventKind = "test"
)

// Event is the payload handed to a dispatcher: one per completed
// detection cycle, one per completed remediation or rollback run.
type Event struct {
	Kind        EventKind `json:"kind"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
	Payload     any       `json:"payload,omitempty"`
}

// Dispatcher delivers events to one channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, event Event) error
}

// NopDispatcher drops every event. Used when no channel is configured.
type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) error { return nil }

// WebhookDispatcher posts events as JSON to a webhook URL.
type WebhookDispatcher struct {
	url    string
	client *http.Client
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(url string) *WebhookDispatcher {
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Dispatch posts the event. Non-2xx responses are delivery failures.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// Notifier fans events out to all configured dispatchers, logging
// failures without propagating them.
type Notifier struct {
	environment string
	dispatchers []Dispatcher
	logger      *telemetry.Logger
}

// NewNotifier creates a notifier. With no dispatchers it is a no-op.
func NewNotifier(environment string, logger *telemetry.Logger, dispatchers ...Dispatcher) *Notifier {
	return &Notifier{
		environment: environment,
		dispatchers: dispatchers,
		logger:      logger,
	}
}

// Notify delivers one event on every channel. Never returns an error.
func (n *Notifier) Notify(ctx context.Context, kind EventKind, payload any) {
	event := Event{
		Kind:        kind,
		Environment: n.environment,
		Timestamp:   time.Now().UTC(),
		Payload:     payload,
	}

	for _, d := range n.dispatchers {
		if err := d.Dispatch(ctx, event); err != nil && n.logger != nil {
			n.logger.WithContext(ctx).Warn().
				Err(err).
				Str("event", string(kind)).
				Msg("notification delivery failed")
		}
	}
}

// Test sends a synthetic event so operators can verify channel wiring.
func (n *Notifier) Test(ctx context.Context) {
	n.Notify(ctx, EventTest, map[string]string{"message": "veer notification test"})
}

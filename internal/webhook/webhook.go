// Package webhook posts task dispatch outcomes to a per-task URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mailcron/internal/task"
)

// Notifier sends outcome notifications over HTTP.
type Notifier struct {
	client *http.Client
}

// New creates a Notifier with a bounded request timeout.
func New() *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Payload is the JSON body delivered to the task's webhook URL after each
// dispatch attempt.
type Payload struct {
	TaskID     string     `json:"task_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
}

// NotifyResult reports the outcome recorded on the task. sendErr is the
// dispatch failure, if any. Tasks without a webhook URL are a no-op.
func (n *Notifier) NotifyResult(ctx context.Context, t *task.Task, sendErr error) error {
	if t.WebhookURL == "" {
		return nil
	}

	payload := Payload{
		TaskID:     t.ID,
		Name:       t.Name,
		Status:     string(t.Status),
		LastSentAt: t.LastSentAt,
		NextRunAt:  t.NextRunAt,
	}
	if sendErr != nil {
		payload.Error = sendErr.Error()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.WebhookURL, bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

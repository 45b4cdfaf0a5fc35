package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// WebhookDispatcher posts each batch as a JSON document to an HTTP endpoint,
// typically a mail relay service.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

type webhookPayload struct {
	Notifications []webhookNotification `json:"notifications"`
}

type webhookNotification struct {
	Notification
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewWebhookDispatcher constructs a webhook dispatcher.
func NewWebhookDispatcher(url string, timeout time.Duration, logger zerolog.Logger) *WebhookDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookDispatcher{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("component", "notify_webhook").Logger(),
	}
}

// Dispatch sends the whole batch in one request.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, batch []Notification) error {
	if len(batch) == 0 {
		return nil
	}

	payload := webhookPayload{Notifications: make([]webhookNotification, 0, len(batch))}
	for _, n := range batch {
		body, err := Body(n)
		if err != nil {
			return err
		}
		payload.Notifications = append(payload.Notifications, webhookNotification{
			Notification: n,
			Subject:      Subject(n),
			Body:         body,
		})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}

	d.logger.Info().Int("notifications", len(batch)).Msg("notification batch delivered")
	return nil
}

var _ Dispatcher = (*WebhookDispatcher)(nil)

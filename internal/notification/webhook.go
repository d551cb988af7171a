package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"signal-enginev1/internal/model"
)

// webhookPayload is the body posted for every signal.
type webhookPayload struct {
	Event   string        `json:"event"`
	Key     string        `json:"key"`
	Side    model.Side    `json:"side"`
	Title   string        `json:"title"`
	Message string        `json:"message"`
	Signal  *model.Signal `json:"signal,omitempty"`
	SentAt  string        `json:"sent_at"`
}

// WebhookNotifier POSTs alerts as JSON to a generic HTTP endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    zerolog.Logger
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string, log zerolog.Logger) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: newHTTPClient(), log: log}
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	err := postJSON(ctx, w.client, "webhook", w.url, webhookPayload{
		Event:   "signal",
		Key:     alert.Key,
		Side:    alert.Side,
		Title:   alert.Title,
		Message: alert.Message,
		Signal:  alert.Signal,
		SentAt:  time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	w.log.Debug().Str("key", alert.Key).Str("side", string(alert.Side)).Msg("webhook alert sent")
	return nil
}

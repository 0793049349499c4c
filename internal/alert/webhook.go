package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/gapeva/uplas/pkg/webhook"
)

// Sender is satisfied by *webhook.Sender.
type Sender interface {
	Send(ctx context.Context, target string, data any) error
}

// WebhookAlerter posts alerts as JSON to an operator endpoint (chat
// integration, incident tool).
type WebhookAlerter struct {
	sender Sender
	url    string
}

// NewWebhookAlerter signs requests with secret when it is not empty.
func NewWebhookAlerter(url, secret string) (*WebhookAlerter, error) {
	var opts []webhook.SenderOption
	if secret != "" {
		opts = append(opts, webhook.WithSigningSecret(secret))
	}
	return NewWebhookAlerterWithSender(webhook.NewSender(append(opts, webhook.WithMaxRetries(2))...), url)
}

func NewWebhookAlerterWithSender(s Sender, url string) (*WebhookAlerter, error) {
	if s == nil || url == "" {
		return nil, fmt.Errorf("%w: ALERT_WEBHOOK_URL is required", ErrInvalidConfig)
	}
	return &WebhookAlerter{sender: s, url: url}, nil
}

type webhookPayload struct {
	Text string `json:"text"`
	Alert
}

func (w *WebhookAlerter) Notify(ctx context.Context, a Alert) error {
	if err := w.sender.Send(ctx, w.url, webhookPayload{Text: a.Subject(), Alert: a}); err != nil {
		return errors.Join(ErrFailedToDeliver, err)
	}
	return nil
}

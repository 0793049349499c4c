package alert

import "log/slog"

// Config selects the alert channels. The log channel is always on; email
// and webhook channels are enabled by their settings.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	EmailFrom            string `env:"ALERT_EMAIL_FROM"`
	EmailTo              string `env:"ALERT_EMAIL_TO"`
	WebhookURL           string `env:"ALERT_WEBHOOK_URL"`
	WebhookSecret        string `env:"ALERT_WEBHOOK_SECRET"`
}

// New assembles the configured channels into one Alerter.
func New(cfg Config, log *slog.Logger) (Alerter, error) {
	m := Multi{NewLogAlerter(log)}
	if cfg.PostmarkServerToken != "" {
		e, err := NewEmailAlerter(cfg)
		if err != nil {
			return nil, err
		}
		m = append(m, e)
	}
	if cfg.WebhookURL != "" {
		w, err := NewWebhookAlerter(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			return nil, err
		}
		m = append(m, w)
	}
	return m, nil
}

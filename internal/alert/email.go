package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

var (
	ErrInvalidConfig   = errors.New("invalid alert configuration")
	ErrFailedToDeliver = errors.New("failed to deliver alert")
)

// Mailer is the subset of *postmark.Client used by EmailAlerter.
type Mailer interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// EmailAlerter sends alerts through Postmark.
type EmailAlerter struct {
	mailer Mailer
	from   string
	to     string
}

// NewEmailAlerter builds a Postmark-backed alerter from cfg.
func NewEmailAlerter(cfg Config) (*EmailAlerter, error) {
	if cfg.PostmarkServerToken == "" {
		return nil, fmt.Errorf("%w: POSTMARK_SERVER_TOKEN is required", ErrInvalidConfig)
	}
	return NewEmailAlerterWithMailer(
		postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		cfg.EmailFrom, cfg.EmailTo,
	)
}

func NewEmailAlerterWithMailer(m Mailer, from, to string) (*EmailAlerter, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: mailer is required", ErrInvalidConfig)
	}
	if from == "" || to == "" {
		return nil, fmt.Errorf("%w: ALERT_EMAIL_FROM and ALERT_EMAIL_TO are required", ErrInvalidConfig)
	}
	return &EmailAlerter{mailer: m, from: from, to: to}, nil
}

func (e *EmailAlerter) Notify(ctx context.Context, a Alert) error {
	resp, err := e.mailer.SendEmail(ctx, postmark.Email{
		From:     e.from,
		To:       e.to,
		Subject:  a.Subject(),
		TextBody: a.Text(),
		Tag:      "payments-alert",
	})
	if err != nil {
		return errors.Join(ErrFailedToDeliver, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToDeliver, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

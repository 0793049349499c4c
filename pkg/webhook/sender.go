package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sender posts signed JSON payloads with retries. 4xx answers other than
// 408/425/429 are not retried.
type Sender struct {
	client     *http.Client
	secret     []byte
	maxRetries int
	backoff    Backoff
	now        func() time.Time
}

type SenderOption func(*Sender)

func WithHTTPClient(c *http.Client) SenderOption {
	return func(s *Sender) {
		if c != nil {
			s.client = c
		}
	}
}

// WithSigningSecret adds a SignatureHeader to every request.
func WithSigningSecret(secret string) SenderOption {
	return func(s *Sender) { s.secret = []byte(secret) }
}

func WithMaxRetries(n int) SenderOption {
	return func(s *Sender) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

func WithBackoff(b Backoff) SenderOption {
	return func(s *Sender) {
		if b != nil {
			s.backoff = b
		}
	}
}

func NewSender(opts ...SenderOption) *Sender {
	s := &Sender{
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		backoff:    ExponentialBackoff{Jitter: 0.1},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send marshals data to JSON and POSTs it to target.
func (s *Sender) Send(ctx context.Context, target string, data any) error {
	if err := validateURL(target); err != nil {
		return err
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff.NextInterval(attempt)):
			}
		}

		status, err := s.post(ctx, target, payload)
		if err == nil {
			return nil
		}
		if permanent(status) {
			return fmt.Errorf("%w: %w", ErrPermanentFailure, err)
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrWebhookDeliveryFailed, s.maxRetries+1, lastErr)
}

func (s *Sender) post(ctx context.Context, target string, payload []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "uplas-webhook/1.0")
	if len(s.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(s.secret, s.now(), payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.ReplaceAll(strings.TrimSpace(string(body)), "\n", " ")
	return resp.StatusCode, fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, msg)
}

func permanent(status int) bool {
	switch {
	case status < 400 || status >= 500:
		return false
	case status == http.StatusRequestTimeout, status == http.StatusTooEarly, status == http.StatusTooManyRequests:
		return false
	}
	return true
}

func validateURL(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, target)
	}
	return nil
}

// Package stripe starts hosted checkout sessions with Stripe.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	stripeapi "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"

	"github.com/gapeva/uplas/internal/payments"
)

type Config struct {
	APIKey  string        `env:"PAYMENT_PROVIDER_API_KEY,required"`
	Timeout time.Duration `env:"PAYMENT_PROVIDER_TIMEOUT" envDefault:"10s"`
	// BaseURL overrides the API endpoint, for stripe-mock and tests.
	BaseURL string `env:"PAYMENT_PROVIDER_BASE_URL"`
}

// Provider implements payments.CheckoutProvider. Network retries are
// disabled; the caller's idempotency key makes a user-driven retry safe.
type Provider struct {
	sessions session.Client
	timeout  time.Duration
}

var _ payments.CheckoutProvider = (*Provider)(nil)

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: PAYMENT_PROVIDER_API_KEY is required", payments.ErrInvalidArgument)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	backendCfg := &stripeapi.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripeapi.String(cfg.BaseURL)
	}

	return &Provider{
		sessions: session.Client{
			B:   stripeapi.GetBackendWithConfig(stripeapi.APIBackend, backendCfg),
			Key: cfg.APIKey,
		},
		timeout: cfg.Timeout,
	}, nil
}

func (p *Provider) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	userID := req.UserID.String()
	params := &stripeapi.CheckoutSessionParams{
		Mode: stripeapi.String(string(stripeapi.CheckoutSessionModeSubscription)),
		LineItems: []*stripeapi.CheckoutSessionLineItemParams{
			{Price: stripeapi.String(req.PriceID), Quantity: stripeapi.Int64(1)},
		},
		SuccessURL:        stripeapi.String(req.SuccessURL),
		CancelURL:         stripeapi.String(req.CancelURL),
		ClientReferenceID: stripeapi.String(userID),
		SubscriptionData: &stripeapi.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID, "price_id": req.PriceID},
		},
	}
	if req.CustomerID != "" {
		params.Customer = stripeapi.String(req.CustomerID)
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.AddMetadata("price_id", req.PriceID)
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s, err := p.sessions.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &payments.CheckoutSession{
		ID:        s.ID,
		URL:       s.URL,
		ExpiresAt: time.Unix(s.ExpiresAt, 0).UTC(),
	}, nil
}

// classify keeps the provider's message; every failure is reported to the
// client as an unavailable provider.
func classify(err error) error {
	var se *stripeapi.Error
	if errors.As(err, &se) {
		return fmt.Errorf("%w: stripe %s (status %d, code %s): %s",
			payments.ErrProviderUnavailable, se.Type, se.HTTPStatusCode, se.Code, se.Msg)
	}
	return errors.Join(payments.ErrProviderUnavailable, err)
}

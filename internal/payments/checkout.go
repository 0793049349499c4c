package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/validator"
)

// CheckoutProvider starts a hosted checkout with the payment provider.
// Implementations apply their own deadline and must not retry writes.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// CheckoutRequest is what a provider needs to open a hosted checkout page.
type CheckoutRequest struct {
	UserID         uuid.UUID
	PlanID         uuid.UUID
	PriceID        string
	CustomerID     string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession is the provider session the user is redirected to.
type CheckoutSession struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// CheckoutInput is a user's request to buy a plan. Empty redirect URLs fall
// back to the configured defaults.
type CheckoutInput struct {
	UserID     uuid.UUID
	PlanID     uuid.UUID
	SuccessURL string
	CancelURL  string
	// IdempotencyKey lets callers retry safely; one is generated when empty.
	IdempotencyKey string
}

// Checkout begins hosted checkout sessions. It never holds a database
// transaction while talking to the provider.
type Checkout struct {
	catalog    *Catalog
	subs       *Subscriptions
	provider   CheckoutProvider
	successURL string
	cancelURL  string
	opts       options
}

// NewCheckout returns a Checkout that redirects to successURL and cancelURL
// unless a request names its own.
func NewCheckout(catalog *Catalog, subs *Subscriptions, provider CheckoutProvider, successURL, cancelURL string, opts ...Option) *Checkout {
	return &Checkout{
		catalog:    catalog,
		subs:       subs,
		provider:   provider,
		successURL: successURL,
		cancelURL:  cancelURL,
		opts:       newOptions(opts),
	}
}

// Begin opens a provider checkout session for an active plan. Users with a
// live subscription get ErrConflict; provider failures are wrapped in
// ErrProviderUnavailable.
func (c *Checkout) Begin(ctx context.Context, in CheckoutInput) (*CheckoutSession, error) {
	if err := validator.Apply(
		validator.RequiredUUID("user_id", in.UserID),
		validator.RequiredUUID("plan_id", in.PlanID),
		validator.AbsoluteURL("success_url", in.SuccessURL),
		validator.AbsoluteURL("cancel_url", in.CancelURL),
		validator.MaxLen("idempotency_key", in.IdempotencyKey, 255),
	); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}

	plan, err := c.catalog.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return nil, fmt.Errorf("%w: plan %s is not offered for new subscriptions", ErrInvalidArgument, plan.ID)
	}

	var customerID string
	current, err := c.subs.GetForUser(ctx, in.UserID)
	switch {
	case err == nil:
		if current.live(c.opts.now()) {
			return nil, fmt.Errorf("%w: user already has an active subscription", ErrConflict)
		}
		customerID = current.ExternalCustomerID
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	req := CheckoutRequest{
		UserID:         in.UserID,
		PlanID:         plan.ID,
		PriceID:        plan.ExternalPriceID,
		CustomerID:     customerID,
		SuccessURL:     firstNonEmpty(in.SuccessURL, c.successURL),
		CancelURL:      firstNonEmpty(in.CancelURL, c.cancelURL),
		IdempotencyKey: firstNonEmpty(in.IdempotencyKey, uuid.NewString()),
	}

	start := time.Now()
	session, err := c.provider.CreateCheckoutSession(ctx, req)
	if err != nil {
		c.opts.log.ErrorContext(ctx, "checkout session failed",
			logger.Component("checkout"), logger.UserID(in.UserID), logger.PriceID(plan.ExternalPriceID),
			logger.Duration(time.Since(start)), logger.Error(err))
		if errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
		return nil, errors.Join(ErrProviderUnavailable, err)
	}
	if session == nil || session.URL == "" {
		return nil, fmt.Errorf("%w: provider returned no redirect url", ErrProviderUnavailable)
	}

	c.opts.log.InfoContext(ctx, "checkout session created",
		logger.Component("checkout"), logger.UserID(in.UserID), logger.PriceID(plan.ExternalPriceID),
		slog.String("session_id", session.ID))
	return session, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

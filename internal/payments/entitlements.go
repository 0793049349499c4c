package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gapeva/uplas/pkg/logger"
)

// MaxEntitlementTTL bounds how stale a cached entitlement may be.
const MaxEntitlementTTL = 30 * time.Second

// EntitlementCache stores the premium flag per user.
type EntitlementCache interface {
	// Get reports (premium, found, err).
	Get(ctx context.Context, userID uuid.UUID) (bool, bool, error)
	Set(ctx context.Context, userID uuid.UUID, premium bool, ttl time.Duration) error
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Entitlements answers "is this user premium right now?" for the rest of the
// system. Cache failures fall through to the subscription store.
type Entitlements struct {
	subs  *Subscriptions
	cache EntitlementCache
	ttl   time.Duration
	opts  options
}

// NewEntitlements caps ttl at MaxEntitlementTTL. A nil cache disables caching.
func NewEntitlements(subs *Subscriptions, cache EntitlementCache, ttl time.Duration, opts ...Option) *Entitlements {
	if ttl <= 0 || ttl > MaxEntitlementTTL {
		ttl = MaxEntitlementTTL
	}
	return &Entitlements{subs: subs, cache: cache, ttl: ttl, opts: newOptions(opts)}
}

// IsUserPremium answers from the cache when it can and falls back to the
// store, refilling the cache. Cache errors are logged, never returned.
func (e *Entitlements) IsUserPremium(ctx context.Context, userID uuid.UUID) (bool, error) {
	if e.cache != nil {
		premium, ok, err := e.cache.Get(ctx, userID)
		if err != nil {
			e.opts.log.WarnContext(ctx, "entitlement cache read failed",
				logger.Component("entitlements"), logger.UserID(userID), logger.Error(err))
		} else if ok {
			return premium, nil
		}
	}

	now := e.opts.now()
	sub, err := e.subs.GetForUser(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	premium := sub.IsActive(now)

	if e.cache != nil {
		ttl := e.ttl
		// A cached "premium" must not outlive the access window.
		if premium {
			if end, ok := sub.AccessEndsAt(); ok {
				ttl = min(ttl, end.Sub(now))
			}
		}
		if ttl > 0 {
			if err := e.cache.Set(ctx, userID, premium, ttl); err != nil {
				e.opts.log.WarnContext(ctx, "entitlement cache write failed",
					logger.Component("entitlements"), logger.UserID(userID), logger.Error(err))
			}
		}
	}
	return premium, nil
}

// Invalidate drops the cached flag for userID.
func (e *Entitlements) Invalidate(ctx context.Context, userID uuid.UUID) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Delete(ctx, userID); err != nil {
		e.opts.log.ErrorContext(ctx, "entitlement cache invalidation failed",
			logger.Component("entitlements"), logger.UserID(userID), logger.Error(err))
	}
}

// OnSubscriptionChanged is an EventHandler for Dispatcher.Subscribe.
func (e *Entitlements) OnSubscriptionChanged(ctx context.Context, ev SubscriptionChanged) {
	e.Invalidate(ctx, ev.UserID)
}

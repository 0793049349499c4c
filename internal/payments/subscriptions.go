package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gapeva/uplas/pkg/logger"
)

// Subscriptions owns every mutation of Subscription rows.
type Subscriptions struct {
	repo Repository
	opts options
}

// NewSubscriptions returns the subscription store over repo.
func NewSubscriptions(repo Repository, opts ...Option) *Subscriptions {
	return &Subscriptions{repo: repo, opts: newOptions(opts)}
}

// GetForUser returns the user's subscription or ErrNotFound.
func (s *Subscriptions) GetForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := s.repo.GetSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get subscription for user %s: %w", userID, err)
	}
	return sub, nil
}

// IsUserPremium reads the store directly. Entitlements caches it.
func (s *Subscriptions) IsUserPremium(ctx context.Context, userID uuid.UUID) (bool, error) {
	sub, err := s.GetForUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.IsActive(s.opts.now()), nil
}

// ApplyProviderState upserts the subscription named by st.ExternalSubID
// inside tx. Unknown prices fail with ErrUnknownPlan before anything is
// written. A user holding a different live subscription fails with
// ErrConflictingSubscription; otherwise the user's row is re-pointed.
func (s *Subscriptions) ApplyProviderState(ctx context.Context, tx Repository, out *Outbox, st DesiredState) (*Subscription, error) {
	if err := st.validate(); err != nil {
		return nil, err
	}

	var planID uuid.UUID
	if st.PriceID != "" {
		plan, err := tx.GetPlanByPriceID(ctx, st.PriceID)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: price %q", ErrUnknownPlan, st.PriceID)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve price %q: %w", st.PriceID, err)
		}
		planID = plan.ID
	}

	now := s.opts.clock()

	current, err := tx.LockSubscriptionByExternalID(ctx, st.ExternalSubID)
	switch {
	case err == nil:
		return s.advance(ctx, tx, out, current, st, planID, now)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lock subscription %q: %w", st.ExternalSubID, err)
	case st.MustExist:
		return nil, fmt.Errorf("subscription %q: %w", st.ExternalSubID, ErrNotFound)
	}

	if st.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: subscription %q carries no user reference", ErrInvalidArgument, st.ExternalSubID)
	}
	if planID == uuid.Nil {
		return nil, fmt.Errorf("%w: subscription %q carries no price", ErrUnknownPlan, st.ExternalSubID)
	}

	owned, err := tx.LockSubscriptionByUser(ctx, st.UserID)
	switch {
	case errors.Is(err, ErrNotFound):
		return s.create(ctx, tx, out, st, planID, now)
	case err != nil:
		return nil, fmt.Errorf("lock subscription of user %s: %w", st.UserID, err)
	}

	if owned.live(now) {
		s.opts.log.WarnContext(ctx, "conflicting subscription for user",
			logger.Component("subscriptions"),
			logger.UserID(st.UserID),
			slog.String("existing_external_sub_id", owned.ExternalSubID),
			logger.SubscriptionID(st.ExternalSubID),
		)
		return nil, fmt.Errorf("%w: user %s holds %q, got %q",
			ErrConflictingSubscription, st.UserID, owned.ExternalSubID, st.ExternalSubID)
	}
	return s.repoint(ctx, tx, out, owned, st, planID, now)
}

// EraseUser removes the user's subscription and ledger rows in one
// transaction. The returned outbox carries a change event when a
// subscription existed, so projections drop the user.
func (s *Subscriptions) EraseUser(ctx context.Context, userID uuid.UUID) (*Outbox, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidArgument)
	}
	out := &Outbox{}
	err := s.repo.InTx(ctx, func(tx Repository) error {
		sub, err := tx.LockSubscriptionByUser(ctx, userID)
		switch {
		case err == nil:
			out.add(SubscriptionChanged{
				SubscriptionID: sub.ID,
				UserID:         userID,
				ExternalSubID:  sub.ExternalSubID,
				From:           sub.Status,
				To:             StatusCancelled,
				OccurredAt:     s.opts.clock(),
			})
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("lock subscription of user %s: %w", userID, err)
		}
		return tx.DeleteUserData(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	s.opts.log.InfoContext(ctx, "user payment data erased",
		logger.Component("subscriptions"), logger.UserID(userID))
	return out, nil
}

// MarkCancelled moves an existing subscription to cancelled. Periods are kept
// so access continues until the end of the paid period.
func (s *Subscriptions) MarkCancelled(ctx context.Context, tx Repository, out *Outbox, st DesiredState) (*Subscription, error) {
	st.Status = StatusCancelled
	st.MustExist = true
	return s.ApplyProviderState(ctx, tx, out, st)
}

// MarkPastDue records a failed renewal payment. Past due is derived here,
// not reported by the provider, so a cancelled or expired subscription keeps
// its terminal status and is returned unchanged.
func (s *Subscriptions) MarkPastDue(ctx context.Context, tx Repository, out *Outbox, externalSubID string, observedAt time.Time) (*Subscription, error) {
	current, err := tx.LockSubscriptionByExternalID(ctx, externalSubID)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %q: %w", externalSubID, err)
	}
	if current.Status.IsTerminal() {
		s.opts.log.InfoContext(ctx, "payment failure on ended subscription",
			logger.Component("subscriptions"), logger.SubscriptionID(externalSubID), logger.Status(current.Status))
		return current, nil
	}
	return s.advance(ctx, tx, out, current, DesiredState{
		ExternalSubID: externalSubID,
		Status:        StatusPastDue,
		ObservedAt:    observedAt,
		MustExist:     true,
	}, uuid.Nil, s.opts.clock())
}

// RecordRenewal advances the billing period after a successful payment and
// returns a past-due, unpaid or incomplete subscription to active.
func (s *Subscriptions) RecordRenewal(ctx context.Context, tx Repository, out *Outbox, externalSubID string, periodStart, periodEnd *time.Time, observedAt time.Time) (*Subscription, error) {
	st := DesiredState{
		ExternalSubID:      externalSubID,
		CurrentPeriodStart: periodStart,
		CurrentPeriodEnd:   periodEnd,
		ObservedAt:         observedAt,
		MustExist:          true,
	}
	current, err := tx.LockSubscriptionByExternalID(ctx, externalSubID)
	if err != nil {
		return nil, fmt.Errorf("lock subscription %q: %w", externalSubID, err)
	}
	switch current.Status {
	case StatusPastDue, StatusUnpaid, StatusIncomplete:
		st.Status = StatusActive
	}
	return s.advance(ctx, tx, out, current, st, uuid.Nil, s.opts.clock())
}

func (s *Subscriptions) create(ctx context.Context, tx Repository, out *Outbox, st DesiredState, planID uuid.UUID, now time.Time) (*Subscription, error) {
	sub := &Subscription{
		ID:            uuid.New(),
		UserID:        st.UserID,
		ExternalSubID: st.ExternalSubID,
		Status:        StatusIncomplete,
		CreatedAt:     now,
	}
	sub.merge(st, planID, now)
	sub.StatusChangedAt = now
	sub.UpdatedAt = now
	if err := sub.checkInvariants(); err != nil {
		return nil, err
	}
	if err := tx.CreateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("create subscription %q: %w", st.ExternalSubID, err)
	}

	s.opts.log.InfoContext(ctx, "subscription created",
		logger.Component("subscriptions"), logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.ExternalSubID), logger.Status(sub.Status))
	out.add(SubscriptionChanged{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ExternalSubID:  sub.ExternalSubID,
		To:             sub.Status,
		OccurredAt:     now,
	})
	return sub, nil
}

// repoint reuses the user's row for a new provider subscription once the
// previous one no longer grants access.
func (s *Subscriptions) repoint(ctx context.Context, tx Repository, out *Outbox, sub *Subscription, st DesiredState, planID uuid.UUID, now time.Time) (*Subscription, error) {
	prev := *sub
	*sub = Subscription{
		ID:            prev.ID,
		UserID:        prev.UserID,
		ExternalSubID: st.ExternalSubID,
		Status:        StatusIncomplete,
		CreatedAt:     prev.CreatedAt,
	}
	sub.merge(st, planID, now)
	sub.StatusChangedAt = now
	sub.UpdatedAt = now
	if err := sub.checkInvariants(); err != nil {
		return nil, err
	}
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("repoint subscription %q: %w", st.ExternalSubID, err)
	}

	s.opts.log.InfoContext(ctx, "subscription replaced",
		logger.Component("subscriptions"), logger.UserID(sub.UserID),
		slog.String("previous_external_sub_id", prev.ExternalSubID),
		logger.SubscriptionID(sub.ExternalSubID), logger.Status(sub.Status))
	out.add(SubscriptionChanged{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ExternalSubID:  sub.ExternalSubID,
		From:           prev.Status,
		To:             sub.Status,
		OccurredAt:     now,
	})
	return sub, nil
}

func (s *Subscriptions) advance(ctx context.Context, tx Repository, out *Outbox, sub *Subscription, st DesiredState, planID uuid.UUID, now time.Time) (*Subscription, error) {
	if st.UserID != uuid.Nil && st.UserID != sub.UserID {
		return nil, fmt.Errorf("%w: subscription %q belongs to another user", ErrConflictingSubscription, sub.ExternalSubID)
	}

	from := sub.Status
	if !sub.merge(st, planID, now) {
		s.opts.log.DebugContext(ctx, "subscription unchanged",
			logger.Component("subscriptions"), logger.SubscriptionID(sub.ExternalSubID))
		return sub, nil
	}
	if err := sub.checkInvariants(); err != nil {
		return nil, err
	}
	if from != sub.Status {
		if err := subscriptionLifecycle.Check(from, sub.Status); err != nil {
			s.opts.log.WarnContext(ctx, "unexpected subscription transition applied",
				logger.Component("subscriptions"), logger.SubscriptionID(sub.ExternalSubID), logger.Error(err))
		}
	}
	if err := tx.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("update subscription %q: %w", sub.ExternalSubID, err)
	}

	s.opts.log.InfoContext(ctx, "subscription updated",
		logger.Component("subscriptions"), logger.UserID(sub.UserID),
		logger.SubscriptionID(sub.ExternalSubID),
		slog.String("from", string(from)), slog.String("to", string(sub.Status)))
	out.add(SubscriptionChanged{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		ExternalSubID:  sub.ExternalSubID,
		From:           from,
		To:             sub.Status,
		OccurredAt:     now,
	})
	return sub, nil
}

package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gapeva/uplas/internal/payments"
)

const subscriptionColumns = `id, user_id, plan_id, external_sub_id, external_customer_id, status,
	current_period_start, current_period_end, trial_start, trial_end, cancel_at_period_end,
	status_changed_at, provider_updated_at, created_at, updated_at`

func (r *Repository) GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*payments.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID))
	if err != nil {
		return nil, mapError(err, "get subscription of user %s", userID)
	}
	return s, nil
}

func (r *Repository) LockSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*payments.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, mapError(err, "lock subscription of user %s", userID)
	}
	return s, nil
}

func (r *Repository) LockSubscriptionByExternalID(ctx context.Context, externalSubID string) (*payments.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE external_sub_id = $1 FOR UPDATE`, externalSubID))
	if err != nil {
		return nil, mapError(err, "lock subscription %q", externalSubID)
	}
	return s, nil
}

func (r *Repository) CreateSubscription(ctx context.Context, s *payments.Subscription) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, plan_id, external_sub_id, external_customer_id, status,
			current_period_start, current_period_end, trial_start, trial_end, cancel_at_period_end,
			status_changed_at, provider_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		s.ID, s.UserID, s.PlanID, s.ExternalSubID, s.ExternalCustomerID, string(s.Status),
		utcPtr(s.CurrentPeriodStart), utcPtr(s.CurrentPeriodEnd), utcPtr(s.TrialStart), utcPtr(s.TrialEnd),
		s.CancelAtPeriodEnd, s.StatusChangedAt, nullTime(s.ProviderUpdatedAt), s.CreatedAt, s.UpdatedAt)
	return mapError(err, "insert subscription %q", s.ExternalSubID)
}

func (r *Repository) UpdateSubscription(ctx context.Context, s *payments.Subscription) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE subscriptions SET plan_id = $2, external_sub_id = $3, external_customer_id = $4, status = $5,
			current_period_start = $6, current_period_end = $7, trial_start = $8, trial_end = $9,
			cancel_at_period_end = $10, status_changed_at = $11, provider_updated_at = $12, updated_at = $13
		WHERE id = $1`,
		s.ID, s.PlanID, s.ExternalSubID, s.ExternalCustomerID, string(s.Status),
		utcPtr(s.CurrentPeriodStart), utcPtr(s.CurrentPeriodEnd), utcPtr(s.TrialStart), utcPtr(s.TrialEnd),
		s.CancelAtPeriodEnd, s.StatusChangedAt, nullTime(s.ProviderUpdatedAt), s.UpdatedAt)
	if err != nil {
		return mapError(err, "update subscription %q", s.ExternalSubID)
	}
	return requireRow(tag, "update subscription %s", s.ID)
}

func scanSubscription(row pgx.Row) (*payments.Subscription, error) {
	var (
		s               payments.Subscription
		status          string
		providerUpdated *time.Time
	)
	err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &s.ExternalSubID, &s.ExternalCustomerID, &status,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.TrialStart, &s.TrialEnd, &s.CancelAtPeriodEnd,
		&s.StatusChangedAt, &providerUpdated, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.Status = payments.SubscriptionStatus(status)
	if providerUpdated != nil {
		s.ProviderUpdatedAt = providerUpdated.UTC()
	}
	s.CurrentPeriodStart = utcPtr(s.CurrentPeriodStart)
	s.CurrentPeriodEnd = utcPtr(s.CurrentPeriodEnd)
	s.TrialStart = utcPtr(s.TrialStart)
	s.TrialEnd = utcPtr(s.TrialEnd)
	s.StatusChangedAt = s.StatusChangedAt.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

package payments_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/payments"
)

func TestSubscriptions_ApplyProviderState(t *testing.T) {
	t.Parallel()

	t.Run("creates subscription and emits event", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()

		sub, out, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)
		assert.Equal(t, user, sub.UserID)
		assert.Equal(t, f.plan.ID, sub.PlanID)
		assert.Equal(t, payments.StatusActive, sub.Status)
		assert.Equal(t, "cus_1", sub.ExternalCustomerID)
		assert.Equal(t, t0, sub.ProviderUpdatedAt)

		events := out.Events()
		require.Len(t, events, 1)
		assert.Equal(t, user, events[0].UserID)
		assert.Equal(t, payments.StatusActive, events[0].To)
		assert.True(t, events[0].StatusChanged())

		premium, err := f.subs.IsUserPremium(context.Background(), user)
		require.NoError(t, err)
		assert.True(t, premium)
	})

	t.Run("unknown price writes nothing", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()
		st := activeState(user, "sub_1")
		st.PriceID = "price_unknown"

		_, out, err := f.apply(t, st)
		require.ErrorIs(t, err, payments.ErrUnknownPlan)
		assert.Empty(t, out.Events())

		_, err = f.subs.GetForUser(context.Background(), user)
		assert.ErrorIs(t, err, payments.ErrNotFound)
	})

	t.Run("missing price on create", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st := activeState(uuid.New(), "sub_1")
		st.PriceID = ""

		_, _, err := f.apply(t, st)
		assert.ErrorIs(t, err, payments.ErrUnknownPlan)
	})

	t.Run("missing user on create", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, _, err := f.apply(t, activeState(uuid.Nil, "sub_1"))
		assert.ErrorIs(t, err, payments.ErrInvalidArgument)
	})

	t.Run("missing external id", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, _, err := f.apply(t, activeState(uuid.New(), ""))
		assert.ErrorIs(t, err, payments.ErrInvalidArgument)
	})

	t.Run("period start after end is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st := activeState(uuid.New(), "sub_1")
		st.CurrentPeriodStart = at(40 * day)

		_, _, err := f.apply(t, st)
		assert.ErrorIs(t, err, payments.ErrInvalidArgument)
	})

	t.Run("second live subscription conflicts", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()

		_, _, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)

		st := activeState(user, "sub_2")
		st.PriceID = "price_y"
		_, out, err := f.apply(t, st)
		require.ErrorIs(t, err, payments.ErrConflictingSubscription)
		assert.Empty(t, out.Events())

		sub, err := f.subs.GetForUser(context.Background(), user)
		require.NoError(t, err)
		assert.Equal(t, "sub_1", sub.ExternalSubID)
		assert.Equal(t, f.plan.ID, sub.PlanID)
	})

	t.Run("expired subscription is replaced in place", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()

		first, _, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)

		f.clock.Advance(45 * day)
		st := activeState(user, "sub_2")
		st.PriceID = "price_y"
		st.CurrentPeriodStart = at(45 * day)
		st.CurrentPeriodEnd = at(410 * day)
		st.ObservedAt = t0.Add(45 * day)

		sub, out, err := f.apply(t, st)
		require.NoError(t, err)
		assert.Equal(t, first.ID, sub.ID)
		assert.Equal(t, first.CreatedAt, sub.CreatedAt)
		assert.Equal(t, "sub_2", sub.ExternalSubID)
		assert.Equal(t, f.other.ID, sub.PlanID)
		require.Len(t, out.Events(), 1)
		assert.Equal(t, payments.StatusActive, out.Events()[0].From)
		assert.Equal(t, payments.StatusActive, out.Events()[0].To)
	})

	t.Run("cancelled subscription can be replaced before period end", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()

		_, _, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)
		cancel := activeState(user, "sub_1")
		cancel.Status = payments.StatusCancelled
		cancel.ObservedAt = t0.Add(time.Hour)
		_, _, err = f.apply(t, cancel)
		require.NoError(t, err)

		next := activeState(user, "sub_2")
		next.ObservedAt = t0.Add(2 * time.Hour)
		sub, _, err := f.apply(t, next)
		require.NoError(t, err)
		assert.Equal(t, "sub_2", sub.ExternalSubID)
		assert.Equal(t, payments.StatusActive, sub.Status)
	})

	t.Run("external id owned by another user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)

		_, _, err := f.apply(t, activeState(uuid.New(), "sub_1"))
		require.NoError(t, err)

		st := activeState(uuid.New(), "sub_1")
		st.ObservedAt = t0.Add(time.Minute)
		_, _, err = f.apply(t, st)
		assert.ErrorIs(t, err, payments.ErrConflictingSubscription)
	})

	t.Run("replaying the same state is a no-op", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		user := uuid.New()

		first, _, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)

		f.clock.Advance(time.Minute)
		again, out, err := f.apply(t, activeState(user, "sub_1"))
		require.NoError(t, err)
		assert.Empty(t, out.Events())
		assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
	})

	t.Run("must exist", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t)
		st := activeState(uuid.New(), "sub_missing")
		st.MustExist = true

		_, _, err := f.apply(t, st)
		assert.ErrorIs(t, err, payments.ErrNotFound)
	})
}

func TestSubscriptions_TrialLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()

	trial := payments.DesiredState{
		ExternalSubID: "sub_t",
		UserID:        user,
		PriceID:       "price_m",
		Status:        payments.StatusTrialing,
		TrialStart:    at(0),
		TrialEnd:      at(7 * day),
		ObservedAt:    t0,
	}
	sub, _, err := f.apply(t, trial)
	require.NoError(t, err)
	assert.True(t, sub.IsTrialing(f.clock.Now()))

	premium, err := f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.True(t, premium)

	// The trial ends without a provider update: access stops.
	f.clock.Advance(8 * day)
	premium, err = f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.False(t, premium)

	// Conversion arrives with the first paid period.
	converted := trial
	converted.Status = payments.StatusActive
	converted.CurrentPeriodStart = at(7 * day)
	converted.CurrentPeriodEnd = at(37 * day)
	converted.ObservedAt = t0.Add(7 * day)
	sub, _, err = f.apply(t, converted)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusActive, sub.Status)
	assert.False(t, sub.IsTrialing(f.clock.Now()))

	premium, err = f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.True(t, premium)
}

func TestSubscriptions_PastDueAndRenewal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()

	_, _, err := f.apply(t, activeState(user, "sub_1"))
	require.NoError(t, err)

	var sub *payments.Subscription
	out := &payments.Outbox{}
	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		var err error
		sub, err = f.subs.MarkPastDue(ctx, tx, out, "sub_1", t0.Add(29*day))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusPastDue, sub.Status)
	assert.Equal(t, payments.StatusActive, out.Events()[0].From)

	// Still inside the paid period.
	premium, err := f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.True(t, premium)

	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		var err error
		sub, err = f.subs.RecordRenewal(ctx, tx, nil, "sub_1", at(29*day), at(59*day), t0.Add(30*day))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusActive, sub.Status)
	assert.Equal(t, t0.Add(59*day), *sub.CurrentPeriodEnd)
	assert.Equal(t, t0.Add(29*day), *sub.CurrentPeriodStart)

	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		_, err := f.subs.MarkPastDue(ctx, tx, nil, "sub_unknown", t0)
		return err
	})
	assert.ErrorIs(t, err, payments.ErrNotFound)
}

func TestSubscriptions_MarkCancelledKeepsPeriod(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()

	_, _, err := f.apply(t, activeState(user, "sub_1"))
	require.NoError(t, err)

	var sub *payments.Subscription
	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		var err error
		sub, err = f.subs.MarkCancelled(ctx, tx, nil, payments.DesiredState{
			ExternalSubID: "sub_1",
			ObservedAt:    t0.Add(day),
		})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCancelled, sub.Status)
	assert.Equal(t, t0.Add(29*day), *sub.CurrentPeriodEnd)

	premium, err := f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.True(t, premium, "access continues to the end of the paid period")

	f.clock.Advance(30 * day)
	premium, err = f.subs.IsUserPremium(ctx, user)
	require.NoError(t, err)
	assert.False(t, premium)
}

func TestSubscriptions_PaymentFailureAfterCancellation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := uuid.New()
	ctx := context.Background()

	_, _, err := f.apply(t, activeState(user, "sub_1"))
	require.NoError(t, err)
	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		_, err := f.subs.MarkCancelled(ctx, tx, nil, payments.DesiredState{
			ExternalSubID: "sub_1",
			ObservedAt:    t0.Add(time.Hour),
		})
		return err
	})
	require.NoError(t, err)

	var sub *payments.Subscription
	out := &payments.Outbox{}
	err = f.repo.InTx(ctx, func(tx payments.Repository) error {
		var err error
		sub, err = f.subs.MarkPastDue(ctx, tx, out, "sub_1", t0.Add(2*time.Hour))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCancelled, sub.Status)
	assert.Empty(t, out.Events())

	// The slot is free, so a new provider subscription replaces the old one.
	next := activeState(user, "sub_2")
	next.ObservedAt = t0.Add(3 * time.Hour)
	sub, _, err = f.apply(t, next)
	require.NoError(t, err)
	assert.Equal(t, "sub_2", sub.ExternalSubID)
	assert.Equal(t, payments.StatusActive, sub.Status)
}

func TestSubscriptions_OutOfOrderEventsConverge(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	events := []payments.DesiredState{
		{
			ExternalSubID: "sub_1", UserID: user, PriceID: "price_m",
			Status:     payments.StatusIncomplete,
			ObservedAt: t0.Add(1 * time.Second),
		},
		{
			ExternalSubID: "sub_1", UserID: user, PriceID: "price_m", ExternalCustomerID: "cus_1",
			Status:             payments.StatusActive,
			CurrentPeriodStart: at(0), CurrentPeriodEnd: at(30 * day),
			CancelAtPeriodEnd: ptr(false),
			ObservedAt:        t0.Add(2 * time.Second),
		},
		{
			ExternalSubID: "sub_1", UserID: user, PriceID: "price_m", ExternalCustomerID: "cus_1",
			Status:             payments.StatusActive,
			CurrentPeriodStart: at(0), CurrentPeriodEnd: at(30 * day),
			CancelAtPeriodEnd: ptr(true),
			ObservedAt:        t0.Add(3 * time.Second),
		},
		{
			ExternalSubID: "sub_1", UserID: user, PriceID: "price_m", ExternalCustomerID: "cus_1",
			Status:             payments.StatusActive,
			CurrentPeriodStart: at(30 * day), CurrentPeriodEnd: at(60 * day),
			CancelAtPeriodEnd: ptr(true),
			ObservedAt:        t0.Add(4 * time.Second),
		},
	}

	for _, order := range permutations(len(events)) {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			for _, i := range order {
				_, _, err := f.apply(t, events[i])
				require.NoError(t, err)
			}

			sub, err := f.subs.GetForUser(context.Background(), user)
			require.NoError(t, err)
			assert.Equal(t, payments.StatusActive, sub.Status)
			assert.True(t, sub.CancelAtPeriodEnd)
			assert.Equal(t, "cus_1", sub.ExternalCustomerID)
			assert.Equal(t, t0.Add(30*day), *sub.CurrentPeriodStart)
			assert.Equal(t, t0.Add(60*day), *sub.CurrentPeriodEnd)
			assert.Equal(t, t0.Add(4*time.Second), sub.ProviderUpdatedAt)
		})
	}
}

func TestSubscriptions_StaleEventDoesNotRegress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	user := uuid.New()

	cancelled := activeState(user, "sub_1")
	cancelled.Status = payments.StatusCancelled
	cancelled.ObservedAt = t0.Add(time.Hour)
	_, _, err := f.apply(t, cancelled)
	require.NoError(t, err)

	_, out, err := f.apply(t, activeState(user, "sub_1"))
	require.NoError(t, err)
	assert.Empty(t, out.Events())

	sub, err := f.subs.GetForUser(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, payments.StatusCancelled, sub.Status)
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestSubscriptions_EraseUser(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	user := uuid.New()

	_, _, err := f.apply(t, activeState(user, "sub_1"))
	require.NoError(t, err)

	out, err := f.subs.EraseUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, out.Events(), 1)
	assert.Equal(t, user, out.Events()[0].UserID)
	assert.Equal(t, payments.StatusCancelled, out.Events()[0].To)

	_, err = f.subs.GetForUser(ctx, user)
	assert.ErrorIs(t, err, payments.ErrNotFound)

	out, err = f.subs.EraseUser(ctx, user)
	require.NoError(t, err)
	assert.Empty(t, out.Events(), "nothing left to erase")

	_, err = f.subs.EraseUser(ctx, uuid.Nil)
	assert.ErrorIs(t, err, payments.ErrInvalidArgument)
}

package payments_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/payments"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func ptr[T any](v T) *T { return &v }

func at(d time.Duration) *time.Time { return ptr(t0.Add(d)) }

const day = 24 * time.Hour

type fixture struct {
	repo   *payments.MemoryRepository
	clock  *fakeClock
	cat    *payments.Catalog
	subs   *payments.Subscriptions
	ledger *payments.Ledger
	plan   *payments.Plan
	other  *payments.Plan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{repo: payments.NewMemoryRepository(), clock: newClock()}
	cur := payments.MustCurrencies(payments.DefaultCurrencies...)
	opts := []payments.Option{payments.WithClock(f.clock.Now)}

	f.cat = payments.NewCatalog(f.repo, cur, opts...)
	f.subs = payments.NewSubscriptions(f.repo, opts...)
	f.ledger = payments.NewLedger(f.repo, cur, opts...)

	var err error
	f.plan, err = f.cat.UpsertPlan(context.Background(), payments.PlanInput{
		Name:            "Basic Monthly",
		ExternalPriceID: "price_m",
		Price:           decimal.RequireFromString("9.99"),
		Currency:        "USD",
		BillingCycle:    payments.BillingMonthly,
		IsActive:        true,
	})
	require.NoError(t, err)
	f.other, err = f.cat.UpsertPlan(context.Background(), payments.PlanInput{
		Name:            "Pro Annual",
		ExternalPriceID: "price_y",
		Price:           decimal.RequireFromString("99.00"),
		Currency:        "USD",
		BillingCycle:    payments.BillingAnnually,
		IsActive:        true,
	})
	require.NoError(t, err)
	return f
}

// apply runs ApplyProviderState in its own transaction.
func (f *fixture) apply(t *testing.T, st payments.DesiredState) (*payments.Subscription, *payments.Outbox, error) {
	t.Helper()
	out := &payments.Outbox{}
	var sub *payments.Subscription
	err := f.repo.InTx(context.Background(), func(tx payments.Repository) error {
		var err error
		sub, err = f.subs.ApplyProviderState(context.Background(), tx, out, st)
		return err
	})
	return sub, out, err
}

func (f *fixture) record(t *testing.T, in payments.RecordInput) (*payments.Transaction, error) {
	t.Helper()
	var tr *payments.Transaction
	err := f.repo.InTx(context.Background(), func(tx payments.Repository) error {
		var err error
		tr, err = f.ledger.Record(context.Background(), tx, in)
		return err
	})
	return tr, err
}

func activeState(user uuid.UUID, extID string) payments.DesiredState {
	return payments.DesiredState{
		ExternalSubID:      extID,
		ExternalCustomerID: "cus_1",
		UserID:             user,
		PriceID:            "price_m",
		Status:             payments.StatusActive,
		CurrentPeriodStart: at(-day),
		CurrentPeriodEnd:   at(29 * day),
		CancelAtPeriodEnd:  ptr(false),
		ObservedAt:         t0,
	}
}

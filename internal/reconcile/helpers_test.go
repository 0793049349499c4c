package reconcile_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/alert"
	"github.com/gapeva/uplas/internal/archive"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/webhook"
)

var (
	t0     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	secret = []byte("whsec_test")
)

const day = 24 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (r *alertRecorder) Notify(_ context.Context, a alert.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func (r *alertRecorder) All() []alert.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alert.Alert(nil), r.alerts...)
}

type archiveRecorder struct {
	mu      sync.Mutex
	entries []archive.Entry
}

func (r *archiveRecorder) Archive(_ context.Context, e archive.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *archiveRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type harness struct {
	t        *testing.T
	repo     *payments.MemoryRepository
	clock    *clock
	subs     *payments.Subscriptions
	ledger   *payments.Ledger
	plan     *payments.Plan
	deps     reconcile.Deps
	rec      *reconcile.Reconciler
	alerts   *alertRecorder
	archived *archiveRecorder
	metrics  *reconcile.Metrics

	mu      sync.Mutex
	changes []payments.SubscriptionChanged
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		t:        t,
		repo:     payments.NewMemoryRepository(),
		clock:    &clock{now: t0},
		alerts:   &alertRecorder{},
		archived: &archiveRecorder{},
		metrics:  reconcile.NewMetrics(prometheus.NewRegistry()),
	}
	cur := payments.MustCurrencies(payments.DefaultCurrencies...)
	opts := []payments.Option{payments.WithClock(h.clock.Now)}
	cat := payments.NewCatalog(h.repo, cur, opts...)
	h.subs = payments.NewSubscriptions(h.repo, opts...)
	h.ledger = payments.NewLedger(h.repo, cur, opts...)

	var err error
	h.plan, err = cat.UpsertPlan(context.Background(), payments.PlanInput{
		Name:            "Basic Monthly",
		ExternalPriceID: "price_m",
		Price:           decimal.RequireFromString("9.99"),
		Currency:        "USD",
		BillingCycle:    payments.BillingMonthly,
		IsActive:        true,
	})
	require.NoError(t, err)

	events := payments.NewDispatcher()
	events.Subscribe(func(_ context.Context, e payments.SubscriptionChanged) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.changes = append(h.changes, e)
	})
	h.deps = reconcile.Deps{
		Repo:          h.repo,
		Subscriptions: h.subs,
		Ledger:        h.ledger,
		Currencies:    cur,
		Events:        events,
	}
	h.rec = h.reconciler(h.deps)
	return h
}

func (h *harness) reconciler(deps reconcile.Deps) *reconcile.Reconciler {
	return reconcile.New(reconcile.Config{Secret: string(secret), HandlerTimeout: 5 * time.Second}, deps,
		reconcile.WithClock(h.clock.Now),
		reconcile.WithAlerter(h.alerts),
		reconcile.WithArchiver(h.archived),
		reconcile.WithMetrics(h.metrics),
	)
}

func (h *harness) changeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.changes)
}

func eventBody(t *testing.T, id, typ string, created time.Time, object map[string]any) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        typ,
		"created":     created.Unix(),
		"api_version": "2024-06-20",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)
	return body
}

func (h *harness) deliver(id, typ string, created time.Time, object map[string]any) reconcile.Result {
	h.t.Helper()
	body := eventBody(h.t, id, typ, created, object)
	return h.rec.Handle(context.Background(), body, webhook.Sign(secret, h.clock.Now(), body))
}

func subscriptionObject(extID string, user uuid.UUID, price, status string, start, end time.Time) map[string]any {
	return map[string]any{
		"id":                   extID,
		"object":               "subscription",
		"customer":             "cus_1",
		"status":               status,
		"current_period_start": start.Unix(),
		"current_period_end":   end.Unix(),
		"cancel_at_period_end": false,
		"items": map[string]any{"data": []any{
			map[string]any{"price": map[string]any{"id": price}},
		}},
		"metadata": map[string]any{"user_id": user.String()},
	}
}

func invoiceObject(extSubID, chargeID string, amount int64, start, end time.Time) map[string]any {
	return map[string]any{
		"id":           "in_" + chargeID,
		"object":       "invoice",
		"customer":     "cus_1",
		"subscription": extSubID,
		"charge":       chargeID,
		"amount_paid":  amount,
		"amount_due":   amount,
		"currency":     "usd",
		"lines": map[string]any{"data": []any{
			map[string]any{
				"description": "1 x Basic Monthly",
				"period":      map[string]any{"start": start.Unix(), "end": end.Unix()},
			},
		}},
	}
}

// activate stores an active monthly subscription for user.
func (h *harness) activate(user uuid.UUID, extID string) *payments.Subscription {
	h.t.Helper()
	res := h.deliver("evt_create_"+extID, reconcile.EventSubscriptionCreated, t0,
		subscriptionObject(extID, user, "price_m", "active", t0, t0.Add(30*day)))
	require.Equal(h.t, 200, res.Status, res.Err)
	sub, err := h.subs.GetForUser(context.Background(), user)
	require.NoError(h.t, err)
	return sub
}

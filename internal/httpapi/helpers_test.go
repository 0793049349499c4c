package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/httpapi"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/httpserver"
	"github.com/gapeva/uplas/pkg/webhook"
)

var (
	t0     = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	secret = []byte("whsec_test")
)

const (
	day       = 24 * time.Hour
	jwtSecret = "jwt-test-secret"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeProvider struct {
	mu   sync.Mutex
	reqs []payments.CheckoutRequest
	err  error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutRequest) (*payments.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &payments.CheckoutSession{
		ID:        "cs_test_1",
		URL:       "https://checkout.example.com/cs_test_1",
		ExpiresAt: t0.Add(time.Hour),
	}, nil
}

func (f *fakeProvider) Requests() []payments.CheckoutRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payments.CheckoutRequest(nil), f.reqs...)
}

type env struct {
	t        *testing.T
	clock    *clock
	repo     *payments.MemoryRepository
	catalog  *payments.Catalog
	plan     *payments.Plan
	provider *fakeProvider
	auth     *httpapi.Authenticator
	registry *prometheus.Registry
	ready    error
	handler  http.Handler
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		t:        t,
		clock:    &clock{now: t0},
		repo:     payments.NewMemoryRepository(),
		provider: &fakeProvider{},
		registry: prometheus.NewRegistry(),
	}
	cur := payments.MustCurrencies(payments.DefaultCurrencies...)
	opts := []payments.Option{payments.WithClock(e.clock.Now)}

	e.catalog = payments.NewCatalog(e.repo, cur, opts...)
	subs := payments.NewSubscriptions(e.repo, opts...)
	ledger := payments.NewLedger(e.repo, cur, opts...)
	ent := payments.NewEntitlements(subs, payments.NewMemoryEntitlementCache(100).WithClock(e.clock.Now), 30*time.Second, opts...)
	events := payments.NewDispatcher()
	events.Subscribe(ent.OnSubscriptionChanged)

	var err error
	e.plan, err = e.catalog.UpsertPlan(context.Background(), payments.PlanInput{
		Name:            "Basic Monthly",
		ExternalPriceID: "price_m",
		Price:           decimal.RequireFromString("9.99"),
		Currency:        "USD",
		BillingCycle:    payments.BillingMonthly,
		Features:        map[string]any{"ai_tutor": true},
		IsActive:        true,
	})
	require.NoError(t, err)
	_, err = e.catalog.UpsertPlan(context.Background(), payments.PlanInput{
		Name:            "Legacy",
		ExternalPriceID: "price_legacy",
		Price:           decimal.RequireFromString("5.00"),
		Currency:        "USD",
		BillingCycle:    payments.BillingMonthly,
		IsActive:        false,
		DisplayOrder:    9,
	})
	require.NoError(t, err)

	e.auth, err = httpapi.NewAuthenticator(jwtSecret)
	require.NoError(t, err)

	rec := reconcile.New(reconcile.Config{Secret: string(secret), HandlerTimeout: 5 * time.Second}, reconcile.Deps{
		Repo:          e.repo,
		Subscriptions: subs,
		Ledger:        ledger,
		Currencies:    cur,
		Events:        events,
	}, reconcile.WithClock(e.clock.Now), reconcile.WithMetrics(reconcile.NewMetrics(e.registry)))

	e.handler = httpapi.NewRouter(httpapi.Deps{
		Catalog:       e.catalog,
		Subscriptions: subs,
		Ledger:        ledger,
		Entitlements:  ent,
		Checkout: payments.NewCheckout(e.catalog, subs, e.provider,
			"https://uplas.example.com/billing/success", "https://uplas.example.com/billing/cancel", opts...),
		Events:   events,
		Webhooks: rec,
		Auth:     e.auth,
		Checks: map[string]httpserver.Check{
			"postgres": func(context.Context) error { return e.ready },
		},
		Gatherer: e.registry,
		Metrics:  httpapi.NewMetrics(e.registry),
		Clock:    e.clock.Now,
	})
	return e
}

func (e *env) token(user uuid.UUID, role string) string {
	e.t.Helper()
	tok, err := e.auth.Issue(httpapi.Principal{UserID: user, Role: role}, time.Hour)
	require.NoError(e.t, err)
	return tok
}

type response struct {
	Status int
	Header http.Header
	Body   struct {
		Data  json.RawMessage      `json:"data"`
		Meta  map[string]any       `json:"meta"`
		Error *httpapi.ErrorDetail `json:"error"`
	}
	Raw []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Body.Data, v), string(r.Raw))
}

func (e *env) do(method, path, token string, body any, headers ...string) response {
	e.t.Helper()

	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rd = bytes.NewReader(b)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(e.t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	out := response{Status: rr.Code, Header: rr.Header(), Raw: rr.Body.Bytes()}
	if len(out.Raw) > 0 && rr.Header().Get("Content-Type") != "" && out.Raw[0] == '{' {
		require.NoError(e.t, json.Unmarshal(out.Raw, &out.Body), string(out.Raw))
	}
	return out
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

func (e *env) deliver(id, typ string, created time.Time, object map[string]any) response {
	e.t.Helper()
	body := eventBody(e.t, id, typ, created, object)
	return e.do(http.MethodPost, "/api/v1/webhooks/payments", "", body,
		webhook.SignatureHeader, webhook.Sign(secret, e.clock.Now(), body))
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

var errProviderDown = errors.New("connection reset by peer")

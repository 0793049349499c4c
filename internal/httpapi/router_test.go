package httpapi_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/httpapi"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/requestid"
)

type planBody struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Price           string         `json:"price"`
	Currency        string         `json:"currency"`
	BillingCycle    string         `json:"billing_cycle"`
	Features        map[string]any `json:"features"`
	ExternalPriceID string         `json:"external_price_id"`
	IsActive        *bool          `json:"is_active"`
}

type subscriptionBody struct {
	Status           string     `json:"status"`
	PlanID           uuid.UUID  `json:"plan_id"`
	Plan             *planBody  `json:"plan"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	IsActive         bool       `json:"is_active"`
	IsTrialing       bool       `json:"is_trialing"`
	IsPremium        bool       `json:"is_premium"`
}

type transactionBody struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func TestListPlans(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	res := e.do(http.MethodGet, "/api/v1/plans", "", nil)
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))

	var plans []planBody
	res.decode(t, &plans)
	require.Len(t, plans, 1, "inactive plans are hidden")
	assert.Equal(t, "Basic Monthly", plans[0].Name)
	assert.Equal(t, "9.99", plans[0].Price)
	assert.Equal(t, "USD", plans[0].Currency)
	assert.Equal(t, "monthly", plans[0].BillingCycle)
	assert.Equal(t, true, plans[0].Features["ai_tutor"])
	assert.Empty(t, plans[0].ExternalPriceID, "provider mapping is admin-only")
	assert.NotEmpty(t, res.Header.Get(requestid.Header))
}

func TestAuthentication(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	other, err := httpapi.NewAuthenticator("another-secret")
	require.NoError(t, err)
	forged, err := other.Issue(httpapi.Principal{UserID: uuid.New()}, time.Hour)
	require.NoError(t, err)
	expired, err := e.auth.Issue(httpapi.Principal{UserID: uuid.New()}, -time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing", token: ""},
		{name: "garbage", token: "not-a-jwt"},
		{name: "wrong key", token: forged},
		{name: "expired", token: expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.do(http.MethodGet, "/api/v1/me/subscription", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, res.Status)
			require.NotNil(t, res.Body.Error)
			assert.Equal(t, "unauthenticated", res.Body.Error.Code)
		})
	}
}

func TestMySubscription_NotFound(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	res := e.do(http.MethodGet, "/api/v1/me/subscription", e.token(uuid.New(), ""), nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	require.NotNil(t, res.Body.Error)
	assert.Equal(t, "not_found", res.Body.Error.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	user := uuid.New()
	tok := e.token(user, "")

	res := e.deliver("evt_1", reconcile.EventSubscriptionCreated, t0,
		subscriptionObject("sub_1", user, "price_m", "active", t0, t0.Add(30*day)))
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))

	res = e.do(http.MethodGet, "/api/v1/me/subscription", tok, nil)
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	var sub subscriptionBody
	res.decode(t, &sub)
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, e.plan.ID, sub.PlanID)
	require.NotNil(t, sub.Plan)
	assert.Equal(t, "Basic Monthly", sub.Plan.Name)
	assert.True(t, sub.IsActive)
	assert.True(t, sub.IsPremium)
	assert.False(t, sub.IsTrialing)

	res = e.deliver("evt_2", reconcile.EventInvoicePaid, t0.Add(time.Minute),
		invoiceObject("sub_1", "ch_1", 999, t0, t0.Add(30*day)))
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))

	res = e.do(http.MethodGet, "/api/v1/me/transactions", tok, nil)
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	var txs []transactionBody
	res.decode(t, &txs)
	require.Len(t, txs, 1)
	assert.Equal(t, "9.99", txs[0].Amount)
	assert.Equal(t, "USD", txs[0].Currency)
	assert.Equal(t, "succeeded", txs[0].Status)

	// Cancellation keeps access until the end of the paid period.
	res = e.deliver("evt_3", reconcile.EventSubscriptionDeleted, t0.Add(2*day),
		subscriptionObject("sub_1", user, "price_m", "canceled", t0, t0.Add(30*day)))
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))

	res = e.do(http.MethodGet, "/api/v1/me/subscription", tok, nil)
	res.decode(t, &sub)
	assert.Equal(t, "cancelled", sub.Status)
	assert.True(t, sub.IsPremium)

	e.clock.Advance(31 * day)
	res = e.do(http.MethodGet, "/api/v1/me/subscription", tok, nil)
	res.decode(t, &sub)
	assert.False(t, sub.IsActive)
	assert.False(t, sub.IsPremium, "cache entries never outlive the access window")
}

func TestWebhookTransport(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	user := uuid.New()
	object := subscriptionObject("sub_1", user, "price_m", "active", t0, t0.Add(30*day))

	t.Run("bad signature", func(t *testing.T) {
		body := eventBody(t, "evt_forged", reconcile.EventSubscriptionCreated, t0, object)
		res := e.do(http.MethodPost, "/api/v1/webhooks/payments", "", body, "Payment-Signature", "t=1,v1=00")
		assert.Equal(t, http.StatusUnauthorized, res.Status)
		require.NotNil(t, res.Body.Error)
		assert.Equal(t, string(reconcile.OutcomeUnauthorized), res.Body.Error.Code)
	})

	t.Run("duplicate delivery", func(t *testing.T) {
		first := e.deliver("evt_dup", reconcile.EventSubscriptionCreated, t0, object)
		require.Equal(t, http.StatusOK, first.Status, string(first.Raw))
		second := e.deliver("evt_dup", reconcile.EventSubscriptionCreated, t0, object)
		require.Equal(t, http.StatusOK, second.Status)

		var out struct {
			EventID string `json:"event_id"`
			Outcome string `json:"outcome"`
		}
		second.decode(t, &out)
		assert.Equal(t, "evt_dup", out.EventID)
		assert.Equal(t, string(reconcile.OutcomeDuplicate), out.Outcome)
	})

	t.Run("unknown price acknowledged", func(t *testing.T) {
		res := e.deliver("evt_unknown", reconcile.EventSubscriptionCreated, t0,
			subscriptionObject("sub_x", uuid.New(), "price_unknown", "active", t0, t0.Add(30*day)))
		assert.Equal(t, http.StatusOK, res.Status)
	})

	t.Run("payload too large", func(t *testing.T) {
		body := `{"pad":"` + strings.Repeat("x", 2<<20) + `"}`
		res := e.do(http.MethodPost, "/api/v1/webhooks/payments", "", body)
		assert.Equal(t, http.StatusRequestEntityTooLarge, res.Status)
	})
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("creates session", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		user := uuid.New()

		res := e.do(http.MethodPost, "/api/v1/checkout", e.token(user, ""),
			map[string]any{"plan_id": e.plan.ID}, "Idempotency-Key", "idem-1")
		require.Equal(t, http.StatusCreated, res.Status, string(res.Raw))

		var out struct {
			SessionID   string    `json:"session_id"`
			RedirectURL string    `json:"redirect_url"`
			ExpiresAt   time.Time `json:"expires_at"`
		}
		res.decode(t, &out)
		assert.Equal(t, "cs_test_1", out.SessionID)
		assert.Equal(t, "https://checkout.example.com/cs_test_1", out.RedirectURL)

		reqs := e.provider.Requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, user, reqs[0].UserID)
		assert.Equal(t, "price_m", reqs[0].PriceID)
		assert.Equal(t, "idem-1", reqs[0].IdempotencyKey)
		assert.Equal(t, "https://uplas.example.com/billing/success", reqs[0].SuccessURL)
	})

	tests := []struct {
		name     string
		body     any
		setup    func(e *env)
		wantCode int
		wantErr  string
	}{
		{name: "unknown plan", body: map[string]any{"plan_id": uuid.New()}, wantCode: http.StatusNotFound, wantErr: "not_found"},
		{name: "missing plan", body: map[string]any{}, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "unknown field", body: map[string]any{"plan_id": uuid.New(), "coupon": "x"}, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{name: "relative success url", body: map[string]any{"plan_id": uuid.Nil, "success_url": "/ok"}, wantCode: http.StatusBadRequest, wantErr: "invalid_argument"},
		{
			name: "provider down", wantCode: http.StatusBadGateway, wantErr: "provider_unavailable",
			setup: func(e *env) { e.provider.err = errProviderDown },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t)
			body := tt.body
			if body == nil {
				body = map[string]any{"plan_id": e.plan.ID}
			}
			if tt.setup != nil {
				tt.setup(e)
			}
			res := e.do(http.MethodPost, "/api/v1/checkout", e.token(uuid.New(), ""), body)
			assert.Equal(t, tt.wantCode, res.Status, string(res.Raw))
			require.NotNil(t, res.Body.Error)
			assert.Equal(t, tt.wantErr, res.Body.Error.Code)
		})
	}

	t.Run("wrong content type", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		res := e.do(http.MethodPost, "/api/v1/checkout", e.token(uuid.New(), ""), "plan_id=1", "Content-Type", "application/x-www-form-urlencoded")
		assert.Equal(t, http.StatusUnsupportedMediaType, res.Status)
	})

	t.Run("already subscribed", func(t *testing.T) {
		t.Parallel()
		e := newEnv(t)
		user := uuid.New()
		res := e.deliver("evt_1", reconcile.EventSubscriptionCreated, t0,
			subscriptionObject("sub_1", user, "price_m", "active", t0, t0.Add(30*day)))
		require.Equal(t, http.StatusOK, res.Status)

		res = e.do(http.MethodPost, "/api/v1/checkout", e.token(user, ""), map[string]any{"plan_id": e.plan.ID})
		assert.Equal(t, http.StatusConflict, res.Status)
		assert.Empty(t, e.provider.Requests())
	})
}

func TestTransactionsPagination(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	user := uuid.New()
	tok := e.token(user, "")

	res := e.deliver("evt_sub", reconcile.EventSubscriptionCreated, t0,
		subscriptionObject("sub_1", user, "price_m", "active", t0, t0.Add(30*day)))
	require.Equal(t, http.StatusOK, res.Status)
	for i := range 3 {
		e.clock.Advance(time.Minute)
		res = e.deliver(fmt.Sprintf("evt_inv_%d", i), reconcile.EventInvoicePaid, t0.Add(time.Duration(i+1)*time.Minute),
			invoiceObject("sub_1", fmt.Sprintf("ch_%d", i), 999, t0, t0.Add(30*day)))
		require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	}

	seen := 0
	cursor := ""
	for range 3 {
		res = e.do(http.MethodGet, "/api/v1/me/transactions?limit=2&cursor="+cursor, tok, nil)
		require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
		var page []transactionBody
		res.decode(t, &page)
		seen += len(page)
		cursor, _ = res.Body.Meta["next_cursor"].(string)
		if cursor == "" {
			break
		}
	}
	assert.Equal(t, 3, seen)

	res = e.do(http.MethodGet, "/api/v1/me/transactions?cursor=%21%21", tok, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	res = e.do(http.MethodGet, "/api/v1/me/transactions?limit=1000", tok, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	res = e.do(http.MethodGet, "/api/v1/me/transactions?limit=abc", tok, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestAdminPlans(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	admin := e.token(uuid.New(), httpapi.RoleAdmin)

	res := e.do(http.MethodGet, "/api/v1/admin/plans", e.token(uuid.New(), ""), nil)
	assert.Equal(t, http.StatusForbidden, res.Status)

	res = e.do(http.MethodGet, "/api/v1/admin/plans", admin, nil)
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))
	var plans []planBody
	res.decode(t, &plans)
	assert.Len(t, plans, 2, "admins see inactive plans")

	res = e.do(http.MethodGet, "/api/v1/admin/plans?include_inactive=false", admin, nil)
	res.decode(t, &plans)
	assert.Len(t, plans, 1)

	res = e.do(http.MethodPut, "/api/v1/admin/plans", admin, map[string]any{
		"name":              "Pro Annual",
		"external_price_id": "price_y",
		"price":             "99.00",
		"currency":          "kes",
		"billing_cycle":     "annually",
		"features":          map[string]any{"projects": 10},
	})
	require.Equal(t, http.StatusCreated, res.Status, string(res.Raw))
	var created planBody
	res.decode(t, &created)
	assert.Equal(t, "KES", created.Currency)
	assert.Equal(t, "99", created.Price)
	assert.Equal(t, "price_y", created.ExternalPriceID)
	require.NotNil(t, created.IsActive)
	assert.True(t, *created.IsActive)

	res = e.do(http.MethodPut, "/api/v1/admin/plans", admin, map[string]any{
		"id":                created.ID,
		"name":              "Pro Annual",
		"external_price_id": "price_y",
		"price":             "89.00",
		"currency":          "KES",
		"billing_cycle":     "annually",
		"is_active":         false,
	})
	require.Equal(t, http.StatusOK, res.Status, string(res.Raw))

	res = e.do(http.MethodPut, "/api/v1/admin/plans", admin, map[string]any{
		"name":          "",
		"price":         "-1",
		"currency":      "USD",
		"billing_cycle": "weekly",
	})
	require.Equal(t, http.StatusBadRequest, res.Status)
	require.NotNil(t, res.Body.Error)
	assert.Equal(t, "invalid_argument", res.Body.Error.Code)
	assert.Contains(t, res.Body.Error.Details, "name")
	assert.Contains(t, res.Body.Error.Details, "price")
	assert.Contains(t, res.Body.Error.Details, "billing_cycle")

	res = e.do(http.MethodPut, "/api/v1/admin/plans", admin, map[string]any{
		"name":              "Clash",
		"external_price_id": "price_m",
		"price":             "1.00",
		"currency":          "USD",
		"billing_cycle":     "monthly",
	})
	assert.Equal(t, http.StatusConflict, res.Status, "external price ids are unique")
}

func TestAdminEraseUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	user := uuid.New()
	admin := e.token(uuid.New(), httpapi.RoleAdmin)

	res := e.deliver("evt_1", reconcile.EventSubscriptionCreated, t0,
		subscriptionObject("sub_1", user, "price_m", "active", t0, t0.Add(30*day)))
	require.Equal(t, http.StatusOK, res.Status)
	res = e.do(http.MethodGet, "/api/v1/me/subscription", e.token(user, ""), nil)
	require.Equal(t, http.StatusOK, res.Status)

	res = e.do(http.MethodDelete, "/api/v1/admin/users/"+user.String()+"/payments", admin, nil)
	require.Equal(t, http.StatusNoContent, res.Status, string(res.Raw))

	res = e.do(http.MethodGet, "/api/v1/me/subscription", e.token(user, ""), nil)
	assert.Equal(t, http.StatusNotFound, res.Status)

	res = e.do(http.MethodDelete, "/api/v1/admin/users/not-a-uuid/payments", admin, nil)
	assert.Equal(t, http.StatusBadRequest, res.Status)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health/live", "", nil).Status)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/health/ready", "", nil).Status)

	e.ready = payments.ErrProviderUnavailable
	assert.Equal(t, http.StatusServiceUnavailable, e.do(http.MethodGet, "/health/ready", "", nil).Status)

	e.do(http.MethodGet, "/api/v1/plans", "", nil)
	res := e.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, string(res.Raw), `uplas_http_requests_total{code="200",method="GET",route="/api/v1/plans"}`)

	res = e.do(http.MethodGet, "/api/v1/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, res.Status)
	require.NotNil(t, res.Body.Error)
}

package stripe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/provider/stripe"
)

func TestProvider_CreateCheckoutSession(t *testing.T) {
	t.Parallel()

	user := uuid.New()
	type captured struct {
		path, auth, idem string
		form             map[string]string
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		c := captured{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			idem: r.Header.Get("Idempotency-Key"),
			form: map[string]string{},
		}
		for k := range r.PostForm {
			c.form[k] = r.PostForm.Get(k)
		}
		got <- c
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1","expires_at":1740916800}`))
	}))
	t.Cleanup(srv.Close)

	p, err := stripe.New(stripe.Config{APIKey: "sk_test_123", BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	s, err := p.CreateCheckoutSession(context.Background(), payments.CheckoutRequest{
		UserID:         user,
		PriceID:        "price_m",
		CustomerID:     "cus_1",
		SuccessURL:     "https://uplas.test/ok",
		CancelURL:      "https://uplas.test/cancel",
		IdempotencyKey: "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", s.URL)
	assert.Equal(t, time.Unix(1740916800, 0).UTC(), s.ExpiresAt)

	c := <-got
	assert.Equal(t, "/v1/checkout/sessions", c.path)
	assert.Equal(t, "Bearer sk_test_123", c.auth)
	assert.Equal(t, "idem-1", c.idem)
	assert.Equal(t, "subscription", c.form["mode"])
	assert.Equal(t, "price_m", c.form["line_items[0][price]"])
	assert.Equal(t, "1", c.form["line_items[0][quantity]"])
	assert.Equal(t, user.String(), c.form["client_reference_id"])
	assert.Equal(t, "cus_1", c.form["customer"])
	assert.Equal(t, user.String(), c.form["subscription_data[metadata][user_id]"])
	assert.Equal(t, "price_m", c.form["metadata[price_id]"])
	assert.Equal(t, "https://uplas.test/ok", c.form["success_url"])
}

func TestProvider_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such price: 'price_x'"}}`))
	}))
	t.Cleanup(srv.Close)

	p, err := stripe.New(stripe.Config{APIKey: "sk_test_123", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.CreateCheckoutSession(context.Background(), payments.CheckoutRequest{
		UserID: uuid.New(), PriceID: "price_x", SuccessURL: "https://a.test", CancelURL: "https://b.test",
	})
	require.ErrorIs(t, err, payments.ErrProviderUnavailable)
	assert.Contains(t, err.Error(), "No such price")

	_, err = stripe.New(stripe.Config{})
	assert.ErrorIs(t, err, payments.ErrInvalidArgument)
}

func TestProvider_Timeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p, err := stripe.New(stripe.Config{APIKey: "sk_test_123", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = p.CreateCheckoutSession(context.Background(), payments.CheckoutRequest{
		UserID: uuid.New(), PriceID: "price_m", SuccessURL: "https://a.test", CancelURL: "https://b.test",
	})
	assert.ErrorIs(t, err, payments.ErrProviderUnavailable)
}

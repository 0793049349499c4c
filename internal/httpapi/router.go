// Package httpapi exposes the payments core over HTTP/JSON under /api/v1.
//
// Every body uses the envelope {data, meta, error}; money is rendered as
// decimal strings. Domain errors are mapped to status codes in one place,
// classify.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/httpserver"
	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/requestid"
)

// WebhookHandler is satisfied by *reconcile.Reconciler.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signature string) reconcile.Result
}

// Deps wires the services behind the routes. Checks, Gatherer and Metrics
// are optional.
type Deps struct {
	Catalog       *payments.Catalog
	Subscriptions *payments.Subscriptions
	Ledger        *payments.Ledger
	Entitlements  *payments.Entitlements
	Checkout      *payments.Checkout
	Events        *payments.Dispatcher
	Webhooks      WebhookHandler
	Auth          *Authenticator

	Checks   map[string]httpserver.Check
	Gatherer prometheus.Gatherer
	Metrics  *Metrics
	Logger   *slog.Logger
	Clock    payments.Clock
}

type server struct {
	Deps
	log *slog.Logger
	now payments.Clock
}

// NewRouter builds the full HTTP surface: the versioned API plus health and
// metrics endpoints.
func NewRouter(d Deps) http.Handler {
	s := &server{Deps: d, log: d.Logger, now: d.Clock}
	if s.log == nil {
		s.log = logger.Discard()
	}
	if s.now == nil {
		s.now = time.Now
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(s.Metrics.middleware)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(s.log, d.Checks))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/plans", wrap(s, s.listPlans))
		api.Post("/webhooks/payments", s.receiveWebhook)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireAuth)
			authed.Get("/me/subscription", wrap(s, s.mySubscription))
			authed.Get("/me/transactions", wrap(s, s.myTransactions, binderQuery))
			authed.Post("/checkout", wrap(s, s.beginCheckout, binderJSON))

			authed.Route("/admin", func(admin chi.Router) {
				admin.Use(s.requireAdmin)
				admin.Get("/plans", wrap(s, s.adminListPlans, binderQuery))
				admin.Put("/plans", wrap(s, s.adminUpsertPlan, binderJSON))
				admin.Delete("/users/{id}/payments", wrap(s, s.adminEraseUser, binderPath))
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Response{Error: &ErrorDetail{Code: "not_found", Message: "route not found"}})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: &ErrorDetail{Code: "method_not_allowed", Message: "method not allowed"}})
	})
	return r
}

// Package app wires configuration, infrastructure and the payments services
// into the commands of the uplas binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/gapeva/uplas/internal/alert"
	"github.com/gapeva/uplas/internal/archive"
	"github.com/gapeva/uplas/internal/httpapi"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/postgres"
	"github.com/gapeva/uplas/internal/provider/stripe"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/httpserver"
	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/pg"
	"github.com/gapeva/uplas/pkg/redis"
	"github.com/gapeva/uplas/pkg/requestid"
)

// NewLogger applies APP_ENV defaults, then LOG_LEVEL when set.
func NewLogger(b Base) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(b.AppEnv, "uplas"),
		logger.WithContextExtractors(requestid.LogExtractor(), httpapi.UserIDExtractor()),
	}
	if b.LogLevel != "" {
		opts = append(opts, logger.WithLevelName(b.LogLevel))
	}
	return logger.New(opts...)
}

// Infra is the external state the services run on. Cache, Alerter and
// Archiver may be nil.
type Infra struct {
	Repo     payments.Repository
	Cache    payments.EntitlementCache
	Provider payments.CheckoutProvider
	Alerter  alert.Alerter
	Archiver archive.Archiver
	Checks   map[string]httpserver.Check
	Registry *prometheus.Registry
}

// Services is the assembled payments core.
type Services struct {
	Catalog       *payments.Catalog
	Subscriptions *payments.Subscriptions
	Ledger        *payments.Ledger
	Entitlements  *payments.Entitlements
	Checkout      *payments.Checkout
	Events        *payments.Dispatcher
	Reconciler    *reconcile.Reconciler
	Sweeper       *reconcile.Sweeper
	Handler       http.Handler
}

// NewServices builds every service over infra and subscribes the
// entitlement projector to subscription changes.
func NewServices(cfg Config, infra Infra, log *slog.Logger) (*Services, error) {
	currencies, err := payments.NewCurrencies(cfg.SupportedCurrencies)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	auth, err := httpapi.NewAuthenticator(cfg.AuthJWTSecret)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	reg := infra.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	cache := infra.Cache
	if cache == nil {
		cache = payments.NewMemoryEntitlementCache(cfg.EntitlementCacheSize)
	}

	opts := []payments.Option{payments.WithLogger(log)}
	s := &Services{
		Catalog:       payments.NewCatalog(infra.Repo, currencies, opts...),
		Subscriptions: payments.NewSubscriptions(infra.Repo, opts...),
		Ledger:        payments.NewLedger(infra.Repo, currencies, opts...),
		Events:        payments.NewDispatcher(),
	}
	s.Entitlements = payments.NewEntitlements(s.Subscriptions, cache, cfg.EntitlementTTL(), opts...)
	s.Events.Subscribe(s.Entitlements.OnSubscriptionChanged)
	s.Checkout = payments.NewCheckout(s.Catalog, s.Subscriptions, infra.Provider,
		cfg.CheckoutSuccessURL, cfg.CheckoutCancelURL, opts...)

	metrics := reconcile.NewMetrics(reg)
	s.Reconciler = reconcile.New(cfg.Webhooks, reconcile.Deps{
		Repo:          infra.Repo,
		Subscriptions: s.Subscriptions,
		Ledger:        s.Ledger,
		Currencies:    currencies,
		Events:        s.Events,
	},
		reconcile.WithAlerter(infra.Alerter),
		reconcile.WithArchiver(infra.Archiver),
		reconcile.WithMetrics(metrics),
		reconcile.WithLogger(log),
	)
	s.Sweeper = reconcile.NewSweeper(infra.Repo, cfg.Webhooks, metrics, log)

	s.Handler = httpapi.NewRouter(httpapi.Deps{
		Catalog:       s.Catalog,
		Subscriptions: s.Subscriptions,
		Ledger:        s.Ledger,
		Entitlements:  s.Entitlements,
		Checkout:      s.Checkout,
		Events:        s.Events,
		Webhooks:      s.Reconciler,
		Auth:          auth,
		Checks:        infra.Checks,
		Gatherer:      reg,
		Metrics:       httpapi.NewMetrics(reg),
		Logger:        log,
	})
	return s, nil
}

// Serve connects to PostgreSQL, Redis (when configured), the provider and
// the optional alert and archive sinks, then runs the HTTP server and the
// replay sweeper until ctx is cancelled.
func Serve(ctx context.Context, cfg Config, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	infra := Infra{
		Repo:     postgres.NewRepository(pool),
		Registry: reg,
		Checks:   map[string]httpserver.Check{"postgres": pg.Healthcheck(pool)},
	}

	if cfg.Redis.Enabled() {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeRedis(client, log)
		infra.Cache = payments.NewRedisEntitlementCache(client)
		infra.Checks["redis"] = redis.Healthcheck(client)
	}

	if infra.Provider, err = stripe.New(cfg.Provider); err != nil {
		return fmt.Errorf("payment provider: %w", err)
	}
	if infra.Alerter, err = alert.New(cfg.Alerts, log); err != nil {
		return fmt.Errorf("alerts: %w", err)
	}
	if infra.Archiver, err = archive.New(ctx, cfg.Archive); err != nil {
		return fmt.Errorf("webhook archive: %w", err)
	}

	svc, err := NewServices(cfg, infra, log)
	if err != nil {
		return err
	}

	server := httpserver.New(cfg.HTTP, log)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, svc.Handler) })
	g.Go(func() error { return svc.Sweeper.Run(ctx) })
	return g.Wait()
}

// Migrate applies the embedded schema migrations.
func Migrate(ctx context.Context, b Base, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, b.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return pg.Migrate(ctx, pool, postgres.Migrations, postgres.MigrationsDir, b.Postgres, log)
}

// SeedPlans upserts the plans in inputs, matching existing rows by provider
// price id.
func SeedPlans(ctx context.Context, b Base, inputs []payments.PlanInput, log *slog.Logger) ([]payments.Plan, error) {
	currencies, err := payments.NewCurrencies(b.SupportedCurrencies)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	pool, err := pg.Connect(ctx, b.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return seedPlans(ctx, postgres.NewRepository(pool), currencies, inputs, log)
}

func seedPlans(ctx context.Context, repo payments.Repository, currencies payments.Currencies, inputs []payments.PlanInput, log *slog.Logger) ([]payments.Plan, error) {
	catalog := payments.NewCatalog(repo, currencies, payments.WithLogger(log))
	return catalog.SeedPlans(ctx, inputs)
}

func closeRedis(client *goredis.Client, log *slog.Logger) {
	if err := client.Close(); err != nil {
		log.Error("failed to close redis client", logger.Component("app"), logger.Error(err))
	}
}

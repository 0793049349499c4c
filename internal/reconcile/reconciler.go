// Package reconcile turns authenticated payment provider webhooks into
// subscription and ledger state. Each delivery is applied in one database
// transaction together with its replay record, so repeats are no-ops and a
// failure leaves nothing behind for the provider's retry.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/gapeva/uplas/internal/alert"
	"github.com/gapeva/uplas/internal/archive"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/webhook"
)

type Config struct {
	Secret           string        `env:"PAYMENT_PROVIDER_SECRET,required"`
	ClockSkewSeconds int           `env:"WEBHOOK_CLOCK_SKEW_SECONDS" envDefault:"300"`
	HandlerTimeout   time.Duration `env:"WEBHOOK_HANDLER_TIMEOUT" envDefault:"30s"`
	EventRetention   time.Duration `env:"WEBHOOK_EVENT_RETENTION" envDefault:"720h"`
	SweepInterval    time.Duration `env:"WEBHOOK_EVENT_SWEEP_INTERVAL" envDefault:"1h"`
}

func (c Config) tolerance() time.Duration {
	if c.ClockSkewSeconds <= 0 {
		return webhook.DefaultTolerance
	}
	return time.Duration(c.ClockSkewSeconds) * time.Second
}

// Outcome labels how a delivery was resolved.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeStale        Outcome = "stale"
	OutcomeUnknownPlan  Outcome = "unknown_plan"
	OutcomeConflict     Outcome = "conflict"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeRejected     Outcome = "rejected"
	OutcomeFailed       Outcome = "failed"
)

// Result is what the transport reports back to the provider.
type Result struct {
	Status    int
	Outcome   Outcome
	EventID   string
	EventType string
	Err       error
}

// Deps are the stores the reconciler writes through.
type Deps struct {
	Repo          payments.Repository
	Subscriptions *payments.Subscriptions
	Ledger        *payments.Ledger
	Currencies    payments.Currencies
	Events        *payments.Dispatcher
}

type Reconciler struct {
	deps     Deps
	cfg      Config
	alerter  alert.Alerter
	archiver archive.Archiver
	metrics  *Metrics
	log      *slog.Logger
	now      payments.Clock
}

type Option func(*Reconciler)

func WithAlerter(a alert.Alerter) Option {
	return func(r *Reconciler) {
		if a != nil {
			r.alerter = a
		}
	}
}

func WithArchiver(a archive.Archiver) Option {
	return func(r *Reconciler) {
		if a != nil {
			r.archiver = a
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func WithLogger(log *slog.Logger) Option {
	return func(r *Reconciler) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClock pins the time used for signature tolerance and replay records.
func WithClock(now payments.Clock) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

func New(cfg Config, deps Deps, opts ...Option) *Reconciler {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	r := &Reconciler{
		deps:     deps,
		cfg:      cfg,
		archiver: archive.Noop{},
		log:      logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alerter == nil {
		r.alerter = alert.NewLogAlerter(r.log)
	}
	return r
}

// Handle authenticates and applies one delivery. It never panics on
// provider input; every failure is reported through Result.
func (r *Reconciler) Handle(ctx context.Context, payload []byte, signature string) Result {
	start := time.Now()
	res := r.handle(ctx, payload, signature)
	r.metrics.observe(res, time.Since(start))

	attrs := []any{
		logger.Component("webhook"),
		logger.EventID(res.EventID),
		logger.EventType(res.EventType),
		slog.String("outcome", string(res.Outcome)),
		slog.Int("status", res.Status),
		logger.Duration(time.Since(start)),
	}
	if res.Err != nil {
		attrs = append(attrs, logger.Error(res.Err))
	}
	switch {
	case res.Status >= http.StatusInternalServerError:
		r.log.ErrorContext(ctx, "webhook failed", attrs...)
	case res.Outcome == OutcomeProcessed || res.Outcome == OutcomeDuplicate || res.Outcome == OutcomeIgnored:
		r.log.InfoContext(ctx, "webhook handled", attrs...)
	default:
		r.log.WarnContext(ctx, "webhook not applied", attrs...)
	}
	return res
}

func (r *Reconciler) handle(ctx context.Context, payload []byte, signature string) Result {
	receivedAt := r.now().UTC()
	if err := webhook.Verify([]byte(r.cfg.Secret), signature, payload, receivedAt, r.cfg.tolerance()); err != nil {
		if webhook.IsAuthError(err) {
			return Result{Status: http.StatusUnauthorized, Outcome: OutcomeUnauthorized, Err: errors.Join(payments.ErrUnauthenticated, err)}
		}
		return Result{Status: http.StatusBadRequest, Outcome: OutcomeRejected, Err: errors.Join(payments.ErrInvalidArgument, err)}
	}

	ev, err := parseEvent(payload)
	if err != nil {
		return Result{Status: http.StatusBadRequest, Outcome: OutcomeRejected, Err: err}
	}
	res := Result{Status: http.StatusOK, EventID: ev.ID, EventType: string(ev.Type)}

	if err := r.archiver.Archive(ctx, archive.Entry{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		Payload:    payload,
		ReceivedAt: receivedAt,
	}); err != nil {
		r.log.WarnContext(ctx, "webhook archive failed",
			logger.Component("webhook"), logger.EventID(ev.ID), logger.Error(err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()

	var (
		out     *payments.Outbox
		pending *alert.Alert
	)
	err = r.deps.Repo.InTx(ctx, func(tx payments.Repository) error {
		fresh, err := tx.MarkEventProcessed(ctx, ev.ID, string(ev.Type), receivedAt)
		if err != nil {
			return fmt.Errorf("record event %q: %w", ev.ID, err)
		}
		if !fresh {
			res.Outcome = OutcomeDuplicate
			return nil
		}

		applied := &payments.Outbox{}
		derr := tx.InTx(ctx, func(stx payments.Repository) error {
			outcome, err := r.dispatch(ctx, stx, applied, ev)
			res.Outcome = outcome
			return err
		})
		if derr == nil {
			out = applied
			return nil
		}

		// The savepoint is gone; decide whether the event id is kept.
		res.Err = derr
		switch {
		case errors.Is(derr, errUnknownSubscription):
			return derr
		case errors.Is(derr, payments.ErrUnknownPlan):
			res.Outcome = OutcomeUnknownPlan
			pending = r.newAlert(alert.KindUnknownPlan, ev, derr)
		case errors.Is(derr, payments.ErrConflictingSubscription):
			res.Status = http.StatusConflict
			res.Outcome = OutcomeConflict
			pending = r.newAlert(alert.KindConflictingSubscription, ev, derr)
		case errors.Is(derr, payments.ErrIllegalTransition), errors.Is(derr, payments.ErrNotFound):
			res.Outcome = OutcomeStale
		default:
			return derr
		}
		return nil
	})
	if err != nil {
		res.Err = err
		if errors.Is(err, payments.ErrInvalidArgument) {
			res.Status = http.StatusBadRequest
			res.Outcome = OutcomeRejected
		} else {
			res.Status = http.StatusInternalServerError
			res.Outcome = OutcomeFailed
		}
		return res
	}

	r.deps.Events.Publish(ctx, out)
	if pending != nil {
		if err := r.alerter.Notify(ctx, *pending); err != nil {
			r.log.ErrorContext(ctx, "operator alert failed",
				logger.Component("webhook"), logger.EventID(ev.ID), logger.Error(err))
		}
	}
	return res
}

func (r *Reconciler) newAlert(kind alert.Kind, ev *stripe.Event, cause error) *alert.Alert {
	return &alert.Alert{
		Kind:       kind,
		Summary:    cause.Error(),
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}
}

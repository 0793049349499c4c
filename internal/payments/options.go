package payments

import (
	"log/slog"
	"time"
)

// Option configures the payments services.
type Option func(*options)

type options struct {
	now Clock
	log *slog.Logger
}

// WithClock sets the time source used for timestamps and access checks.
func WithClock(now Clock) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. A nil logger keeps the discarding default.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now: time.Now,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// clock returns now in UTC at the precision PostgreSQL stores.
func (o options) clock() time.Time {
	return o.now().UTC().Truncate(time.Microsecond)
}

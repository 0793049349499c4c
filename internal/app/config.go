package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/gapeva/uplas/internal/alert"
	"github.com/gapeva/uplas/internal/archive"
	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/provider/stripe"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/config"
	"github.com/gapeva/uplas/pkg/httpserver"
	"github.com/gapeva/uplas/pkg/pg"
	"github.com/gapeva/uplas/pkg/redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Base is what every command needs: logging, the database and the
// currency allow-list.
type Base struct {
	AppEnv              string   `env:"APP_ENV" envDefault:"development"`
	LogLevel            string   `env:"LOG_LEVEL"`
	SupportedCurrencies []string `env:"SUPPORTED_CURRENCIES" envSeparator:"," envDefault:"USD,KES,NGN,GHS"`

	Postgres pg.Config
}

// Config is the full configuration of `uplas serve`.
type Config struct {
	Base

	AuthJWTSecret      string `env:"AUTH_JWT_SECRET,required,notEmpty"`
	CheckoutSuccessURL string `env:"CHECKOUT_SUCCESS_URL,required"`
	CheckoutCancelURL  string `env:"CHECKOUT_CANCEL_URL,required"`

	EntitlementCacheTTLSeconds int `env:"ENTITLEMENT_CACHE_TTL_SECONDS" envDefault:"30"`
	EntitlementCacheSize       int `env:"ENTITLEMENT_CACHE_SIZE" envDefault:"10000"`

	HTTP     httpserver.Config
	Redis    redis.Config
	Webhooks reconcile.Config
	Provider stripe.Config
	Archive  archive.Config
	Alerts   alert.Config
}

// EntitlementTTL is capped at payments.MaxEntitlementTTL.
func (c Config) EntitlementTTL() time.Duration {
	ttl := time.Duration(c.EntitlementCacheTTLSeconds) * time.Second
	if ttl <= 0 || ttl > payments.MaxEntitlementTTL {
		return payments.MaxEntitlementTTL
	}
	return ttl
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if _, err := payments.NewCurrencies(c.SupportedCurrencies); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if c.Webhooks.ClockSkewSeconds < 0 {
		return fmt.Errorf("%w: WEBHOOK_CLOCK_SKEW_SECONDS must not be negative", ErrInvalidConfig)
	}
	if c.EntitlementCacheSize <= 0 {
		return fmt.Errorf("%w: ENTITLEMENT_CACHE_SIZE must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadBase reads the shared settings used by migrate and seed-plans.
func LoadBase() (Base, error) {
	var b Base
	if err := config.Load(&b); err != nil {
		return Base{}, err
	}
	return b, nil
}

// Load reads and validates the serve configuration.
func Load() (Config, error) {
	var c Config
	if err := config.Load(&c); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

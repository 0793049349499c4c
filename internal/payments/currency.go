package payments

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrencies is used when SUPPORTED_CURRENCIES is not set.
var DefaultCurrencies = []string{"USD", "KES", "NGN", "GHS"}

// Currencies is the allow-list of ISO-4217 codes plans and charges may use.
type Currencies struct {
	codes []string
	units map[string]currency.Unit
}

// NewCurrencies validates every code against ISO-4217.
func NewCurrencies(codes []string) (Currencies, error) {
	if len(codes) == 0 {
		codes = DefaultCurrencies
	}
	c := Currencies{units: make(map[string]currency.Unit, len(codes))}
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		unit, err := currency.ParseISO(code)
		if err != nil {
			return Currencies{}, fmt.Errorf("%w: currency %q: %v", ErrInvalidArgument, raw, err)
		}
		if _, dup := c.units[code]; dup {
			continue
		}
		c.units[code] = unit
		c.codes = append(c.codes, code)
	}
	if len(c.codes) == 0 {
		return Currencies{}, fmt.Errorf("%w: empty currency allow-list", ErrInvalidArgument)
	}
	return c, nil
}

// MustCurrencies panics on invalid codes.
func MustCurrencies(codes ...string) Currencies {
	c, err := NewCurrencies(codes)
	if err != nil {
		panic(err)
	}
	return c
}

// Codes returns the allowed ISO-4217 codes in configuration order.
func (c Currencies) Codes() []string {
	return slices.Clone(c.codes)
}

// Normalize upper-cases code and checks it against the allow-list.
func (c Currencies) Normalize(code string) (string, error) {
	norm := strings.ToUpper(strings.TrimSpace(code))
	if _, ok := c.units[norm]; !ok {
		return "", fmt.Errorf("%w: currency %q is not supported", ErrInvalidArgument, code)
	}
	return norm, nil
}

// FromMinorUnits converts a provider amount in minor units (cents) into a
// decimal using the ISO-4217 scale of code.
func (c Currencies) FromMinorUnits(amount int64, code string) (decimal.Decimal, error) {
	norm, err := c.Normalize(code)
	if err != nil {
		return decimal.Decimal{}, err
	}
	scale, _ := currency.Standard.Rounding(c.units[norm])
	return decimal.New(amount, -int32(scale)), nil
}

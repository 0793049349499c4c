package validator

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func Required(field, value string) Rule {
	return Rule{
		Check: func() bool { return strings.TrimSpace(value) != "" },
		Error: ValidationError{Field: field, Message: "is required"},
	}
}

func MaxLen(field, value string, n int) Rule {
	return Rule{
		Check: func() bool { return utf8.RuneCountInString(value) <= n },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be at most %d characters", n)},
	}
}

func InList[T comparable](field string, value T, allowed []T) Rule {
	return Rule{
		Check: func() bool { return slices.Contains(allowed, value) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be one of %v", allowed)},
	}
}

func RequiredUUID(field string, value uuid.UUID) Rule {
	return Rule{
		Check: func() bool { return value != uuid.Nil },
		Error: ValidationError{Field: field, Message: "is required"},
	}
}

func NonNegativeDecimal(field string, value decimal.Decimal) Rule {
	return Rule{
		Check: func() bool { return !value.IsNegative() },
		Error: ValidationError{Field: field, Message: "must not be negative"},
	}
}

func PositiveDecimal(field string, value decimal.Decimal) Rule {
	return Rule{
		Check: func() bool { return value.IsPositive() },
		Error: ValidationError{Field: field, Message: "must be greater than zero"},
	}
}

// MaxDecimalPlaces rejects values with more fractional digits than places.
func MaxDecimalPlaces(field string, value decimal.Decimal, places int32) Rule {
	return Rule{
		Check: func() bool { return value.Equal(value.Truncate(places)) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must have at most %d decimal places", places)},
	}
}

// DecimalBelow rejects values greater than or equal to limit.
func DecimalBelow(field string, value, limit decimal.Decimal) Rule {
	return Rule{
		Check: func() bool { return value.LessThan(limit) },
		Error: ValidationError{Field: field, Message: fmt.Sprintf("must be less than %s", limit)},
	}
}

// AbsoluteURL accepts empty values and absolute http(s) URLs.
func AbsoluteURL(field, value string) Rule {
	return Rule{
		Check: func() bool {
			if value == "" {
				return true
			}
			u, err := url.Parse(value)
			return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
		},
		Error: ValidationError{Field: field, Message: "must be an absolute http(s) URL"},
	}
}

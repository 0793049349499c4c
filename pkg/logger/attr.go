package logger

import (
	"log/slog"
	"time"
)

// Error returns an empty Attr for nil errors so callers can log unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Component(name string) slog.Attr {
	return slog.String("component", name)
}

func EventID(id string) slog.Attr {
	return slog.String("event_id", id)
}

func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}

// SubscriptionID logs the provider's subscription id.
func SubscriptionID(id string) slog.Attr {
	return slog.String("external_sub_id", id)
}

// ChargeID logs the provider's charge id.
func ChargeID(id string) slog.Attr {
	return slog.String("external_charge_id", id)
}

func PriceID(id string) slog.Attr {
	return slog.String("price_id", id)
}

func Status(s any) slog.Attr {
	return slog.Any("status", s)
}

func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

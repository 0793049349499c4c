// Package alert notifies operators about webhook events that need a human:
// unknown prices and conflicting subscriptions.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/gapeva/uplas/pkg/logger"
)

type Kind string

const (
	KindUnknownPlan             Kind = "unknown_plan"
	KindConflictingSubscription Kind = "conflicting_subscription"
)

// Alert describes one operator-facing incident.
type Alert struct {
	Kind       Kind              `json:"kind"`
	Summary    string            `json:"summary"`
	EventID    string            `json:"event_id,omitempty"`
	EventType  string            `json:"event_type,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Subject is a one-line title for email and chat channels.
func (a Alert) Subject() string {
	return fmt.Sprintf("[uplas payments] %s: %s", a.Kind, a.Summary)
}

// Text renders the alert as plain text with details sorted by key.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Summary)
	fmt.Fprintf(&b, "kind: %s\n", a.Kind)
	if a.EventID != "" {
		fmt.Fprintf(&b, "event: %s (%s)\n", a.EventID, a.EventType)
	}
	fmt.Fprintf(&b, "at: %s\n", a.OccurredAt.UTC().Format(time.RFC3339))
	for _, k := range slices.Sorted(maps.Keys(a.Details)) {
		fmt.Fprintf(&b, "%s: %s\n", k, a.Details[k])
	}
	return b.String()
}

// Alerter delivers alerts. Implementations must be safe for concurrent use.
type Alerter interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, al := range m {
		if al == nil {
			continue
		}
		if err := al.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogAlerter writes alerts to the structured log. It is always enabled.
type LogAlerter struct {
	log *slog.Logger
}

func NewLogAlerter(log *slog.Logger) *LogAlerter {
	if log == nil {
		log = logger.Discard()
	}
	return &LogAlerter{log: log}
}

func (l *LogAlerter) Notify(ctx context.Context, a Alert) error {
	attrs := []any{
		logger.Component("alert"),
		slog.String("kind", string(a.Kind)),
		logger.EventID(a.EventID),
		logger.EventType(a.EventType),
	}
	for _, k := range slices.Sorted(maps.Keys(a.Details)) {
		attrs = append(attrs, slog.String(k, a.Details[k]))
	}
	l.log.ErrorContext(ctx, a.Summary, attrs...)
	return nil
}

package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SubscriptionChanged is emitted after a committed subscription mutation.
type SubscriptionChanged struct {
	SubscriptionID uuid.UUID
	UserID         uuid.UUID
	ExternalSubID  string
	From           SubscriptionStatus
	To             SubscriptionStatus
	OccurredAt     time.Time
}

// StatusChanged is false for updates that only moved periods or the plan.
func (e SubscriptionChanged) StatusChanged() bool {
	return e.From != e.To
}

// Outbox collects events inside a transaction; they are published only once
// the transaction has committed.
type Outbox struct {
	events []SubscriptionChanged
}

func (o *Outbox) add(e SubscriptionChanged) {
	if o != nil {
		o.events = append(o.events, e)
	}
}

// Events returns the collected events in the order they were added.
func (o *Outbox) Events() []SubscriptionChanged {
	if o == nil {
		return nil
	}
	return o.events
}

// EventHandler consumes subscription events. Handlers run synchronously on
// the publishing goroutine and must not block.
type EventHandler func(ctx context.Context, e SubscriptionChanged)

// Dispatcher fans subscription events out to in-process subscribers such as
// the entitlement cache.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

// NewDispatcher returns a dispatcher without subscribers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers h for every event published afterwards.
func (d *Dispatcher) Subscribe(h EventHandler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Publish delivers every event in out to every subscriber.
func (d *Dispatcher) Publish(ctx context.Context, out *Outbox) {
	if d == nil {
		return
	}
	d.mu.RLock()
	handlers := d.handlers
	d.mu.RUnlock()

	for _, e := range out.Events() {
		for _, h := range handlers {
			h(ctx, e)
		}
	}
}

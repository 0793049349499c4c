package payments

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository with the same uniqueness and
// transaction semantics as the PostgreSQL one. A transaction holds a single
// lock for its whole duration and works on a copy that is swapped in on
// commit.
type MemoryRepository struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
}

type memState struct {
	plans  map[uuid.UUID]Plan
	subs   map[uuid.UUID]Subscription
	txs    map[uuid.UUID]Transaction
	events map[string]processedEvent
}

type processedEvent struct {
	eventType  string
	receivedAt time.Time
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu: &sync.Mutex{},
		state: &memState{
			plans:  map[uuid.UUID]Plan{},
			subs:   map[uuid.UUID]Subscription{},
			txs:    map[uuid.UUID]Transaction{},
			events: map[string]processedEvent{},
		},
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		plans:  make(map[uuid.UUID]Plan, len(s.plans)),
		subs:   maps.Clone(s.subs),
		txs:    maps.Clone(s.txs),
		events: maps.Clone(s.events),
	}
	for id, p := range s.plans {
		p.Features = maps.Clone(p.Features)
		c.plans[id] = p
	}
	return c
}

func (r *MemoryRepository) lock() func() {
	if r.inTx {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	defer r.lock()()

	child := &MemoryRepository{mu: r.mu, state: r.state.clone(), inTx: true}
	if err := fn(child); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.state = child.state
	return nil
}

func (r *MemoryRepository) ListPlans(_ context.Context, includeInactive bool) ([]Plan, error) {
	defer r.lock()()
	out := make([]Plan, 0, len(r.state.plans))
	for _, p := range r.state.plans {
		if p.IsActive || includeInactive {
			p.Features = maps.Clone(p.Features)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Or(cmp.Compare(a.DisplayOrder, b.DisplayOrder), cmp.Compare(a.Name, b.Name))
	})
	return out, nil
}

func (r *MemoryRepository) GetPlan(_ context.Context, id uuid.UUID) (*Plan, error) {
	defer r.lock()()
	p, ok := r.state.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	p.Features = maps.Clone(p.Features)
	return &p, nil
}

func (r *MemoryRepository) GetPlanByPriceID(_ context.Context, priceID string) (*Plan, error) {
	defer r.lock()()
	for _, p := range r.state.plans {
		if p.ExternalPriceID == priceID {
			p.Features = maps.Clone(p.Features)
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreatePlan(_ context.Context, p *Plan) error {
	defer r.lock()()
	if _, ok := r.state.plans[p.ID]; ok {
		return fmt.Errorf("%w: plan %s exists", ErrConflict, p.ID)
	}
	if err := r.planUnique(p); err != nil {
		return err
	}
	cp := *p
	cp.Features = maps.Clone(p.Features)
	r.state.plans[p.ID] = cp
	return nil
}

func (r *MemoryRepository) UpdatePlan(_ context.Context, p *Plan) error {
	defer r.lock()()
	if _, ok := r.state.plans[p.ID]; !ok {
		return ErrNotFound
	}
	if err := r.planUnique(p); err != nil {
		return err
	}
	cp := *p
	cp.Features = maps.Clone(p.Features)
	r.state.plans[p.ID] = cp
	return nil
}

func (r *MemoryRepository) planUnique(p *Plan) error {
	for _, other := range r.state.plans {
		if other.ID == p.ID {
			continue
		}
		if other.Name == p.Name {
			return fmt.Errorf("%w: plan name %q is taken", ErrConflict, p.Name)
		}
		if other.ExternalPriceID == p.ExternalPriceID {
			return fmt.Errorf("%w: price id %q is taken", ErrConflict, p.ExternalPriceID)
		}
	}
	return nil
}

func (r *MemoryRepository) GetSubscriptionByUser(_ context.Context, userID uuid.UUID) (*Subscription, error) {
	defer r.lock()()
	return r.findSubscription(func(s Subscription) bool { return s.UserID == userID })
}

func (r *MemoryRepository) LockSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return r.GetSubscriptionByUser(ctx, userID)
}

func (r *MemoryRepository) LockSubscriptionByExternalID(_ context.Context, externalSubID string) (*Subscription, error) {
	defer r.lock()()
	return r.findSubscription(func(s Subscription) bool { return s.ExternalSubID == externalSubID })
}

func (r *MemoryRepository) findSubscription(match func(Subscription) bool) (*Subscription, error) {
	for _, s := range r.state.subs {
		if match(s) {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreateSubscription(_ context.Context, s *Subscription) error {
	defer r.lock()()
	if _, ok := r.state.subs[s.ID]; ok {
		return fmt.Errorf("%w: subscription %s exists", ErrConflict, s.ID)
	}
	if err := r.subscriptionValid(s); err != nil {
		return err
	}
	r.state.subs[s.ID] = *s
	return nil
}

func (r *MemoryRepository) UpdateSubscription(_ context.Context, s *Subscription) error {
	defer r.lock()()
	if _, ok := r.state.subs[s.ID]; !ok {
		return ErrNotFound
	}
	if err := r.subscriptionValid(s); err != nil {
		return err
	}
	r.state.subs[s.ID] = *s
	return nil
}

func (r *MemoryRepository) subscriptionValid(s *Subscription) error {
	if _, ok := r.state.plans[s.PlanID]; !ok {
		return fmt.Errorf("%w: plan %s does not exist", ErrInvalidArgument, s.PlanID)
	}
	for _, other := range r.state.subs {
		if other.ID == s.ID {
			continue
		}
		if other.UserID == s.UserID {
			return fmt.Errorf("%w: user %s already has a subscription", ErrConflict, s.UserID)
		}
		if other.ExternalSubID == s.ExternalSubID {
			return fmt.Errorf("%w: external subscription %q exists", ErrConflict, s.ExternalSubID)
		}
	}
	return nil
}

func (r *MemoryRepository) LockTransactionByChargeID(_ context.Context, chargeID string) (*Transaction, error) {
	defer r.lock()()
	for _, t := range r.state.txs {
		if t.ExternalChargeID == chargeID {
			return &t, nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemoryRepository) CreateTransaction(_ context.Context, t *Transaction) error {
	defer r.lock()()
	for _, other := range r.state.txs {
		if other.ID == t.ID || other.ExternalChargeID == t.ExternalChargeID {
			return fmt.Errorf("%w: charge %q exists", ErrConflict, t.ExternalChargeID)
		}
	}
	if t.SubscriptionID != nil {
		if _, ok := r.state.subs[*t.SubscriptionID]; !ok {
			return fmt.Errorf("%w: subscription %s does not exist", ErrInvalidArgument, *t.SubscriptionID)
		}
	}
	r.state.txs[t.ID] = *t
	return nil
}

func (r *MemoryRepository) UpdateTransaction(_ context.Context, t *Transaction) error {
	defer r.lock()()
	if _, ok := r.state.txs[t.ID]; !ok {
		return ErrNotFound
	}
	r.state.txs[t.ID] = *t
	return nil
}

func (r *MemoryRepository) ListTransactions(_ context.Context, userID uuid.UUID, page Page) ([]Transaction, error) {
	defer r.lock()()
	out := make([]Transaction, 0)
	for _, t := range r.state.txs {
		if t.UserID != userID {
			continue
		}
		if page.After != nil && compareNewestFirst(t, *page.After) <= 0 {
			continue
		}
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Transaction) int {
		return compareNewestFirst(a, Cursor{CreatedAt: b.CreatedAt, ID: b.ID})
	})
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

// compareNewestFirst orders by created_at DESC, id DESC: negative means t
// sorts before c.
func compareNewestFirst(t Transaction, c Cursor) int {
	if d := c.CreatedAt.Compare(t.CreatedAt); d != 0 {
		return d
	}
	return bytes.Compare(c.ID[:], t.ID[:])
}

func (r *MemoryRepository) MarkEventProcessed(_ context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	defer r.lock()()
	if _, ok := r.state.events[eventID]; ok {
		return false, nil
	}
	r.state.events[eventID] = processedEvent{eventType: eventType, receivedAt: receivedAt}
	return true, nil
}

func (r *MemoryRepository) DeleteProcessedEventsBefore(_ context.Context, before time.Time) (int64, error) {
	defer r.lock()()
	var n int64
	for id, e := range r.state.events {
		if e.receivedAt.Before(before) {
			delete(r.state.events, id)
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) DeleteUserData(_ context.Context, userID uuid.UUID) error {
	defer r.lock()()
	for id, t := range r.state.txs {
		if t.UserID == userID {
			delete(r.state.txs, id)
		}
	}
	for id, s := range r.state.subs {
		if s.UserID == userID {
			delete(r.state.subs, id)
		}
	}
	return nil
}

package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists the payments aggregates. Get methods return
// ErrNotFound; writes return ErrConflict on unique violations.
//
// InTx runs fn against a transaction-scoped Repository. Calling InTx on a
// transaction-scoped Repository opens a nested transaction (savepoint) whose
// failure leaves the outer transaction usable.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Repository) error) error

	ListPlans(ctx context.Context, includeInactive bool) ([]Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetPlanByPriceID(ctx context.Context, priceID string) (*Plan, error)
	CreatePlan(ctx context.Context, p *Plan) error
	UpdatePlan(ctx context.Context, p *Plan) error

	// Lock variants take a row lock for the rest of the transaction.
	GetSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	LockSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	LockSubscriptionByExternalID(ctx context.Context, externalSubID string) (*Subscription, error)
	CreateSubscription(ctx context.Context, s *Subscription) error
	UpdateSubscription(ctx context.Context, s *Subscription) error

	LockTransactionByChargeID(ctx context.Context, chargeID string) (*Transaction, error)
	CreateTransaction(ctx context.Context, t *Transaction) error
	UpdateTransaction(ctx context.Context, t *Transaction) error
	ListTransactions(ctx context.Context, userID uuid.UUID, page Page) ([]Transaction, error)

	// MarkEventProcessed records a provider event id. It returns false when
	// the id was already recorded.
	MarkEventProcessed(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error)
	DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error)

	// DeleteUserData removes a user's subscription and transactions.
	DeleteUserData(ctx context.Context, userID uuid.UUID) error
}

// Page selects a window of a newest-first listing.
type Page struct {
	Limit int
	// After continues strictly after this position.
	After *Cursor
}

// Cursor is a position in a (created_at DESC, id DESC) ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gapeva/uplas/pkg/statemachine"
)

// Transaction is a single charge as reported by the provider.
type Transaction struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	SubscriptionID   *uuid.UUID
	ExternalChargeID string
	Amount           decimal.Decimal
	Currency         string
	Status           TransactionStatus
	PaidAt           *time.Time
	Description      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// transactionLifecycle only moves forward, so late deliveries of an earlier
// state cannot undo a settled charge.
var transactionLifecycle = statemachine.NewBuilder[TransactionStatus]().
	Allow(TxPending, TxSucceeded, TxFailed).
	Allow(TxSucceeded, TxRefunded).
	Terminal(TxFailed, TxRefunded).
	Build()

// subscriptionLifecycle is advisory: the provider is authoritative, so moves
// outside it are applied and logged.
var subscriptionLifecycle = statemachine.NewBuilder[SubscriptionStatus]().
	Allow(StatusIncomplete, StatusTrialing, StatusActive, StatusIncompleteExpired, StatusPastDue).
	Allow(StatusTrialing, StatusActive, StatusPastDue, StatusCancelled, StatusUnpaid).
	Allow(StatusActive, StatusPastDue, StatusCancelled, StatusUnpaid).
	Allow(StatusPastDue, StatusActive, StatusCancelled, StatusUnpaid).
	Allow(StatusUnpaid, StatusActive, StatusCancelled).
	Terminal(StatusCancelled, StatusIncompleteExpired).
	Build()

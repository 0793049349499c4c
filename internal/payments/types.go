package payments

import (
	"fmt"
	"strings"
	"time"
)

// Clock returns the current time. Services take one so tests can pin "now".
type Clock func() time.Time

// BillingCycle is how often a plan is charged.
type BillingCycle string

const (
	BillingMonthly   BillingCycle = "monthly"
	BillingQuarterly BillingCycle = "quarterly"
	BillingAnnually  BillingCycle = "annually"
)

// BillingCycles lists every valid cycle, shortest first.
var BillingCycles = []BillingCycle{BillingMonthly, BillingQuarterly, BillingAnnually}

// Valid reports whether c is one of BillingCycles.
func (c BillingCycle) Valid() bool {
	switch c {
	case BillingMonthly, BillingQuarterly, BillingAnnually:
		return true
	}
	return false
}

// SubscriptionStatus mirrors the provider's subscription status.
type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCancelled         SubscriptionStatus = "cancelled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// ParseSubscriptionStatus accepts the provider's American spelling "canceled".
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	st := SubscriptionStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "canceled" {
		st = StatusCancelled
	}
	if !st.Valid() {
		return "", fmt.Errorf("%w: subscription status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPastDue, StatusCancelled,
		StatusIncomplete, StatusIncompleteExpired, StatusUnpaid:
		return true
	}
	return false
}

// IsTerminal reports statuses a subscription never leaves: cancelled and
// incomplete_expired.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusIncompleteExpired
}

// grantsAccess lists statuses under which a paid-up period still counts.
// Cancelled and past_due subscriptions keep access until the period ends.
func (s SubscriptionStatus) grantsAccess() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCancelled:
		return true
	}
	return false
}

// TransactionStatus is the state of one charge in the ledger.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxSucceeded TransactionStatus = "succeeded"
	TxFailed    TransactionStatus = "failed"
	TxRefunded  TransactionStatus = "refunded"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case TxPending, TxSucceeded, TxFailed, TxRefunded:
		return true
	}
	return false
}

// settled statuses carry a paid_at timestamp.
func (s TransactionStatus) settled() bool {
	return s == TxSucceeded || s == TxRefunded
}

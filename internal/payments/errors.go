package payments

import "errors"

// Domain errors. They are wrapped with context on the way up and mapped to
// transport codes once, at the HTTP boundary.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")

	// ErrIllegalTransition is returned when a status change is outside the
	// ledger lifecycle. The stored row is left untouched.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrConflictingSubscription is returned when a user who already holds a
	// live subscription is reported with a second, different one.
	ErrConflictingSubscription = errors.New("user already has a different active subscription")

	// ErrUnknownPlan is returned when a provider price id has no plan.
	ErrUnknownPlan = errors.New("unknown plan")

	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

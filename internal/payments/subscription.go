package payments

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subscription mirrors the provider's view of a user's subscription.
type Subscription struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	PlanID             uuid.UUID
	ExternalSubID      string
	ExternalCustomerID string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
	StatusChangedAt    time.Time
	// ProviderUpdatedAt is the provider timestamp of the newest applied event.
	ProviderUpdatedAt time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AccessEndsAt is the end of the paid (or trial) window.
func (s *Subscription) AccessEndsAt() (time.Time, bool) {
	var end time.Time
	if s.CurrentPeriodEnd != nil {
		end = *s.CurrentPeriodEnd
	}
	if s.Status == StatusTrialing && s.TrialEnd != nil && s.TrialEnd.After(end) {
		end = *s.TrialEnd
	}
	return end, !end.IsZero()
}

// IsActive reports whether the user currently has access: the status grants
// access and the access window has not ended. Past-due and cancelled
// subscriptions stay active until the end of the period already paid for,
// so a cancellation or a failed renewal inside a paid period keeps premium
// until current_period_end; IsActive therefore does not imply active or trialing.
func (s *Subscription) IsActive(now time.Time) bool {
	if s == nil || !s.Status.grantsAccess() {
		return false
	}
	end, ok := s.AccessEndsAt()
	return ok && end.After(now)
}

// IsTrialing reports a trial that has not yet ended. It turns false by time
// alone; the status moves when the provider reports the conversion.
func (s *Subscription) IsTrialing(now time.Time) bool {
	return s != nil && s.Status == StatusTrialing && s.TrialEnd != nil && s.TrialEnd.After(now)
}

// live reports whether s still occupies the user's single subscription slot.
func (s *Subscription) live(now time.Time) bool {
	return !s.Status.IsTerminal() && s.IsActive(now)
}

// DesiredState is the provider-reported state of one subscription, as carried
// by a single event. Nil or empty fields are "not reported".
type DesiredState struct {
	ExternalSubID      string
	ExternalCustomerID string
	UserID             uuid.UUID
	PriceID            string
	Status             SubscriptionStatus
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  *bool
	// ObservedAt is the provider's event timestamp and orders events.
	ObservedAt time.Time
	// MustExist turns a missing record into ErrNotFound instead of a create.
	MustExist bool
}

func (d DesiredState) validate() error {
	if d.ExternalSubID == "" {
		return fmt.Errorf("%w: external subscription id is required", ErrInvalidArgument)
	}
	if d.Status != "" && !d.Status.Valid() {
		return fmt.Errorf("%w: subscription status %q", ErrInvalidArgument, d.Status)
	}
	return nil
}

// merge folds d into s. Events at or after the stored provider timestamp
// overwrite every reported field; older events only fill gaps. The billing
// period only ever moves forward. It reports whether anything changed.
func (s *Subscription) merge(d DesiredState, planID uuid.UUID, now time.Time) bool {
	before := *s
	fresh := s.ProviderUpdatedAt.IsZero() || !d.ObservedAt.Before(s.ProviderUpdatedAt)

	if fresh {
		if planID != uuid.Nil {
			s.PlanID = planID
		}
		if d.ExternalCustomerID != "" {
			s.ExternalCustomerID = d.ExternalCustomerID
		}
		if d.Status != "" {
			s.Status = d.Status
		}
		if d.CancelAtPeriodEnd != nil {
			s.CancelAtPeriodEnd = *d.CancelAtPeriodEnd
		}
		if d.TrialStart != nil {
			s.TrialStart = d.TrialStart
		}
		if d.TrialEnd != nil {
			s.TrialEnd = d.TrialEnd
		}
		s.ProviderUpdatedAt = d.ObservedAt
	} else {
		if s.PlanID == uuid.Nil && planID != uuid.Nil {
			s.PlanID = planID
		}
		if s.ExternalCustomerID == "" {
			s.ExternalCustomerID = d.ExternalCustomerID
		}
		if s.TrialStart == nil {
			s.TrialStart = d.TrialStart
		}
		if s.TrialEnd == nil {
			s.TrialEnd = d.TrialEnd
		}
	}

	switch {
	case d.CurrentPeriodEnd == nil:
	case s.CurrentPeriodEnd == nil || d.CurrentPeriodEnd.After(*s.CurrentPeriodEnd):
		s.CurrentPeriodEnd = d.CurrentPeriodEnd
		if d.CurrentPeriodStart != nil {
			s.CurrentPeriodStart = d.CurrentPeriodStart
		}
	case d.CurrentPeriodEnd.Equal(*s.CurrentPeriodEnd) && d.CurrentPeriodStart != nil:
		if fresh || s.CurrentPeriodStart == nil {
			s.CurrentPeriodStart = d.CurrentPeriodStart
		}
	}

	if s.Status != before.Status {
		s.StatusChangedAt = now
	}
	changed := !s.sameState(&before)
	if changed {
		s.UpdatedAt = now
	}
	return changed
}

func (s *Subscription) checkInvariants() error {
	if s.CurrentPeriodStart != nil && s.CurrentPeriodEnd != nil && s.CurrentPeriodStart.After(*s.CurrentPeriodEnd) {
		return fmt.Errorf("%w: current period starts after it ends", ErrInvalidArgument)
	}
	if s.TrialStart != nil && s.TrialEnd != nil && s.TrialStart.After(*s.TrialEnd) {
		return fmt.Errorf("%w: trial starts after it ends", ErrInvalidArgument)
	}
	return nil
}

func (s *Subscription) sameState(o *Subscription) bool {
	return s.PlanID == o.PlanID &&
		s.ExternalSubID == o.ExternalSubID &&
		s.ExternalCustomerID == o.ExternalCustomerID &&
		s.Status == o.Status &&
		s.CancelAtPeriodEnd == o.CancelAtPeriodEnd &&
		s.ProviderUpdatedAt.Equal(o.ProviderUpdatedAt) &&
		sameTime(s.CurrentPeriodStart, o.CurrentPeriodStart) &&
		sameTime(s.CurrentPeriodEnd, o.CurrentPeriodEnd) &&
		sameTime(s.TrialStart, o.TrialStart) &&
		sameTime(s.TrialEnd, o.TrialEnd)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

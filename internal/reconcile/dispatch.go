package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/logger"
)

func (r *Reconciler) dispatch(ctx context.Context, tx payments.Repository, out *payments.Outbox, ev *stripe.Event) (Outcome, error) {
	observedAt := time.Unix(ev.Created, 0).UTC()

	switch string(ev.Type) {
	case EventCheckoutCompleted:
		return r.onCheckoutCompleted(ctx, tx, out, ev, observedAt)
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.onSubscriptionChanged(ctx, tx, out, ev, observedAt, false)
	case EventSubscriptionDeleted:
		return r.onSubscriptionChanged(ctx, tx, out, ev, observedAt, true)
	case EventInvoicePaymentSucceed, EventInvoicePaid:
		return r.onInvoice(ctx, tx, out, ev, observedAt, payments.TxSucceeded)
	case EventInvoicePaymentFailed:
		return r.onInvoice(ctx, tx, out, ev, observedAt, payments.TxFailed)
	case EventChargeRefunded:
		return r.onChargeRefunded(ctx, tx, ev, observedAt)
	}
	return OutcomeIgnored, nil
}

func (r *Reconciler) onCheckoutCompleted(ctx context.Context, tx payments.Repository, out *payments.Outbox, ev *stripe.Event, observedAt time.Time) (Outcome, error) {
	obj, err := decodeObject[checkoutSessionObject](ev)
	if err != nil {
		return OutcomeRejected, err
	}
	if obj.Subscription == "" {
		r.log.DebugContext(ctx, "checkout session without subscription",
			logger.Component("webhook"), logger.EventID(ev.ID), logger.SubscriptionID(obj.ID))
		return OutcomeIgnored, nil
	}
	st, err := obj.desiredState(observedAt)
	if err != nil {
		return OutcomeRejected, err
	}
	if _, err := r.deps.Subscriptions.ApplyProviderState(ctx, tx, out, st); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeProcessed, nil
}

func (r *Reconciler) onSubscriptionChanged(ctx context.Context, tx payments.Repository, out *payments.Outbox, ev *stripe.Event, observedAt time.Time, deleted bool) (Outcome, error) {
	obj, err := decodeObject[subscriptionObject](ev)
	if err != nil {
		return OutcomeRejected, err
	}
	st, err := obj.desiredState(observedAt)
	if err != nil {
		return OutcomeRejected, err
	}
	if deleted {
		_, err = r.deps.Subscriptions.MarkCancelled(ctx, tx, out, st)
	} else {
		_, err = r.deps.Subscriptions.ApplyProviderState(ctx, tx, out, st)
	}
	if err != nil {
		return OutcomeFailed, err
	}
	return OutcomeProcessed, nil
}

// onInvoice records the charge and moves the subscription: a payment renews
// the period, a failure marks it past due. Zero-amount invoices (trials,
// full discounts) touch only the subscription. A failure the ledger rejects
// is stale and rolls back with its past-due mark.
func (r *Reconciler) onInvoice(ctx context.Context, tx payments.Repository, out *payments.Outbox, ev *stripe.Event, observedAt time.Time, status payments.TransactionStatus) (Outcome, error) {
	inv, err := decodeObject[invoiceObject](ev)
	if err != nil {
		return OutcomeRejected, err
	}
	userID, err := inv.userID()
	if err != nil {
		return OutcomeRejected, err
	}

	var subID *uuid.UUID
	if extSubID := inv.subscriptionID(); extSubID != "" {
		var sub *payments.Subscription
		if status == payments.TxSucceeded {
			start, end := inv.period()
			sub, err = r.deps.Subscriptions.RecordRenewal(ctx, tx, out, extSubID, start, end, observedAt)
		} else {
			sub, err = r.deps.Subscriptions.MarkPastDue(ctx, tx, out, extSubID, observedAt)
		}
		switch {
		case err == nil:
			subID = &sub.ID
			userID = sub.UserID
		case !errors.Is(err, payments.ErrNotFound):
			return OutcomeFailed, err
		case userID == uuid.Nil:
			return OutcomeFailed, fmt.Errorf("%w: %q", errUnknownSubscription, extSubID)
		default:
			r.log.WarnContext(ctx, "invoice for unknown subscription",
				logger.Component("webhook"), logger.EventID(ev.ID), logger.SubscriptionID(extSubID))
		}
	}

	amountMinor := inv.AmountPaid
	if status == payments.TxFailed {
		amountMinor = inv.AmountDue
	}
	if amountMinor <= 0 {
		return OutcomeProcessed, nil
	}
	if userID == uuid.Nil {
		return OutcomeRejected, fmt.Errorf("%w: invoice %q carries no user reference", payments.ErrInvalidArgument, inv.ID)
	}
	amount, err := r.deps.Currencies.FromMinorUnits(amountMinor, inv.Currency)
	if err != nil {
		return OutcomeRejected, err
	}

	in := payments.RecordInput{
		ExternalChargeID: inv.ledgerKey(status, ev.ID),
		UserID:           userID,
		SubscriptionID:   subID,
		Amount:           amount,
		Currency:         inv.Currency,
		Status:           status,
		Description:      inv.description(),
	}
	if status == payments.TxSucceeded {
		in.PaidAt = &observedAt
	}
	_, err = r.deps.Ledger.Record(ctx, tx, in)
	switch {
	case err == nil:
	case status == payments.TxSucceeded && errors.Is(err, payments.ErrIllegalTransition):
		// The payment happened; the renewal stands even if the row cannot move.
		r.log.WarnContext(ctx, "payment conflicts with recorded charge",
			logger.Component("webhook"), logger.EventID(ev.ID),
			logger.ChargeID(in.ExternalChargeID), logger.Error(err))
	default:
		return OutcomeFailed, err
	}
	return OutcomeProcessed, nil
}

// onChargeRefunded finds the ledger row by charge id, then by payment
// intent. Partial refunds leave the charge as is.
func (r *Reconciler) onChargeRefunded(ctx context.Context, tx payments.Repository, ev *stripe.Event, observedAt time.Time) (Outcome, error) {
	ch, err := decodeObject[chargeObject](ev)
	if err != nil {
		return OutcomeRejected, err
	}
	if !ch.Refunded {
		return OutcomeIgnored, nil
	}
	for _, id := range []string{ch.ID, string(ch.PaymentIntent)} {
		if id == "" {
			continue
		}
		_, err := r.deps.Ledger.AdvanceStatus(ctx, tx, id, payments.TxRefunded, &observedAt)
		if errors.Is(err, payments.ErrNotFound) {
			continue
		}
		if err != nil {
			return OutcomeFailed, err
		}
		return OutcomeProcessed, nil
	}
	r.log.WarnContext(ctx, "refund for unknown charge",
		logger.Component("webhook"), logger.EventID(ev.ID), logger.ChargeID(ch.ID))
	return OutcomeIgnored, nil
}

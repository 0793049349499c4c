package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/gapeva/uplas/internal/payments"
)

// Event types handled by the reconciler.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSucceed = "invoice.payment_succeeded"
	EventInvoicePaid           = "invoice.paid"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
	EventChargeRefunded        = "charge.refunded"
)

func parseEvent(payload []byte) (*stripe.Event, error) {
	var ev stripe.Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: event envelope: %v", payments.ErrInvalidArgument, err)
	}
	switch {
	case strings.TrimSpace(ev.ID) == "":
		return nil, fmt.Errorf("%w: event id is required", payments.ErrInvalidArgument)
	case ev.Type == "":
		return nil, fmt.Errorf("%w: event type is required", payments.ErrInvalidArgument)
	case ev.Created <= 0:
		return nil, fmt.Errorf("%w: event created timestamp is required", payments.ErrInvalidArgument)
	case ev.Data == nil || len(ev.Data.Raw) == 0:
		return nil, fmt.Errorf("%w: event data.object is required", payments.ErrInvalidArgument)
	}
	return &ev, nil
}

func decodeObject[T any](ev *stripe.Event) (*T, error) {
	var obj T
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: %s object: %v", payments.ErrInvalidArgument, ev.Type, err)
	}
	return &obj, nil
}

// expandable is an id that the provider may send either as a string or as
// an expanded object.
type expandable string

func (e *expandable) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*e = ""
		return nil
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandable(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandable(obj.ID)
	return nil
}

type metadata struct {
	UserID  string `json:"user_id"`
	PriceID string `json:"price_id"`
}

func unixPtr(v int64) *time.Time {
	if v <= 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

func parseUserID(values ...string) (uuid.UUID, error) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: user reference %q", payments.ErrInvalidArgument, v)
		}
		return id, nil
	}
	return uuid.Nil, nil
}

type subscriptionObject struct {
	ID                 string     `json:"id"`
	Customer           expandable `json:"customer"`
	Status             string     `json:"status"`
	CurrentPeriodStart int64      `json:"current_period_start"`
	CurrentPeriodEnd   int64      `json:"current_period_end"`
	TrialStart         int64      `json:"trial_start"`
	TrialEnd           int64      `json:"trial_end"`
	CancelAtPeriodEnd  *bool      `json:"cancel_at_period_end"`
	Items              struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
	Metadata metadata `json:"metadata"`
}

// desiredState reads the period from the subscription, falling back to the
// first item for API versions that report periods per item.
func (o *subscriptionObject) desiredState(observedAt time.Time) (payments.DesiredState, error) {
	st := payments.DesiredState{
		ExternalSubID:      o.ID,
		ExternalCustomerID: string(o.Customer),
		PriceID:            o.Metadata.PriceID,
		CurrentPeriodStart: unixPtr(o.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(o.CurrentPeriodEnd),
		TrialStart:         unixPtr(o.TrialStart),
		TrialEnd:           unixPtr(o.TrialEnd),
		CancelAtPeriodEnd:  o.CancelAtPeriodEnd,
		ObservedAt:         observedAt,
	}
	if len(o.Items.Data) > 0 {
		item := o.Items.Data[0]
		if item.Price.ID != "" {
			st.PriceID = item.Price.ID
		}
		if st.CurrentPeriodEnd == nil {
			st.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
			st.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		}
	}
	if o.Status != "" {
		status, err := payments.ParseSubscriptionStatus(o.Status)
		if err != nil {
			return st, err
		}
		st.Status = status
	}
	userID, err := parseUserID(o.Metadata.UserID)
	if err != nil {
		return st, err
	}
	st.UserID = userID
	return st, nil
}

type checkoutSessionObject struct {
	ID                string     `json:"id"`
	Mode              string     `json:"mode"`
	Customer          expandable `json:"customer"`
	Subscription      expandable `json:"subscription"`
	ClientReferenceID string     `json:"client_reference_id"`
	Metadata          metadata   `json:"metadata"`
}

func (o *checkoutSessionObject) desiredState(observedAt time.Time) (payments.DesiredState, error) {
	userID, err := parseUserID(o.ClientReferenceID, o.Metadata.UserID)
	if err != nil {
		return payments.DesiredState{}, err
	}
	return payments.DesiredState{
		ExternalSubID:      string(o.Subscription),
		ExternalCustomerID: string(o.Customer),
		UserID:             userID,
		PriceID:            o.Metadata.PriceID,
		ObservedAt:         observedAt,
	}, nil
}

type subscriptionDetails struct {
	Subscription expandable `json:"subscription"`
	Metadata     metadata   `json:"metadata"`
}

type invoiceObject struct {
	ID                  string              `json:"id"`
	Customer            expandable          `json:"customer"`
	Subscription        expandable          `json:"subscription"`
	Charge              expandable          `json:"charge"`
	PaymentIntent       expandable          `json:"payment_intent"`
	AmountPaid          int64               `json:"amount_paid"`
	AmountDue           int64               `json:"amount_due"`
	Currency            string              `json:"currency"`
	Description         string              `json:"description"`
	Metadata            metadata            `json:"metadata"`
	SubscriptionDetails subscriptionDetails `json:"subscription_details"`
	Parent              struct {
		SubscriptionDetails subscriptionDetails `json:"subscription_details"`
	} `json:"parent"`
	Payments struct {
		Data []struct {
			Status  string `json:"status"`
			Payment struct {
				Charge        expandable `json:"charge"`
				PaymentIntent expandable `json:"payment_intent"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
	Lines struct {
		Data []struct {
			Description string `json:"description"`
			Period      struct {
				Start int64 `json:"start"`
				End   int64 `json:"end"`
			} `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

func (o *invoiceObject) subscriptionID() string {
	if o.Subscription != "" {
		return string(o.Subscription)
	}
	return string(o.Parent.SubscriptionDetails.Subscription)
}

// paymentRef returns the charge and payment intent of the attempt. Newer API
// versions drop the top-level fields and list attempts under payments, where
// the paid entry wins.
func (o *invoiceObject) paymentRef() (charge, intent string) {
	charge, intent = string(o.Charge), string(o.PaymentIntent)
	if charge != "" || intent != "" {
		return charge, intent
	}
	for _, p := range o.Payments.Data {
		if charge == "" || p.Status == "paid" {
			charge, intent = string(p.Payment.Charge), string(p.Payment.PaymentIntent)
		}
		if p.Status == "paid" {
			break
		}
	}
	return charge, intent
}

// ledgerKey keys the ledger row of one payment attempt. A charge is unique
// per attempt; a payment intent and the invoice are shared by a failed
// attempt and its retry, so a failure without a charge is keyed by invoice
// and event. Successes fall back to the intent, then the invoice, which keeps
// invoice.paid and invoice.payment_succeeded for one payment on one row.
func (o *invoiceObject) ledgerKey(status payments.TransactionStatus, eventID string) string {
	charge, intent := o.paymentRef()
	switch {
	case charge != "":
		return charge
	case status == payments.TxFailed:
		return o.ID + ":" + eventID
	case intent != "":
		return intent
	}
	return o.ID
}

func (o *invoiceObject) userID() (uuid.UUID, error) {
	return parseUserID(o.Metadata.UserID, o.SubscriptionDetails.Metadata.UserID, o.Parent.SubscriptionDetails.Metadata.UserID)
}

func (o *invoiceObject) period() (start, end *time.Time) {
	if len(o.Lines.Data) == 0 {
		return nil, nil
	}
	p := o.Lines.Data[0].Period
	return unixPtr(p.Start), unixPtr(p.End)
}

func (o *invoiceObject) description() string {
	if o.Description != "" {
		return o.Description
	}
	if len(o.Lines.Data) > 0 {
		return o.Lines.Data[0].Description
	}
	return ""
}

type chargeObject struct {
	ID            string     `json:"id"`
	PaymentIntent expandable `json:"payment_intent"`
	Refunded      bool       `json:"refunded"`
}

var errUnknownSubscription = errors.New("invoice references a subscription that is not stored yet")

package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/internal/reconcile"
	"github.com/gapeva/uplas/pkg/binder"
	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/webhook"
)

var (
	binderJSON  = binder.JSON()
	binderQuery = binder.Query()
	binderPath  = binder.Path(chi.URLParam)
)

// maxWebhookBody bounds provider deliveries; real events are a few KB.
const maxWebhookBody = 1 << 20

func (s *server) principal(r *http.Request) (Principal, error) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		return Principal{}, payments.ErrUnauthenticated
	}
	return p, nil
}

func (s *server) listPlans(r *http.Request, _ struct{}) (result, error) {
	plans, err := s.Catalog.ListActivePlans(r.Context())
	if err != nil {
		return result{}, err
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newPlanResponse(p))
	}
	return ok(out), nil
}

func (s *server) mySubscription(r *http.Request, _ struct{}) (result, error) {
	p, err := s.principal(r)
	if err != nil {
		return result{}, err
	}
	ctx := r.Context()

	sub, err := s.Subscriptions.GetForUser(ctx, p.UserID)
	if err != nil {
		return result{}, err
	}
	premium, err := s.Entitlements.IsUserPremium(ctx, p.UserID)
	if err != nil {
		return result{}, err
	}
	plan, err := s.Catalog.GetPlan(ctx, sub.PlanID)
	if err != nil {
		s.log.WarnContext(ctx, "subscription plan lookup failed",
			logger.Component("httpapi"), logger.UserID(p.UserID), logger.Error(err))
	}
	return ok(newSubscriptionResponse(sub, plan, premium, s.now())), nil
}

func (s *server) myTransactions(r *http.Request, q transactionsQuery) (result, error) {
	p, err := s.principal(r)
	if err != nil {
		return result{}, err
	}
	if q.Limit < 0 || q.Limit > payments.MaxPageSize {
		return result{}, fmt.Errorf("%w: limit must be between 1 and %d", payments.ErrInvalidArgument, payments.MaxPageSize)
	}
	rows, next, err := s.Ledger.ListForUser(r.Context(), p.UserID, q.Limit, q.Cursor)
	if err != nil {
		return result{}, err
	}
	res := ok(newTransactionResponses(rows))
	res.meta = map[string]any{"next_cursor": next}
	return res, nil
}

func (s *server) beginCheckout(r *http.Request, req checkoutRequest) (result, error) {
	p, err := s.principal(r)
	if err != nil {
		return result{}, err
	}
	session, err := s.Checkout.Begin(r.Context(), payments.CheckoutInput{
		UserID:         p.UserID,
		PlanID:         req.PlanID,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		return result{}, err
	}
	out := checkoutResponse{SessionID: session.ID, RedirectURL: session.URL}
	if !session.ExpiresAt.IsZero() {
		out.ExpiresAt = &session.ExpiresAt
	}
	return result{status: http.StatusCreated, data: out}, nil
}

// receiveWebhook hands the raw body to the reconciler untouched; the
// signature covers the exact bytes.
func (s *server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: &ErrorDetail{
				Code: string(reconcile.OutcomeRejected), Message: "payload too large",
			}})
			return
		}
		writeError(w, r, s.log, fmt.Errorf("%w: read webhook body: %v", payments.ErrInvalidArgument, err))
		return
	}

	res := s.Webhooks.Handle(r.Context(), body, r.Header.Get(webhook.SignatureHeader))
	if res.Status < http.StatusBadRequest {
		writeData(w, res.Status, webhookResponse{EventID: res.EventID, Outcome: string(res.Outcome)})
		return
	}

	msg := http.StatusText(res.Status)
	if res.Status < http.StatusInternalServerError && res.Err != nil {
		msg = res.Err.Error()
	}
	writeJSON(w, res.Status, Response{Error: &ErrorDetail{Code: string(res.Outcome), Message: msg}})
}

func (s *server) adminListPlans(r *http.Request, q adminPlansQuery) (result, error) {
	includeInactive := q.IncludeInactive == nil || *q.IncludeInactive
	plans, err := s.Catalog.ListPlans(r.Context(), includeInactive)
	if err != nil {
		return result{}, err
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, newAdminPlanResponse(p))
	}
	return ok(out), nil
}

func (s *server) adminUpsertPlan(r *http.Request, req upsertPlanRequest) (result, error) {
	plan, err := s.Catalog.UpsertPlan(r.Context(), req.input())
	if err != nil {
		return result{}, err
	}
	status := http.StatusOK
	if req.ID != plan.ID {
		status = http.StatusCreated
	}
	return result{status: status, data: newAdminPlanResponse(*plan)}, nil
}

func (s *server) adminEraseUser(r *http.Request, req userPath) (result, error) {
	ctx := r.Context()
	out, err := s.Subscriptions.EraseUser(ctx, req.UserID)
	if err != nil {
		return result{}, err
	}
	s.Events.Publish(ctx, out)
	s.Entitlements.Invalidate(ctx, req.UserID)
	return result{status: http.StatusNoContent}, nil
}

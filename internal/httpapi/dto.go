package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gapeva/uplas/internal/payments"
)

type planResponse struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	BillingCycle    string          `json:"billing_cycle"`
	Features        map[string]any  `json:"features"`
	DisplayOrder    int             `json:"display_order"`
	ExternalPriceID string          `json:"external_price_id,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	UpdatedAt       *time.Time      `json:"updated_at,omitempty"`
}

func newPlanResponse(p payments.Plan) planResponse {
	features := p.Features
	if features == nil {
		features = map[string]any{}
	}
	return planResponse{
		ID:           p.ID,
		Name:         p.Name,
		Price:        p.Price,
		Currency:     p.Currency,
		BillingCycle: string(p.BillingCycle),
		Features:     features,
		DisplayOrder: p.DisplayOrder,
	}
}

// newAdminPlanResponse adds the provider mapping and bookkeeping fields.
func newAdminPlanResponse(p payments.Plan) planResponse {
	out := newPlanResponse(p)
	out.ExternalPriceID = p.ExternalPriceID
	out.IsActive = &p.IsActive
	out.CreatedAt = &p.CreatedAt
	out.UpdatedAt = &p.UpdatedAt
	return out
}

type subscriptionResponse struct {
	ID                 uuid.UUID     `json:"id"`
	PlanID             uuid.UUID     `json:"plan_id"`
	Plan               *planResponse `json:"plan,omitempty"`
	Status             string        `json:"status"`
	CurrentPeriodStart *time.Time    `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time    `json:"current_period_end"`
	TrialStart         *time.Time    `json:"trial_start,omitempty"`
	TrialEnd           *time.Time    `json:"trial_end,omitempty"`
	CancelAtPeriodEnd  bool          `json:"cancel_at_period_end"`
	AccessEndsAt       *time.Time    `json:"access_ends_at,omitempty"`
	IsActive           bool          `json:"is_active"`
	IsTrialing         bool          `json:"is_trialing"`
	IsPremium          bool          `json:"is_premium"`
}

func newSubscriptionResponse(s *payments.Subscription, plan *payments.Plan, premium bool, now time.Time) subscriptionResponse {
	out := subscriptionResponse{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		TrialStart:         s.TrialStart,
		TrialEnd:           s.TrialEnd,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		IsActive:           s.IsActive(now),
		IsTrialing:         s.IsTrialing(now),
		IsPremium:          premium,
	}
	if end, ok := s.AccessEndsAt(); ok {
		out.AccessEndsAt = &end
	}
	if plan != nil {
		p := newPlanResponse(*plan)
		out.Plan = &p
	}
	return out
}

type transactionResponse struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID *uuid.UUID      `json:"subscription_id,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newTransactionResponses(rows []payments.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(rows))
	for _, t := range rows {
		out = append(out, transactionResponse{
			ID:             t.ID,
			SubscriptionID: t.SubscriptionID,
			Amount:         t.Amount,
			Currency:       t.Currency,
			Status:         string(t.Status),
			PaidAt:         t.PaidAt,
			Description:    t.Description,
			CreatedAt:      t.CreatedAt,
		})
	}
	return out
}

type checkoutRequest struct {
	PlanID     uuid.UUID `json:"plan_id"`
	SuccessURL string    `json:"success_url,omitempty"`
	CancelURL  string    `json:"cancel_url,omitempty"`
}

type checkoutResponse struct {
	SessionID   string     `json:"session_id"`
	RedirectURL string     `json:"redirect_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type transactionsQuery struct {
	Limit  int    `query:"limit"`
	Cursor string `query:"cursor"`
}

type adminPlansQuery struct {
	IncludeInactive *bool `query:"include_inactive"`
}

type upsertPlanRequest struct {
	ID              uuid.UUID       `json:"id"`
	Name            string          `json:"name"`
	ExternalPriceID string          `json:"external_price_id"`
	Price           decimal.Decimal `json:"price"`
	Currency        string          `json:"currency"`
	BillingCycle    string          `json:"billing_cycle"`
	Features        map[string]any  `json:"features,omitempty"`
	IsActive        *bool           `json:"is_active,omitempty"`
	DisplayOrder    int             `json:"display_order"`
}

func (r upsertPlanRequest) input() payments.PlanInput {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}
	return payments.PlanInput{
		ID:              r.ID,
		Name:            r.Name,
		ExternalPriceID: r.ExternalPriceID,
		Price:           r.Price,
		Currency:        r.Currency,
		BillingCycle:    payments.BillingCycle(r.BillingCycle),
		Features:        r.Features,
		IsActive:        active,
		DisplayOrder:    r.DisplayOrder,
	}
}

type userPath struct {
	UserID uuid.UUID `path:"id"`
}

type webhookResponse struct {
	EventID string `json:"event_id,omitempty"`
	Outcome string `json:"outcome"`
}

package payments

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Plan is an offered subscription product, keyed on the provider side by
// ExternalPriceID.
type Plan struct {
	ID              uuid.UUID
	Name            string
	ExternalPriceID string
	Price           decimal.Decimal
	Currency        string
	BillingCycle    BillingCycle
	// Features maps a capability to its limit. The shape is up to consumers.
	Features     map[string]any
	IsActive     bool
	DisplayOrder int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PlanInput is the admin-facing write model. A zero ID creates a plan.
type PlanInput struct {
	ID              uuid.UUID
	Name            string
	ExternalPriceID string
	Price           decimal.Decimal
	Currency        string
	BillingCycle    BillingCycle
	Features        map[string]any
	IsActive        bool
	DisplayOrder    int
}

// maxPrice is the first value NUMERIC(12,2) cannot hold.
var maxPrice = decimal.New(1, 10)

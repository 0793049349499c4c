package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/validator"
)

// Catalog owns the plan list and the price id -> plan mapping used to
// resolve provider events.
type Catalog struct {
	repo       Repository
	currencies Currencies
	opts       options
}

// NewCatalog returns a catalog over repo that accepts prices in currencies.
func NewCatalog(repo Repository, currencies Currencies, opts ...Option) *Catalog {
	return &Catalog{repo: repo, currencies: currencies, opts: newOptions(opts)}
}

// ListActivePlans returns plans offered for new subscriptions ordered by
// (display_order, name).
func (c *Catalog) ListActivePlans(ctx context.Context) ([]Plan, error) {
	return c.ListPlans(ctx, false)
}

// ListPlans returns every plan, or only active ones, ordered by display
// order and then name.
func (c *Catalog) ListPlans(ctx context.Context, includeInactive bool) ([]Plan, error) {
	plans, err := c.repo.ListPlans(ctx, includeInactive)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// GetPlan returns the plan with id or ErrNotFound.
func (c *Catalog) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	p, err := c.repo.GetPlan(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", id, err)
	}
	return p, nil
}

// GetPlanByPriceID resolves a provider price id to its plan or ErrNotFound.
func (c *Catalog) GetPlanByPriceID(ctx context.Context, priceID string) (*Plan, error) {
	p, err := c.repo.GetPlanByPriceID(ctx, priceID)
	if err != nil {
		return nil, fmt.Errorf("get plan by price %q: %w", priceID, err)
	}
	return p, nil
}

// UpsertPlan creates a plan when in.ID is zero and updates it otherwise.
func (c *Catalog) UpsertPlan(ctx context.Context, in PlanInput) (*Plan, error) {
	var out *Plan
	err := c.repo.InTx(ctx, func(tx Repository) error {
		p, err := c.upsert(ctx, tx, in)
		out = p
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SeedPlans upserts plans matched by external price id in one transaction.
func (c *Catalog) SeedPlans(ctx context.Context, inputs []PlanInput) ([]Plan, error) {
	out := make([]Plan, 0, len(inputs))
	err := c.repo.InTx(ctx, func(tx Repository) error {
		for _, in := range inputs {
			existing, err := tx.GetPlanByPriceID(ctx, strings.TrimSpace(in.ExternalPriceID))
			switch {
			case err == nil:
				in.ID = existing.ID
			case errors.Is(err, ErrNotFound):
				in.ID = uuid.Nil
			default:
				return fmt.Errorf("seed plan %q: %w", in.Name, err)
			}
			p, err := c.upsert(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("seed plan %q: %w", in.Name, err)
			}
			out = append(out, *p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) upsert(ctx context.Context, tx Repository, in PlanInput) (*Plan, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.ExternalPriceID = strings.TrimSpace(in.ExternalPriceID)

	if err := validator.Apply(
		validator.Required("name", in.Name),
		validator.MaxLen("name", in.Name, 100),
		validator.Required("external_price_id", in.ExternalPriceID),
		validator.MaxLen("external_price_id", in.ExternalPriceID, 255),
		validator.NonNegativeDecimal("price", in.Price),
		validator.MaxDecimalPlaces("price", in.Price, 2),
		validator.DecimalBelow("price", in.Price, maxPrice),
		validator.InList("billing_cycle", in.BillingCycle, BillingCycles),
	); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}
	currency, err := c.currencies.Normalize(in.Currency)
	if err != nil {
		return nil, errors.Join(err, validator.ValidationErrors{{Field: "currency", Message: "is not supported"}})
	}

	now := c.opts.clock()
	p := &Plan{
		ID:              in.ID,
		Name:            in.Name,
		ExternalPriceID: in.ExternalPriceID,
		Price:           in.Price,
		Currency:        currency,
		BillingCycle:    in.BillingCycle,
		Features:        maps.Clone(in.Features),
		IsActive:        in.IsActive,
		DisplayOrder:    in.DisplayOrder,
		UpdatedAt:       now,
	}
	if p.Features == nil {
		p.Features = map[string]any{}
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
		p.CreatedAt = now
		if err := tx.CreatePlan(ctx, p); err != nil {
			return nil, fmt.Errorf("create plan %q: %w", p.Name, err)
		}
		c.opts.log.InfoContext(ctx, "plan created",
			logger.Component("catalog"), slog.String("plan_id", p.ID.String()), logger.PriceID(p.ExternalPriceID))
		return p, nil
	}

	existing, err := tx.GetPlan(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", p.ID, err)
	}
	p.CreatedAt = existing.CreatedAt
	if err := tx.UpdatePlan(ctx, p); err != nil {
		return nil, fmt.Errorf("update plan %q: %w", p.Name, err)
	}
	c.opts.log.InfoContext(ctx, "plan updated",
		logger.Component("catalog"), slog.String("plan_id", p.ID.String()), logger.PriceID(p.ExternalPriceID))
	return p, nil
}

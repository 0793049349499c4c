package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gapeva/uplas/internal/payments"
)

const planColumns = `id, name, external_price_id, price::text, currency, billing_cycle,
	features, is_active, display_order, created_at, updated_at`

func (r *Repository) ListPlans(ctx context.Context, includeInactive bool) ([]payments.Plan, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE is_active OR $1
		ORDER BY display_order, name`, includeInactive)
	if err != nil {
		return nil, mapError(err, "list plans")
	}
	defer rows.Close()

	plans := make([]payments.Plan, 0)
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, mapError(err, "scan plan")
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list plans")
	}
	return plans, nil
}

func (r *Repository) GetPlan(ctx context.Context, id uuid.UUID) (*payments.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err, "get plan %s", id)
	}
	return p, nil
}

func (r *Repository) GetPlanByPriceID(ctx context.Context, priceID string) (*payments.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE external_price_id = $1`, priceID))
	if err != nil {
		return nil, mapError(err, "get plan by price %q", priceID)
	}
	return p, nil
}

func (r *Repository) CreatePlan(ctx context.Context, p *payments.Plan) error {
	features, err := encodeFeatures(p.Features)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO plans (id, name, external_price_id, price, currency, billing_cycle,
			features, is_active, display_order, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Name, p.ExternalPriceID, p.Price.String(), p.Currency, string(p.BillingCycle),
		features, p.IsActive, p.DisplayOrder, p.CreatedAt, p.UpdatedAt)
	return mapError(err, "insert plan %q", p.Name)
}

func (r *Repository) UpdatePlan(ctx context.Context, p *payments.Plan) error {
	features, err := encodeFeatures(p.Features)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE plans SET name = $2, external_price_id = $3, price = $4::numeric, currency = $5,
			billing_cycle = $6, features = $7, is_active = $8, display_order = $9, updated_at = $10
		WHERE id = $1`,
		p.ID, p.Name, p.ExternalPriceID, p.Price.String(), p.Currency, string(p.BillingCycle),
		features, p.IsActive, p.DisplayOrder, p.UpdatedAt)
	if err != nil {
		return mapError(err, "update plan %q", p.Name)
	}
	return requireRow(tag, "update plan %s", p.ID)
}

func scanPlan(row pgx.Row) (*payments.Plan, error) {
	var (
		p        payments.Plan
		price    string
		cycle    string
		features []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.ExternalPriceID, &price, &p.Currency, &cycle,
		&features, &p.IsActive, &p.DisplayOrder, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("plan %s price %q: %w", p.ID, price, err)
	}
	p.BillingCycle = payments.BillingCycle(cycle)
	p.Features = map[string]any{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, fmt.Errorf("plan %s features: %w", p.ID, err)
		}
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func encodeFeatures(f map[string]any) ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("%w: plan features: %v", payments.ErrInvalidArgument, err)
	}
	return b, nil
}

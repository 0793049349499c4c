package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/gapeva/uplas/internal/payments"
)

const transactionColumns = `id, user_id, subscription_id, external_charge_id, amount::text, currency,
	status, paid_at, description, created_at, updated_at`

func (r *Repository) LockTransactionByChargeID(ctx context.Context, chargeID string) (*payments.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE external_charge_id = $1 FOR UPDATE`, chargeID))
	if err != nil {
		return nil, mapError(err, "lock charge %q", chargeID)
	}
	return t, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, t *payments.Transaction) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (id, user_id, subscription_id, external_charge_id, amount, currency,
			status, paid_at, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, t.SubscriptionID, t.ExternalChargeID, t.Amount.StringFixed(2), t.Currency,
		string(t.Status), utcPtr(t.PaidAt), t.Description, t.CreatedAt, t.UpdatedAt)
	return mapError(err, "insert charge %q", t.ExternalChargeID)
}

// UpdateTransaction only moves status and paid_at; amounts are immutable.
func (r *Repository) UpdateTransaction(ctx context.Context, t *payments.Transaction) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status = $2, paid_at = $3, updated_at = $4
		WHERE id = $1`,
		t.ID, string(t.Status), utcPtr(t.PaidAt), t.UpdatedAt)
	if err != nil {
		return mapError(err, "update charge %q", t.ExternalChargeID)
	}
	return requireRow(tag, "update charge %s", t.ID)
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, page payments.Page) ([]payments.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`
	args := []any{userID}
	if page.After != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, page.After.CreatedAt, page.After.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if page.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, page.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list charges of user %s", userID)
	}
	defer rows.Close()

	out := make([]payments.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(err, "scan charge")
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list charges of user %s", userID)
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (*payments.Transaction, error) {
	var (
		t      payments.Transaction
		amount string
		status string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.SubscriptionID, &t.ExternalChargeID, &amount, &t.Currency,
		&status, &t.PaidAt, &t.Description, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("charge %s amount %q: %w", t.ID, amount, err)
	}
	t.Status = payments.TransactionStatus(status)
	t.PaidAt = utcPtr(t.PaidAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

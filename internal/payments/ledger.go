package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gapeva/uplas/pkg/logger"
	"github.com/gapeva/uplas/pkg/validator"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Ledger records charges, idempotently on the provider charge id.
type Ledger struct {
	repo       Repository
	currencies Currencies
	opts       options
}

// NewLedger returns a ledger over repo that accepts currencies.
func NewLedger(repo Repository, currencies Currencies, opts ...Option) *Ledger {
	return &Ledger{repo: repo, currencies: currencies, opts: newOptions(opts)}
}

// RecordInput describes one provider charge as reported by a webhook.
type RecordInput struct {
	ExternalChargeID string
	UserID           uuid.UUID
	SubscriptionID   *uuid.UUID
	Amount           decimal.Decimal
	Currency         string
	Status           TransactionStatus
	PaidAt           *time.Time
	Description      string
}

// Record inserts a charge. When the charge id is already known the call
// reduces to AdvanceStatus and returns the stored row.
func (l *Ledger) Record(ctx context.Context, tx Repository, in RecordInput) (*Transaction, error) {
	in.ExternalChargeID = strings.TrimSpace(in.ExternalChargeID)
	if in.ExternalChargeID == "" {
		return nil, fmt.Errorf("%w: external charge id is required", ErrInvalidArgument)
	}
	if !in.Status.Valid() {
		return nil, fmt.Errorf("%w: transaction status %q", ErrInvalidArgument, in.Status)
	}

	existing, err := tx.LockTransactionByChargeID(ctx, in.ExternalChargeID)
	switch {
	case err == nil:
		return l.advance(ctx, tx, existing, in.Status, in.PaidAt)
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("lock charge %q: %w", in.ExternalChargeID, err)
	}

	if err := validator.Apply(
		validator.RequiredUUID("user_id", in.UserID),
		validator.PositiveDecimal("amount", in.Amount),
		validator.DecimalBelow("amount", in.Amount, maxPrice),
		validator.MaxLen("description", in.Description, 1000),
	); err != nil {
		return nil, errors.Join(ErrInvalidArgument, err)
	}
	currency, err := l.currencies.Normalize(in.Currency)
	if err != nil {
		return nil, err
	}

	now := l.opts.clock()
	t := &Transaction{
		ID:               uuid.New(),
		UserID:           in.UserID,
		SubscriptionID:   in.SubscriptionID,
		ExternalChargeID: in.ExternalChargeID,
		Amount:           in.Amount.Round(2),
		Currency:         currency,
		Status:           in.Status,
		Description:      in.Description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.Status.settled() {
		t.PaidAt = paidAtOrNow(in.PaidAt, now)
	}

	if err := tx.CreateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("create charge %q: %w", in.ExternalChargeID, err)
	}
	l.opts.log.InfoContext(ctx, "charge recorded",
		logger.Component("ledger"), logger.UserID(t.UserID), logger.ChargeID(t.ExternalChargeID),
		logger.Status(t.Status), slog.String("amount", t.Amount.StringFixed(2)), slog.String("currency", t.Currency))
	return t, nil
}

// AdvanceStatus moves a charge forward. Repeating the current status is a
// no-op; anything outside the lifecycle is ErrIllegalTransition.
func (l *Ledger) AdvanceStatus(ctx context.Context, tx Repository, chargeID string, status TransactionStatus, paidAt *time.Time) (*Transaction, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: transaction status %q", ErrInvalidArgument, status)
	}
	t, err := tx.LockTransactionByChargeID(ctx, chargeID)
	if err != nil {
		return nil, fmt.Errorf("lock charge %q: %w", chargeID, err)
	}
	return l.advance(ctx, tx, t, status, paidAt)
}

func (l *Ledger) advance(ctx context.Context, tx Repository, t *Transaction, status TransactionStatus, paidAt *time.Time) (*Transaction, error) {
	if t.Status == status {
		return t, nil
	}
	if err := transactionLifecycle.Check(t.Status, status); err != nil {
		return nil, fmt.Errorf("charge %q: %w", t.ExternalChargeID, errors.Join(ErrIllegalTransition, err))
	}

	now := l.opts.clock()
	from := t.Status
	t.Status = status
	if status == TxSucceeded || (status == TxRefunded && t.PaidAt == nil) {
		t.PaidAt = paidAtOrNow(paidAt, now)
	}
	t.UpdatedAt = now

	if err := tx.UpdateTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("update charge %q: %w", t.ExternalChargeID, err)
	}
	l.opts.log.InfoContext(ctx, "charge status advanced",
		logger.Component("ledger"), logger.ChargeID(t.ExternalChargeID),
		slog.String("from", string(from)), slog.String("to", string(status)))
	return t, nil
}

// ListForUser pages through a user's charges newest first. The returned
// cursor is empty on the last page.
func (l *Ledger) ListForUser(ctx context.Context, userID uuid.UUID, limit int, cursor string) ([]Transaction, string, error) {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	rows, err := l.repo.ListTransactions(ctx, userID, Page{Limit: limit + 1, After: after})
	if err != nil {
		return nil, "", fmt.Errorf("list charges of user %s: %w", userID, err)
	}
	if len(rows) <= limit {
		return rows, "", nil
	}
	rows = rows[:limit]
	last := rows[len(rows)-1]
	return rows, Cursor{CreatedAt: last.CreatedAt, ID: last.ID}.Encode(), nil
}

func paidAtOrNow(paidAt *time.Time, now time.Time) *time.Time {
	if paidAt != nil && !paidAt.IsZero() {
		t := paidAt.UTC()
		return &t
	}
	return &now
}

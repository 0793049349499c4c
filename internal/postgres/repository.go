package postgres

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/gapeva/uplas/internal/payments"
	"github.com/gapeva/uplas/pkg/pg"
)

// Migrations holds the goose migrations for the payments schema.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations passed to pg.Migrate.
const MigrationsDir = "migrations"

// DB is satisfied by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository implements payments.Repository on PostgreSQL.
type Repository struct {
	db DB
}

var _ payments.Repository = (*Repository)(nil)

func NewRepository(db DB) *Repository {
	return &Repository{db: db}
}

// InTx opens a transaction, or a savepoint when r is already transactional.
func (r *Repository) InTx(ctx context.Context, fn func(tx payments.Repository) error) error {
	return pg.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// mapError translates driver errors into payments sentinels.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	switch {
	case pg.IsNotFoundError(err):
		return fmt.Errorf("%s: %w", msg, payments.ErrNotFound)
	case pg.IsDuplicateKeyError(err):
		return fmt.Errorf("%s: %w (%s)", msg, payments.ErrConflict, pg.ConstraintName(err))
	case pg.IsForeignKeyViolationError(err), pg.IsCheckViolationError(err):
		return fmt.Errorf("%s: %w (%s)", msg, payments.ErrInvalidArgument, pg.ConstraintName(err))
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func requireRow(tag pgconn.CommandTag, format string, args ...any) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), payments.ErrNotFound)
	}
	return nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, eventID, eventType string, receivedAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO processed_webhook_events (event_id, event_type, received_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, receivedAt)
	if err != nil {
		return false, mapError(err, "mark event %q processed", eventID)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) DeleteProcessedEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM processed_webhook_events WHERE received_at < $1`, before)
	if err != nil {
		return 0, mapError(err, "delete processed events")
	}
	return tag.RowsAffected(), nil
}

// DeleteUserData must run inside InTx to be atomic.
func (r *Repository) DeleteUserData(ctx context.Context, userID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID); err != nil {
		return mapError(err, "delete transactions of user %s", userID)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM subscriptions WHERE user_id = $1`, userID); err != nil {
		return mapError(err, "delete subscription of user %s", userID)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

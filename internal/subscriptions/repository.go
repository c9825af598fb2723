package subscriptions

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

// Store is the transactional view used by Subscribe and Cancel.
type Store interface {
	// LockActive loads the user's active subscription FOR UPDATE, or nil.
	LockActive(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	Insert(ctx context.Context, s *Subscription) error
	// Save persists Status and CancelledAt.
	Save(ctx context.Context, s *Subscription) error
	InsertHistory(ctx context.Context, h *HistoryEntry) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(Store) error) error
	GetActive(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]HistoryEntry, int64, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) InTx(ctx context.Context, fn func(Store) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgStore{db: tx})
	})
}

const subscriptionColumns = `id, user_id, plan, status, allocated_credits, credit_validity_days,
	started_at, current_period_end, cancelled_at`

func scanSubscription(row pgx.Row) (*Subscription, error) {
	s := &Subscription{}
	err := row.Scan(&s.ID, &s.UserID, &s.Plan, &s.Status, &s.AllocatedCredits, &s.CreditValidityDays,
		&s.StartedAt, &s.CurrentPeriodEnd, &s.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *postgresRepository) GetActive(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	s, err := scanSubscription(r.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 AND status = 'active'`, userID))
	if err != nil {
		return nil, fmt.Errorf("getting active subscription: %w", err)
	}
	return s, nil
}

func (r *postgresRepository) ListHistory(ctx context.Context, userID uuid.UUID, limit, offset int) ([]HistoryEntry, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscription_history WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting subscription history: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, subscription_id, user_id, action, old_plan, plan, created_at
		FROM subscription_history
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing subscription history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.SubscriptionID, &h.UserID, &h.Action, &h.OldPlan, &h.Plan, &h.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning subscription history: %w", err)
		}
		out = append(out, h)
	}
	return out, total, rows.Err()
}

type pgStore struct {
	db pgx.Tx
}

func (s *pgStore) LockActive(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub, err := scanSubscription(s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1 AND status = 'active' FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("locking active subscription: %w", err)
	}
	return sub, nil
}

func (s *pgStore) Insert(ctx context.Context, sub *Subscription) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscriptions (id, user_id, plan, status, allocated_credits, credit_validity_days,
			started_at, current_period_end, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.ID, sub.UserID, sub.Plan, sub.Status, sub.AllocatedCredits, sub.CreditValidityDays,
		sub.StartedAt, sub.CurrentPeriodEnd, sub.CancelledAt)
	if err != nil {
		if database.IsUniqueViolation(err, "idx_subscriptions_one_active") {
			return ErrAlreadySubscribed
		}
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

func (s *pgStore) Save(ctx context.Context, sub *Subscription) error {
	_, err := s.db.Exec(ctx,
		`UPDATE subscriptions SET status = $2, cancelled_at = $3 WHERE id = $1`,
		sub.ID, sub.Status, sub.CancelledAt)
	if err != nil {
		return fmt.Errorf("saving subscription: %w", err)
	}
	return nil
}

func (s *pgStore) InsertHistory(ctx context.Context, h *HistoryEntry) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO subscription_history (id, subscription_id, user_id, action, old_plan, plan, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		h.ID, h.SubscriptionID, h.UserID, h.Action, h.OldPlan, h.Plan, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting subscription history: %w", err)
	}
	return nil
}

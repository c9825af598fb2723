package credits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnhub/learnhub/internal/database"
)

// Store is the transactional view of the ledger. Every method runs inside
// the transaction opened by Repository.InTx.
type Store interface {
	// LockAccount loads the account row FOR UPDATE. It returns
	// ErrAccountNotFound when the user has no account yet.
	LockAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	CreateAccount(ctx context.Context, acct *Account) error
	SaveAccount(ctx context.Context, acct *Account) error

	InsertEntry(ctx context.Context, e *LedgerEntry) error
	UpdateEntry(ctx context.Context, e *LedgerEntry) error
	// LiveEntries locks the user's drawable entries in consumption order:
	// soonest expiry first, non-expiring last, oldest first on ties.
	LiveEntries(ctx context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error)
	// LapsedEntries locks entries whose expiry has passed but which are not
	// yet flagged expired.
	LapsedEntries(ctx context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error)

	InsertUsage(ctx context.Context, u *Usage) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	// InsertDailyBonus returns ErrBonusAlreadyClaimed when the user already
	// has a bonus for t.BonusDate.
	InsertDailyBonus(ctx context.Context, b *DailyBonus) error

	// DB exposes the transaction so other packages can write in it.
	DB() database.DBTX
}

type Repository interface {
	InTx(ctx context.Context, fn func(Store) error) error

	GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error)
	ListLedger(ctx context.Context, userID uuid.UUID, p ListParams) ([]LedgerEntry, int64, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, p ListParams) ([]Transaction, int64, error)
	ListUsage(ctx context.Context, userID uuid.UUID, p ListParams) ([]Usage, int64, error)
	// UsersWithLapsedEntries lists users owning at least one entry that
	// ExpireSweep would flip.
	UsersWithLapsedEntries(ctx context.Context, now time.Time) ([]uuid.UUID, error)
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

const accountColumns = `
	user_id, balance, free_credits, paid_credits,
	total_earned_free, total_purchased, total_spent, total_expired,
	last_daily_bonus_at, daily_streak, longest_streak,
	daily_spend_limit, monthly_spend_limit, spent_today, spent_this_month, last_reset_date,
	created_at, updated_at`

func scanAccount(row pgx.Row) (*Account, error) {
	a := &Account{}
	err := row.Scan(
		&a.UserID, &a.Balance, &a.FreeCredits, &a.PaidCredits,
		&a.TotalEarnedFree, &a.TotalPurchased, &a.TotalSpent, &a.TotalExpired,
		&a.LastDailyBonusAt, &a.DailyStreak, &a.LongestStreak,
		&a.DailySpendLimit, &a.MonthlySpendLimit, &a.SpentToday, &a.SpentThisMonth, &a.LastResetDate,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

const entryColumns = `
	id, user_id, credit_type, amount, balance_remaining, is_depleted,
	expires_at, is_expired, expired_amount, source, COALESCE(source_reference, ''), description, created_at`

func scanEntries(rows pgx.Rows) ([]LedgerEntry, error) {
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.CreditType, &e.Amount, &e.BalanceRemaining, &e.IsDepleted,
			&e.ExpiresAt, &e.IsExpired, &e.ExpiredAmount, &e.Source, &e.SourceReference, &e.Description, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating ledger entries: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("querying credit account: %w", err)
	}
	return a, nil
}

func (r *postgresRepository) ListLedger(ctx context.Context, userID uuid.UUID, p ListParams) ([]LedgerEntry, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_ledger WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting ledger entries: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM credit_ledger
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing ledger entries: %w", err)
	}
	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *postgresRepository) ListTransactions(ctx context.Context, userID uuid.UUID, p ListParams) ([]Transaction, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting credit transactions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, type, amount, balance_before, balance_after, ledger_entries, description, created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing credit transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter,
			&t.LedgerEntries, &t.Description, &t.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning credit transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating credit transactions: %w", err)
	}
	return out, total, nil
}

func (r *postgresRepository) ListUsage(ctx context.Context, userID uuid.UUID, p ListParams) ([]Usage, int64, error) {
	var total int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credit_usage WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting credit usage: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, ledger_id, amount_used, used_for,
		        COALESCE(reference_id, ''), COALESCE(reference_type, ''), classroom_id, chat_room_id, created_at
		 FROM credit_usage
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing credit usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.ID, &u.UserID, &u.LedgerID, &u.AmountUsed, &u.UsedFor,
			&u.ReferenceID, &u.ReferenceType, &u.ClassroomID, &u.ChatRoomID, &u.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning credit usage: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating credit usage: %w", err)
	}
	return out, total, nil
}

func (r *postgresRepository) UsersWithLapsedEntries(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM credit_ledger
		 WHERE NOT is_expired AND expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("finding users with lapsed credits: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgStore struct {
	db database.DBTX
}

func (s *pgStore) DB() database.DBTX { return s.db }

func (s *pgStore) LockAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	a, err := scanAccount(s.db.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM credit_accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("locking credit account: %w", err)
	}
	return a, nil
}

func (s *pgStore) CreateAccount(ctx context.Context, a *Account) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credit_accounts (user_id, daily_spend_limit, monthly_spend_limit, last_reset_date, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		a.UserID, a.DailySpendLimit, a.MonthlySpendLimit, a.LastResetDate, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating credit account: %w", err)
	}
	return nil
}

func (s *pgStore) SaveAccount(ctx context.Context, a *Account) error {
	_, err := s.db.Exec(ctx,
		`UPDATE credit_accounts SET
			balance = $2, free_credits = $3, paid_credits = $4,
			total_earned_free = $5, total_purchased = $6, total_spent = $7, total_expired = $8,
			last_daily_bonus_at = $9, daily_streak = $10, longest_streak = $11,
			daily_spend_limit = $12, monthly_spend_limit = $13,
			spent_today = $14, spent_this_month = $15, last_reset_date = $16,
			updated_at = $17
		 WHERE user_id = $1`,
		a.UserID, a.Balance, a.FreeCredits, a.PaidCredits,
		a.TotalEarnedFree, a.TotalPurchased, a.TotalSpent, a.TotalExpired,
		a.LastDailyBonusAt, a.DailyStreak, a.LongestStreak,
		a.DailySpendLimit, a.MonthlySpendLimit,
		a.SpentToday, a.SpentThisMonth, a.LastResetDate,
		a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving credit account: %w", err)
	}
	return nil
}

func (s *pgStore) InsertEntry(ctx context.Context, e *LedgerEntry) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credit_ledger (id, user_id, credit_type, amount, balance_remaining, is_depleted,
		                            expires_at, is_expired, expired_amount, source, source_reference, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''), $12, $13)`,
		e.ID, e.UserID, e.CreditType, e.Amount, e.BalanceRemaining, e.IsDepleted,
		e.ExpiresAt, e.IsExpired, e.ExpiredAmount, e.Source, e.SourceReference, e.Description, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (s *pgStore) UpdateEntry(ctx context.Context, e *LedgerEntry) error {
	_, err := s.db.Exec(ctx,
		`UPDATE credit_ledger
		 SET balance_remaining = $2, is_depleted = $3, is_expired = $4, expired_amount = $5
		 WHERE id = $1`,
		e.ID, e.BalanceRemaining, e.IsDepleted, e.IsExpired, e.ExpiredAmount)
	if err != nil {
		return fmt.Errorf("updating ledger entry: %w", err)
	}
	return nil
}

func (s *pgStore) LiveEntries(ctx context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entryColumns+` FROM credit_ledger
		 WHERE user_id = $1 AND NOT is_depleted AND NOT is_expired
		   AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY expires_at ASC NULLS LAST, created_at ASC
		 FOR UPDATE`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("locking live ledger entries: %w", err)
	}
	return scanEntries(rows)
}

func (s *pgStore) LapsedEntries(ctx context.Context, userID uuid.UUID, now time.Time) ([]LedgerEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+entryColumns+` FROM credit_ledger
		 WHERE user_id = $1 AND NOT is_expired
		   AND expires_at IS NOT NULL AND expires_at <= $2
		 ORDER BY expires_at ASC
		 FOR UPDATE`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("locking lapsed ledger entries: %w", err)
	}
	return scanEntries(rows)
}

func (s *pgStore) InsertUsage(ctx context.Context, u *Usage) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credit_usage (id, user_id, ledger_id, amount_used, used_for,
		                           reference_id, reference_type, classroom_id, chat_room_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)`,
		u.ID, u.UserID, u.LedgerID, u.AmountUsed, u.UsedFor,
		u.ReferenceID, u.ReferenceType, u.ClassroomID, u.ChatRoomID, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting credit usage: %w", err)
	}
	return nil
}

func (s *pgStore) InsertTransaction(ctx context.Context, t *Transaction) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, balance_before, balance_after,
		                                  ledger_entries, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.UserID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter,
		t.LedgerEntries, t.Description, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting credit transaction: %w", err)
	}
	return nil
}

func (s *pgStore) InsertDailyBonus(ctx context.Context, b *DailyBonus) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO daily_bonuses (id, user_id, amount, streak_day, base_amount, streak_multiplier,
		                            ledger_id, bonus_date, claimed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		b.ID, b.UserID, b.Amount, b.StreakDay, b.BaseAmount, b.StreakMultiplier,
		b.LedgerID, b.BonusDate, b.ClaimedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "daily_bonuses_user_date_key") {
			return ErrBonusAlreadyClaimed
		}
		return fmt.Errorf("inserting daily bonus: %w", err)
	}
	return nil
}

package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/config"
	"github.com/learnhub/learnhub/internal/database"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/notify"
)

// Sources recorded on ledger entries created by the service itself.
const (
	SourceDailyBonus = "daily_bonus"
	SourceReferral   = "referral"
	SourceAdmin      = "admin"
)

var lowBalanceThreshold = decimal.NewFromInt(1)

type ServiceOptions struct {
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Service owns every mutation of credit accounts and ledger entries. Each
// public operation runs in a single transaction that locks the account row
// before any ledger row.
type Service struct {
	repo     Repository
	cfg      config.CreditConfig
	audit    audit.Recorder
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(repo Repository, cfg config.CreditConfig, rec audit.Recorder, notifier notify.Notifier, opts ServiceOptions) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		cfg:      cfg,
		audit:    rec,
		notifier: notifier,
		now:      now,
	}
}

// Grant adds a new ledger entry for req.UserID, creating the account if
// needed.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (*LedgerEntry, error) {
	now := s.now()
	if req.ExpiresAt == nil && req.ExpiresIn != 0 {
		expires := now.Add(req.ExpiresIn)
		req.ExpiresAt = &expires
	}
	if err := validateGrant(req, now); err != nil {
		return nil, err
	}

	var (
		entry   *LedgerEntry
		balance decimal.Decimal
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		acct, err := s.lockOrCreate(ctx, st, req.UserID, now)
		if err != nil {
			return err
		}
		entry, err = applyGrant(ctx, st, acct, req, now)
		balance = acct.Balance
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}

	s.afterGrant(ctx, entry)
	s.notifier.Notify(ctx, req.UserID, notify.TemplateCreditsGranted, map[string]any{
		"amount":      entry.Amount.String(),
		"credit_type": string(entry.CreditType),
		"expires_at":  entry.ExpiresAt,
		"balance":     balance.String(),
	})
	return entry, nil
}

// GrantReferralBonuses credits a new user and the user who referred them.
// Zero configured amounts are skipped.
func (s *Service) GrantReferralBonuses(ctx context.Context, refereeID, referrerID uuid.UUID) error {
	expires := s.now().Add(s.cfg.ReferralValidity)
	grants := []GrantRequest{
		{
			UserID:          refereeID,
			Amount:          s.cfg.ReferralBonus,
			SourceReference: referrerID.String(),
			Description:     "Referral welcome bonus",
		},
		{
			UserID:          referrerID,
			Amount:          s.cfg.ReferrerBonus,
			SourceReference: refereeID.String(),
			Description:     "Referral reward",
		},
	}

	var errs []error
	for _, g := range grants {
		if !g.Amount.IsPositive() {
			continue
		}
		g.Type = CreditReferral
		g.Source = SourceReferral
		g.ExpiresAt = &expires
		if _, err := s.Grant(ctx, g); err != nil {
			errs = append(errs, fmt.Errorf("granting referral credit to %s: %w", g.UserID, err))
		}
	}
	return errors.Join(errs...)
}

// Consume draws req.Amount from the user's live entries, soonest expiry
// first. Nothing is written unless the whole amount can be drawn.
func (s *Service) Consume(ctx context.Context, req ConsumeRequest) (*ConsumeResult, error) {
	if !ValidAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	now := s.now()

	var (
		result  *ConsumeResult
		drawn   []LedgerEntry
		expired []LedgerEntry
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		acct, err := s.lockOrCreate(ctx, st, req.UserID, now)
		if err != nil {
			return err
		}

		expired, err = expireLapsed(ctx, st, acct, now)
		if err != nil {
			return err
		}

		resetSpendCounters(acct, now)

		if acct.Balance.LessThan(req.Amount) {
			return ErrInsufficientCredits
		}
		if exceedsLimit(acct.DailySpendLimit, acct.SpentToday, req.Amount) ||
			exceedsLimit(acct.MonthlySpendLimit, acct.SpentThisMonth, req.Amount) {
			return ErrSpendLimitExceeded
		}

		entries, err := st.LiveEntries(ctx, req.UserID, now)
		if err != nil {
			return err
		}

		before := acct.Balance
		remaining := req.Amount
		usages := make([]Usage, 0, 2)
		ids := make([]uuid.UUID, 0, 2)

		for i := range entries {
			if !remaining.IsPositive() {
				break
			}
			e := &entries[i]
			take := decimal.Min(e.BalanceRemaining, remaining)
			if !take.IsPositive() {
				continue
			}

			e.BalanceRemaining = e.BalanceRemaining.Sub(take)
			if e.BalanceRemaining.IsZero() {
				e.IsDepleted = true
			}
			if err := st.UpdateEntry(ctx, e); err != nil {
				return err
			}

			u := Usage{
				ID:            uuid.New(),
				UserID:        req.UserID,
				LedgerID:      e.ID,
				AmountUsed:    take,
				UsedFor:       req.Reason,
				ReferenceID:   req.ReferenceID,
				ReferenceType: req.ReferenceType,
				ClassroomID:   req.ClassroomID,
				ChatRoomID:    req.ChatRoomID,
				CreatedAt:     now,
			}
			if err := st.InsertUsage(ctx, &u); err != nil {
				return err
			}

			if e.ExpiresAt != nil {
				acct.FreeCredits = acct.FreeCredits.Sub(take)
			} else {
				acct.PaidCredits = acct.PaidCredits.Sub(take)
			}
			remaining = remaining.Sub(take)
			usages = append(usages, u)
			ids = append(ids, e.ID)
			drawn = append(drawn, *e)
		}

		if remaining.IsPositive() {
			return fmt.Errorf("ledger for user %s is %s short of account balance", req.UserID, remaining)
		}

		acct.Balance = acct.Balance.Sub(req.Amount)
		acct.TotalSpent = acct.TotalSpent.Add(req.Amount)
		acct.SpentToday = acct.SpentToday.Add(req.Amount)
		acct.SpentThisMonth = acct.SpentThisMonth.Add(req.Amount)
		acct.UpdatedAt = now
		if err := st.SaveAccount(ctx, acct); err != nil {
			return err
		}

		if err := st.InsertTransaction(ctx, &Transaction{
			ID:            uuid.New(),
			UserID:        req.UserID,
			Type:          TxSpend,
			Amount:        req.Amount,
			BalanceBefore: before,
			BalanceAfter:  acct.Balance,
			LedgerEntries: ids,
			Description:   req.Reason,
			CreatedAt:     now,
		}); err != nil {
			return err
		}

		if req.Within != nil {
			if err := req.Within(ctx, st.DB()); err != nil {
				return err
			}
		}

		result = &ConsumeResult{Usages: usages, Balance: acct.Balance}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}

	s.afterExpiry(ctx, req.UserID, expired)
	for i, u := range result.Usages {
		metrics.CreditsConsumedTotal.WithLabelValues(string(drawn[i].CreditType)).Add(u.AmountUsed.InexactFloat64())
	}
	s.audit.Record(ctx, audit.Event{
		UserID:       req.UserID,
		Type:         audit.EventCreditsConsumed,
		ResourceType: "credit_account",
		ResourceID:   req.UserID.String(),
		Details: map[string]any{
			"amount":         req.Amount.String(),
			"reason":         req.Reason,
			"reference_id":   req.ReferenceID,
			"reference_type": req.ReferenceType,
			"entries":        len(result.Usages),
			"balance_after":  result.Balance.String(),
		},
	})
	if result.Balance.LessThan(lowBalanceThreshold) {
		s.notifier.Notify(ctx, req.UserID, notify.TemplateLowBalance, map[string]any{
			"balance": result.Balance.String(),
		})
	}
	return result, nil
}

// ExpireSweep expires every lapsed entry, one user per transaction. A
// failure for one user does not stop the sweep; all failures are joined
// into the returned error.
func (s *Service) ExpireSweep(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	users, err := s.repo.UsersWithLapsedEntries(ctx, now)
	if err != nil {
		return nil, err
	}

	res := &SweepResult{Amount: decimal.Zero}
	var errs []error
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		var expired []LedgerEntry
		err := s.repo.InTx(ctx, func(st Store) error {
			acct, err := st.LockAccount(ctx, userID)
			if err != nil {
				return err
			}
			expired, err = expireLapsed(ctx, st, acct, now)
			return err
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("expiring credits for user %s: %w", userID, mapErr(err)))
			continue
		}
		s.afterExpiry(ctx, userID, expired)

		// Entries that lapsed already depleted are flagged but forfeit nothing.
		counted := 0
		for _, e := range expired {
			if !e.ExpiredAmount.IsPositive() {
				continue
			}
			counted++
			res.Amount = res.Amount.Add(e.ExpiredAmount)
		}
		if counted > 0 {
			res.Users++
			res.Entries += counted
		}
	}

	if len(users) > 0 {
		slog.Info("credit expiry sweep finished",
			"users", res.Users,
			"entries", res.Entries,
			"amount", res.Amount.String(),
			"errors", len(errs),
		)
	}
	return res, errors.Join(errs...)
}

// GrantDailyBonus grants today's bonus, scaled by the user's streak.
func (s *Service) GrantDailyBonus(ctx context.Context, userID uuid.UUID) (*DailyBonus, error) {
	now := s.now()
	today := bonusDay(now)

	var (
		bonus *DailyBonus
		entry *LedgerEntry
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		acct, err := s.lockOrCreate(ctx, st, userID, now)
		if err != nil {
			return err
		}
		if acct.LastDailyBonusAt != nil && bonusDay(*acct.LastDailyBonusAt).Equal(today) {
			return ErrBonusAlreadyClaimed
		}

		streak := NextStreak(acct.LastDailyBonusAt, acct.DailyStreak, now)
		multiplier := MultiplierFor(s.cfg.StreakMultipliers, streak)
		amount := s.cfg.DailyBonusBase.Mul(multiplier).Truncate(AmountScale)
		expires := now.Add(s.cfg.DailyBonusValidity)

		claimedAt := now
		acct.LastDailyBonusAt = &claimedAt
		acct.DailyStreak = streak
		acct.LongestStreak = max(acct.LongestStreak, streak)

		entry, err = applyGrant(ctx, st, acct, GrantRequest{
			UserID:      userID,
			Amount:      amount,
			Type:        CreditFreeDaily,
			ExpiresAt:   &expires,
			Source:      SourceDailyBonus,
			Description: fmt.Sprintf("Daily bonus, day %d", streak),
		}, now)
		if err != nil {
			return err
		}

		bonus = &DailyBonus{
			ID:               uuid.New(),
			UserID:           userID,
			Amount:           amount,
			StreakDay:        streak,
			BaseAmount:       s.cfg.DailyBonusBase,
			StreakMultiplier: multiplier,
			LedgerID:         entry.ID,
			BonusDate:        today,
			ClaimedAt:        now,
		}
		return st.InsertDailyBonus(ctx, bonus)
	})
	if err != nil {
		return nil, mapErr(err)
	}

	metrics.DailyBonusClaimsTotal.Inc()
	s.afterGrant(ctx, entry)
	s.notifier.Notify(ctx, userID, notify.TemplateDailyBonus, map[string]any{
		"amount":     bonus.Amount.String(),
		"streak_day": bonus.StreakDay,
		"multiplier": bonus.StreakMultiplier.String(),
	})
	return bonus, nil
}

// GetAccount returns the user's account, creating an empty one on first
// access. Lapsed entries are settled first so the balance is current.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID) (*Account, error) {
	now := s.now()
	var (
		acct    *Account
		expired []LedgerEntry
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		var err error
		acct, err = s.lockOrCreate(ctx, st, userID, now)
		if err != nil {
			return err
		}
		expired, err = expireLapsed(ctx, st, acct, now)
		return err
	})
	if err != nil {
		return nil, mapErr(err)
	}
	s.afterExpiry(ctx, userID, expired)
	return acct, nil
}

// SetSpendLimits replaces the user's daily and monthly limits. Zero
// removes a limit.
func (s *Service) SetSpendLimits(ctx context.Context, userID uuid.UUID, daily, monthly decimal.Decimal) (*Account, error) {
	if daily.IsNegative() || monthly.IsNegative() || !fitsScale(daily) || !fitsScale(monthly) {
		return nil, ErrInvalidSpendLimit
	}
	now := s.now()

	var acct *Account
	err := s.repo.InTx(ctx, func(st Store) error {
		var err error
		acct, err = s.lockOrCreate(ctx, st, userID, now)
		if err != nil {
			return err
		}
		acct.DailySpendLimit = daily
		acct.MonthlySpendLimit = monthly
		acct.UpdatedAt = now
		return st.SaveAccount(ctx, acct)
	})
	if err != nil {
		return nil, mapErr(err)
	}
	return acct, nil
}

func (s *Service) ListLedger(ctx context.Context, userID uuid.UUID, p ListParams) ([]LedgerEntry, int64, error) {
	return s.repo.ListLedger(ctx, userID, p)
}

func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, p ListParams) ([]Transaction, int64, error) {
	return s.repo.ListTransactions(ctx, userID, p)
}

func (s *Service) ListUsage(ctx context.Context, userID uuid.UUID, p ListParams) ([]Usage, int64, error) {
	return s.repo.ListUsage(ctx, userID, p)
}

func (s *Service) lockOrCreate(ctx context.Context, st Store, userID uuid.UUID, now time.Time) (*Account, error) {
	acct, err := st.LockAccount(ctx, userID)
	if !errors.Is(err, ErrAccountNotFound) {
		return acct, err
	}

	err = st.CreateAccount(ctx, &Account{
		UserID:            userID,
		DailySpendLimit:   s.cfg.DefaultDailySpendLimit,
		MonthlySpendLimit: s.cfg.DefaultMonthlySpendLimit,
		LastResetDate:     bonusDay(now),
		CreatedAt:         now,
	})
	if err != nil {
		return nil, err
	}
	return st.LockAccount(ctx, userID)
}

func (s *Service) afterGrant(ctx context.Context, e *LedgerEntry) {
	metrics.CreditsGrantedTotal.WithLabelValues(string(e.CreditType)).Add(e.Amount.InexactFloat64())
	s.audit.Record(ctx, audit.Event{
		UserID:       e.UserID,
		Type:         audit.EventCreditsGranted,
		ResourceType: "credit_ledger",
		ResourceID:   e.ID.String(),
		Details: map[string]any{
			"amount":      e.Amount.String(),
			"credit_type": string(e.CreditType),
			"source":      e.Source,
			"expires_at":  e.ExpiresAt,
		},
	})
}

func (s *Service) afterExpiry(ctx context.Context, userID uuid.UUID, expired []LedgerEntry) {
	if len(expired) == 0 {
		return
	}
	total := decimal.Zero
	forfeited := 0
	for _, e := range expired {
		if !e.ExpiredAmount.IsPositive() {
			continue
		}
		metrics.CreditsExpiredTotal.WithLabelValues(string(e.CreditType)).Add(e.ExpiredAmount.InexactFloat64())
		total = total.Add(e.ExpiredAmount)
		forfeited++
	}
	if !total.IsPositive() {
		return
	}
	s.audit.Record(ctx, audit.Event{
		UserID:       userID,
		Type:         audit.EventCreditsExpired,
		ResourceType: "credit_account",
		ResourceID:   userID.String(),
		Details: map[string]any{
			"entries": forfeited,
			"amount":  total.String(),
		},
	})
}

func validateGrant(req GrantRequest, now time.Time) error {
	if !ValidAmount(req.Amount) {
		return ErrInvalidAmount
	}
	if !req.Type.Valid() {
		return ErrInvalidCreditType
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return ErrInvalidExpiry
	}
	return nil
}

// applyGrant inserts the entry and credits the locked account. Entries with
// an expiry count as free credit, the rest as paid.
func applyGrant(ctx context.Context, st Store, acct *Account, req GrantRequest, now time.Time) (*LedgerEntry, error) {
	e := &LedgerEntry{
		ID:               uuid.New(),
		UserID:           req.UserID,
		CreditType:       req.Type,
		Amount:           req.Amount,
		BalanceRemaining: req.Amount,
		ExpiresAt:        req.ExpiresAt,
		ExpiredAmount:    decimal.Zero,
		Source:           req.Source,
		SourceReference:  req.SourceReference,
		Description:      req.Description,
		CreatedAt:        now,
	}
	if err := st.InsertEntry(ctx, e); err != nil {
		return nil, err
	}

	before := acct.Balance
	acct.Balance = acct.Balance.Add(req.Amount)
	if e.ExpiresAt != nil {
		acct.FreeCredits = acct.FreeCredits.Add(req.Amount)
	} else {
		acct.PaidCredits = acct.PaidCredits.Add(req.Amount)
	}

	txType := TxBonus
	if req.Type == CreditPaid {
		txType = TxPurchase
		acct.TotalPurchased = acct.TotalPurchased.Add(req.Amount)
	} else {
		acct.TotalEarnedFree = acct.TotalEarnedFree.Add(req.Amount)
	}
	acct.UpdatedAt = now
	if err := st.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}

	desc := req.Description
	if desc == "" {
		desc = req.Source
	}
	err := st.InsertTransaction(ctx, &Transaction{
		ID:            uuid.New(),
		UserID:        req.UserID,
		Type:          txType,
		Amount:        req.Amount,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		LedgerEntries: []uuid.UUID{e.ID},
		Description:   desc,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// expireLapsed flags every lapsed entry of the locked account as expired
// and removes what was left on them from the balance. It returns the
// entries it flipped.
func expireLapsed(ctx context.Context, st Store, acct *Account, now time.Time) ([]LedgerEntry, error) {
	lapsed, err := st.LapsedEntries(ctx, acct.UserID, now)
	if err != nil || len(lapsed) == 0 {
		return nil, err
	}

	before := acct.Balance
	total := decimal.Zero
	ids := make([]uuid.UUID, 0, len(lapsed))
	for i := range lapsed {
		e := &lapsed[i]
		e.ExpiredAmount = e.BalanceRemaining
		e.BalanceRemaining = decimal.Zero
		e.IsExpired = true
		if err := st.UpdateEntry(ctx, e); err != nil {
			return nil, err
		}
		total = total.Add(e.ExpiredAmount)
		ids = append(ids, e.ID)
	}

	// Depleted entries that lapse are only flagged.
	if !total.IsPositive() {
		return lapsed, nil
	}

	acct.Balance = acct.Balance.Sub(total)
	acct.FreeCredits = acct.FreeCredits.Sub(total)
	acct.TotalExpired = acct.TotalExpired.Add(total)
	acct.UpdatedAt = now
	if err := st.SaveAccount(ctx, acct); err != nil {
		return nil, err
	}

	err = st.InsertTransaction(ctx, &Transaction{
		ID:            uuid.New(),
		UserID:        acct.UserID,
		Type:          TxExpired,
		Amount:        total,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		LedgerEntries: ids,
		Description:   fmt.Sprintf("%d ledger entries expired", len(ids)),
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}
	return lapsed, nil
}

// resetSpendCounters zeroes the daily counter on a new UTC day and the
// monthly counter on a new month.
func resetSpendCounters(acct *Account, now time.Time) {
	today := bonusDay(now)
	last := bonusDay(acct.LastResetDate)
	if !today.After(last) {
		return
	}
	acct.SpentToday = decimal.Zero
	if today.Year() != last.Year() || today.Month() != last.Month() {
		acct.SpentThisMonth = decimal.Zero
	}
	acct.LastResetDate = today
}

func exceedsLimit(limit, spent, amount decimal.Decimal) bool {
	return limit.IsPositive() && spent.Add(amount).GreaterThan(limit)
}

func mapErr(err error) error {
	if database.IsRetryable(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnhub/learnhub/internal/database"
)

type CreditType string

const (
	CreditFreeDaily         CreditType = "free_daily"
	CreditFreeActivity      CreditType = "free_activity"
	CreditSubscriptionBonus CreditType = "subscription_bonus"
	CreditPaid              CreditType = "paid"
	CreditPromotional       CreditType = "promotional"
	CreditReferral          CreditType = "referral"
)

func (t CreditType) Valid() bool {
	switch t {
	case CreditFreeDaily, CreditFreeActivity, CreditSubscriptionBonus,
		CreditPaid, CreditPromotional, CreditReferral:
		return true
	}
	return false
}

type TransactionType string

const (
	TxPurchase            TransactionType = "purchase"
	TxSpend               TransactionType = "spend"
	TxBonus               TransactionType = "bonus"
	TxRefund              TransactionType = "refund"
	TxExpired             TransactionType = "expired"
	TxTransfer            TransactionType = "transfer"
	TxClassroomAllocation TransactionType = "classroom_allocation"
)

// Account holds a user's aggregate balances. Balance always equals the sum
// of BalanceRemaining over the user's live ledger entries.
type Account struct {
	UserID           uuid.UUID       `json:"user_id"`
	Balance          decimal.Decimal `json:"balance"`
	FreeCredits      decimal.Decimal `json:"free_credits"`
	PaidCredits      decimal.Decimal `json:"paid_credits"`
	TotalEarnedFree  decimal.Decimal `json:"total_earned_free"`
	TotalPurchased   decimal.Decimal `json:"total_purchased"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalExpired     decimal.Decimal `json:"total_expired"`
	LastDailyBonusAt *time.Time      `json:"last_daily_bonus_at,omitempty"`
	DailyStreak      int             `json:"daily_streak"`
	LongestStreak    int             `json:"longest_streak"`

	// Zero limits mean unlimited.
	DailySpendLimit   decimal.Decimal `json:"daily_spend_limit"`
	MonthlySpendLimit decimal.Decimal `json:"monthly_spend_limit"`
	SpentToday        decimal.Decimal `json:"spent_today"`
	SpentThisMonth    decimal.Decimal `json:"spent_this_month"`
	LastResetDate     time.Time       `json:"last_reset_date"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is one grant of credit. Only BalanceRemaining and the
// depleted/expired flags ever change after insert.
type LedgerEntry struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	CreditType       CreditType      `json:"credit_type"`
	Amount           decimal.Decimal `json:"amount"`
	BalanceRemaining decimal.Decimal `json:"balance_remaining"`
	IsDepleted       bool            `json:"is_depleted"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	IsExpired        bool            `json:"is_expired"`
	ExpiredAmount    decimal.Decimal `json:"expired_amount"`
	Source           string          `json:"source"`
	SourceReference  string          `json:"source_reference,omitempty"`
	Description      string          `json:"description,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Live reports whether the entry can still be drawn from.
func (e *LedgerEntry) Live() bool {
	return !e.IsDepleted && !e.IsExpired
}

// Usage links one consumption to one ledger entry it drew from.
type Usage struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	LedgerID      uuid.UUID       `json:"ledger_id"`
	AmountUsed    decimal.Decimal `json:"amount_used"`
	UsedFor       string          `json:"used_for"`
	ReferenceID   string          `json:"reference_id,omitempty"`
	ReferenceType string          `json:"reference_type,omitempty"`
	ClassroomID   *uuid.UUID      `json:"classroom_id,omitempty"`
	ChatRoomID    *uuid.UUID      `json:"chat_room_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Transaction is the audit row written for every account mutation.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	LedgerEntries []uuid.UUID     `json:"ledger_entries"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type DailyBonus struct {
	ID               uuid.UUID       `json:"id"`
	UserID           uuid.UUID       `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	StreakDay        int             `json:"streak_day"`
	BaseAmount       decimal.Decimal `json:"base_amount"`
	StreakMultiplier decimal.Decimal `json:"streak_multiplier"`
	LedgerID         uuid.UUID       `json:"ledger_id"`
	BonusDate        time.Time       `json:"bonus_date"`
	ClaimedAt        time.Time       `json:"claimed_at"`
}

// AmountScale is the number of fractional digits the amount columns keep.
const AmountScale = 4

// ValidAmount reports whether d is positive and fits AmountScale.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && fitsScale(d)
}

func fitsScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(AmountScale))
}

type GrantRequest struct {
	UserID    uuid.UUID
	Amount    decimal.Decimal
	Type      CreditType
	ExpiresAt *time.Time
	// ExpiresIn is resolved against the service clock when ExpiresAt is
	// nil. Zero means the grant never expires.
	ExpiresIn       time.Duration
	Source          string
	SourceReference string
	Description     string
}

type ConsumeRequest struct {
	UserID        uuid.UUID
	Amount        decimal.Decimal
	Reason        string
	ReferenceID   string
	ReferenceType string
	ClassroomID   *uuid.UUID
	ChatRoomID    *uuid.UUID

	// Within, when set, runs in the ledger transaction after the spend is
	// written. An error from it rolls the charge back.
	Within func(ctx context.Context, db database.DBTX) error
}

type ConsumeResult struct {
	Usages  []Usage         `json:"usages"`
	Balance decimal.Decimal `json:"balance"`
}

type SweepResult struct {
	Users   int             `json:"users"`
	Entries int             `json:"entries"`
	Amount  decimal.Decimal `json:"amount"`
}

type ListParams struct {
	Limit  int
	Offset int
}

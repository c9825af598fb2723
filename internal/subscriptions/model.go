package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PlanName string

const (
	PlanFree    PlanName = "free"
	PlanPro     PlanName = "pro"
	PlanPremium PlanName = "premium"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Action values recorded in subscription_history.
type Action string

const (
	ActionActivated  Action = "activated"
	ActionUpgraded   Action = "upgraded"
	ActionDowngraded Action = "downgraded"
	ActionCancelled  Action = "cancelled"
	ActionExpired    Action = "expired"
)

// Feature flags carried by a plan.
const (
	FeatureAIChat            = "ai_chat"
	FeatureQuizGeneration    = "quiz_generation"
	FeatureAdvancedAnalytics = "advanced_analytics"
	FeaturePrioritySupport   = "priority_support"
)

// Plan is a static plan definition.
type Plan struct {
	Name               PlanName        `json:"name"`
	Rank               int             `json:"-"`
	MonthlyCredits     decimal.Decimal `json:"monthly_credits"`
	CreditValidityDays int             `json:"credit_validity_days"`
	PeriodDays         int             `json:"period_days"`
	PDFUploadLimit     int             `json:"pdf_upload_limit"`
	Features           []string        `json:"features"`
}

var plans = []Plan{
	{
		Name:               PlanFree,
		Rank:               0,
		MonthlyCredits:     decimal.Zero,
		CreditValidityDays: 30,
		PeriodDays:         30,
		PDFUploadLimit:     1,
		Features:           []string{FeatureAIChat},
	},
	{
		Name:               PlanPro,
		Rank:               1,
		MonthlyCredits:     decimal.NewFromInt(500),
		CreditValidityDays: 30,
		PeriodDays:         30,
		PDFUploadLimit:     10,
		Features:           []string{FeatureAIChat, FeatureQuizGeneration},
	},
	{
		Name:               PlanPremium,
		Rank:               2,
		MonthlyCredits:     decimal.NewFromInt(2000),
		CreditValidityDays: 60,
		PeriodDays:         30,
		PDFUploadLimit:     50,
		Features:           []string{FeatureAIChat, FeatureQuizGeneration, FeatureAdvancedAnalytics, FeaturePrioritySupport},
	},
}

// Plans returns every plan, cheapest first.
func Plans() []Plan {
	out := make([]Plan, len(plans))
	copy(out, plans)
	return out
}

// LookupPlan returns the plan called name.
func LookupPlan(name PlanName) (Plan, bool) {
	for _, p := range plans {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}

// HasFeature reports whether the plan carries feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}

type Subscription struct {
	ID                 uuid.UUID       `json:"id"`
	UserID             uuid.UUID       `json:"user_id"`
	Plan               PlanName        `json:"plan"`
	Status             Status          `json:"status"`
	AllocatedCredits   decimal.Decimal `json:"allocated_credits"`
	CreditValidityDays int             `json:"credit_validity_days"`
	StartedAt          time.Time       `json:"started_at"`
	CurrentPeriodEnd   time.Time       `json:"current_period_end"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
}

type HistoryEntry struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	UserID         uuid.UUID `json:"user_id"`
	Action         Action    `json:"action"`
	OldPlan        *PlanName `json:"old_plan,omitempty"`
	Plan           PlanName  `json:"plan"`
	CreatedAt      time.Time `json:"created_at"`
}

// Current is a user's effective plan. Subscription is nil for users on the
// implicit free plan.
type Current struct {
	Plan         Plan          `json:"plan"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

type SubscribeRequest struct {
	Plan PlanName `json:"plan" validate:"required,oneof=free pro premium"`
}

package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/learnhub/learnhub/internal/audit"
	"github.com/learnhub/learnhub/internal/credits"
	"github.com/learnhub/learnhub/internal/metrics"
	"github.com/learnhub/learnhub/internal/notify"
)

// Granter issues the plan's credit allocation.
type Granter interface {
	Grant(ctx context.Context, req credits.GrantRequest) (*credits.LedgerEntry, error)
}

type Service struct {
	repo     Repository
	credits  Granter
	audit    audit.Recorder
	notifier notify.Notifier
	now      func() time.Time
}

func NewService(repo Repository, granter Granter, rec audit.Recorder, notifier notify.Notifier) *Service {
	if rec == nil {
		rec = audit.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		repo:     repo,
		credits:  granter,
		audit:    rec,
		notifier: notifier,
		now:      time.Now,
	}
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

// lapsed reports whether an active subscription has run past its period.
func lapsed(s *Subscription, now time.Time) bool {
	return s != nil && !s.CurrentPeriodEnd.After(now)
}

func changeAction(old *Subscription, next Plan) Action {
	if old == nil {
		return ActionActivated
	}
	prev, _ := LookupPlan(old.Plan)
	if next.Rank > prev.Rank {
		return ActionUpgraded
	}
	return ActionDowngraded
}

// Subscribe moves userID onto plan. Any active subscription is cancelled in
// the same transaction, and the plan's credits are granted once it commits.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID, name PlanName) (*Subscription, error) {
	plan, ok := LookupPlan(name)
	if !ok {
		return nil, ErrUnknownPlan
	}
	now := s.now().UTC()

	var (
		sub     *Subscription
		action  Action
		written []Action
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		written = written[:0]
		current, err := st.LockActive(ctx, userID)
		if err != nil {
			return err
		}
		if lapsed(current, now) {
			if err := s.close(ctx, st, current, StatusExpired, ActionExpired, now); err != nil {
				return err
			}
			written = append(written, ActionExpired)
			current = nil
		}
		if current != nil && current.Plan == plan.Name {
			return ErrAlreadySubscribed
		}

		action = changeAction(current, plan)
		var oldPlan *PlanName
		if current != nil {
			oldPlan = &current.Plan
			current.Status = StatusCancelled
			current.CancelledAt = &now
			if err := st.Save(ctx, current); err != nil {
				return err
			}
		}

		sub = &Subscription{
			ID:                 uuid.New(),
			UserID:             userID,
			Plan:               plan.Name,
			Status:             StatusActive,
			AllocatedCredits:   plan.MonthlyCredits,
			CreditValidityDays: plan.CreditValidityDays,
			StartedAt:          now,
			CurrentPeriodEnd:   now.Add(days(plan.PeriodDays)),
		}
		if err := st.Insert(ctx, sub); err != nil {
			return err
		}
		written = append(written, action)
		return st.InsertHistory(ctx, &HistoryEntry{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			UserID:         userID,
			Action:         action,
			OldPlan:        oldPlan,
			Plan:           plan.Name,
			CreatedAt:      now,
		})
	})
	if err != nil {
		return nil, err
	}
	countChanges(written...)

	if sub.AllocatedCredits.IsPositive() {
		expires := now.Add(days(sub.CreditValidityDays))
		_, err := s.credits.Grant(ctx, credits.GrantRequest{
			UserID:          userID,
			Amount:          sub.AllocatedCredits,
			Type:            credits.CreditSubscriptionBonus,
			ExpiresAt:       &expires,
			Source:          "subscription",
			SourceReference: sub.ID.String(),
			Description:     fmt.Sprintf("%s plan allocation", sub.Plan),
		})
		if err != nil {
			// The subscription stands; the allocation can be reissued with
			// learnhubctl credits grant.
			slog.Error("granting subscription credits",
				"error", err, "user_id", userID, "subscription_id", sub.ID)
		}
	}

	s.audit.Record(ctx, audit.Event{
		UserID:       userID,
		Type:         audit.EventSubscriptionChanged,
		Severity:     audit.SeverityInfo,
		ResourceType: "subscription",
		ResourceID:   sub.ID.String(),
		Details:      map[string]any{"plan": string(sub.Plan), "action": string(action)},
	})
	s.notifier.Notify(ctx, userID, notify.TemplateSubscription, map[string]any{
		"plan":    string(sub.Plan),
		"credits": sub.AllocatedCredits.String(),
	})
	return sub, nil
}

// Cancel ends the active subscription. Credits already granted stay until
// they expire.
func (s *Service) Cancel(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	now := s.now().UTC()
	var (
		sub     *Subscription
		expired bool
	)
	err := s.repo.InTx(ctx, func(st Store) error {
		current, err := st.LockActive(ctx, userID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNoActiveSubscription
		}
		// A lapsed row is closed as expired and the transaction commits,
		// but the caller still has nothing to cancel.
		expired = lapsed(current, now)
		if expired {
			return s.close(ctx, st, current, StatusExpired, ActionExpired, now)
		}
		sub = current
		return s.close(ctx, st, current, StatusCancelled, ActionCancelled, now)
	})
	if err != nil {
		return nil, err
	}
	if expired {
		countChanges(ActionExpired)
		return nil, ErrNoActiveSubscription
	}
	countChanges(ActionCancelled)

	s.audit.Record(ctx, audit.Event{
		UserID:       userID,
		Type:         audit.EventSubscriptionChanged,
		Severity:     audit.SeverityInfo,
		ResourceType: "subscription",
		ResourceID:   sub.ID.String(),
		Details:      map[string]any{"plan": string(sub.Plan), "action": string(ActionCancelled)},
	})
	return sub, nil
}

func countChanges(actions ...Action) {
	for _, a := range actions {
		metrics.SubscriptionChangesTotal.WithLabelValues(string(a)).Inc()
	}
}

func (s *Service) close(ctx context.Context, st Store, sub *Subscription, status Status, action Action, now time.Time) error {
	sub.Status = status
	if status == StatusCancelled {
		sub.CancelledAt = &now
	}
	if err := st.Save(ctx, sub); err != nil {
		return err
	}
	return st.InsertHistory(ctx, &HistoryEntry{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Action:         action,
		Plan:           sub.Plan,
		CreatedAt:      now,
	})
}

// Current returns the user's effective plan. Users without a live
// subscription are on the free plan.
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*Current, error) {
	sub, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil || lapsed(sub, s.now()) {
		free, _ := LookupPlan(PlanFree)
		return &Current{Plan: free}, nil
	}
	plan, ok := LookupPlan(sub.Plan)
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w %q", sub.ID, ErrUnknownPlan, sub.Plan)
	}
	return &Current{Plan: plan, Subscription: sub}, nil
}

// UploadLimit is the number of documents userID may keep.
func (s *Service) UploadLimit(ctx context.Context, userID uuid.UUID) (int, error) {
	c, err := s.Current(ctx, userID)
	if err != nil {
		return 0, err
	}
	return c.Plan.PDFUploadLimit, nil
}

func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]HistoryEntry, int64, error) {
	return s.repo.ListHistory(ctx, userID, limit, offset)
}

package subscriptions

import "errors"

var (
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrAlreadySubscribed    = errors.New("already subscribed to this plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
)

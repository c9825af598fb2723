package credits

import "errors"

var (
	ErrInvalidAmount          = errors.New("credit amount must be positive with at most 4 decimal places")
	ErrInvalidCreditType      = errors.New("unknown credit type")
	ErrInvalidExpiry          = errors.New("expiry must be in the future")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrSpendLimitExceeded     = errors.New("spend limit exceeded")
	ErrBonusAlreadyClaimed    = errors.New("daily bonus already claimed today")
	ErrConcurrentModification = errors.New("concurrent modification, retry with fresh state")
	ErrAccountNotFound        = errors.New("credit account not found")
	ErrInvalidSpendLimit      = errors.New("spend limits must be non-negative with at most 4 decimal places")
)

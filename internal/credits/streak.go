package credits

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/learnhub/learnhub/internal/config"
)

// bonusDay truncates t to its UTC calendar date.
func bonusDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextStreak returns the streak after a claim on today. The streak grows
// only when the previous claim fell exactly on the day before.
func NextStreak(last *time.Time, current int, today time.Time) int {
	if last == nil {
		return 1
	}
	if bonusDay(*last).AddDate(0, 0, 1).Equal(bonusDay(today)) {
		return current + 1
	}
	return 1
}

// MultiplierFor returns the multiplier of the highest threshold not above
// streak. multipliers must be sorted by Days ascending.
func MultiplierFor(multipliers []config.StreakMultiplier, streak int) decimal.Decimal {
	m := decimal.NewFromInt(1)
	for _, sm := range multipliers {
		if sm.Days > streak {
			break
		}
		m = sm.Multiplier
	}
	return m
}

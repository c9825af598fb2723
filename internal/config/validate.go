package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

// creditScale matches the NUMERIC(14,4) credit columns.
const creditScale = 4

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secrets
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		errs = append(errs, "JWT_REFRESH_SECRET must be at least 32 characters")
	}
	if c.JWT.AccessSecret != "" && c.JWT.RefreshSecret != "" && c.JWT.AccessSecret == c.JWT.RefreshSecret {
		errs = append(errs, "JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	// Encryption key protects two-factor secrets at rest: 64 hex chars (32 bytes)
	if c.Encryption.Key == "" {
		errs = append(errs, "ENCRYPTION_KEY is required")
	} else if len(c.Encryption.Key) != 64 {
		errs = append(errs, "ENCRYPTION_KEY must be exactly 64 hex characters (32 bytes)")
	} else if _, err := hex.DecodeString(c.Encryption.Key); err != nil {
		errs = append(errs, "ENCRYPTION_KEY must be valid hex")
	}

	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1-65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1-65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1-65535, got %d", c.Redis.Port))
	}

	if c.RateLimit.AuthRequestsPerMinute < 1 || c.RateLimit.ChatRequestsPerMinute < 1 {
		errs = append(errs, "RATELIMIT_AUTH_RPM and RATELIMIT_CHAT_RPM must be positive")
	}

	// Credits
	if !c.Credit.DailyBonusBase.IsPositive() {
		errs = append(errs, "CREDIT_DAILY_BONUS_BASE must be positive")
	}
	if c.Credit.DailyBonusValidity <= 0 {
		errs = append(errs, "CREDIT_DAILY_BONUS_VALIDITY must be positive")
	}
	if c.Credit.ExpireInterval <= 0 {
		errs = append(errs, "CREDIT_EXPIRE_INTERVAL must be positive")
	}
	if c.Credit.ReferralBonus.IsNegative() || c.Credit.ReferrerBonus.IsNegative() {
		errs = append(errs, "CREDIT_REFERRAL_BONUS and CREDIT_REFERRER_BONUS must not be negative")
	}
	if c.Credit.DefaultDailySpendLimit.IsNegative() || c.Credit.DefaultMonthlySpendLimit.IsNegative() {
		errs = append(errs, "credit spend limits must not be negative")
	}
	for _, s := range c.Credit.StreakMultipliers {
		if s.Multiplier.LessThan(decimal.NewFromInt(1)) {
			errs = append(errs, fmt.Sprintf("CREDIT_STREAK_MULTIPLIERS: multiplier for day %d must be >= 1", s.Days))
		}
	}
	if c.Chat.CreditsPerMessage.IsNegative() {
		errs = append(errs, "CHAT_CREDITS_PER_MESSAGE must not be negative")
	}
	for _, a := range []struct {
		name string
		val  decimal.Decimal
	}{
		{"CREDIT_DAILY_BONUS_BASE", c.Credit.DailyBonusBase},
		{"CREDIT_REFERRAL_BONUS", c.Credit.ReferralBonus},
		{"CREDIT_REFERRER_BONUS", c.Credit.ReferrerBonus},
		{"CREDIT_DAILY_SPEND_LIMIT", c.Credit.DefaultDailySpendLimit},
		{"CREDIT_MONTHLY_SPEND_LIMIT", c.Credit.DefaultMonthlySpendLimit},
		{"CHAT_CREDITS_PER_MESSAGE", c.Chat.CreditsPerMessage},
	} {
		if !a.val.Equal(a.val.Truncate(creditScale)) {
			errs = append(errs, fmt.Sprintf("%s must have at most %d decimal places", a.name, creditScale))
		}
	}

	// NATS is optional: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, notifications and audit events will be dropped")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

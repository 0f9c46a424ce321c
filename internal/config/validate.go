package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT verification secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Quota limits
	if c.Quota.TextDailyLimit < 1 {
		errs = append(errs, "QUOTA_TEXT_DAILY_LIMIT must be positive")
	}
	if c.Quota.TurboMinutes < 1 {
		errs = append(errs, "QUOTA_TURBO_MINUTES must be positive")
	}
	if c.Quota.BankMinutes < 1 {
		errs = append(errs, "QUOTA_BANK_MINUTES must be positive")
	}
	if c.Quota.TurboWindow <= 0 {
		errs = append(errs, "QUOTA_TURBO_WINDOW must be positive")
	}
	if c.Quota.PassDuration <= 0 {
		errs = append(errs, "QUOTA_PASS_DURATION must be positive")
	}
	if c.Quota.MaxUpdateRetries < 1 {
		errs = append(errs, "QUOTA_MAX_UPDATE_RETRIES must be positive")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

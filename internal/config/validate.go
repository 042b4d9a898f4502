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

	if len(c.JWT.Secret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters")
	}

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
	if c.Redis.Enabled() && (c.Redis.Port < 1 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	if c.Quota.UsageRetention <= 0 {
		errs = append(errs, "QUOTA_USAGE_RETENTION must be positive")
	}
	if c.Quota.ViolationRetention <= 0 {
		errs = append(errs, "QUOTA_VIOLATION_RETENTION must be positive")
	}
	if c.RateLimit.PublicMaxRequests < 1 {
		errs = append(errs, "RATELIMIT_PUBLIC_MAX_REQUESTS must be at least 1")
	}
	if c.RateLimit.PublicWindowSec < 1 {
		errs = append(errs, "RATELIMIT_PUBLIC_WINDOW_SEC must be at least 1")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

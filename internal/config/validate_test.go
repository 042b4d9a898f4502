package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "ledgerly",
			Password: "secret", Name: "ledgerly", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT: JWTConfig{
			Secret:       "service-secret-that-is-at-least-32-chars",
			AccessExpiry: 15 * time.Minute,
		},
		Quota: QuotaConfig{
			UsageRetention:     90 * 24 * time.Hour,
			ViolationRetention: 365 * 24 * time.Hour,
			CleanupSchedule:    "17 3 * * *",
		},
		RateLimit: RateLimitConfig{PublicMaxRequests: 60, PublicWindowSec: 60},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got: %v", err)
	}
}

func TestValidate_MissingDBPassword(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_BadServerPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 70000
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Fatalf("expected SERVER_PORT error, got: %v", err)
	}
}

func TestValidate_RedisDisabledSkipsPortCheck(t *testing.T) {
	cfg := validConfig()
	cfg.Redis = RedisConfig{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error with redis disabled, got: %v", err)
	}
}

func TestValidate_NonPositiveRetention(t *testing.T) {
	cfg := validConfig()
	cfg.Quota.UsageRetention = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "QUOTA_USAGE_RETENTION") {
		t.Fatalf("expected QUOTA_USAGE_RETENTION error, got: %v", err)
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.Secret = ""
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected both errors, got: %v", err)
	}
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether a redis endpoint is configured. The public-route
// rate limiter is skipped when it is not.
func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

type NATSConfig struct {
	URL string
}

// Enabled reports whether event publishing is configured.
func (c NATSConfig) Enabled() bool {
	return c.URL != ""
}

type JWTConfig struct {
	Secret       string
	AccessExpiry time.Duration
}

// QuotaConfig holds retention settings for usage and violation history.
type QuotaConfig struct {
	UsageRetention     time.Duration
	ViolationRetention time.Duration
	CleanupSchedule    string // cron spec
}

// RateLimitConfig bounds unauthenticated traffic per client IP.
type RateLimitConfig struct {
	PublicMaxRequests int
	PublicWindowSec   int
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		JWT: JWTConfig{
			Secret: k.String("jwt.secret"),
		},
		Quota: QuotaConfig{
			CleanupSchedule: k.String("quota.cleanup.schedule"),
		},
		RateLimit: RateLimitConfig{
			PublicMaxRequests: k.Int("ratelimit.public.max.requests"),
			PublicWindowSec:   k.Int("ratelimit.public.window.sec"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "ledgerly"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "ledgerly"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Quota.CleanupSchedule == "" {
		cfg.Quota.CleanupSchedule = "17 3 * * *"
	}
	if cfg.RateLimit.PublicMaxRequests == 0 {
		cfg.RateLimit.PublicMaxRequests = 60
	}
	if cfg.RateLimit.PublicWindowSec == 0 {
		cfg.RateLimit.PublicWindowSec = 60
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	accessExpStr := k.String("jwt.access.expiry")
	if accessExpStr == "" {
		accessExpStr = "15m"
	}
	cfg.JWT.AccessExpiry, err = time.ParseDuration(accessExpStr)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt access expiry: %w", err)
	}

	usageRetStr := k.String("quota.usage.retention")
	if usageRetStr == "" {
		usageRetStr = "2160h" // 90 days
	}
	cfg.Quota.UsageRetention, err = time.ParseDuration(usageRetStr)
	if err != nil {
		return nil, fmt.Errorf("parsing usage retention: %w", err)
	}

	violationRetStr := k.String("quota.violation.retention")
	if violationRetStr == "" {
		violationRetStr = "8760h" // 1 year, compliance history
	}
	cfg.Quota.ViolationRetention, err = time.ParseDuration(violationRetStr)
	if err != nil {
		return nil, fmt.Errorf("parsing violation retention: %w", err)
	}

	return cfg, nil
}

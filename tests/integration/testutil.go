//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	apirouter "github.com/ledgerly-hq/ledgerly/internal/router"
	"github.com/ledgerly-hq/ledgerly/internal/auth"
	"github.com/ledgerly-hq/ledgerly/internal/middleware"
	"github.com/ledgerly-hq/ledgerly/internal/quota"
	"github.com/ledgerly-hq/ledgerly/internal/subscription"
)

type TestEnv struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Server      *httptest.Server
	Engine      *quota.Engine
	Gate        *quota.Gate
	JWT         *auth.JWTManager
}

var testEnv *TestEnv

func SetupTestEnv(t *testing.T) *TestEnv {
	t.Helper()
	if testEnv != nil {
		return testEnv
	}

	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "ledgerly_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")

	// Start Redis container
	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	t.Cleanup(func() { redisContainer.Terminate(ctx) })

	redisHost, _ := redisContainer.Host(ctx)
	redisPort, _ := redisContainer.MappedPort(ctx, "6379")

	// Connect to PostgreSQL
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/ledgerly_test?sslmode=disable", pgHost, pgPort.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connecting to postgres: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	// Run migrations
	m, err := migrate.New(
		fmt.Sprintf("file://%s", getMigrationsPath()),
		dsn,
	)
	if err != nil {
		t.Fatalf("creating migrator: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port()),
	})
	t.Cleanup(func() { redisClient.Close() })

	// Wire the quota service against the real stores
	gate := quota.NewGate()
	engine, err := quota.NewEngine(
		quota.DefaultCatalog(),
		quota.NewRepository(pool),
		quota.NewCounterStore(pool),
		gate,
		quota.NewViolationLog(pool),
		subscription.NewService(pool),
		nil,
	)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	reporter := quota.NewReporter(quota.NewCounterStore(pool), gate, quota.NewViolationLog(pool))
	handler := quota.NewHandler(engine, reporter)

	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)
	publicLimiter := middleware.NewIPRateLimiter(redisClient, 60, 60)

	router := apirouter.NewRouter(pool, apirouter.RouterConfig{
		PublicRateLimiter: publicLimiter.Middleware,
	}, apirouter.HandlerSet{
		GetUsage:        handler.GetUsage,
		GetLimits:       handler.GetLimits,
		GetHistory:      handler.GetHistory,
		GetViolations:   handler.GetViolations,
		GetTopEndpoints: handler.GetTopEndpoints,
		CheckEndpoint:   handler.CheckEndpoint,
		UpgradeTier:     handler.UpgradeTier,
		ResetQuota:      handler.ResetQuota,
		ListTiers:       handler.ListTiers,

		AuthMiddleware:  auth.Middleware(jwtManager),
		AdminMiddleware: auth.RequireAdmin,
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() { server.Close() })

	testEnv = &TestEnv{
		Pool:        pool,
		RedisClient: redisClient,
		Server:      server,
		Engine:      engine,
		Gate:        gate,
		JWT:         jwtManager,
	}

	return testEnv
}

func getMigrationsPath() string {
	// Try relative paths from test directory
	paths := []string{
		"../../migrations",
		"../../../migrations",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

// Helper functions

// TokenFor mints an access token the way the platform auth service would.
func TokenFor(t *testing.T, env *TestEnv, userID uuid.UUID, admin bool) string {
	t.Helper()
	token, err := env.JWT.GenerateToken(userID.String(), "user@ledgerly.test", admin)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}
	return token
}

// SetQuotaLimits overwrites a user's limit row directly, bypassing the
// catalog, so tests can use small limits without hundreds of requests.
func SetQuotaLimits(t *testing.T, env *TestEnv, userID uuid.UUID, hour, day, month int64, concurrent int) {
	t.Helper()
	_, err := env.Pool.Exec(context.Background(), `
		INSERT INTO quotas (user_id, tier, requests_per_hour, requests_per_day, requests_per_month, storage_gb, concurrent_requests, reset_at)
		VALUES ($1, 'FREE', $2, $3, $4, 0.5, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			requests_per_hour = EXCLUDED.requests_per_hour,
			requests_per_day = EXCLUDED.requests_per_day,
			requests_per_month = EXCLUDED.requests_per_month,
			concurrent_requests = EXCLUDED.concurrent_requests`,
		userID, hour, day, month, concurrent)
	if err != nil {
		t.Fatalf("setting quota limits: %v", err)
	}
}

// GrantSubscription inserts an active subscription row for the user.
func GrantSubscription(t *testing.T, env *TestEnv, userID uuid.UUID) {
	t.Helper()
	_, err := env.Pool.Exec(context.Background(), `
		INSERT INTO subscriptions (id, user_id, plan_name, status, current_period_end)
		VALUES (gen_random_uuid(), $1, 'pro-monthly', 'active', NOW() + INTERVAL '30 days')`,
		userID)
	if err != nil {
		t.Fatalf("granting subscription: %v", err)
	}
}

func DoRequest(t *testing.T, env *TestEnv, method, path string, body any, token string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, env.Server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("doing request: %v", err)
	}
	return resp
}

func ParseResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result
}

func ParseList(t *testing.T, resp *http.Response) []any {
	t.Helper()
	defer resp.Body.Close()
	var result struct {
		Data []any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	return result.Data
}

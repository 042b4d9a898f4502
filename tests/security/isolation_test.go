//go:build integration

package security

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	apirouter "github.com/ledgerly-hq/ledgerly/internal/router"
	"github.com/ledgerly-hq/ledgerly/internal/auth"
	"github.com/ledgerly-hq/ledgerly/internal/quota"
	"github.com/ledgerly-hq/ledgerly/internal/subscription"
)

type testEnv struct {
	server *httptest.Server
	pool   *pgxpool.Pool
	engine *quota.Engine
	jwt    *auth.JWTManager
}

var env *testEnv

func setupSecurityTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if env != nil {
		return env
	}
	ctx := context.Background()

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "ledgerly_security_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	pgHost, _ := pgContainer.Host(ctx)
	pgPort, _ := pgContainer.MappedPort(ctx, "5432")
	dsn := fmt.Sprintf("postgres://test:test@%s:%s/ledgerly_security_test?sslmode=disable", pgHost, pgPort.Port())

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath()), dsn)
	require.NoError(t, err)
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("running migrations: %v", err)
	}

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
	require.NoError(t, err)
	reporter := quota.NewReporter(quota.NewCounterStore(pool), gate, quota.NewViolationLog(pool))
	handler := quota.NewHandler(engine, reporter)

	jwtManager := auth.NewJWTManager("test-access-secret-32-chars-long!!", 15*time.Minute)

	router := apirouter.NewRouter(pool, apirouter.RouterConfig{}, apirouter.HandlerSet{
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

	env = &testEnv{server: server, pool: pool, engine: engine, jwt: jwtManager}
	return env
}

func migrationsPath() string {
	for _, p := range []string{"../../migrations", "../../../migrations"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	log.Fatal("migrations directory not found")
	return ""
}

func get(t *testing.T, env *testEnv, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, env.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func dataOf(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Data
}

func TestUsersCannotSeeEachOthersUsage(t *testing.T) {
	env := setupSecurityTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, release, err := env.engine.CheckAndAdmit(ctx, alice, "/v1/invoices")
		require.NoError(t, err)
		release()
	}

	bobToken, err := env.jwt.GenerateToken(bob.String(), "bob@ledgerly.test", false)
	require.NoError(t, err)

	resp := get(t, env, "/api/v1/quota/usage", bobToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	usage := dataOf(t, resp)
	assert.Equal(t, float64(0), usage["hour"], "one user's traffic must never appear in another's usage")
}

func TestExhaustedQuotaDoesNotAffectOtherUsers(t *testing.T) {
	env := setupSecurityTestEnv(t)
	alice, bob := uuid.New(), uuid.New()

	_, err := env.pool.Exec(context.Background(), `
		INSERT INTO quotas (user_id, tier, requests_per_hour, requests_per_day, requests_per_month, storage_gb, concurrent_requests, reset_at)
		VALUES ($1, 'FREE', 1, 100, 1000, 0.5, 5, NOW())`, alice)
	require.NoError(t, err)

	ctx := context.Background()
	_, release, err := env.engine.CheckAndAdmit(ctx, alice, "/v1/invoices")
	require.NoError(t, err)
	release()

	denied, release, err := env.engine.CheckAndAdmit(ctx, alice, "/v1/invoices")
	require.NoError(t, err)
	release()
	require.False(t, denied.Admitted)

	decision, release, err := env.engine.CheckAndAdmit(ctx, bob, "/v1/invoices")
	require.NoError(t, err)
	release()
	assert.True(t, decision.Admitted, "denial of one user must not leak to another")
}

func TestNonAdminCannotResetQuotas(t *testing.T) {
	env := setupSecurityTestEnv(t)
	alice, victim := uuid.New(), uuid.New()

	token, err := env.jwt.GenerateToken(alice.String(), "alice@ledgerly.test", false)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/v1/admin/users/"+victim.String()+"/quota/reset", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestForgedTokenRejected(t *testing.T) {
	env := setupSecurityTestEnv(t)

	forger := auth.NewJWTManager("attacker-controlled-secret-32-ch!!", 15*time.Minute)
	token, err := forger.GenerateToken(uuid.NewString(), "attacker@evil.test", true)
	require.NoError(t, err)

	resp := get(t, env, "/api/v1/quota/usage", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpiredTokenRejected(t *testing.T) {
	env := setupSecurityTestEnv(t)

	expired := auth.NewJWTManager("test-access-secret-32-chars-long!!", -time.Minute)
	token, err := expired.GenerateToken(uuid.NewString(), "late@ledgerly.test", false)
	require.NoError(t, err)

	resp := get(t, env, "/api/v1/quota/usage", token)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMalformedBearerRejected(t *testing.T) {
	env := setupSecurityTestEnv(t)

	for _, header := range []string{"Bearer", "Basic dXNlcjpwYXNz", "Bearer not-a-jwt"} {
		req, err := http.NewRequest(http.MethodGet, env.server.URL+"/api/v1/quota/usage", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", header)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "header %q must be rejected", header)
	}
}

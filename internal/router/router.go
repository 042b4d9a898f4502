package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ledgerly-hq/ledgerly/internal/api"
	"github.com/ledgerly-hq/ledgerly/internal/database"
	mw "github.com/ledgerly-hq/ledgerly/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import cycles.
type HandlerSet struct {
	// Quota read endpoints
	GetUsage        http.HandlerFunc
	GetLimits       http.HandlerFunc
	GetHistory      http.HandlerFunc
	GetViolations   http.HandlerFunc
	GetTopEndpoints http.HandlerFunc
	CheckEndpoint   http.HandlerFunc

	// Quota write endpoints
	UpgradeTier http.HandlerFunc
	ResetQuota  http.HandlerFunc

	// Public catalog
	ListTiers http.HandlerFunc

	// Auth middleware
	AuthMiddleware  func(http.Handler) http.Handler
	AdminMiddleware func(http.Handler) http.Handler

	// Events connection health, nil when NATS is not configured
	EventsHealthy func() bool
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	PublicRateLimiter  func(http.Handler) http.Handler
}

func NewRouter(pool *pgxpool.Pool, cfg RouterConfig, h HandlerSet) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe — always 200, no dependency checks
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		api.JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	// Readiness probe — checks DB and the event bus
	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"events":   "healthy",
		}

		status := http.StatusOK

		if err := database.HealthCheck(r.Context(), pool); err != nil {
			health["database"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		if h.EventsHealthy == nil {
			health["events"] = "not configured"
		} else if !h.EventsHealthy() {
			health["events"] = "unhealthy"
			health["status"] = "degraded"
		}

		api.JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public tier catalog — rate-limited per IP when redis is wired
		r.Group(func(r chi.Router) {
			if cfg.PublicRateLimiter != nil {
				r.Use(cfg.PublicRateLimiter)
			}
			r.Get("/tiers", h.ListTiers)
		})

		// Authenticated quota routes
		r.Group(func(r chi.Router) {
			r.Use(h.AuthMiddleware)

			r.Route("/quota", func(r chi.Router) {
				r.Get("/usage", h.GetUsage)
				r.Get("/limits", h.GetLimits)
				r.Get("/history", h.GetHistory)
				r.Get("/violations", h.GetViolations)
				r.Get("/top-endpoints", h.GetTopEndpoints)
				r.Get("/check", h.CheckEndpoint)
				r.Post("/upgrade", h.UpgradeTier)
			})

			// Privileged operations
			r.Route("/admin", func(r chi.Router) {
				r.Use(h.AdminMiddleware)
				r.Post("/users/{userID}/quota/reset", h.ResetQuota)
			})
		})
	})

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fitvox/metering/internal/database"
	mw "github.com/fitvox/metering/internal/middleware"
)

// HandlerSet holds handler functions injected from main.go to avoid import
// cycles.
type HandlerSet struct {
	CheckVoice   http.HandlerFunc
	ConsumeVoice http.HandlerFunc

	CheckText     http.HandlerFunc
	IncrementText http.HandlerFunc

	ApplyRecharge    http.HandlerFunc
	ProcessRecharges http.HandlerFunc

	AuthMiddleware func(http.Handler) http.Handler
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimiter        func(http.Handler) http.Handler
	EventsHealthy      func() bool
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
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
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

		if cfg.EventsHealthy == nil {
			health["events"] = "not configured"
		} else if !cfg.EventsHealthy() {
			health["events"] = "unhealthy"
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}

		JSON(w, status, health)
	}

	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	// API v1 — every metering route requires a verified access token.
	r.Route("/api/v1/metering", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter)
		}
		r.Use(h.AuthMiddleware)

		r.Route("/voice", func(r chi.Router) {
			r.Get("/", h.CheckVoice)
			r.Post("/consume", h.ConsumeVoice)
		})

		r.Route("/text", func(r chi.Router) {
			r.Get("/", h.CheckText)
			r.Post("/increment", h.IncrementText)
		})

		r.Route("/recharges", func(r chi.Router) {
			r.Post("/{type}/apply", h.ApplyRecharge)
			r.Post("/process", h.ProcessRecharges)
		})
	})

	return r
}

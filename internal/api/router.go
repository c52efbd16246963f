package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/iRazvan2745/Storm/internal/cache"
	"github.com/iRazvan2745/Storm/internal/registry"
	"github.com/iRazvan2745/Storm/internal/results"
	"github.com/iRazvan2745/Storm/internal/targets"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
// Populated in main after all components are initialized.
type RouterConfig struct {
	Targets  *targets.Manager
	Registry *registry.Registry
	Engine   *results.Engine
	Cache    *cache.Cache
	Logger   *zap.Logger

	// APIKey is the shared secret required on the mutating endpoints.
	APIKey string

	// ServerID identifies this coordinator boot; returned from register so
	// agents can detect coordinator restarts.
	ServerID string
}

// NewRouter builds the fully configured Chi router serving the agent
// protocol, the dashboard queries, and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	// The dashboard is a plain browser consumer; allow everything,
	// including the custom identity headers, and preflight for free.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerAPIKey, headerAgentID},
		MaxAge:         300,
	}))

	agents := newAgentHandler(cfg.Registry, cfg.ServerID, cfg.Logger)
	targetsH := newTargetHandler(cfg.Targets, cfg.Logger)
	resultsH := newResultsHandler(cfg.Engine, cfg.Registry, cfg.Cache, cfg.Logger)
	uptime := newUptimeHandler(cfg.Engine, cfg.Cache, cfg.Logger)

	r.Route("/api", func(r chi.Router) {
		// Shared-secret endpoints.
		r.Group(func(r chi.Router) {
			r.Use(RequireAPIKey(cfg.APIKey))
			r.Post("/register", agents.Register)
			r.Post("/heartbeat", agents.Heartbeat)
			r.Post("/uptime/reset", uptime.Reset)
			r.Post("/uptime/check", uptime.Recheck)
			r.Post("/targets", targetsH.Upsert)
			r.Delete("/targets/{id}", targetsH.Delete)
		})

		// Agent and dashboard reads, plus result ingestion (agents are
		// authenticated by their registered x-agent-id).
		r.Get("/targets", targetsH.List)
		r.Get("/targets/check-updates", targetsH.CheckUpdates)
		r.Get("/targets/{id}", targetsH.Get)
		r.Get("/targets/{id}/uptime", uptime.Windows)

		r.Post("/results", resultsH.Submit)
		r.Get("/results", resultsH.Raw)

		r.Get("/uptime", uptime.Daily)
		r.Get("/downtime", uptime.Downtime)
		r.Get("/latency", uptime.Latency)
		r.Get("/target-status", uptime.TargetStatus)
		r.Get("/agents", agents.List)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/beechat/internal/api/middleware"
	"github.com/eldtechnologies/beechat/internal/handlers"
)

// Options configures the HTTP surface.
type Options struct {
	FrontendURL string
	// Redis enables per-endpoint rate limiting when non-nil.
	Redis     *redis.Client
	RateLimit middleware.RateLimiterConfig
}

// NewRouter creates and configures the HTTP router. ws serves the realtime
// gateway.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, ws http.Handler, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024))
	r.Use(middleware.ReadOnly)

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.Redis != nil {
		limiter := middleware.NewRateLimiter(opts.Redis, logger, opts.RateLimit)
		r.Use(limiter.Middleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{opts.FrontendURL},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/health", h.Health)
	r.Get("/api/parent/{parentId}/children", h.ParentChildren)
	r.Handle("/ws", ws)

	return r
}

// Package httpapi is the HTTP surface external collaborators talk to. It
// mounts the read API behind a chi router: Recoverer, request-ID, security
// headers, and CORS middleware, the read and gossip routes, and the
// /health, /ready, and /metrics endpoints.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/sertdev/tubestatus/internal/config"
	"github.com/sertdev/tubestatus/internal/ratelimit"
)

// Opts holds optional middleware and dependencies for server construction.
type Opts struct {
	RateLimiter       *ratelimit.Limiter               // nil = disabled
	MetricsMiddleware func(http.Handler) http.Handler  // nil = disabled
	MetricsHandler    http.Handler                     // nil = no /metrics endpoint
	Readiness         ReadinessChecker                 // nil = no /ready endpoint
}

// New creates and configures the chi router with every read route mounted,
// plus the ambient health/metrics/gossip surface.
func New(cfg *config.Config, reader ReadAPI, gossipSink GossipSink, opts *Opts) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestID)
	r.Use(SecurityHeaders)

	if opts != nil && opts.MetricsMiddleware != nil {
		r.Use(opts.MetricsMiddleware)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	h := &handlers{reader: reader}

	r.Route("/v1", func(r chi.Router) {
		if opts != nil && opts.RateLimiter != nil {
			r.Use(rateLimitMiddleware(opts.RateLimiter))
		}
		r.Get("/status", h.getAllStatus)
		r.Get("/status/{lineId}", h.getLineStatus)
		r.Get("/status/{lineId}/history", h.getLineStatusDateRange)
		r.Get("/disruptions", h.getDisruptions)
	})

	// Inter-node gossip ingress for peers. It sits outside /v1, so the rate
	// limiter does not apply to it; the router-wide CORS middleware does.
	if gossipSink != nil {
		r.Post("/internal/gossip", gossipHandler(gossipSink))
	}

	r.Get("/health", HealthHandler())
	if opts != nil && opts.Readiness != nil {
		r.Get("/ready", ReadinessHandler(opts.Readiness))
	}

	if opts != nil && opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware creates a chi middleware that rate-limits by client
// address, protecting the coordinator's coalescing from adversarial clients
// beyond the freshness floor alone.
func rateLimitMiddleware(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.RemoteAddr
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				key = fwd
			}

			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"kind":"rate_limited","message":"rate limit exceeded"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Command tubestatusd runs one node of the distributed tube-status cache:
// it wires together the clock, resilience primitives, upstream gateway,
// replicated register, refresh coordinator, and read API adapter, then
// serves them over HTTP.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sertdev/tubestatus/internal/clock"
	"github.com/sertdev/tubestatus/internal/config"
	"github.com/sertdev/tubestatus/internal/coordinator"
	"github.com/sertdev/tubestatus/internal/gateway"
	"github.com/sertdev/tubestatus/internal/httpapi"
	"github.com/sertdev/tubestatus/internal/membership"
	"github.com/sertdev/tubestatus/internal/metrics"
	"github.com/sertdev/tubestatus/internal/ratelimit"
	"github.com/sertdev/tubestatus/internal/readapi"
	"github.com/sertdev/tubestatus/internal/register"
	"github.com/sertdev/tubestatus/internal/resilience"
	"github.com/sertdev/tubestatus/internal/slogger"
	"github.com/sertdev/tubestatus/internal/tflclient"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Default the node id before validation so a single-node operator
	// doesn't have to invent one.
	if cfg.NodeID == "" {
		cfg.NodeID = uuid.New().String()
	}

	// 3. Validate config
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	// 4. Setup structured logging
	logger := slogger.Setup(cfg.LogFormat)
	logger.Info("starting tubestatus node", "node_id", cfg.NodeID, "listen_addr", cfg.ListenAddr)

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	clk := clock.Real

	// 5. Initialize the upstream HTTP client.
	upstream := tflclient.New(cfg.UpstreamBaseURL, tflclient.Opts{})

	// 6. Initialize the upstream gateway actor: retry + circuit breaker
	// composed around the upstream client.
	gw := gateway.New(upstream, gateway.Opts{
		NodeID: cfg.NodeID,
		Clock:  clk,
		RetryOpts: resilience.RetryOpts{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.RetryMaxDelayMs) * time.Millisecond,
			Jitter:      cfg.RetryJitter,
			Clock:       clk,
		},
		BreakerOpts: resilience.BreakerOpts{
			FailureThreshold: cfg.BreakerFailureThreshold,
			OpenDuration:     time.Duration(cfg.BreakerOpenDurationMs) * time.Millisecond,
			Clock:            clk,
		},
	})
	go gw.Run(rootCtx)

	// 7. Initialize cluster membership (static peer list) and the
	// replicated register.
	peers := membership.NewStatic(cfg.Peers)
	reg := register.New(peers, register.Opts{
		WriteMajorityTimeout: time.Duration(cfg.WriteMajorityTimeoutMs) * time.Millisecond,
	})

	// 8. Initialize the refresh coordinator, the cache owner.
	coord := coordinator.New(gw, reg, coordinator.Opts{
		NodeID:                     cfg.NodeID,
		Clock:                      clk,
		RefreshInterval:            time.Duration(cfg.RefreshInterval) * time.Millisecond,
		RefreshJitter:              time.Duration(cfg.RefreshJitter) * time.Millisecond,
		RecentEnoughThreshold:      time.Duration(cfg.RecentEnoughThreshold) * time.Millisecond,
		BackgroundRefreshThreshold: time.Duration(cfg.BackgroundRefreshThreshold) * time.Millisecond,
		AskTimeout:                 time.Duration(cfg.AskTimeoutMs) * time.Millisecond,
		DrainTimeout:               time.Duration(cfg.DrainTimeoutMs) * time.Millisecond,
	})
	go coord.Run(rootCtx)

	// 9. Initialize the read API adapter.
	reader := readapi.New(coord, gw, readapi.Opts{
		MinAskMaxAgeMs: int64(cfg.MinAskMaxAgeMs),
		AskTimeout:     time.Duration(cfg.AskTimeoutMs) * time.Millisecond,
	})

	// 10. Initialize metrics (if enabled)
	var m *metrics.Metrics
	var metricsMiddleware func(http.Handler) http.Handler
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		m = metrics.New()
		metricsMiddleware = metrics.Middleware(m)
		metricsHandler = m.Handler()
		startMetricsPoller(rootCtx, m, gw, reg, clk)
	}

	// 11. Initialize rate limiter (if configured)
	var rateLimiter *ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = int(cfg.RateLimitRPS * 2)
		}
		rateLimiter = ratelimit.NewLimiter(cfg.RateLimitRPS, burst)
		defer rateLimiter.Close()
	}

	// 12. Build the HTTP router with every route mounted.
	router := httpapi.New(cfg, reader, reg, &httpapi.Opts{
		RateLimiter:       rateLimiter,
		MetricsMiddleware: metricsMiddleware,
		MetricsHandler:    metricsHandler,
		Readiness:         readinessAdapter{coord: coord, gw: gw},
	})

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tubestatus listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server shutdown failed: %v", err)
	}
	logger.Info("server stopped")

	awaitDrain(shutdownCtx, logger, "coordinator", coord.Done())
	awaitDrain(shutdownCtx, logger, "gateway", gw.Done())
	logger.Info("shutdown complete")
}

// awaitDrain blocks until done closes or shutdownCtx expires, whichever
// comes first, logging either outcome. It never holds up process exit past
// the shutdown deadline even if an actor is stuck.
func awaitDrain(shutdownCtx context.Context, logger *slog.Logger, name string, done <-chan struct{}) {
	select {
	case <-done:
		logger.Info("actor drained", "actor", name)
	case <-shutdownCtx.Done():
		logger.Warn("actor did not drain before shutdown deadline", "actor", name)
	}
}

// readinessAdapter bridges the coordinator+gateway to httpapi.ReadinessChecker:
// readiness is false until the first successful upstream call converges, and
// the breaker's state is part of the readiness signal.
type readinessAdapter struct {
	coord *coordinator.Coordinator
	gw    *gateway.Gateway
}

func (a readinessAdapter) HasSnapshot(ctx context.Context) bool {
	res, err := a.coord.GetStatus(ctx)
	if err != nil {
		return false
	}
	return !res.Snapshot.IsZero()
}

func (a readinessAdapter) BreakerState(ctx context.Context) (resilience.State, error) {
	return a.gw.InspectBreaker(ctx)
}

// startMetricsPoller periodically samples breaker state and register age
// into the gauges. These are sampled rather than pushed because the gateway
// exposes no change-notification hook for breaker transitions, and the
// register's age grows with time rather than only when a merge happens.
func startMetricsPoller(ctx context.Context, m *metrics.Metrics, gw *gateway.Gateway, reg *register.Register, clk clock.Clock) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if state, err := gw.InspectBreaker(ctx); err == nil {
					m.CircuitBreakerState.WithLabelValues("tfl").Set(float64(state))
				}
				if snap := reg.Read(); !snap.IsZero() {
					m.RegisterAgeSeconds.Set(float64(snap.AgeMs(clk.Now())) / 1000)
				}
			}
		}
	}()
}

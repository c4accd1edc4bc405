package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"github.com/sertdev/tubestatus/internal/resilience"
)

// HealthHandler returns a liveness probe handler that always returns 200 OK:
// the process is up, regardless of upstream or breaker state.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessChecker reports whether this node has a snapshot to serve and
// what its upstream breaker currently reports, so the readiness signal
// exported to external collaborators reflects upstream health, not just
// process liveness.
type ReadinessChecker interface {
	HasSnapshot(ctx context.Context) bool
	BreakerState(ctx context.Context) (resilience.State, error)
}

// ReadinessHandler returns a readiness probe: ready once this node has
// served at least one snapshot. A freshly started node reports not-ready
// until its first successful upstream fetch converges.
func ReadinessHandler(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")

		breakerState, _ := checker.BreakerState(ctx)
		ready := checker.HasSnapshot(ctx)

		body, _ := sonic.Marshal(map[string]interface{}{
			"ready":   ready,
			"breaker": breakerStateName(breakerState),
		})

		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write(body)
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}

func breakerStateName(s resilience.State) string {
	switch s {
	case resilience.StateClosed:
		return "closed"
	case resilience.StateOpen:
		return "open"
	case resilience.StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

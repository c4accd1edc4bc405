package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sertdev/tubestatus/internal/config"
	"github.com/sertdev/tubestatus/internal/metrics"
	"github.com/sertdev/tubestatus/internal/ratelimit"
	"github.com/sertdev/tubestatus/internal/readapi"
	"github.com/sertdev/tubestatus/internal/snapshot"
)

type benchReadAPI struct{}

func (b *benchReadAPI) GetAllStatus(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error) {
	return readapi.Reply{Snapshot: snapshot.Snapshot{QueriedAt: time.Now().UTC()}}, nil
}
func (b *benchReadAPI) GetLineStatus(ctx context.Context, lineID string, maxAgeMs *int64) (readapi.Reply, error) {
	return readapi.Reply{Snapshot: snapshot.Snapshot{QueriedAt: time.Now().UTC()}}, nil
}
func (b *benchReadAPI) GetLineStatusDateRange(ctx context.Context, lineID string, from, to time.Time) (readapi.Reply, error) {
	return readapi.Reply{Snapshot: snapshot.Snapshot{QueriedAt: time.Now().UTC()}}, nil
}
func (b *benchReadAPI) GetDisruptions(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error) {
	return readapi.Reply{Snapshot: snapshot.Snapshot{QueriedAt: time.Now().UTC()}}, nil
}

func BenchmarkSecurityHeadersMiddleware(b *testing.B) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	req := httptest.NewRequest("GET", "/", nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
}

func BenchmarkRateLimiterAllow(b *testing.B) {
	l := ratelimit.NewLimiter(1_000_000, 1_000_000) // very high limit to not deny
	defer l.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.Allow("bench-key")
	}
}

func BenchmarkMetricsMiddleware(b *testing.B) {
	m := metrics.New()
	handler := metrics.Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
	}))
	req := httptest.NewRequest("GET", "/v1/status", nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}
}

func BenchmarkFullMiddlewareChain(b *testing.B) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	m := metrics.New()
	limiter := ratelimit.NewLimiter(1_000_000, 1_000_000)
	defer limiter.Close()

	opts := &Opts{
		RateLimiter:       limiter,
		MetricsMiddleware: metrics.Middleware(m),
	}

	router := New(cfg, &benchReadAPI{}, nil, opts)
	req := httptest.NewRequest("GET", "/v1/status", nil)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
	}
}

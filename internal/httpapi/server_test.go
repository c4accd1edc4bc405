package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sertdev/tubestatus/internal/config"
	"github.com/sertdev/tubestatus/internal/readapi"
	"github.com/sertdev/tubestatus/internal/snapshot"
)

type stubReadAPI struct {
	reply    readapi.Reply
	err      error
	lastLine string
}

func (s *stubReadAPI) GetAllStatus(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error) {
	return s.reply, s.err
}

func (s *stubReadAPI) GetLineStatus(ctx context.Context, lineID string, maxAgeMs *int64) (readapi.Reply, error) {
	s.lastLine = lineID
	return s.reply, s.err
}

func (s *stubReadAPI) GetLineStatusDateRange(ctx context.Context, lineID string, from, to time.Time) (readapi.Reply, error) {
	s.lastLine = lineID
	return s.reply, s.err
}

func (s *stubReadAPI) GetDisruptions(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error) {
	return s.reply, s.err
}

func sampleReply() readapi.Reply {
	now := time.Now().UTC()
	return readapi.Reply{
		Snapshot: snapshot.Snapshot{
			Lines:     []snapshot.Line{{ID: "central", Name: "Central", Status: "Good Service"}},
			QueriedAt: now,
			QueriedBy: "N1",
		},
		Meta: readapi.Meta{QueriedAt: now, QueriedBy: "N1", AgeMs: 5},
	}
}

func TestGetAllStatusRoute(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content-type, got %q", ct)
	}
}

func TestGetLineStatusRoute(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status/central", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if reader.lastLine != "central" {
		t.Fatalf("expected lineId central, got %q", reader.lastLine)
	}
}

func TestGetLineStatusDateRangeRoute(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status/central/history?from=2024-01-01&to=2024-01-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestGetLineStatusDateRangeRouteBadDate(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status/central/history?from=not-a-date&to=2024-01-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetDisruptionsRoute(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/disruptions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestErrorReplyShapesUnavailable(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{err: &readapi.Error{Kind: readapi.KindUnavailable, Message: "no snapshot available"}}
	router := New(cfg, reader, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type fakeGossipSink struct {
	received snapshot.Snapshot
}

func (f *fakeGossipSink) ReceiveGossip(s snapshot.Snapshot) { f.received = s }

func TestGossipRoute(t *testing.T) {
	cfg := &config.Config{CORSOrigins: []string{"*"}}
	reader := &stubReadAPI{reply: sampleReply()}
	sink := &fakeGossipSink{}
	router := New(cfg, reader, sink, nil)

	body := `{"lines":[],"queriedAt":"2024-01-01T00:00:00Z","queriedBy":"N2"}`
	req := httptest.NewRequest(http.MethodPost, "/internal/gossip", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rec.Code, rec.Body.String())
	}
	if sink.received.QueriedBy != "N2" {
		t.Fatalf("expected gossip merged, got %+v", sink.received)
	}
}

package tflclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchAllLinesParsesPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Line/Mode/tube/Status" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"central","name":"Central","unexpectedField":123,"lineStatuses":[{"statusSeverityDescription":"Good Service"}]},
			{"id":"victoria","name":"Victoria","lineStatuses":[{"statusSeverityDescription":"Minor Delays","disruption":{"category":"realTime","description":"Signal failure"}}]}
		]`))
	}))
	defer srv.Close()

	c := New(srv.URL, Opts{})
	lines, err := c.FetchAllLines(context.Background())
	if err != nil {
		t.Fatalf("FetchAllLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0].ID != "central" || lines[0].Status != "Good Service" {
		t.Fatalf("unexpected first line: %+v", lines[0])
	}
	if len(lines[1].Disruptions) != 1 || lines[1].Disruptions[0].Planned {
		t.Fatalf("expected one unplanned disruption, got %+v", lines[1].Disruptions)
	}
}

func TestFetchAllLinesMapsPlannedDisruption(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"jubilee","name":"Jubilee","lineStatuses":[{"statusSeverityDescription":"Part Closure","disruption":{"category":"plannedWork","description":"Engineering works"}}]}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, Opts{})
	lines, err := c.FetchAllLines(context.Background())
	if err != nil {
		t.Fatalf("FetchAllLines: %v", err)
	}
	if len(lines[0].Disruptions) != 1 || !lines[0].Disruptions[0].Planned {
		t.Fatalf("expected planned disruption, got %+v", lines[0].Disruptions)
	}
}

func TestFetchAllLinesNonRetryableStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, Opts{})
	_, err := c.FetchAllLines(context.Background())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode() != 404 {
		t.Fatalf("expected 404, got %d", se.StatusCode())
	}
}

func TestFetchAllLinesCapturesRetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, Opts{})
	_, err := c.FetchAllLines(context.Background())

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	hint, ok := se.RetryAfter()
	if !ok || hint != 7*time.Second {
		t.Fatalf("expected 7s retry-after hint, got %v (ok=%v)", hint, ok)
	}
}

func TestFetchLineDateRangeBuildsExpectedPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL, Opts{})
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC)
	if _, err := c.FetchLineDateRange(context.Background(), "central", from, to); err != nil {
		t.Fatalf("FetchLineDateRange: %v", err)
	}

	want := "/Line/central/Status/2026-01-01/to/2026-01-08"
	if gotPath != want {
		t.Fatalf("path = %q, want %q", gotPath, want)
	}
}

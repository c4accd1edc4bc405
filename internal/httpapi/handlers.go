package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"

	"github.com/sertdev/tubestatus/internal/readapi"
)

// ReadAPI is the subset of the read API adapter the HTTP layer depends on,
// narrowed to an interface so handlers can be tested against a fake.
type ReadAPI interface {
	GetAllStatus(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error)
	GetLineStatus(ctx context.Context, lineID string, maxAgeMs *int64) (readapi.Reply, error)
	GetLineStatusDateRange(ctx context.Context, lineID string, from, to time.Time) (readapi.Reply, error)
	GetDisruptions(ctx context.Context, maxAgeMs *int64) (readapi.Reply, error)
}

type handlers struct {
	reader ReadAPI
}

// envelope is the reply shape: payload plus the meta block.
type envelope struct {
	Lines        interface{} `json:"lines"`
	QueriedAt    time.Time   `json:"queriedAt"`
	QueriedBy    string      `json:"queriedBy"`
	AgeMs        int64       `json:"ageMs"`
	Stale        bool        `json:"stale"`
	FloorApplied bool        `json:"floorApplied"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func toEnvelope(reply readapi.Reply) envelope {
	return envelope{
		Lines:        reply.Snapshot.Lines,
		QueriedAt:    reply.Meta.QueriedAt,
		QueriedBy:    reply.Meta.QueriedBy,
		AgeMs:        reply.Meta.AgeMs,
		Stale:        reply.Meta.Stale,
		FloorApplied: reply.Meta.FloorApplied,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	kind := "internal"

	if rerr, ok := err.(*readapi.Error); ok {
		switch rerr.Kind {
		case readapi.KindBadRequest:
			status, kind = http.StatusBadRequest, "bad_request"
		case readapi.KindNotFound:
			status, kind = http.StatusNotFound, "not_found"
		case readapi.KindUnavailable:
			status, kind = http.StatusServiceUnavailable, "unavailable"
		}
		writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: rerr.Message}})
		return
	}

	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: err.Error()}})
}

// parseMaxAgeMs reads the optional ?maxAgeMs= query parameter. An absent
// value routes to the unconditional read; present values are clamped by
// the adapter per the floor, never here.
func parseMaxAgeMs(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("maxAgeMs")
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (h *handlers) getAllStatus(w http.ResponseWriter, r *http.Request) {
	maxAgeMs, err := parseMaxAgeMs(r)
	if err != nil {
		writeError(w, &readapi.Error{Kind: readapi.KindBadRequest, Message: "invalid maxAgeMs"})
		return
	}
	reply, err := h.reader.GetAllStatus(r.Context(), maxAgeMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(reply))
}

func (h *handlers) getLineStatus(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")
	maxAgeMs, err := parseMaxAgeMs(r)
	if err != nil {
		writeError(w, &readapi.Error{Kind: readapi.KindBadRequest, Message: "invalid maxAgeMs"})
		return
	}
	reply, err := h.reader.GetLineStatus(r.Context(), lineID, maxAgeMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(reply))
}

func (h *handlers) getLineStatusDateRange(w http.ResponseWriter, r *http.Request) {
	lineID := chi.URLParam(r, "lineId")

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, &readapi.Error{Kind: readapi.KindBadRequest, Message: "invalid or missing from date (want YYYY-MM-DD)"})
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, &readapi.Error{Kind: readapi.KindBadRequest, Message: "invalid or missing to date (want YYYY-MM-DD)"})
		return
	}

	reply, err := h.reader.GetLineStatusDateRange(r.Context(), lineID, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(reply))
}

func (h *handlers) getDisruptions(w http.ResponseWriter, r *http.Request) {
	maxAgeMs, err := parseMaxAgeMs(r)
	if err != nil {
		writeError(w, &readapi.Error{Kind: readapi.KindBadRequest, Message: "invalid maxAgeMs"})
		return
	}
	reply, err := h.reader.GetDisruptions(r.Context(), maxAgeMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnvelope(reply))
}

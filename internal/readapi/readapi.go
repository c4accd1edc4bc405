// Package readapi shapes external requests into coordinator/gateway
// messages and coordinator replies into a consistent metadata-plus-payload
// JSON reply envelope.
package readapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sertdev/tubestatus/internal/coordinator"
	"github.com/sertdev/tubestatus/internal/gateway"
	"github.com/sertdev/tubestatus/internal/resilience"
	"github.com/sertdev/tubestatus/internal/snapshot"
)

// Kind tags the error classes the adapter surfaces to its HTTP caller.
type Kind int

const (
	KindBadRequest Kind = iota
	KindNotFound
	KindUnavailable
)

// Error is what every adapter method returns on failure, tagged with a Kind
// an HTTP handler can map directly to a status code.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(msg string) *Error    { return &Error{Kind: KindBadRequest, Message: msg} }
func notFound(msg string) *Error      { return &Error{Kind: KindNotFound, Message: msg} }
func unavailable(msg string) *Error   { return &Error{Kind: KindUnavailable, Message: msg} }

// Meta is the envelope's metadata block.
type Meta struct {
	QueriedAt    time.Time
	QueriedBy    string
	AgeMs        int64
	Stale        bool
	FloorApplied bool
}

// Reply bundles a (possibly filtered) snapshot with its envelope metadata.
type Reply struct {
	Snapshot snapshot.Snapshot
	Meta     Meta
}

// Coordinator is the subset of the coordinator's API the adapter depends on.
type Coordinator interface {
	GetStatus(ctx context.Context) (coordinator.StatusResult, error)
	GetStatusWithFreshness(ctx context.Context, maxAgeMs int64) (coordinator.StatusResult, error)
}

// Gateway is the subset of the gateway's API the adapter depends on for the
// historical date-range route, which bypasses the coordinator entirely.
type Gateway interface {
	FetchLineWithDateRange(ctx context.Context, lineID string, from, to time.Time) ([]snapshot.Line, error)
}

// Opts configures the adapter's freshness-floor clamp and per-call deadline.
type Opts struct {
	// MinAskMaxAgeMs is the floor below which a requested maxAgeMs is
	// clamped up. Default 5000.
	MinAskMaxAgeMs int64
	// AskTimeout bounds how long a cached-status read (GetAllStatus,
	// GetLineStatus, GetDisruptions) may take before the adapter gives up
	// and surfaces an error. GetLineStatusDateRange does not apply it; that
	// call is bounded only by the caller's ctx.
	AskTimeout time.Duration
}

func (o Opts) withDefaults() Opts {
	if o.MinAskMaxAgeMs <= 0 {
		o.MinAskMaxAgeMs = 5000
	}
	if o.AskTimeout <= 0 {
		o.AskTimeout = 5 * time.Second
	}
	return o
}

// Adapter is the read API.
type Adapter struct {
	opts        Opts
	coordinator Coordinator
	gateway     Gateway
}

// New constructs an Adapter.
func New(coord Coordinator, gw Gateway, opts Opts) *Adapter {
	return &Adapter{opts: opts.withDefaults(), coordinator: coord, gateway: gw}
}

// clamp applies the freshness floor and reports whether clamping occurred.
// A nil maxAgeMs ("absent") routes to the coordinator's unconditional
// GetStatus instead of being clamped.
func (a *Adapter) clamp(maxAgeMs int64) (clamped int64, floorApplied bool) {
	if maxAgeMs < a.opts.MinAskMaxAgeMs {
		return a.opts.MinAskMaxAgeMs, true
	}
	return maxAgeMs, false
}

func (a *Adapter) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.AskTimeout)
}

func (a *Adapter) toReply(res coordinator.StatusResult, floorApplied bool, now time.Time) Reply {
	return Reply{
		Snapshot: res.Snapshot,
		Meta: Meta{
			QueriedAt:    res.Snapshot.QueriedAt,
			QueriedBy:    res.Snapshot.QueriedBy,
			AgeMs:        res.Snapshot.AgeMs(now),
			Stale:        res.Stale,
			FloorApplied: floorApplied,
		},
	}
}

// GetAllStatus returns the whole-network snapshot. A nil maxAgeMs means
// "absent": the snapshot is returned unconditionally via GetStatus, with no
// freshness requirement and no floor to apply.
func (a *Adapter) GetAllStatus(ctx context.Context, maxAgeMs *int64) (Reply, error) {
	ctx, cancel := a.withDeadline(ctx)
	defer cancel()

	if maxAgeMs == nil {
		res, err := a.coordinator.GetStatus(ctx)
		if err != nil {
			return Reply{}, a.classify(err)
		}
		return a.toReply(res, false, time.Now().UTC()), nil
	}

	clamped, floorApplied := a.clamp(*maxAgeMs)

	res, err := a.coordinator.GetStatusWithFreshness(ctx, clamped)
	if err != nil {
		return Reply{}, a.classify(err)
	}
	return a.toReply(res, floorApplied, time.Now().UTC()), nil
}

// GetLineStatus calls GetAllStatus, then filters to one line matched
// case-insensitively.
func (a *Adapter) GetLineStatus(ctx context.Context, lineID string, maxAgeMs *int64) (Reply, error) {
	reply, err := a.GetAllStatus(ctx, maxAgeMs)
	if err != nil {
		return Reply{}, err
	}

	line, ok := reply.Snapshot.LineByID(lineID)
	if !ok {
		return Reply{}, notFound("unknown line id: " + lineID)
	}

	reply.Snapshot = snapshot.Snapshot{
		Lines:     []snapshot.Line{line},
		QueriedAt: reply.Snapshot.QueriedAt,
		QueriedBy: reply.Snapshot.QueriedBy,
	}
	return reply, nil
}

// GetDisruptions calls GetAllStatus, filtered to lines with at least one
// unplanned disruption.
func (a *Adapter) GetDisruptions(ctx context.Context, maxAgeMs *int64) (Reply, error) {
	reply, err := a.GetAllStatus(ctx, maxAgeMs)
	if err != nil {
		return Reply{}, err
	}
	reply.Snapshot = reply.Snapshot.WithDisruptionsOnly()
	return reply, nil
}

// GetLineStatusDateRange bypasses the coordinator and the register
// entirely, going straight to the gateway's historical route: per-request
// (lineId, from, to) tuples would blow up cache cardinality without benefit.
func (a *Adapter) GetLineStatusDateRange(ctx context.Context, lineID string, from, to time.Time) (Reply, error) {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return Reply{}, badRequest("lineId is required")
	}
	if from.After(to) {
		return Reply{}, badRequest("from must not be after to")
	}

	lines, err := a.gateway.FetchLineWithDateRange(ctx, lineID, from, to)
	if err != nil {
		// An upstream 404 on this route means the line id does not exist;
		// other 4xx mean the request itself was malformed. Everything else
		// (5xx, transport, breaker open, retries exhausted) is Unavailable.
		var sc resilience.StatusCoder
		if errors.As(err, &sc) {
			switch code := sc.StatusCode(); {
			case code == http.StatusNotFound:
				return Reply{}, notFound("unknown line id: " + lineID)
			case code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests:
				return Reply{}, badRequest("upstream rejected the request")
			}
		}
		var ce *gateway.CallError
		if errors.As(err, &ce) {
			return Reply{}, unavailable(ce.Error())
		}
		return Reply{}, unavailable(err.Error())
	}

	now := time.Now().UTC()
	snap := snapshot.Snapshot{Lines: lines, QueriedAt: now, QueriedBy: ""}
	return Reply{
		Snapshot: snap,
		Meta:     Meta{QueriedAt: now, AgeMs: 0},
	}, nil
}

func (a *Adapter) classify(err error) *Error {
	if errors.Is(err, coordinator.ErrUnavailable) {
		return unavailable("no snapshot available")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable("timed out waiting for a fresh snapshot")
	}
	return unavailable(err.Error())
}

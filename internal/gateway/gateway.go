// Package gateway implements a single-serialised actor that owns an
// upstream HTTP client and a circuit breaker, composing
// circuit.execute(retry.execute(http.get)) for every call it accepts. One
// goroutine owns all mutable state (the breaker); callers communicate
// through typed messages carrying a reply channel, and nothing outside the
// loop ever touches the breaker directly.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sertdev/tubestatus/internal/clock"
	"github.com/sertdev/tubestatus/internal/resilience"
	"github.com/sertdev/tubestatus/internal/snapshot"
	"github.com/sertdev/tubestatus/internal/tflclient"
)

// ErrorKind tags why a Gateway call failed, so callers can classify without
// inspecting wrapped error chains.
type ErrorKind int

const (
	// KindCircuitRefused means the breaker was Open and refused the call.
	KindCircuitRefused ErrorKind = iota
	// KindExhausted means every retryable attempt failed.
	KindExhausted
	// KindNonRetryable means the upstream returned a non-retryable status.
	KindNonRetryable
)

func (k ErrorKind) String() string {
	switch k {
	case KindCircuitRefused:
		return "circuit_refused"
	case KindExhausted:
		return "exhausted"
	case KindNonRetryable:
		return "non_retryable"
	default:
		return "unknown"
	}
}

// CallError is the tagged error the gateway replies with on failure.
type CallError struct {
	Kind       ErrorKind
	Cause      error
	RetryAfter time.Duration
}

func (e *CallError) Error() string {
	return fmt.Sprintf("gateway call failed (%s): %v", e.Kind, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// classify turns whatever circuit/retry returned into a CallError.
func classify(err error) *CallError {
	var refused *resilience.RefusedError
	if errors.As(err, &refused) {
		return &CallError{Kind: KindCircuitRefused, Cause: err, RetryAfter: refused.RetryAfter}
	}

	var exhausted *resilience.ExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.NonRetryable {
			return &CallError{Kind: KindNonRetryable, Cause: err}
		}
		return &CallError{Kind: KindExhausted, Cause: err}
	}

	// The breaker wraps whatever retry.Do (or a bare failed call) returned
	// in a FailedError; unwrap one more level for a readable cause but keep
	// the classification conservative.
	var failed *resilience.FailedError
	if errors.As(err, &failed) {
		return classify(failed.Cause)
	}

	return &CallError{Kind: KindExhausted, Cause: err}
}

// Opts configures a Gateway.
type Opts struct {
	NodeID      string
	Clock       clock.Clock
	RetryOpts   resilience.RetryOpts
	BreakerOpts resilience.BreakerOpts
	// QueueDepth bounds how many in-flight requests may be queued on the
	// actor's inbox before the request methods block. Default 32.
	QueueDepth int
}

func (o Opts) withDefaults() Opts {
	if o.Clock == nil {
		o.Clock = clock.Real
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 32
	}
	o.RetryOpts.Clock = o.Clock
	o.BreakerOpts.Clock = o.Clock
	return o
}

type opKind int

const (
	opFetchAllLines opKind = iota
	opFetchLineDateRange
	opInspectBreaker
)

type request struct {
	kind    opKind
	lineID  string
	from    time.Time
	to      time.Time
	reply   chan result
}

type result struct {
	snapshot     snapshot.Snapshot
	lines        []snapshot.Line
	breakerState resilience.State
	err          error
}

// Gateway serialises all calls to its upstream client and breaker through a
// single goroutine started by Run.
type Gateway struct {
	opts   Opts
	client *tflclient.Client
	cb     *resilience.CircuitBreaker
	inbox  chan request
	done   chan struct{}
}

// New constructs a Gateway. Call Run to start its processing loop.
func New(client *tflclient.Client, opts Opts) *Gateway {
	opts = opts.withDefaults()
	return &Gateway{
		opts:   opts,
		client: client,
		cb:     resilience.NewCircuitBreaker(opts.BreakerOpts),
		inbox:  make(chan request, opts.QueueDepth),
		done:   make(chan struct{}),
	}
}

// Run processes the actor's inbox until ctx is cancelled. It must be started
// in its own goroutine before any of the request methods are called. Done
// closes once the drain that follows cancellation has finished, so callers
// that need to wait for the actor to fully stop can select on it.
func (g *Gateway) Run(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			g.drain(ctx.Err())
			return
		case req := <-g.inbox:
			g.handle(ctx, req)
		}
	}
}

// Done closes once Run has drained its inbox and returned.
func (g *Gateway) Done() <-chan struct{} {
	return g.done
}

// drain replies to every request still queued once Run is stopping, so no
// caller blocks forever on a reply that will never come.
func (g *Gateway) drain(cause error) {
	for {
		select {
		case req := <-g.inbox:
			req.reply <- result{err: cause}
		default:
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, req request) {
	switch req.kind {
	case opFetchAllLines:
		snap, err := g.fetchAllLines(ctx)
		req.reply <- result{snapshot: snap, err: err}
	case opFetchLineDateRange:
		lines, err := g.fetchLineDateRange(ctx, req.lineID, req.from, req.to)
		req.reply <- result{lines: lines, err: err}
	case opInspectBreaker:
		req.reply <- result{breakerState: g.cb.State()}
	}
}

func (g *Gateway) fetchAllLines(ctx context.Context) (snapshot.Snapshot, error) {
	lines, err := resilience.Execute(g.cb, func() ([]snapshot.Line, error) {
		return resilience.Do(ctx, g.opts.RetryOpts, func() ([]snapshot.Line, error) {
			return g.client.FetchAllLines(ctx)
		})
	})
	if err != nil {
		return snapshot.Snapshot{}, classify(err)
	}

	return snapshot.Snapshot{
		Lines:     lines,
		QueriedAt: g.opts.Clock.Now(),
		QueriedBy: g.opts.NodeID,
	}, nil
}

func (g *Gateway) fetchLineDateRange(ctx context.Context, lineID string, from, to time.Time) ([]snapshot.Line, error) {
	lines, err := resilience.Execute(g.cb, func() ([]snapshot.Line, error) {
		return resilience.Do(ctx, g.opts.RetryOpts, func() ([]snapshot.Line, error) {
			return g.client.FetchLineDateRange(ctx, lineID, from, to)
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	return lines, nil
}

// FetchAllLines asks the gateway actor to fetch the full line-status payload.
// It blocks until the actor replies or ctx is cancelled.
func (g *Gateway) FetchAllLines(ctx context.Context) (snapshot.Snapshot, error) {
	reply := make(chan result, 1)
	select {
	case g.inbox <- request{kind: opFetchAllLines, reply: reply}:
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.snapshot, r.err
	case <-ctx.Done():
		return snapshot.Snapshot{}, ctx.Err()
	}
}

// FetchLineWithDateRange bypasses the cache entirely; the historical read
// route never touches the register.
func (g *Gateway) FetchLineWithDateRange(ctx context.Context, lineID string, from, to time.Time) ([]snapshot.Line, error) {
	reply := make(chan result, 1)
	select {
	case g.inbox <- request{kind: opFetchLineDateRange, lineID: lineID, from: from, to: to, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.lines, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InspectBreaker returns the gateway's current circuit breaker state.
func (g *Gateway) InspectBreaker(ctx context.Context) (resilience.State, error) {
	reply := make(chan result, 1)
	select {
	case g.inbox <- request{kind: opInspectBreaker, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.breakerState, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

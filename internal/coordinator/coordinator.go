// Package coordinator implements the refresh coordinator, the heart of the
// cache: a single-serialised actor owning the locally-converged snapshot,
// the in-flight-fetch flag, and the waiter queue. All mutation happens on
// one goroutine; every external interaction is a message with a reply sink.
package coordinator

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sertdev/tubestatus/internal/clock"
	"github.com/sertdev/tubestatus/internal/snapshot"
)

// ErrUnavailable is returned when no local snapshot exists at all and the
// upstream fetch that would have produced one failed, or did not complete
// before the drain timer released the waiting reads.
var ErrUnavailable = errors.New("no snapshot available")

// Fetcher is the subset of the gateway's API the coordinator depends on.
type Fetcher interface {
	FetchAllLines(ctx context.Context) (snapshot.Snapshot, error)
}

// Register is the subset of the replicated register's API the coordinator
// depends on: a non-blocking local read and a gossiped write.
type Register interface {
	Read() snapshot.Snapshot
	Write(ctx context.Context, s snapshot.Snapshot) error
	Subscribe(h func(snapshot.Snapshot))
}

// StatusResult is what a read call resolves to.
type StatusResult struct {
	Snapshot snapshot.Snapshot
	Stale    bool
}

// Opts configures a Coordinator. Durations left zero take sane defaults.
type Opts struct {
	NodeID                     string
	Clock                      clock.Clock
	RefreshInterval            time.Duration
	RefreshJitter              time.Duration
	RecentEnoughThreshold      time.Duration
	BackgroundRefreshThreshold time.Duration
	AskTimeout                 time.Duration
	DrainTimeout               time.Duration
	QueueDepth                 int
}

func (o Opts) withDefaults() Opts {
	if o.Clock == nil {
		o.Clock = clock.Real
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 30 * time.Second
	}
	if o.RefreshJitter <= 0 {
		o.RefreshJitter = 5 * time.Second
	}
	if o.RecentEnoughThreshold <= 0 {
		o.RecentEnoughThreshold = 5 * time.Second
	}
	if o.BackgroundRefreshThreshold <= 0 {
		o.BackgroundRefreshThreshold = 20 * time.Second
	}
	if o.AskTimeout <= 0 {
		o.AskTimeout = 5 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 10 * time.Second
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 128
	}
	return o
}

type msgKind int

const (
	msgGetStatus msgKind = iota
	msgGetStatusWithFreshness
	msgTriggerRefresh
	msgFetchComplete
	msgPeerUpdate
)

type statusReply struct {
	result StatusResult
	err    error
}

type message struct {
	kind         msgKind
	maxAgeMs     int64
	reply        chan statusReply
	fetchedSnap  snapshot.Snapshot
	fetchErr     error
	peerSnapshot snapshot.Snapshot
}

type waiter struct {
	maxAgeMs int64
	reply    chan statusReply
}

// Coordinator serialises every read and refresh through a single goroutine
// started by Run.
type Coordinator struct {
	opts     Opts
	fetcher  Fetcher
	register Register
	inbox    chan message
	done     chan struct{}

	local           snapshot.Snapshot
	refreshInFlight bool
	waiters         []waiter
	drainTimer      clock.Timer
}

// New constructs a Coordinator. Call Run to start its processing loop; the
// register's subscription is wired up automatically so peer updates flow
// into the actor's own inbox rather than touching its state directly.
func New(fetcher Fetcher, register Register, opts Opts) *Coordinator {
	c := &Coordinator{
		opts:     opts.withDefaults(),
		fetcher:  fetcher,
		register: register,
		inbox:    make(chan message, opts.withDefaults().QueueDepth),
		done:     make(chan struct{}),
	}
	if register != nil {
		register.Subscribe(func(s snapshot.Snapshot) {
			c.PublishPeerUpdate(s)
		})
	}
	return c
}

// Run processes the actor's inbox and its own refresh timer until ctx is
// cancelled. Done closes once the post-cancellation drain has finished, so
// callers that need to wait for the actor to fully stop can select on it.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	refreshTimer := c.opts.Clock.NewTimer(c.jitteredInterval())
	defer refreshTimer.Stop()

	for {
		var drainC <-chan time.Time
		if c.drainTimer != nil {
			drainC = c.drainTimer.C()
		}

		select {
		case <-ctx.Done():
			c.drainInbox(ctx.Err())
			return
		case <-refreshTimer.C():
			c.handleRefreshTick(ctx)
			refreshTimer.Reset(c.jitteredInterval())
		case <-drainC:
			c.handleDrainStaleWaiters()
		case msg := <-c.inbox:
			c.handle(ctx, msg)
		}
	}
}

// Done closes once Run has drained its inbox and returned.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) jitteredInterval() time.Duration {
	if c.opts.RefreshJitter <= 0 {
		return c.opts.RefreshInterval
	}
	return c.opts.RefreshInterval + time.Duration(rand.Int64N(int64(c.opts.RefreshJitter)+1))
}

// drainInbox replies to every queued read so no caller blocks forever once
// the actor is shutting down.
func (c *Coordinator) drainInbox(cause error) {
	for _, w := range c.waiters {
		w.reply <- statusReply{err: cause}
	}
	c.waiters = nil
	for {
		select {
		case msg := <-c.inbox:
			if msg.reply != nil {
				msg.reply <- statusReply{err: cause}
			}
		default:
			return
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case msgGetStatus:
		msg.reply <- statusReply{result: StatusResult{Snapshot: c.local}}
		if !c.local.IsZero() && c.local.AgeMs(c.opts.Clock.Now()) >= c.opts.BackgroundRefreshThreshold.Milliseconds() {
			c.maybeStartFetch(ctx)
		}
	case msgGetStatusWithFreshness:
		c.handleGetStatusWithFreshness(ctx, msg)
	case msgTriggerRefresh:
		c.maybeStartFetch(ctx)
	case msgFetchComplete:
		c.handleFetchComplete(msg)
	case msgPeerUpdate:
		c.handlePeerUpdate(msg)
	}
}

func (c *Coordinator) handleGetStatusWithFreshness(ctx context.Context, msg message) {
	now := c.opts.Clock.Now()

	if !c.local.IsZero() && c.local.AgeMs(now) <= msg.maxAgeMs {
		msg.reply <- statusReply{result: StatusResult{Snapshot: c.local, Stale: false}}
		if c.local.AgeMs(now) >= c.opts.BackgroundRefreshThreshold.Milliseconds() {
			c.maybeStartFetch(ctx)
		}
		return
	}

	w := waiter{maxAgeMs: msg.maxAgeMs, reply: msg.reply}
	c.waiters = append(c.waiters, w)
	c.maybeStartFetch(ctx)

	if c.drainTimer == nil {
		c.drainTimer = c.opts.Clock.NewTimer(c.opts.DrainTimeout)
	}
}

func (c *Coordinator) maybeStartFetch(ctx context.Context) {
	if c.refreshInFlight {
		return
	}
	c.refreshInFlight = true
	go func() {
		snap, err := c.fetcher.FetchAllLines(ctx)
		select {
		case c.inbox <- message{kind: msgFetchComplete, fetchedSnap: snap, fetchErr: err}:
		case <-ctx.Done():
		}
	}()
}

func (c *Coordinator) handleFetchComplete(msg message) {
	c.refreshInFlight = false
	if c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}

	if msg.fetchErr == nil {
		c.local = msg.fetchedSnap
		if c.register != nil {
			go c.register.Write(context.Background(), c.local)
		}

		now := c.opts.Clock.Now()
		for _, w := range c.waiters {
			stale := c.local.AgeMs(now) > w.maxAgeMs
			w.reply <- statusReply{result: StatusResult{Snapshot: c.local, Stale: stale}}
		}
	} else {
		for _, w := range c.waiters {
			if !c.local.IsZero() {
				w.reply <- statusReply{result: StatusResult{Snapshot: c.local, Stale: true}}
			} else {
				w.reply <- statusReply{err: ErrUnavailable}
			}
		}
	}
	c.waiters = nil
}

func (c *Coordinator) handlePeerUpdate(msg message) {
	if snapshot.Newer(c.local, msg.peerSnapshot) {
		c.local = msg.peerSnapshot
	}

	now := c.opts.Clock.Now()
	remaining := c.waiters[:0]
	for _, w := range c.waiters {
		if !c.local.IsZero() && c.local.AgeMs(now) <= w.maxAgeMs {
			w.reply <- statusReply{result: StatusResult{Snapshot: c.local, Stale: false}}
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining

	if len(c.waiters) == 0 && c.drainTimer != nil {
		c.drainTimer.Stop()
		c.drainTimer = nil
	}
}

func (c *Coordinator) handleDrainStaleWaiters() {
	for _, w := range c.waiters {
		if !c.local.IsZero() {
			w.reply <- statusReply{result: StatusResult{Snapshot: c.local, Stale: true}}
		} else {
			w.reply <- statusReply{err: ErrUnavailable}
		}
	}
	c.waiters = nil
	c.drainTimer = nil
}

func (c *Coordinator) handleRefreshTick(ctx context.Context) {
	if c.register != nil {
		peerSnap := c.register.Read()
		now := c.opts.Clock.Now()
		if !peerSnap.IsZero() && peerSnap.AgeMs(now) <= c.opts.RecentEnoughThreshold.Milliseconds() {
			if snapshot.Newer(c.local, peerSnap) {
				c.local = peerSnap
			}
			return
		}
	}
	c.maybeStartFetch(ctx)
}

// GetStatus returns the local snapshot immediately, with no freshness check.
// The result may be empty (zero value) or stale; a local snapshot older than
// BackgroundRefreshThreshold additionally kicks off an async refresh so the
// cache stays warm.
func (c *Coordinator) GetStatus(ctx context.Context) (StatusResult, error) {
	reply := make(chan statusReply, 1)
	select {
	case c.inbox <- message{kind: msgGetStatus, reply: reply}:
	case <-ctx.Done():
		return StatusResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return StatusResult{}, ctx.Err()
	}
}

// GetStatusWithFreshness serves the local snapshot if it is recent enough,
// otherwise triggering a refresh and waiting for its result, a fresh-enough
// value arriving via gossip, or the drain timer (after DrainTimeout) to
// release the read with the stale local snapshot. The wait is also bounded
// by ctx; the coordinator applies no AskTimeout of its own. maxAgeMs is
// expected to already have the freshness floor applied by the caller (the
// read API adapter); the coordinator does not clamp it.
func (c *Coordinator) GetStatusWithFreshness(ctx context.Context, maxAgeMs int64) (StatusResult, error) {
	reply := make(chan statusReply, 1)
	select {
	case c.inbox <- message{kind: msgGetStatusWithFreshness, maxAgeMs: maxAgeMs, reply: reply}:
	case <-ctx.Done():
		return StatusResult{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return StatusResult{}, ctx.Err()
	}
}

// TriggerRefresh requests a fetch if one is not already in flight. It does
// not wait for the fetch to complete.
func (c *Coordinator) TriggerRefresh() {
	select {
	case c.inbox <- message{kind: msgTriggerRefresh}:
	default:
		// Inbox full: a refresh is almost certainly already pending or about
		// to be processed; dropping this nudge is harmless.
	}
}

// PublishPeerUpdate delivers a register-subscription update into the actor's
// inbox. It is exported so register.Subscribe's handler (wired in New) can
// call it, and so tests can simulate a peer update directly.
func (c *Coordinator) PublishPeerUpdate(s snapshot.Snapshot) {
	c.inbox <- message{kind: msgPeerUpdate, peerSnapshot: s}
}

// Package register implements a replicated last-writer-wins value for the
// "tube-status" key, gossiped to a static set of peers over HTTP and merged
// on receipt.
package register

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"

	"github.com/sertdev/tubestatus/internal/snapshot"
)

// Key is the single key this register replicates.
const Key = "tube-status"

// Transport delivers an encoded register value to one peer. The default
// implementation (HTTPTransport) POSTs the wire bytes to the peer's gossip
// endpoint; tests may substitute an in-process fake.
type Transport interface {
	Send(ctx context.Context, peerAddr string, payload []byte) error
}

// HTTPTransport is the production Transport: it POSTs the wire-encoded
// snapshot to {peerAddr}{Path} (default "/internal/gossip").
type HTTPTransport struct {
	Client *http.Client
	Path   string
}

// NewHTTPTransport builds an HTTPTransport that posts to /internal/gossip
// with a 5s per-request timeout over Go's default HTTP transport.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{Timeout: 5 * time.Second},
		Path:   "/internal/gossip",
	}
}

func (t *HTTPTransport) Send(ctx context.Context, peerAddr string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerAddr+t.Path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("gossip to %s: status %d", peerAddr, resp.StatusCode)
	}
	return nil
}

// PeerLister abstracts cluster membership. internal/membership provides the
// static production implementation.
type PeerLister interface {
	Peers() []string
}

// Opts configures a Register.
type Opts struct {
	// WriteMajorityTimeout bounds how long Write waits for a majority ack
	// before returning, after which gossip continues best-effort in the
	// background. Default 3s.
	WriteMajorityTimeout time.Duration
	Transport            Transport
}

func (o Opts) withDefaults() Opts {
	if o.WriteMajorityTimeout <= 0 {
		o.WriteMajorityTimeout = 3 * time.Second
	}
	if o.Transport == nil {
		o.Transport = NewHTTPTransport()
	}
	return o
}

// Handler is invoked by subscribe whenever a merge changes the converged
// value. It is an alias rather than a defined type, so Subscribe(h Handler)
// has exactly the signature of coordinator.Register's Subscribe method.
type Handler = func(snapshot.Snapshot)

// Register is an LWW register. Reads never block on peers; writes gossip to
// all known peers and (optionally) wait for a majority ack.
type Register struct {
	opts Opts
	peers PeerLister

	mu      sync.RWMutex
	value   snapshot.Snapshot
	subs    []Handler
}

// New constructs a Register. peers may be nil for a single-node deployment
// (Write then has zero peers to reach and its ack timeout is a no-op).
func New(peers PeerLister, opts Opts) *Register {
	return &Register{opts: opts.withDefaults(), peers: peers}
}

// Read returns the locally-converged value without contacting any peer.
func (r *Register) Read() snapshot.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.value
}

// Subscribe registers a handler invoked after every merge that changes the
// converged value (write-locally or gossip-received). It takes the
// register's lock, so it is safe for concurrent use; a handler is only
// called for merges that happen after it was added.
func (r *Register) Subscribe(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, h)
}

// Write merges value into the local register immediately, then gossips it to
// every known peer. It returns once a majority of peers have acked or
// WriteMajorityTimeout elapses, whichever comes first; gossip to any
// remaining peer continues asynchronously in the background either way.
func (r *Register) Write(ctx context.Context, value snapshot.Snapshot) error {
	r.mergeAndNotify(value)

	peers := r.currentPeers()
	if len(peers) == 0 {
		return nil
	}

	payload, err := sonic.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode register value: %w", err)
	}

	majority := len(peers)/2 + 1
	acked := make(chan struct{}, len(peers))

	go func() {
		g, gctx := errgroup.WithContext(context.Background())
		for _, p := range peers {
			p := p
			g.Go(func() error {
				if err := r.opts.Transport.Send(gctx, p, payload); err != nil {
					return nil // best-effort: a failed peer never fails the group
				}
				acked <- struct{}{}
				return nil
			})
		}
		g.Wait()
	}()

	ackCtx, cancel := context.WithTimeout(ctx, r.opts.WriteMajorityTimeout)
	defer cancel()

	count := 0
	for count < majority {
		select {
		case <-acked:
			count++
		case <-ackCtx.Done():
			return nil
		}
	}
	return nil
}

// ReceiveGossip merges a peer-originated value. The receiver never replaces
// the originator's queriedAt.
func (r *Register) ReceiveGossip(value snapshot.Snapshot) {
	r.mergeAndNotify(value)
}

func (r *Register) mergeAndNotify(candidate snapshot.Snapshot) {
	r.mu.Lock()
	if !snapshot.Newer(r.value, candidate) {
		r.mu.Unlock()
		return
	}
	r.value = candidate
	subs := append([]Handler(nil), r.subs...)
	r.mu.Unlock()

	for _, h := range subs {
		h(candidate)
	}
}

func (r *Register) currentPeers() []string {
	if r.peers == nil {
		return nil
	}
	return r.peers.Peers()
}

// DecodeGossipPayload decodes a wire payload received from a peer, for use
// by the HTTP handler that exposes the gossip endpoint. Additive fields are
// tolerated — sonic's default unmarshalling already ignores unknown fields.
func DecodeGossipPayload(body []byte) (snapshot.Snapshot, error) {
	var s snapshot.Snapshot
	if err := sonic.Unmarshal(body, &s); err != nil {
		return snapshot.Snapshot{}, err
	}
	return s, nil
}

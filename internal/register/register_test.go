package register

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sertdev/tubestatus/internal/snapshot"
)

// fakeTransport delivers gossip directly to in-memory peer registers,
// keyed by address, instead of going over HTTP.
type fakeTransport struct {
	mu    sync.Mutex
	peers map[string]*Register
	delay time.Duration
	fail  map[string]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{peers: make(map[string]*Register), fail: make(map[string]bool)}
}

func (f *fakeTransport) add(addr string, r *Register) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers[addr] = r
}

func (f *fakeTransport) Send(ctx context.Context, peerAddr string, payload []byte) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	shouldFail := f.fail[peerAddr]
	peer := f.peers[peerAddr]
	f.mu.Unlock()

	if shouldFail {
		return context.DeadlineExceeded
	}

	s, err := DecodeGossipPayload(payload)
	if err != nil {
		return err
	}
	if peer != nil {
		peer.ReceiveGossip(s)
	}
	return nil
}

type staticPeers []string

func (s staticPeers) Peers() []string { return s }

func TestWriteMergesLocallyBeforeGossip(t *testing.T) {
	r := New(nil, Opts{})
	s := snapshot.Snapshot{QueriedAt: time.Unix(100, 0), QueriedBy: "N1"}

	if err := r.Write(context.Background(), s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := r.Read(); got.QueriedBy != "N1" {
		t.Fatalf("expected local value after Write, got %+v", got)
	}
}

func TestWritePropagatesToPeerAndPreservesOriginatorTimestamp(t *testing.T) {
	tr := newFakeTransport()
	n1 := New(staticPeers{"n2"}, Opts{Transport: tr})
	n2 := New(nil, Opts{})
	tr.add("n2", n2)

	originAt := time.Unix(500, 0)
	s := snapshot.Snapshot{QueriedAt: originAt, QueriedBy: "N1"}
	if err := n1.Write(context.Background(), s); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Give the best-effort goroutine a moment to land the synchronous fake send.
	time.Sleep(20 * time.Millisecond)

	got := n2.Read()
	if got.QueriedBy != "N1" {
		t.Fatalf("expected N2 to observe N1's write, got %+v", got)
	}
	if !got.QueriedAt.Equal(originAt) {
		t.Fatalf("receiver must preserve originator's queriedAt, got %v want %v", got.QueriedAt, originAt)
	}
}

func TestMergeKeepsNewerAgainstOlderCandidate(t *testing.T) {
	r := New(nil, Opts{})
	older := snapshot.Snapshot{QueriedAt: time.Unix(100, 0), QueriedBy: "N1"}
	newer := snapshot.Snapshot{QueriedAt: time.Unix(200, 0), QueriedBy: "N2"}

	r.ReceiveGossip(newer)
	r.ReceiveGossip(older)

	if got := r.Read(); got.QueriedBy != "N2" {
		t.Fatalf("expected newer value to survive an older gossip merge, got %+v", got)
	}
}

func TestMergeBreaksTiesByQueriedBy(t *testing.T) {
	r := New(nil, Opts{})
	t0 := time.Unix(100, 0)
	r.ReceiveGossip(snapshot.Snapshot{QueriedAt: t0, QueriedBy: "N1"})
	r.ReceiveGossip(snapshot.Snapshot{QueriedAt: t0, QueriedBy: "N2"})

	if got := r.Read(); got.QueriedBy != "N2" {
		t.Fatalf("expected lexically larger QueriedBy to win the tie, got %q", got.QueriedBy)
	}
}

func TestSubscribeIsNotifiedOnChange(t *testing.T) {
	r := New(nil, Opts{})
	var got snapshot.Snapshot
	var calls int
	r.Subscribe(func(s snapshot.Snapshot) {
		calls++
		got = s
	})

	s := snapshot.Snapshot{QueriedAt: time.Unix(1, 0), QueriedBy: "N1"}
	r.ReceiveGossip(s)

	if calls != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", calls)
	}
	if got.QueriedBy != "N1" {
		t.Fatalf("unexpected notified value: %+v", got)
	}

	// A strictly older candidate must not re-notify.
	r.ReceiveGossip(snapshot.Snapshot{QueriedAt: time.Unix(0, 0), QueriedBy: "N0"})
	if calls != 1 {
		t.Fatalf("expected no notification for a stale candidate, got %d calls", calls)
	}
}

func TestWriteReturnsOnceMajorityAcksWithinTimeout(t *testing.T) {
	tr := newFakeTransport()
	peerA := New(nil, Opts{})
	peerB := New(nil, Opts{})
	tr.add("a", peerA)
	tr.add("b", peerB)

	r := New(staticPeers{"a", "b"}, Opts{Transport: tr, WriteMajorityTimeout: time.Second})
	start := time.Now()
	err := r.Write(context.Background(), snapshot.Snapshot{QueriedAt: time.Unix(1, 0), QueriedBy: "N1"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("expected Write to return promptly once a majority (2 of 2) acked")
	}
}

func TestWriteDoesNotBlockPastTimeoutOnUnreachablePeers(t *testing.T) {
	tr := newFakeTransport()
	tr.fail = map[string]bool{"a": true, "b": true}

	r := New(staticPeers{"a", "b"}, Opts{Transport: tr, WriteMajorityTimeout: 50 * time.Millisecond})
	start := time.Now()
	err := r.Write(context.Background(), snapshot.Snapshot{QueriedAt: time.Unix(1, 0), QueriedBy: "N1"})
	if err != nil {
		t.Fatalf("Write must not itself fail when gossip is best-effort, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("expected Write to return around WriteMajorityTimeout, took %v", elapsed)
	}
}

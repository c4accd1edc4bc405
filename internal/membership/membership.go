// Package membership abstracts "current peers" behind a small interface so
// the core only ever consumes a peer list, never a concrete discovery
// mechanism. Static is the only implementation for now; swapping in a
// dynamic membership service later shouldn't require touching callers.
package membership

// Static is a fixed peer list read from configuration. It satisfies
// register.PeerLister.
type Static struct {
	peers []string
}

// NewStatic builds a Static membership list from a configured peer address
// list (each entry a base URL such as "http://node-b:8080").
func NewStatic(peers []string) *Static {
	cp := make([]string, len(peers))
	copy(cp, peers)
	return &Static{peers: cp}
}

// Peers returns the configured peer addresses. The slice is a defensive
// copy; callers must not rely on it reflecting later configuration changes,
// since Static never changes after construction.
func (s *Static) Peers() []string {
	cp := make([]string, len(s.peers))
	copy(cp, s.peers)
	return cp
}

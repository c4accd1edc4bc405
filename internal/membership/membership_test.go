package membership

import "testing"

func TestStaticPeersReturnsConfiguredList(t *testing.T) {
	s := NewStatic([]string{"http://a", "http://b"})
	got := s.Peers()
	if len(got) != 2 || got[0] != "http://a" || got[1] != "http://b" {
		t.Fatalf("unexpected peers: %v", got)
	}
}

func TestStaticPeersReturnsDefensiveCopy(t *testing.T) {
	s := NewStatic([]string{"http://a"})
	got := s.Peers()
	got[0] = "mutated"

	if s.Peers()[0] != "http://a" {
		t.Fatal("mutating the returned slice must not affect subsequent calls")
	}
}

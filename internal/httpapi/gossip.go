package httpapi

import (
	"io"
	"net/http"

	"github.com/sertdev/tubestatus/internal/register"
	"github.com/sertdev/tubestatus/internal/snapshot"
)

// GossipSink is the subset of the replicated register's API the gossip
// ingress route depends on: merge a peer-originated value.
type GossipSink interface {
	ReceiveGossip(snapshot.Snapshot)
}

// gossipHandler decodes an inbound peer gossip payload and merges it into
// the local register. It never fails loudly on a bad peer payload beyond a
// 400 — a malformed or stale gossip send must never take the node down.
func gossipHandler(sink GossipSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		value, err := register.DecodeGossipPayload(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		sink.ReceiveGossip(value)
		w.WriteHeader(http.StatusNoContent)
	}
}

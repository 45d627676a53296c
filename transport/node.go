// Package transport implements the spec's network layer: a length-prefixed,
// CBOR-framed TCP protocol connecting actorhub nodes, the ProxyActor stand-in
// for a remote Process, and the RemoteActorCache that deduplicates proxies
// by (node, remote pid) (spec §4.7). It depends on actor, payload,
// group and atom — never the other way around.
package transport

import (
	"github.com/google/uuid"

	"github.com/markInTheAbyss/actorhub/actor"
)

// NewNodeID generates a fresh 128-bit NodeID for this process, via
// google/uuid (pack-wide dependency; a random v4 UUID is exactly the
// "128-bit host fingerprint chosen once at process start" spec §3 asks
// for).
func NewNodeID() actor.NodeID {
	return actor.NodeID(uuid.New())
}

// NodeIDFromWire rebuilds a NodeID from the 16 bytes a wire frame carried.
func NodeIDFromWire(b [16]byte) actor.NodeID { return actor.NodeID(b) }

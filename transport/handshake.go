package transport

import (
	"bufio"
	"fmt"
	"net"

	"github.com/markInTheAbyss/actorhub/actor"
)

// handshake exchanges NodeID frames over conn and returns the peer's
// NodeID. Both sides write before reading, so it deadlocks neither on a
// loopback pipe nor on a real socket.
func handshake(conn net.Conn, localNode actor.NodeID, w *bufio.Writer, r *bufio.Reader) (actor.NodeID, error) {
	out := frameEnvelope{Kind: frameHandshakeKind, Handshake: &frameHandshake{NodeID: [16]byte(localNode)}}
	if err := writeFrame(w, out); err != nil {
		return actor.NodeID{}, fmt.Errorf("transport: handshake write: %w", err)
	}
	if err := w.Flush(); err != nil {
		return actor.NodeID{}, fmt.Errorf("transport: handshake flush: %w", err)
	}

	in, err := readFrame(r)
	if err != nil {
		return actor.NodeID{}, fmt.Errorf("transport: handshake read: %w", err)
	}
	if in.Kind != frameHandshakeKind || in.Handshake == nil {
		return actor.NodeID{}, fmt.Errorf("transport: handshake: expected handshake frame, got kind %d", in.Kind)
	}
	return NodeIDFromWire(in.Handshake.NodeID), nil
}

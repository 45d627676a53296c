package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// frameKind tags which of the wire structs below a frame carries. Framing
// is length-prefixed (a uint32 byte count) followed by a CBOR-encoded
// frame envelope, mirroring the pack's other length-prefixed binary
// protocols.
type frameKind uint8

const (
	frameHandshakeKind frameKind = iota + 1
	frameDeliverKind
	frameNotifyExitKind
	frameMonitorRequestKind
	frameDemonitorRequestKind
	frameLinkRequestKind
	frameUnlinkRequestKind
	frameGroupSubscribeKind
	frameGroupUnsubscribeKind
	frameGroupPublishKind
	frameLookupRequestKind
	frameLookupReplyKind
)

// frameHandshake is the first frame exchanged on a new connection: each
// side announces its NodeID (spec §4.7's node identification handshake).
type frameHandshake struct {
	NodeID [16]byte
}

// frameDeliver carries one Envelope's worth of payload to a remote Process
// (spec §4.7's "Remote Send").
type frameDeliver struct {
	DestPid        uint64
	SenderNode     [16]byte
	SenderPid      uint64
	SenderIsNil    bool
	PayloadBytes   []byte
	RequestID      uint64
	IsSyncResponse bool
}

// frameNotifyExit replays a link/monitor exit notification across the
// wire (spec §4.7's "Remote DOWN").
type frameNotifyExit struct {
	TargetPid uint64
	FromNode  [16]byte
	FromPid   uint64
	Reason    uint32
	Linked    bool
}

// frameMonitorRequest/frameLinkRequest ask the peer holding TargetPid to
// register the sender as a monitor/link of it, so a later exit there
// produces a frameNotifyExit back to this node.
type frameMonitorRequest struct {
	TargetPid    uint64
	ObserverNode [16]byte
	ObserverPid  uint64
}

type frameLinkRequest struct {
	TargetPid uint64
	PeerNode  [16]byte
	PeerPid   uint64
}

type frameGroupSubscribe struct {
	GroupName  string
	MemberNode [16]byte
	MemberPid  uint64
}

type frameGroupPublish struct {
	GroupName    string
	SenderNode   [16]byte
	SenderPid    uint64
	SenderIsNil  bool
	PayloadBytes []byte
}

// frameLookupRequest is the spec's {GetPublishedActor} RPC (§4.7, §6): sent
// by remote_actor(host, port) once a connection exists, asking the peer
// which Process (if any) it published on the connection the request
// arrived on. There is no name to look up by — a published actor is
// addressed purely by (host, port), one per listening Server.
type frameLookupRequest struct{}

// frameLookupReply answers a frameLookupRequest: Found is false if the
// peer's Server has never had PublishActor called on it (spec §7's
// UnknownActor).
type frameLookupReply struct {
	Found bool
	Pid   uint64
}

// frameEnvelope is the outer wire struct: a kind tag plus exactly one of
// the typed bodies above, CBOR-encoded as a single map so unused fields
// cost nothing on the wire (cbor.CanonicalEncOptions + omitempty).
type frameEnvelope struct {
	Kind frameKind

	Handshake        *frameHandshake      `cbor:",omitempty"`
	Deliver          *frameDeliver        `cbor:",omitempty"`
	NotifyExit       *frameNotifyExit     `cbor:",omitempty"`
	MonitorRequest   *frameMonitorRequest `cbor:",omitempty"`
	DemonitorRequest *frameMonitorRequest `cbor:",omitempty"`
	LinkRequest      *frameLinkRequest    `cbor:",omitempty"`
	UnlinkRequest    *frameLinkRequest    `cbor:",omitempty"`
	GroupSubscribe   *frameGroupSubscribe `cbor:",omitempty"`
	GroupUnsubscribe *frameGroupSubscribe `cbor:",omitempty"`
	GroupPublish     *frameGroupPublish   `cbor:",omitempty"`
	LookupRequest    *frameLookupRequest  `cbor:",omitempty"`
	LookupReply      *frameLookupReply    `cbor:",omitempty"`
}

var encMode = func() cbor.EncMode {
	m, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return m
}()

const maxFrameBytes = 16 << 20 // 16MiB: generous ceiling against a corrupt length prefix wedging a reader open forever

// writeFrame length-prefixes and writes env to w.
func writeFrame(w io.Writer, env frameEnvelope) error {
	b, err := encMode.Marshal(env)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r *bufio.Reader) (frameEnvelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return frameEnvelope{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return frameEnvelope{}, fmt.Errorf("transport: frame of %d bytes exceeds %d byte limit", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return frameEnvelope{}, err
	}
	var env frameEnvelope
	if err := cbor.Unmarshal(body, &env); err != nil {
		return frameEnvelope{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	return env, nil
}

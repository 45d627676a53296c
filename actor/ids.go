package actor

import (
	"fmt"

	"github.com/markInTheAbyss/actorhub/payload"
)

// Pid is a process-unique integer identifying a Process (spec's ActorId).
// Paired with a NodeID it is globally unique.
type Pid uint64

// NodeID is a 128-bit host fingerprint chosen once at process start (spec
// §3). See transport.NewNodeID for how it is generated (google/uuid).
type NodeID [16]byte

func (n NodeID) String() string { return fmt.Sprintf("%x", [16]byte(n)) }

// ExitReason is the terminal status of a Process, visible to every monitor
// and link (spec §3, §4.3).
type ExitReason uint32

const (
	// ExitNormal is a clean, expected exit.
	ExitNormal ExitReason = iota
	// ExitUnhandledException marks a handler panic recovered by the
	// scheduler.
	ExitUnhandledException
	// ExitUserDefined is returned by Quit(reason) calls that pass a
	// caller-chosen reason (the reason itself is out of band; callers that
	// need to distinguish user reasons should encode them in the payload
	// sent alongside quitting, e.g. via a final message to self before
	// Quit, since ExitReason here is deliberately a closed, small set
	// matching spec §4.3's "plus reserved values and user values").
	ExitUserDefined
	// ExitConnectionLost marks a remote Ref whose underlying transport
	// connection failed or closed (spec §7).
	ExitConnectionLost
	// ExitNoSuchActor marks a remote Ref resolved to an actor ID the peer
	// never published (spec §7, UnknownActor).
	ExitNoSuchActor
	// ExitKilled is a reserved reason for an externally-requested kill:
	// callers may pass it to Quit, and a Spawn refused by an already
	// stopped Scheduler returns a Process pre-exited with it. Link
	// propagation itself (spec §4.3) re-exits the linked peer with the
	// dying Process's own reason, never this one.
	ExitKilled
)

func (r ExitReason) String() string {
	switch r {
	case ExitNormal:
		return "normal"
	case ExitUnhandledException:
		return "unhandled_exception"
	case ExitUserDefined:
		return "user_defined"
	case ExitConnectionLost:
		return "connection_lost"
	case ExitNoSuchActor:
		return "no_such_actor"
	case ExitKilled:
		return "killed"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

// Envelope is the Message of spec §3: sender, receiver, payload, and the
// optional sync-request correlation fields.
type Envelope struct {
	Sender         Ref
	Receiver       Ref
	Payload        payload.Tuple
	RequestID      uint64 // 0 means "no sync request"
	IsSyncResponse bool
}

// Ref is the spec's ActorRef: either a LocalRef (this process) or a
// transport.ProxyActor (a remote one). Both satisfy the same send/monitor/
// link capability set, so handlers never need to know which kind they hold.
type Ref interface {
	payload.Ref

	// Pid is the referenced process's id.
	Pid() Pid
	// Node is the referenced process's node id.
	Node() NodeID
	// IsLocal reports whether this Ref refers to a Process in this
	// runtime, as opposed to a remote proxy.
	IsLocal() bool

	// Send delivers env to the referenced process's mailbox. Never blocks
	// and never returns an error: failures become DOWN notifications to
	// monitors (spec §7).
	Send(env *Envelope)
	// Monitor registers observer as a one-way lifetime observer of the
	// referenced process.
	Monitor(observer Ref)
	// Demonitor undoes a prior Monitor.
	Demonitor(observer Ref)
	// Link bidirectionally couples the referenced process's lifetime with
	// peer's.
	Link(peer Ref)
	// Unlink undoes a prior Link.
	Unlink(peer Ref)

	// NotifyExit tells the referenced process that from just exited with
	// reason: linked selects whether this is a link propagation (may
	// cascade into this process's own exit) or a one-way monitor DOWN
	// notification. transport replays a remote peer's exit locally through
	// this same method (spec §4.7).
	NotifyExit(from Ref, reason ExitReason, linked bool)
}

// LocalRef is a Ref to a Process in this runtime: the spec's LocalRef.
type LocalRef struct {
	p *Process
}

var _ Ref = LocalRef{}

func (r LocalRef) Pid() Pid       { return r.p.pid }
func (r LocalRef) Node() NodeID   { return r.p.node }
func (r LocalRef) IsLocal() bool  { return true }
func (r LocalRef) RefString() string {
	return fmt.Sprintf("%s/%d", r.p.node, r.p.pid)
}
func (r LocalRef) WireRef() ([16]byte, uint64) { return [16]byte(r.p.node), uint64(r.p.pid) }

func (r LocalRef) Send(env *Envelope) { r.p.deliver(env) }

func (r LocalRef) Monitor(observer Ref) { r.p.addMonitor(observer) }
func (r LocalRef) Demonitor(observer Ref) { r.p.removeMonitor(observer) }
func (r LocalRef) Link(peer Ref) { r.p.addLink(peer) }
func (r LocalRef) Unlink(peer Ref) { r.p.removeLink(peer) }

func (r LocalRef) NotifyExit(from Ref, reason ExitReason, linked bool) {
	r.p.NotifyExit(from, reason, linked)
}

// Process returns the underlying Process this ref points to. Exposed for
// package runtime and group, which need to reach into scheduler bookkeeping
// that isn't part of the public Ref capability set.
func (r LocalRef) Process() *Process { return r.p }

// RefEqual reports whether two Refs name the same (Node, Pid) pair. Use
// this instead of == to compare Refs: transport.ProxyActor values must
// compare equal across separate resolutions of the same remote address
// (spec invariant 4), which plain interface equality only gives when the
// proxy itself is reference-deduplicated (see transport.RemoteActorCache) —
// RefEqual is the identity-independent fallback that always holds.
func RefEqual(a, b Ref) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Node() == b.Node() && a.Pid() == b.Pid()
}

package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/payload"
)

// Connection is one TCP link to a peer node: a frame reader goroutine plus
// a breaker-guarded frame writer (spec §4.7). Both Server and Client build
// their accepted/dialed net.Conns into one of these before handing it to
// a Router.
type Connection struct {
	conn net.Conn
	node actor.NodeID // the peer's NodeID, learned during handshake
	r    *bufio.Reader

	wmu sync.Mutex
	w   *bufio.Writer
	cb  *gobreaker.CircuitBreaker

	// outbox decouples callers of send (often an actor's own handler
	// goroutine, via ProxyActor.Send) from socket I/O: frames are pushed
	// onto the teacher's generic, never-blocking Mailbox[T] primitive and
	// drained by writeLoop on its own goroutine, the same way an Actor's
	// own mailbox decouples its senders from its handler (spec §7: Send
	// never blocks).
	outMu     sync.RWMutex
	outbox    actor.Mailbox[frameEnvelope]
	outClosed bool

	router *Router
	logger zerolog.Logger

	// server is set only for a Connection accepted by a Server (nil for one
	// a Client dialed out): it is how handleLookupRequest finds "the actor
	// published on this connection" (spec §4.7).
	server *Server

	// lookupCall is held for the whole of one RequestLookup call.
	lookupCall sync.Mutex

	lookupMu sync.Mutex
	lookupC  chan frameLookupReply

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(conn net.Conn, peer actor.NodeID, r *bufio.Reader, w *bufio.Writer, router *Router, logger zerolog.Logger) *Connection {
	c := &Connection{
		conn:   conn,
		node:   peer,
		r:      r,
		w:      w,
		router: router,
		logger: logger.With().Stringer("peer_node", peer).Logger(),
		closed: make(chan struct{}),
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("conn-%s", peer),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	c.outbox = actor.NewMailbox[frameEnvelope]()
	go c.writeLoop()
	return c
}

// Node returns the peer's NodeID.
func (c *Connection) Node() actor.NodeID { return c.node }

// send enqueues env onto the outbound Mailbox for writeLoop to deliver,
// returning immediately (spec §7: Send never blocks on socket I/O).
// outMu's read-lock guarantees this never races Close's shutdown of the
// mailbox's channels.
func (c *Connection) send(env frameEnvelope) error {
	c.outMu.RLock()
	defer c.outMu.RUnlock()
	if c.outClosed {
		return fmt.Errorf("transport: connection to %s is closed", c.node)
	}
	c.outbox.SendC() <- env
	return nil
}

// writeLoop drains the outbox and performs the actual wire write, tripping
// the circuit breaker on repeated failures so a half-dead socket stops
// being hammered while a reconnect is pending (spec §7's "connection lost"
// handling). Runs until Close stops the outbox.
func (c *Connection) writeLoop() {
	for env := range c.outbox.ReceiveC() {
		_, err := c.cb.Execute(func() (any, error) {
			c.wmu.Lock()
			defer c.wmu.Unlock()
			if err := writeFrame(c.w, env); err != nil {
				return nil, err
			}
			return nil, c.w.Flush()
		})
		if err != nil {
			c.Close(err)
		}
	}
}

// readLoop reads and dispatches frames until the connection fails or is
// closed. Runs on its own goroutine, started by Server/Client once the
// handshake completes.
func (c *Connection) readLoop() {
	for {
		env, err := readFrame(c.r)
		if err != nil {
			c.Close(err)
			return
		}
		c.handleFrame(env)
	}
}

func (c *Connection) handleFrame(env frameEnvelope) {
	switch env.Kind {
	case frameDeliverKind:
		c.handleDeliver(env.Deliver)
	case frameNotifyExitKind:
		c.handleNotifyExit(env.NotifyExit)
	case frameMonitorRequestKind:
		c.handleMonitorRequest(env.MonitorRequest, true)
	case frameDemonitorRequestKind:
		c.handleMonitorRequest(env.DemonitorRequest, false)
	case frameLinkRequestKind:
		c.handleLinkRequest(env.LinkRequest, true)
	case frameUnlinkRequestKind:
		c.handleLinkRequest(env.UnlinkRequest, false)
	case frameGroupSubscribeKind:
		c.handleGroupSubscribe(env.GroupSubscribe, true)
	case frameGroupUnsubscribeKind:
		c.handleGroupSubscribe(env.GroupUnsubscribe, false)
	case frameGroupPublishKind:
		c.handleGroupPublish(env.GroupPublish)
	case frameLookupRequestKind:
		c.handleLookupRequest()
	case frameLookupReplyKind:
		c.handleLookupReply(env.LookupReply)
	default:
		c.logger.Warn().Uint8("kind", uint8(env.Kind)).Msg("transport: unknown frame kind")
	}
}

func (c *Connection) handleDeliver(f *frameDeliver) {
	if f == nil {
		return
	}
	target, ok := c.router.sched.Lookup(actor.Pid(f.DestPid))
	if !ok {
		// No such local actor: tell the sender, if it asked for one, that
		// its send landed nowhere (spec §7's UnknownActor).
		if f.RequestID != 0 && !f.IsSyncResponse {
			c.notifySenderNoSuchActor(f)
		}
		return
	}
	t, err := c.router.codec.Decode(f.PayloadBytes)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transport: dropping undecodable frameDeliver payload")
		return
	}
	t = c.router.resolveTuple(t, c)

	var sender actor.Ref
	if !f.SenderIsNil {
		sender = c.router.proxyFor(c, NodeIDFromWire(f.SenderNode), actor.Pid(f.SenderPid))
	}
	target.Send(&actor.Envelope{
		Sender:         sender,
		Receiver:       target,
		Payload:        t,
		RequestID:      f.RequestID,
		IsSyncResponse: f.IsSyncResponse,
	})
}

func (c *Connection) notifySenderNoSuchActor(f *frameDeliver) {
	if f.SenderIsNil {
		return
	}
	sender := c.router.proxyFor(c, NodeIDFromWire(f.SenderNode), actor.Pid(f.SenderPid))
	sender.NotifyExit(sender, actor.ExitNoSuchActor, false)
}

func (c *Connection) handleNotifyExit(f *frameNotifyExit) {
	if f == nil {
		return
	}
	target, ok := c.router.sched.Lookup(actor.Pid(f.TargetPid))
	if !ok {
		return
	}
	from := c.router.proxyFor(c, NodeIDFromWire(f.FromNode), actor.Pid(f.FromPid))
	// The remote Process is gone; retire the local watch mirror so a later
	// connection loss doesn't produce a second, spurious DOWN.
	c.router.removeRemoteWatch(from.Node(), from.Pid(), target, f.Linked)
	target.NotifyExit(from, actor.ExitReason(f.Reason), f.Linked)
}

func (c *Connection) handleMonitorRequest(f *frameMonitorRequest, monitor bool) {
	if f == nil {
		return
	}
	target, ok := c.router.sched.Lookup(actor.Pid(f.TargetPid))
	if !ok {
		return
	}
	observer := c.router.proxyFor(c, NodeIDFromWire(f.ObserverNode), actor.Pid(f.ObserverPid))
	if monitor {
		target.Monitor(observer)
	} else {
		target.Demonitor(observer)
	}
}

func (c *Connection) handleLinkRequest(f *frameLinkRequest, link bool) {
	if f == nil {
		return
	}
	target, ok := c.router.sched.Lookup(actor.Pid(f.TargetPid))
	if !ok {
		return
	}
	peer := c.router.proxyFor(c, NodeIDFromWire(f.PeerNode), actor.Pid(f.PeerPid))
	if link {
		target.Link(peer)
	} else {
		target.Unlink(peer)
	}
}

func (c *Connection) handleGroupSubscribe(f *frameGroupSubscribe, subscribe bool) {
	if f == nil {
		return
	}
	member := c.router.proxyFor(c, NodeIDFromWire(f.MemberNode), actor.Pid(f.MemberPid))
	g := c.router.groups.Get(f.GroupName)
	if subscribe {
		g.Subscribe(member)
	} else {
		g.Unsubscribe(member)
	}
}

func (c *Connection) handleGroupPublish(f *frameGroupPublish) {
	if f == nil {
		return
	}
	t, err := c.router.codec.Decode(f.PayloadBytes)
	if err != nil {
		c.logger.Warn().Err(err).Msg("transport: dropping undecodable group publish payload")
		return
	}
	t = c.router.resolveTuple(t, c)
	var sender actor.Ref
	if !f.SenderIsNil {
		sender = c.router.proxyFor(c, NodeIDFromWire(f.SenderNode), actor.Pid(f.SenderPid))
	}
	c.router.groups.Get(f.GroupName).Publish(sender, t)
}

// handleLookupRequest answers the spec's {GetPublishedActor} RPC: whatever
// Process this connection's Server has published, if any (spec §4.7).
// Client-dialed connections (c.server == nil) never receive this frame in
// practice, but answer "not found" rather than panic if they somehow did.
func (c *Connection) handleLookupRequest() {
	reply := frameLookupReply{}
	if c.server != nil {
		if ref, ok := c.server.Published(); ok {
			reply.Found = true
			reply.Pid = uint64(ref.Pid())
		}
	}
	_ = c.send(frameEnvelope{Kind: frameLookupReplyKind, LookupReply: &reply})
}

func (c *Connection) handleLookupReply(f *frameLookupReply) {
	if f == nil {
		return
	}
	c.lookupMu.Lock()
	ch := c.lookupC
	c.lookupMu.Unlock()
	if ch != nil {
		select {
		case ch <- *f:
		default:
		}
	}
}

// RequestLookup performs the spec's remote_actor lookup RPC over this
// connection and returns the pid of whatever the peer has published.
// Concurrent calls on the same Connection are serialized: only one lookup
// RPC is ever in flight at a time.
func (c *Connection) RequestLookup(timeout time.Duration) (actor.Pid, bool, error) {
	c.lookupCall.Lock()
	defer c.lookupCall.Unlock()
	c.lookupMu.Lock()
	ch := make(chan frameLookupReply, 1)
	c.lookupC = ch
	c.lookupMu.Unlock()
	defer func() {
		c.lookupMu.Lock()
		if c.lookupC == ch {
			c.lookupC = nil
		}
		c.lookupMu.Unlock()
	}()

	if err := c.send(frameEnvelope{Kind: frameLookupRequestKind, LookupRequest: &frameLookupRequest{}}); err != nil {
		return 0, false, err
	}
	select {
	case reply := <-ch:
		return actor.Pid(reply.Pid), reply.Found, nil
	case <-time.After(timeout):
		return 0, false, fmt.Errorf("transport: lookup on %s timed out", c.node)
	case <-c.closed:
		return 0, false, fmt.Errorf("transport: connection to %s closed during lookup", c.node)
	}
}

// Close shuts down the connection exactly once. Unless another connection
// to the peer node is registered, every local monitor or link of one of
// that node's Processes is notified with ExitConnectionLost and the node's
// cached proxies are evicted (spec §7).
func (c *Connection) Close(cause error) {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		if cause != nil {
			c.logger.Warn().Err(cause).Msg("transport: connection closed")
		}
		c.outMu.Lock()
		c.outClosed = true
		c.outMu.Unlock()
		c.outbox.Stop()
		c.router.onConnectionClosed(c)
	})
}

// Closed reports whether Close has already run.
func (c *Connection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// resolveElement replaces a wire-decoded KindRef element's placeholder Ref
// (payload.wireRefElement, which only carries the raw node/pid bytes) with
// a real actor.Ref: a LocalRef if the node is this one, otherwise a cached
// ProxyActor. Tuples are walked recursively.
func (rt *Router) resolveTuple(t payload.Tuple, via *Connection) payload.Tuple {
	elems := t.Elements()
	out := make([]payload.Element, len(elems))
	for i, e := range elems {
		out[i] = rt.resolveElement(e, via)
	}
	return payload.TupleOf(out...)
}

func (rt *Router) resolveElement(e payload.Element, via *Connection) payload.Element {
	switch e.Kind {
	case payload.KindRef:
		type wireIdentity interface {
			Node() [16]byte
			Pid() uint64
		}
		if wr, ok := e.Ref.(wireIdentity); ok {
			node := actor.NodeID(wr.Node())
			pid := actor.Pid(wr.Pid())
			if node == rt.sched.Node() {
				if ref, ok := rt.sched.Lookup(pid); ok {
					e.Ref = ref
				}
			} else {
				e.Ref = rt.proxyFor(via, node, pid)
			}
		}
		return e
	case payload.KindTuple:
		e.Tuple = rt.resolveTuple(e.Tuple, via)
		return e
	default:
		return e
	}
}

package transport

import (
	"fmt"
	"sync/atomic"

	"github.com/markInTheAbyss/actorhub/actor"
)

// ProxyActor is the spec's remote Process stand-in: an actor.Ref that
// forwards every operation across a Connection instead of touching a
// local Process directly (spec §4.7). Proxies are deduplicated by
// RemoteActorCache so repeated resolution of the same remote id yields
// the same Ref value, and survive a reconnect by swapping the Connection
// they forward through rather than being recreated.
type ProxyActor struct {
	node   actor.NodeID
	pid    actor.Pid
	router *Router

	conn atomic.Pointer[Connection]
}

var _ actor.Ref = (*ProxyActor)(nil)

func newProxyActor(router *Router, node actor.NodeID, pid actor.Pid, conn *Connection) *ProxyActor {
	p := &ProxyActor{router: router, node: node, pid: pid}
	p.conn.Store(conn)
	return p
}

func (p *ProxyActor) setConnection(conn *Connection) { p.conn.Store(conn) }

func (p *ProxyActor) Pid() actor.Pid     { return p.pid }
func (p *ProxyActor) Node() actor.NodeID { return p.node }
func (p *ProxyActor) IsLocal() bool      { return false }

func (p *ProxyActor) RefString() string {
	return fmt.Sprintf("%s/%d@remote", p.node, p.pid)
}

func (p *ProxyActor) WireRef() ([16]byte, uint64) { return [16]byte(p.node), uint64(p.pid) }

// currentConn returns the live connection to forward through, reconsulting
// the Router in case a reconnect replaced it since this proxy last sent.
func (p *ProxyActor) currentConn() *Connection {
	if c, ok := p.router.connectionFor(p.node); ok {
		if c != p.conn.Load() {
			p.conn.Store(c)
		}
		return c
	}
	return p.conn.Load()
}

// Send implements actor.Ref. Per spec §7, Send never blocks and never
// returns an error: if there is no live connection to the peer right now,
// the envelope is silently dropped, matching the at-most-once, no-delivery-
// guarantee semantics the spec's plain Send already has for local Refs.
func (p *ProxyActor) Send(env *actor.Envelope) {
	conn := p.currentConn()
	if conn == nil || conn.Closed() {
		return
	}
	body, err := p.router.codec.Encode(env.Payload)
	if err != nil {
		p.router.logger.Warn().Err(err).Msg("transport: dropping unencodable outbound payload")
		return
	}
	f := &frameDeliver{
		DestPid:        uint64(p.pid),
		PayloadBytes:   body,
		RequestID:      env.RequestID,
		IsSyncResponse: env.IsSyncResponse,
	}
	if env.Sender == nil {
		f.SenderIsNil = true
	} else {
		f.SenderNode = [16]byte(env.Sender.Node())
		f.SenderPid = uint64(env.Sender.Pid())
	}
	_ = conn.send(frameEnvelope{Kind: frameDeliverKind, Deliver: f})
}

// Monitor registers observer with the remote Process and mirrors the watch
// locally, so a lost connection can still be surfaced to observer as
// DOWN(connection_lost) (spec §7).
func (p *ProxyActor) Monitor(observer actor.Ref) {
	p.router.addRemoteWatch(p, observer, false)
	p.sendControl(frameMonitorRequestKind, observer)
}

func (p *ProxyActor) Demonitor(observer actor.Ref) {
	p.router.removeRemoteWatch(p.node, p.pid, observer, false)
	p.sendControl(frameDemonitorRequestKind, observer)
}

func (p *ProxyActor) Link(peer actor.Ref) {
	p.router.addRemoteWatch(p, peer, true)
	p.sendLinkControl(frameLinkRequestKind, peer)
}

func (p *ProxyActor) Unlink(peer actor.Ref) {
	p.router.removeRemoteWatch(p.node, p.pid, peer, true)
	p.sendLinkControl(frameUnlinkRequestKind, peer)
}

func (p *ProxyActor) sendControl(kind frameKind, observer actor.Ref) {
	conn := p.currentConn()
	if conn == nil || conn.Closed() {
		return
	}
	req := &frameMonitorRequest{
		TargetPid:    uint64(p.pid),
		ObserverNode: [16]byte(observer.Node()),
		ObserverPid:  uint64(observer.Pid()),
	}
	env := frameEnvelope{Kind: kind}
	if kind == frameMonitorRequestKind {
		env.MonitorRequest = req
	} else {
		env.DemonitorRequest = req
	}
	_ = conn.send(env)
}

func (p *ProxyActor) sendLinkControl(kind frameKind, peer actor.Ref) {
	conn := p.currentConn()
	if conn == nil || conn.Closed() {
		return
	}
	req := &frameLinkRequest{
		TargetPid: uint64(p.pid),
		PeerNode:  [16]byte(peer.Node()),
		PeerPid:   uint64(peer.Pid()),
	}
	env := frameEnvelope{Kind: kind}
	if kind == frameLinkRequestKind {
		env.LinkRequest = req
	} else {
		env.UnlinkRequest = req
	}
	_ = conn.send(env)
}

// NotifyExit implements actor.Ref: a local Process calling
// from.NotifyExit(self, reason, linked) on a ProxyActor forwards the exit
// notification to wherever the real Process actually lives, so that side's
// links/monitors learn about it too.
func (p *ProxyActor) NotifyExit(from actor.Ref, reason actor.ExitReason, linked bool) {
	conn := p.currentConn()
	if conn == nil || conn.Closed() {
		return
	}
	_ = conn.send(frameEnvelope{Kind: frameNotifyExitKind, NotifyExit: &frameNotifyExit{
		TargetPid: uint64(p.pid),
		FromNode:  [16]byte(from.Node()),
		FromPid:   uint64(from.Pid()),
		Reason:    uint32(reason),
		Linked:    linked,
	}})
}

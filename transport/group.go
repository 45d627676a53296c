package transport

import (
	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/group"
	"github.com/markInTheAbyss/actorhub/payload"
)

// RemoteGroup is a group.Group backed by a named group living on a remote
// node: Subscribe/Unsubscribe/Publish all forward across the Connection to
// that node rather than touching any local membership set (spec §4.7's
// "group resolved to host:port"). Install one into a local group.Registry
// with Registry.Put once a "name@host:port" address has been resolved.
type RemoteGroup struct {
	name   string
	node   actor.NodeID
	router *Router
}

var _ group.Group = (*RemoteGroup)(nil)

// NewRemoteGroup returns a Group that proxies operations on name to node
// through router's current connection to it.
func NewRemoteGroup(router *Router, node actor.NodeID, name string) *RemoteGroup {
	return &RemoteGroup{name: name, node: node, router: router}
}

func (g *RemoteGroup) Name() string { return g.name }

func (g *RemoteGroup) Subscribe(ref actor.Ref) {
	g.sendMembership(frameGroupSubscribeKind, ref)
}

func (g *RemoteGroup) Unsubscribe(ref actor.Ref) {
	g.sendMembership(frameGroupUnsubscribeKind, ref)
}

func (g *RemoteGroup) sendMembership(kind frameKind, ref actor.Ref) {
	conn, ok := g.router.connectionFor(g.node)
	if !ok || conn.Closed() {
		return
	}
	f := &frameGroupSubscribe{
		GroupName:  g.name,
		MemberNode: [16]byte(ref.Node()),
		MemberPid:  uint64(ref.Pid()),
	}
	env := frameEnvelope{Kind: kind}
	if kind == frameGroupSubscribeKind {
		env.GroupSubscribe = f
	} else {
		env.GroupUnsubscribe = f
	}
	_ = conn.send(env)
}

func (g *RemoteGroup) Publish(sender actor.Ref, t payload.Tuple) {
	conn, ok := g.router.connectionFor(g.node)
	if !ok || conn.Closed() {
		return
	}
	body, err := g.router.codec.Encode(t)
	if err != nil {
		g.router.logger.Warn().Err(err).Msg("transport: dropping unencodable group publish payload")
		return
	}
	f := &frameGroupPublish{GroupName: g.name, PayloadBytes: body}
	if sender == nil {
		f.SenderIsNil = true
	} else {
		f.SenderNode = [16]byte(sender.Node())
		f.SenderPid = uint64(sender.Pid())
	}
	_ = conn.send(frameEnvelope{Kind: frameGroupPublishKind, GroupPublish: f})
}

// Members always returns nil: membership lives on the remote node, and the
// spec never requires a local caller to enumerate a remote group's
// subscribers, only to Publish into it.
func (g *RemoteGroup) Members() []actor.Ref { return nil }

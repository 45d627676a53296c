package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/group"
	"github.com/markInTheAbyss/actorhub/payload"
)

// Router is the per-node hub tying the local Scheduler and group Registry
// to every live Connection and the ProxyActor cache, so ProxyActor.Send
// and the frame dispatch in connection.go both have one place to resolve
// "where does this (node, pid) currently live" (spec §4.7).
type Router struct {
	sched  *actor.Scheduler
	groups *group.Registry
	codec  payload.Codec
	logger zerolog.Logger
	cache  *RemoteActorCache

	mu    sync.Mutex
	conns map[actor.NodeID]*Connection

	dialMu    sync.Mutex
	dialCache map[string]*Client

	// watchMu guards the local record of which local Refs are monitoring or
	// linked to which remote Processes. The authoritative monitor/link sets
	// live on the remote node; this mirror exists so that losing the
	// connection can be translated into DOWN(connection_lost) for every
	// local observer (spec §7's ConnectionLost), which the remote side is by
	// definition no longer able to do.
	watchMu sync.Mutex
	watches map[watchKey]*remoteWatch
}

type watchKey struct {
	target  cacheKey
	obsNode actor.NodeID
	obsPid  actor.Pid
	linked  bool
}

type remoteWatch struct {
	observer actor.Ref
	target   *ProxyActor
	linked   bool
}

// NewRouter builds a Router over sched and groups. A nil codec defaults to
// payload.NewCBORCodec(nil).
func NewRouter(sched *actor.Scheduler, groups *group.Registry, codec payload.Codec, logger zerolog.Logger) *Router {
	if codec == nil {
		codec = payload.NewCBORCodec(nil)
	}
	return &Router{
		sched:   sched,
		groups:  groups,
		codec:   codec,
		logger:  logger,
		cache:   NewRemoteActorCache(0),
		conns:   make(map[actor.NodeID]*Connection),
		watches: make(map[watchKey]*remoteWatch),
	}
}

func (rt *Router) addRemoteWatch(target *ProxyActor, observer actor.Ref, linked bool) {
	key := watchKey{
		target:  cacheKey{node: target.node, pid: target.pid},
		obsNode: observer.Node(),
		obsPid:  observer.Pid(),
		linked:  linked,
	}
	rt.watchMu.Lock()
	rt.watches[key] = &remoteWatch{observer: observer, target: target, linked: linked}
	rt.watchMu.Unlock()
}

func (rt *Router) removeRemoteWatch(targetNode actor.NodeID, targetPid actor.Pid, observer actor.Ref, linked bool) {
	key := watchKey{
		target:  cacheKey{node: targetNode, pid: targetPid},
		obsNode: observer.Node(),
		obsPid:  observer.Pid(),
		linked:  linked,
	}
	rt.watchMu.Lock()
	delete(rt.watches, key)
	rt.watchMu.Unlock()
}

// dropNodeWatches removes and returns every watch on a Process of node,
// for onConnectionClosed to fire DOWN(connection_lost) against.
func (rt *Router) dropNodeWatches(node actor.NodeID) []*remoteWatch {
	rt.watchMu.Lock()
	defer rt.watchMu.Unlock()
	var out []*remoteWatch
	for key, w := range rt.watches {
		if key.target.node == node {
			out = append(out, w)
			delete(rt.watches, key)
		}
	}
	return out
}

// registerConnection makes c the connection of record for its peer node,
// replacing (and closing) any prior one — a fresh accept/dial always wins
// over a stale, not-yet-detected-dead link.
func (rt *Router) registerConnection(c *Connection) {
	rt.mu.Lock()
	old := rt.conns[c.node]
	rt.conns[c.node] = c
	rt.mu.Unlock()
	if old != nil && old != c {
		old.Close(nil)
	}
}

func (rt *Router) onConnectionClosed(c *Connection) {
	rt.mu.Lock()
	if rt.conns[c.node] == c {
		delete(rt.conns, c.node)
	}
	remaining := rt.conns[c.node] != nil
	rt.mu.Unlock()

	if remaining {
		return
	}
	// No other connection is standing in for this node right now: every
	// local monitor and link of one of its Processes learns the link is
	// gone (spec §7's ConnectionLost -> DOWN translation), and every proxy
	// cached against it is dropped until a reconnect succeeds.
	for _, w := range rt.dropNodeWatches(c.node) {
		w.observer.NotifyExit(w.target, actor.ExitConnectionLost, w.linked)
	}
	rt.cache.evictNode(c.node)
}

// connectionFor returns the current connection to node, if any.
func (rt *Router) connectionFor(node actor.NodeID) (*Connection, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	c, ok := rt.conns[node]
	return c, ok
}

// proxyFor returns the (possibly newly created) ProxyActor for (node, pid),
// bound to via unless a more current connection is already registered for
// that node.
func (rt *Router) proxyFor(via *Connection, node actor.NodeID, pid actor.Pid) *ProxyActor {
	if c, ok := rt.connectionFor(node); ok {
		via = c
	}
	return rt.cache.getOrCreate(rt, via, node, pid)
}

// Resolve returns a Ref to (node, pid): a LocalRef if node is this
// Router's own Scheduler, otherwise a ProxyActor bound to the current
// connection for that node, if any (spec §4.7's remote_actor lookup).
func (rt *Router) Resolve(node actor.NodeID, pid actor.Pid) (actor.Ref, bool) {
	if node == rt.sched.Node() {
		return rt.sched.Lookup(pid)
	}
	c, ok := rt.connectionFor(node)
	if !ok {
		return nil, false
	}
	return rt.proxyFor(c, node, pid), true
}

// RemoteActor implements the spec's remote_actor(host, port): it connects
// to addr if this Router has no Client there yet (otherwise reuses the
// existing one — spec §4.7's "connect if needed"), then performs the
// {GetPublishedActor} lookup RPC. Calling it twice with the same addr
// returns a reference-equal Ref (spec invariant 4, scenario S4), since both
// calls reuse the same Client and resolve through the same RemoteActorCache
// entry.
func (rt *Router) RemoteActor(addr string, logger zerolog.Logger, timeout time.Duration) (actor.Ref, error) {
	cl, err := rt.dialCached(addr, logger)
	if err != nil {
		return nil, err
	}
	return cl.RemoteActor(timeout)
}

func (rt *Router) dialCached(addr string, logger zerolog.Logger) (*Client, error) {
	rt.dialMu.Lock()
	defer rt.dialMu.Unlock()
	if rt.dialCache == nil {
		rt.dialCache = make(map[string]*Client)
	}
	if cl, ok := rt.dialCache[addr]; ok {
		return cl, nil
	}
	cl, err := Dial(addr, rt, logger)
	if err != nil {
		return nil, err
	}
	rt.dialCache[addr] = cl
	return cl, nil
}

// RemoteGroup resolves the group named name on the node listening at addr,
// dialing (and reusing) a connection the same way RemoteActor does. The
// returned Group forwards Subscribe/Unsubscribe/Publish across the wire
// (spec §4.6's networked multicast module).
func (rt *Router) RemoteGroup(addr, name string, logger zerolog.Logger) (group.Group, error) {
	cl, err := rt.dialCached(addr, logger)
	if err != nil {
		return nil, err
	}
	node, ok := cl.Node()
	if !ok {
		return nil, fmt.Errorf("transport: %s is not connected", addr)
	}
	return NewRemoteGroup(rt, node, name), nil
}

// Close tears down every Client this Router dialed (directly or through
// RemoteActor/RemoteGroup) and every registered Connection. Proxies cached
// for those peers observe it as ConnectionLost.
func (rt *Router) Close() {
	rt.dialMu.Lock()
	clients := make([]*Client, 0, len(rt.dialCache))
	for _, cl := range rt.dialCache {
		clients = append(clients, cl)
	}
	rt.dialCache = nil
	rt.dialMu.Unlock()
	for _, cl := range clients {
		cl.Close()
	}

	rt.mu.Lock()
	conns := make([]*Connection, 0, len(rt.conns))
	for _, c := range rt.conns {
		conns = append(conns, c)
	}
	rt.mu.Unlock()
	for _, c := range conns {
		c.Close(nil)
	}
}

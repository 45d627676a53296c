package transport

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/markInTheAbyss/actorhub/actor"
)

// cacheKey identifies a remote Process independent of which Connection
// currently serves it.
type cacheKey struct {
	node actor.NodeID
	pid  actor.Pid
}

// RemoteActorCache deduplicates ProxyActor values so two resolutions of
// the same remote (node, pid) — e.g. the double remote_actor() identity
// call exercised by scenario S4 — return the identical Ref, satisfying
// spec invariant 4 ("remote refs compare equal across repeated
// resolution"). Backed by hashicorp/golang-lru/v2, the pack's own
// dependency, so a long-lived node doesn't accumulate unbounded proxies
// for actors it briefly talked to once.
type RemoteActorCache struct {
	// mu makes the get-then-create in getOrCreate atomic; the lru's own
	// internal lock only covers single operations, and two racing
	// resolutions of the same (node, pid) must not mint two proxies.
	mu  sync.Mutex
	lru *lru.Cache[cacheKey, *ProxyActor]
}

// NewRemoteActorCache returns a cache holding at most capacity proxies.
func NewRemoteActorCache(capacity int) *RemoteActorCache {
	if capacity <= 0 {
		capacity = 4096
	}
	c, err := lru.New[cacheKey, *ProxyActor](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &RemoteActorCache{lru: c}
}

// getOrCreate returns the cached proxy for (node, pid), creating and
// caching one bound to conn if this is the first resolution. If a proxy
// already exists but is currently bound to a different (e.g. reconnected)
// Connection, its connection pointer is updated to conn.
func (c *RemoteActorCache) getOrCreate(router *Router, conn *Connection, node actor.NodeID, pid actor.Pid) *ProxyActor {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey{node: node, pid: pid}
	if p, ok := c.lru.Get(key); ok {
		p.setConnection(conn)
		return p
	}
	p := newProxyActor(router, node, pid, conn)
	c.lru.Add(key, p)
	return p
}

// evictNode drops every cached proxy for node, run when all connections
// to that node are gone for good (as opposed to merely reconnecting).
func (c *RemoteActorCache) evictNode(node actor.NodeID) {
	for _, key := range c.lru.Keys() {
		if key.node == node {
			c.lru.Remove(key)
		}
	}
}

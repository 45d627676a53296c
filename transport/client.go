package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/markInTheAbyss/actorhub/actor"
)

// ClientOptions configure Dial and its background reconnect loop.
type ClientOptions struct {
	// DialBackoff is the schedule between connect attempts, both for the
	// initial Dial and for every reconnect afterward.
	DialBackoff func() backoff.BackOff
	// Reconnect, if true, keeps retrying in the background after the
	// connection drops instead of leaving the peer node unreachable until
	// someone calls Dial again.
	Reconnect bool
}

// ClientOption mutates ClientOptions.
type ClientOption func(*ClientOptions)

// WithReconnect enables the background auto-redial loop.
func WithReconnect(enabled bool) ClientOption {
	return func(o *ClientOptions) { o.Reconnect = enabled }
}

func defaultClientOptions() ClientOptions {
	return ClientOptions{
		DialBackoff: func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		Reconnect:   true,
	}
}

// Client dials one peer address and keeps a Connection to it registered on
// a Router, optionally redialing with backoff after a disconnect (spec
// §4.7's outbound half, and the original's reconnect-after-drop scenario).
type Client struct {
	addr   string
	router *Router
	logger zerolog.Logger
	opts   ClientOptions

	current atomic.Pointer[Connection]
	stopped atomic.Bool
}

// Dial connects to addr and registers the resulting Connection with
// router. On success a background goroutine is started (if
// WithReconnect(true), the default) that redials whenever the connection
// is lost.
func Dial(addr string, router *Router, logger zerolog.Logger, opt ...ClientOption) (*Client, error) {
	o := defaultClientOptions()
	for _, fn := range opt {
		fn(&o)
	}
	cl := &Client{addr: addr, router: router, logger: logger, opts: o}

	conn, err := cl.connectOnce()
	if err != nil {
		return nil, err
	}
	if o.Reconnect {
		go cl.watch(conn)
	}
	return cl, nil
}

func (cl *Client) connectOnce() (*Connection, error) {
	var result *Connection
	operation := func() error {
		raw, err := net.DialTimeout("tcp", cl.addr, 5*time.Second)
		if err != nil {
			return err
		}
		r := bufio.NewReader(raw)
		w := bufio.NewWriter(raw)
		peer, err := handshake(raw, cl.router.sched.Node(), w, r)
		if err != nil {
			_ = raw.Close()
			return err
		}
		result = newConnection(raw, peer, r, w, cl.router, cl.logger)
		return nil
	}
	if err := backoff.Retry(operation, cl.opts.DialBackoff()); err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", cl.addr, err)
	}
	cl.router.registerConnection(result)
	cl.current.Store(result)
	go result.readLoop()
	return result, nil
}

// watch redials after conn is closed, as long as ClientOptions.Reconnect
// is set and Close hasn't been called; it gives up, logging an error, once
// a redial exhausts its DialBackoff schedule. Each
// successful redial re-registers a fresh Connection with the Router, which
// is how every ProxyActor bound to the old one picks up the new socket
// (see ProxyActor.currentConn).
func (cl *Client) watch(conn *Connection) {
	for {
		<-conn.closed
		if cl.stopped.Load() {
			return
		}
		next, err := cl.connectOnce()
		if err != nil {
			cl.logger.Error().Err(err).Str("addr", cl.addr).Msg("transport: giving up reconnecting")
			return
		}
		conn = next
	}
}

// Close stops the reconnect loop (if any) and closes the current
// connection.
func (cl *Client) Close() {
	cl.stopped.Store(true)
	if c := cl.current.Load(); c != nil {
		c.Close(nil)
	}
}

// RemoteActor performs the spec's remote_actor(host, port) lookup RPC over
// the Client's current connection and returns a ProxyActor bound to the
// result, deduplicated through the Router's RemoteActorCache so repeated
// calls return a reference-equal Ref (spec invariant 4, scenario S4).
func (cl *Client) RemoteActor(timeout time.Duration) (actor.Ref, error) {
	conn := cl.current.Load()
	if conn == nil {
		return nil, fmt.Errorf("transport: %s is not connected", cl.addr)
	}
	pid, found, err := conn.RequestLookup(timeout)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("transport: %s: %w", cl.addr, errNoPublishedActor)
	}
	return cl.router.proxyFor(conn, conn.Node(), pid), nil
}

// errNoPublishedActor marks a successful lookup RPC that found no actor
// published on the peer (spec §7's UnknownActor, surfaced here rather than
// as a dead Ref since there is no remote pid yet to attach one to).
var errNoPublishedActor = fmt.Errorf("no actor published at this address")

// Node returns the NodeID the peer announced during the handshake, if the
// Client currently holds a connection.
func (cl *Client) Node() (actor.NodeID, bool) {
	c := cl.current.Load()
	if c == nil {
		return actor.NodeID{}, false
	}
	return c.Node(), true
}

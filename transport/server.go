package transport

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/markInTheAbyss/actorhub/actor"
)

// ErrBindFailure is the spec's BindFailure (§7): the listen address was
// still unavailable after every retry NewServer was given. Recoverable by
// retrying with a different address.
var ErrBindFailure = errors.New("transport: bind failure")

// ServerOptions configure NewServer.
type ServerOptions struct {
	// BindRetries is how many times to retry a failed Listen before giving
	// up (spec's "bind failure" scenario: a port still held by a just-exited
	// prior instance). Zero means try once, no retries.
	BindRetries int
	// BindBackoff is the backoff schedule between bind attempts.
	BindBackoff backoff.BackOff
}

// ServerOption mutates ServerOptions.
type ServerOption func(*ServerOptions)

// WithBindRetries sets how many times NewServer retries a failed bind.
func WithBindRetries(n int) ServerOption {
	return func(o *ServerOptions) { o.BindRetries = n }
}

func defaultServerOptions() ServerOptions {
	return ServerOptions{
		BindRetries: 5,
		BindBackoff: backoff.NewExponentialBackOff(),
	}
}

// Server accepts inbound connections on one TCP address and feeds every
// accepted Connection into a shared Router (spec §4.7).
type Server struct {
	router   *Router
	logger   zerolog.Logger
	opts     ServerOptions
	listener net.Listener

	published atomic.Pointer[actor.Ref]
}

// NewServer binds addr, retrying per WithBindRetries on failure (spec's
// bind-failure-then-retry scenario, where a just-freed port briefly
// refuses new listeners). Call Serve to start accepting.
func NewServer(addr string, router *Router, logger zerolog.Logger, opt ...ServerOption) (*Server, error) {
	o := defaultServerOptions()
	for _, fn := range opt {
		fn(&o)
	}

	var ln net.Listener
	attempt := 0
	operation := func() error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			attempt++
			if attempt > o.BindRetries {
				return backoff.Permanent(err)
			}
			return err
		}
		ln = l
		return nil
	}
	if err := backoff.Retry(operation, o.BindBackoff); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBindFailure, addr, err)
	}

	return &Server{router: router, logger: logger, opts: o, listener: ln}, nil
}

// Addr returns the bound local address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// PublishActor makes ref the Process a peer's remote_actor(host, port) call
// resolves to when it connects to this Server (spec §4.7's publish). A
// second call replaces the previously published actor; Server only ever
// tracks one, matching "publish(actor, port, bind_address)" binding a
// single actor to a single listening address.
func (s *Server) PublishActor(ref actor.Ref) {
	s.published.Store(&ref)
}

// Published returns the currently published actor, if PublishActor has been
// called.
func (s *Server) Published() (actor.Ref, bool) {
	p := s.published.Load()
	if p == nil {
		return nil, false
	}
	return *p, true
}

// Serve accepts connections until the listener is closed, handshaking and
// registering each one with the Server's Router. Blocks; run it in its own
// goroutine.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn net.Conn) {
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	peer, err := handshake(conn, s.router.sched.Node(), w, r)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", conn.RemoteAddr().String()).Msg("transport: handshake failed")
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	c := newConnection(conn, peer, r, w, s.router, s.logger)
	c.server = s
	s.router.registerConnection(c)
	c.readLoop()
}

// Close stops accepting new connections.
func (s *Server) Close() error { return s.listener.Close() }

// Package runtime is the spec's Bootstrap/Shutdown facade: it wires a
// Scheduler, a group Registry, and (optionally) a listening Server and any
// number of dialed Clients into one value, and owns their orderly shutdown
// (spec §6). Most programs only need runtime.Default(); tests and anything
// running more than one node in-process use runtime.New directly.
package runtime

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/group"
	"github.com/markInTheAbyss/actorhub/transport"
)

// Runtime bundles one node's Scheduler, group Registry and transport
// Router, plus whatever Server/Clients its Options asked for.
type Runtime struct {
	Node      actor.NodeID
	Scheduler *actor.Scheduler
	Groups    *group.Registry
	Router    *transport.Router
	Server    *transport.Server

	logger  zerolog.Logger
	clients []*transport.Client
}

// Options configures New (and Default, which passes them to New).
type Options struct {
	Logger       zerolog.Logger
	SchedulerOpt []actor.Option
	ListenAddr   string // empty means don't listen
	ServerOpt    []transport.ServerOption
	Dial         []string // peer addresses to connect to at startup
	ClientOpt    []transport.ClientOption
}

// Option mutates Options.
type Option func(*Options)

// WithLogger sets the zerolog.Logger every component logs through.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithSchedulerOptions passes through actor.Option values to NewScheduler.
func WithSchedulerOptions(opt ...actor.Option) Option {
	return func(o *Options) { o.SchedulerOpt = append(o.SchedulerOpt, opt...) }
}

// WithListen starts a transport.Server bound to addr.
func WithListen(addr string, opt ...transport.ServerOption) Option {
	return func(o *Options) {
		o.ListenAddr = addr
		o.ServerOpt = opt
	}
}

// WithDial connects to the given peer addresses at startup.
func WithDial(addrs []string, opt ...transport.ClientOption) Option {
	return func(o *Options) {
		o.Dial = append(o.Dial, addrs...)
		o.ClientOpt = opt
	}
}

func defaultOptions() Options {
	return Options{
		Logger: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger(),
	}
}

// New builds a standalone Runtime: its own NodeID, Scheduler and group
// Registry, plus whatever transport the Options ask for. Callers needing
// more than one node in the same process (tests exercising a two-node
// scenario) call New twice.
func New(opt ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, fn := range opt {
		fn(&o)
	}

	node := transport.NewNodeID()
	sched := actor.NewScheduler(node, o.Logger, o.SchedulerOpt...)
	groups := group.NewRegistry()
	router := transport.NewRouter(sched, groups, nil, o.Logger)

	rt := &Runtime{
		Node:      node,
		Scheduler: sched,
		Groups:    groups,
		Router:    router,
		logger:    o.Logger,
	}

	if o.ListenAddr != "" {
		srv, err := transport.NewServer(o.ListenAddr, router, o.Logger, o.ServerOpt...)
		if err != nil {
			sched.Shutdown()
			return nil, fmt.Errorf("runtime: listen %s: %w", o.ListenAddr, err)
		}
		rt.Server = srv
		go func() {
			if err := srv.Serve(); err != nil {
				o.Logger.Debug().Err(err).Msg("runtime: server stopped accepting")
			}
		}()
	}

	for _, addr := range o.Dial {
		cl, err := transport.Dial(addr, router, o.Logger, o.ClientOpt...)
		if err != nil {
			rt.Shutdown()
			return nil, fmt.Errorf("runtime: dial %s: %w", addr, err)
		}
		rt.clients = append(rt.clients, cl)
	}

	return rt, nil
}

// errNotListening is returned by PublishActor when this Runtime was built
// without WithListen.
var errNotListening = fmt.Errorf("runtime: not listening; build with WithListen to publish an actor")

// PublishActor makes ref resolvable to a peer node calling RemoteActor
// against this Runtime's listen address (spec §6's publish(actor, port,
// address)).
func (rt *Runtime) PublishActor(ref actor.Ref) error {
	if rt.Server == nil {
		return errNotListening
	}
	rt.Server.PublishActor(ref)
	return nil
}

// RemoteActor resolves the actor published on the peer at addr, dialing
// (and reusing) a connection as needed (spec §6's remote_actor(host, port)).
func (rt *Runtime) RemoteActor(addr string, timeout time.Duration) (actor.Ref, error) {
	return rt.Router.RemoteActor(addr, rt.logger, timeout)
}

// Group resolves a (module, name) group identifier (spec §6's
// group::get). Module "local" (or empty) is this node's own registry,
// lazily creating an in-process group. Module "remote" expects name in
// the form "group@host:port" and returns a Group whose
// Subscribe/Publish travel over the wire to the node listening there;
// repeated resolution of the same remote name reuses the installed
// Group.
func (rt *Runtime) Group(module, name string) (group.Group, error) {
	switch module {
	case "", "local":
		return rt.Groups.Get(name), nil
	case "remote":
		at := strings.LastIndex(name, "@")
		if at <= 0 || at == len(name)-1 {
			return nil, fmt.Errorf("runtime: remote group %q is not of the form name@host:port", name)
		}
		if g, ok := rt.Groups.Lookup(name); ok {
			return g, nil
		}
		g, err := rt.Router.RemoteGroup(name[at+1:], name[:at], rt.logger)
		if err != nil {
			return nil, err
		}
		rt.Groups.Put(name, g)
		return g, nil
	default:
		return nil, fmt.Errorf("runtime: unknown group module %q", module)
	}
}

// Shutdown stops accepting new work and tears down every component this
// Runtime started. It does not wait for already-spawned Processes to
// finish; call Scheduler.AwaitAllOthersDone first if that matters.
func (rt *Runtime) Shutdown() {
	if rt.Server != nil {
		_ = rt.Server.Close()
	}
	for _, cl := range rt.clients {
		cl.Close()
	}
	rt.Router.Close()
	rt.Scheduler.Shutdown()
}

var (
	defaultOnce sync.Once
	defaultRT   *Runtime
	defaultErr  error
)

// Default lazily builds the process-wide Runtime on first call, guarded by
// a sync.Once the way the original's scheduler singleton was (a double-
// checked-lock in spirit, sync.Once in Go idiom). Subsequent calls return
// the same instance. Most programs never need anything but this plus
// runtime.Default().Scheduler.Spawn.
func Default(opt ...Option) (*Runtime, error) {
	defaultOnce.Do(func() {
		defaultRT, defaultErr = New(opt...)
	})
	return defaultRT, defaultErr
}

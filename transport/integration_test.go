package transport

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/atom"
	"github.com/markInTheAbyss/actorhub/group"
	"github.com/markInTheAbyss/actorhub/payload"
)

var greetAtom = atom.Intern("transport-test-greet")

type node struct {
	sched  *actor.Scheduler
	router *Router
}

func newNode(id byte) *node {
	sched := actor.NewScheduler(actor.NodeID{id}, zerolog.Nop())
	return &node{sched: sched, router: NewRouter(sched, group.NewRegistry(), nil, zerolog.Nop())}
}

// TestRemoteEchoRoundTrip covers spec §4.7's remote send/reply path end to
// end: node B resolves node A's published actor via the {GetPublishedActor}
// RPC, sync-sends it a message, and receives the reply back across the
// wire.
func TestRemoteEchoRoundTrip(t *testing.T) {
	a := newNode(1)
	defer a.sched.Shutdown()
	b := newNode(2)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	echo := a.sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {
			_ = ctx.Reply(bound[0])
		})))
	})
	srv.PublishActor(echo)

	cl, err := Dial(srv.Addr().String(), b.router, zerolog.Nop(), WithReconnect(false))
	require.NoError(t, err)
	defer cl.Close()

	remote, err := cl.RemoteActor(time.Second)
	require.NoError(t, err)

	result := make(chan uint32, 1)
	b.sched.Spawn(func(ctx *actor.Context) {
		h, err := ctx.SyncSend(remote, payload.AtomElement(uint32(greetAtom)))
		if err != nil {
			return
		}
		_ = h.Then(actor.On(pattern.New(pattern.Type(payload.KindAtom)), func(ctx *actor.Context, bound []payload.Element) {
			result <- bound[0].Atom
		}))
	})

	select {
	case got := <-result:
		assert.Equal(t, uint32(greetAtom), got)
	case <-time.After(2 * time.Second):
		t.Fatal("remote echo reply never arrived")
	}
}

// TestRemoteActorResolutionIsReferenceStable covers spec invariant 4,
// scenario S4: resolving the same (host, port) twice returns a
// reference-equal Ref, since both calls share the dial cache and the
// RemoteActorCache.
func TestRemoteActorResolutionIsReferenceStable(t *testing.T) {
	a := newNode(3)
	defer a.sched.Shutdown()
	b := newNode(4)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	published := a.sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {})))
	})
	srv.PublishActor(published)

	defer b.router.Close()

	addr := srv.Addr().String()
	first, err := b.router.RemoteActor(addr, zerolog.Nop(), time.Second)
	require.NoError(t, err)
	second, err := b.router.RemoteActor(addr, zerolog.Nop(), time.Second)
	require.NoError(t, err)

	assert.Same(t, first, second, "repeated remote_actor resolution must return the same Ref value")
}

// TestRemoteLookupOnUnpublishedAddressErrors covers spec §7's UnknownActor:
// a peer that never called PublishActor answers "not found".
func TestRemoteLookupOnUnpublishedAddressErrors(t *testing.T) {
	a := newNode(5)
	defer a.sched.Shutdown()
	b := newNode(6)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	cl, err := Dial(srv.Addr().String(), b.router, zerolog.Nop(), WithReconnect(false))
	require.NoError(t, err)
	defer cl.Close()

	_, err = cl.RemoteActor(time.Second)
	assert.ErrorIs(t, err, errNoPublishedActor)
}

// TestFooBarEchoHundredOrderedRoundTrips drives the echo server through
// one hundred sequential sync round trips, each carrying ("foo", "bar", i),
// and requires every response back, correctly ordered, before the client
// advances to the next request.
func TestFooBarEchoHundredOrderedRoundTrips(t *testing.T) {
	a := newNode(7)
	defer a.sched.Shutdown()
	b := newNode(8)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	echo := a.sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(
			pattern.New(pattern.StringEq("foo"), pattern.StringEq("bar"), pattern.Type(payload.KindInt64)),
			func(ctx *actor.Context, bound []payload.Element) {
				_ = ctx.ReplyTuple(ctx.LastDequeued())
			},
		)))
	})
	srv.PublishActor(echo)

	cl, err := Dial(srv.Addr().String(), b.router, zerolog.Nop(), WithReconnect(false))
	require.NoError(t, err)
	defer cl.Close()

	remote, err := cl.RemoteActor(time.Second)
	require.NoError(t, err)

	done := make(chan []int64, 1)
	b.sched.Spawn(func(ctx *actor.Context) {
		var got []int64
		for i := int64(0); int(i) < 100; i++ {
			req, err := payload.New("foo", "bar", i)
			if err != nil {
				break
			}
			h := ctx.SyncSendTuple(remote, req)
			_ = h.Then(actor.On(
				pattern.New(pattern.StringEq("foo"), pattern.StringEq("bar"), pattern.Type(payload.KindInt64)),
				func(ctx *actor.Context, bound []payload.Element) {
					got = append(got, bound[0].Int64)
				},
			))
			// Block until the response (the only possible event) is handled.
			if err := ctx.Receive(actor.MustExpression()); err != nil {
				break
			}
		}
		done <- got
	}, actor.OptDetached())

	select {
	case got := <-done:
		require.Len(t, got, 100)
		for i, v := range got {
			assert.Equal(t, int64(i), v)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("the hundred echo round trips never completed")
	}
}

// TestConnectionLossNotifiesRemoteMonitors covers spec §7's ConnectionLost:
// when the only connection to a peer node goes away, every local monitor of
// one of its Processes receives DOWN(reason=connection_lost) — the remote
// side can no longer say anything itself.
func TestConnectionLossNotifiesRemoteMonitors(t *testing.T) {
	a := newNode(11)
	defer a.sched.Shutdown()
	b := newNode(12)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	idle := a.sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {})))
	})
	srv.PublishActor(idle)

	cl, err := Dial(srv.Addr().String(), b.router, zerolog.Nop(), WithReconnect(false))
	require.NoError(t, err)

	remote, err := cl.RemoteActor(time.Second)
	require.NoError(t, err)

	result := make(chan actor.ExitReason, 1)
	b.sched.Spawn(func(ctx *actor.Context) {
		reason, err := ctx.AwaitDown(remote, 2*time.Second)
		if err == nil {
			result <- reason
		}
	}, actor.OptDetached())

	// Let the monitor install before severing the link.
	time.Sleep(50 * time.Millisecond)
	cl.Close()

	select {
	case reason := <-result:
		assert.Equal(t, actor.ExitConnectionLost, reason)
	case <-time.After(3 * time.Second):
		t.Fatal("monitor never observed the connection loss")
	}
}

// TestRemoteMonitorDownViaAwaitDown covers scenario S7: a Process on node B
// monitors a reflector published on node A (crossing the wire via
// ProxyActor.Monitor's frameMonitorRequest and the NotifyExit frame that
// travels back), using Context.AwaitDown as the blocking-flavor sugar spec
// §9/SPEC_FULL.md §4 grounds on original_source's await_down helper. When
// the reflector quits, B must observe DOWN(reason=normal).
func TestRemoteMonitorDownViaAwaitDown(t *testing.T) {
	a := newNode(9)
	defer a.sched.Shutdown()
	b := newNode(10)
	defer b.sched.Shutdown()

	srv, err := NewServer("127.0.0.1:0", a.router, zerolog.Nop())
	require.NoError(t, err)
	defer srv.Close()
	go srv.Serve()

	reflector := a.sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {
			ctx.Quit(actor.ExitNormal)
		})))
	})
	srv.PublishActor(reflector)

	cl, err := Dial(srv.Addr().String(), b.router, zerolog.Nop(), WithReconnect(false))
	require.NoError(t, err)
	defer cl.Close()

	remote, err := cl.RemoteActor(time.Second)
	require.NoError(t, err)

	result := make(chan actor.ExitReason, 1)
	b.sched.Spawn(func(ctx *actor.Context) {
		reason, err := ctx.AwaitDown(remote, 2*time.Second)
		if err == nil {
			result <- reason
		}
	}, actor.OptDetached())

	// Give the AwaitDown Process a moment to install its monitor before
	// nudging the reflector to exit.
	time.Sleep(50 * time.Millisecond)
	b.sched.Spawn(func(ctx *actor.Context) {
		_ = ctx.Send(remote, payload.AtomElement(uint32(greetAtom)))
	})

	select {
	case reason := <-result:
		assert.Equal(t, actor.ExitNormal, reason)
	case <-time.After(3 * time.Second):
		t.Fatal("AwaitDown never observed the remote peer's exit")
	}
}

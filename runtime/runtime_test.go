package runtime

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/atom"
	"github.com/markInTheAbyss/actorhub/group"
	"github.com/markInTheAbyss/actorhub/payload"
	"github.com/markInTheAbyss/actorhub/transport"
)

var hailAtom = atom.Intern("runtime-test-hail")

func TestNewBuildsStandaloneNode(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	defer rt.Shutdown()

	assert.NotEqual(t, actor.NodeID{}, rt.Node)
	assert.Nil(t, rt.Server)
}

func TestPublishActorRequiresListening(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	defer rt.Shutdown()

	ref := rt.Scheduler.Spawn(func(ctx *actor.Context) {})
	err = rt.PublishActor(ref)
	assert.ErrorIs(t, err, errNotListening)
}

// TestRemoteActorRoundTripAcrossRuntimes covers spec §6's two-node
// bootstrap: a Runtime listening and publishing an actor, resolved and
// sync-sent to from a second, purely-dialing Runtime.
func TestRemoteActorRoundTripAcrossRuntimes(t *testing.T) {
	a, err := New(WithListen("127.0.0.1:0"))
	require.NoError(t, err)
	defer a.Shutdown()

	echo := a.Scheduler.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {
			_ = ctx.Reply(bound[0])
		})))
	})
	require.NoError(t, a.PublishActor(echo))

	b, err := New()
	require.NoError(t, err)
	defer b.Shutdown()

	remote, err := b.RemoteActor(a.Server.Addr().String(), time.Second)
	require.NoError(t, err)

	result := make(chan uint32, 1)
	b.Scheduler.Spawn(func(ctx *actor.Context) {
		h, err := ctx.SyncSend(remote, payload.AtomElement(uint32(hailAtom)))
		if err != nil {
			return
		}
		_ = h.Then(actor.On(pattern.New(pattern.Type(payload.KindAtom)), func(ctx *actor.Context, bound []payload.Element) {
			result <- bound[0].Atom
		}))
	})

	select {
	case got := <-result:
		assert.Equal(t, uint32(hailAtom), got)
	case <-time.After(2 * time.Second):
		t.Fatal("remote echo reply never arrived")
	}
}

// TestBindFailureAfterRetriesExhausted covers spec §7's BindFailure: a
// listen address already held by another listener fails permanently once
// WithBindRetries is exhausted, rather than hanging.
func TestBindFailureAfterRetriesExhausted(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	_, err = New(WithListen(occupied.Addr().String(), transport.WithBindRetries(0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrBindFailure)
}

// TestGroupResolvesLocalModule covers the (module, name) half of spec
// §4.6's group::get: the "local" module is served by the node's own
// registry, idempotently.
func TestGroupResolvesLocalModule(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	defer rt.Shutdown()

	g, err := rt.Group("local", "room")
	require.NoError(t, err)
	assert.Same(t, rt.Groups.Get("room"), g)

	_, err = rt.Group("carrier-pigeon", "room")
	assert.Error(t, err)
}

// TestRemoteGroupSubscribeReceivesPublishes covers the "remote" group
// module: a member on node B subscribes, over the wire, into a group that
// lives on node A; a publish on A reaches it as an ordinary message.
func TestRemoteGroupSubscribeReceivesPublishes(t *testing.T) {
	a, err := New(WithListen("127.0.0.1:0"))
	require.NoError(t, err)
	defer a.Shutdown()

	b, err := New()
	require.NoError(t, err)
	defer b.Shutdown()

	rg, err := b.Group("remote", "room@"+a.Server.Addr().String())
	require.NoError(t, err)

	// Resolving the same remote name again reuses the installed Group.
	again, err := b.Group("remote", "room@"+a.Server.Addr().String())
	require.NoError(t, err)
	assert.Same(t, rg, again)

	received := make(chan uint32, 1)
	member := b.Scheduler.Spawn(func(ctx *actor.Context) {
		ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Type(payload.KindAtom)), func(ctx *actor.Context, bound []payload.Element) {
			received <- bound[0].Atom
		})))
	})
	rg.Subscribe(member)

	// The subscribe frame travels asynchronously; give it a moment to land
	// in A's membership before publishing.
	time.Sleep(100 * time.Millisecond)
	a.Groups.Get("room").Publish(nil, payload.TupleOf(payload.AtomElement(uint32(hailAtom))))

	select {
	case got := <-received:
		assert.Equal(t, uint32(hailAtom), got)
	case <-time.After(2 * time.Second):
		t.Fatal("remote subscriber never received the publish")
	}
}

// TestGroupMulticastAcrossSpawnedReflectors covers spec §4.6's
// spawn_in_group fan-out (scenario S3): every member subscribed via
// group.SpawnIn receives a published message.
func TestGroupMulticastAcrossSpawnedReflectors(t *testing.T) {
	rt, err := New()
	require.NoError(t, err)
	defer rt.Shutdown()

	g := rt.Groups.Get("room")
	received := make(chan actor.Ref, 3)
	for i := 0; i < 3; i++ {
		group.SpawnIn(rt.Scheduler, g, func(ctx *actor.Context) {
			ctx.Become(actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, bound []payload.Element) {
				received <- ctx.Self()
			})))
		})
	}

	g.Publish(nil, payload.TupleOf(payload.AtomElement(uint32(hailAtom))))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case ref := <-received:
			seen[ref.RefString()] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 reflectors received the publish", len(seen))
		}
	}
	assert.Len(t, seen, 3)
}

package group

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/atom"
	"github.com/markInTheAbyss/actorhub/payload"
)

var tickAtom = atom.Intern("group-test-tick")

func echoExpr(out chan<- actor.Ref) *actor.Expression {
	return actor.MustExpression(actor.On(pattern.New(pattern.Any()), func(ctx *actor.Context, b []payload.Element) {
		out <- ctx.Self()
	}))
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	sched := actor.NewScheduler(actor.NodeID{1}, zerolog.Nop())
	defer sched.Shutdown()

	g := NewLocal("room")
	received := make(chan actor.Ref, 3)
	for i := 0; i < 3; i++ {
		ref := sched.Spawn(func(ctx *actor.Context) {
			ctx.Become(echoExpr(received))
		})
		g.Subscribe(ref)
	}

	g.Publish(nil, payload.TupleOf(payload.AtomElement(uint32(tickAtom))))

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		select {
		case ref := <-received:
			seen[ref.RefString()] = true
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 subscribers received the publish", len(seen))
		}
	}
	assert.Len(t, seen, 3)
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	sched := actor.NewScheduler(actor.NodeID{2}, zerolog.Nop())
	defer sched.Shutdown()

	g := NewLocal("room")
	received := make(chan actor.Ref, 1)
	ref := sched.Spawn(func(ctx *actor.Context) {
		ctx.Become(echoExpr(received))
	})
	g.Subscribe(ref)
	g.Unsubscribe(ref)

	g.Publish(nil, payload.TupleOf(payload.AtomElement(uint32(tickAtom))))

	select {
	case <-received:
		t.Fatal("unsubscribed member still received a publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRegistryGetIsLazyAndStable(t *testing.T) {
	reg := NewRegistry()
	a := reg.Get("topic")
	b := reg.Get("topic")
	assert.Same(t, a, b, "a second Get for the same name must return the same Group")
}

func TestRegistryPutOverridesStoredGroup(t *testing.T) {
	reg := NewRegistry()
	first := reg.Get("topic")
	replacement := NewLocal("topic")
	reg.Put("topic", replacement)
	assert.Same(t, replacement, reg.Get("topic"))
	assert.NotSame(t, first, reg.Get("topic"))
}

func TestSpawnInSubscribesBeforeReturning(t *testing.T) {
	sched := actor.NewScheduler(actor.NodeID{3}, zerolog.Nop())
	defer sched.Shutdown()

	g := NewLocal("room")
	received := make(chan actor.Ref, 1)
	ref := SpawnIn(sched, g, func(ctx *actor.Context) {
		ctx.Become(echoExpr(received))
	})

	members := g.Members()
	require.Len(t, members, 1)
	assert.Equal(t, ref.RefString(), members[0].RefString())

	g.Publish(nil, payload.TupleOf(payload.AtomElement(uint32(tickAtom))))
	select {
	case got := <-received:
		assert.Equal(t, ref.RefString(), got.RefString())
	case <-time.After(time.Second):
		t.Fatal("spawn_in member never received the publish")
	}
}

// TestSpawnInUnsubscribesOnExit checks spec §4.6's "unsubscribe on exit"
// half of spawn_in_group: once the spawned Process exits, it must drop out
// of g's membership so a later Publish neither reaches its closed mailbox
// nor leaks the membership entry forever (scenario S3's reflector pool).
func TestSpawnInUnsubscribesOnExit(t *testing.T) {
	sched := actor.NewScheduler(actor.NodeID{6}, zerolog.Nop())
	defer sched.Shutdown()

	g := NewLocal("room")
	ref := SpawnIn(sched, g, func(ctx *actor.Context) {
		ctx.Quit(actor.ExitNormal)
	})

	lr := ref.(actor.LocalRef)
	require.Eventually(t, func() bool {
		_, ok := lr.Process().ExitReason()
		return ok
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(g.Members()) == 0
	}, time.Second, 5*time.Millisecond, "exited spawn_in member must be unsubscribed")
}

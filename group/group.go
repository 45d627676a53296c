// Package group implements the spec's GroupRegistry: named pub/sub
// channels that any number of Processes can subscribe to, and that a
// publish fans out to every current subscriber (spec §4.6). It depends on
// actor only — transport builds its remote-backed Group on top of this
// package's Group interface, not the other way around, so there is no
// import cycle between group and transport.
package group

import (
	"sync"
	"sync/atomic"

	"github.com/markInTheAbyss/actorhub/actor"
	"github.com/markInTheAbyss/actorhub/payload"
)

// Group is a named pub/sub channel: any Ref can Subscribe, and a Publish
// delivers to every Ref subscribed at the moment Publish is called (spec
// §4.6's "atomic per member" — the membership snapshot taken under lock,
// not a transactional guarantee across members).
type Group interface {
	// Name is the group's identifier, as it was looked up in the Registry.
	Name() string
	// Subscribe adds ref as a member, if it is not already one.
	Subscribe(ref actor.Ref)
	// Unsubscribe removes ref, if it is a member.
	Unsubscribe(ref actor.Ref)
	// Publish sends payload, attributed to sender, to every current
	// member.
	Publish(sender actor.Ref, payload payload.Tuple)
	// Members returns a snapshot of the current subscriber set.
	Members() []actor.Ref
}

// localGroup is the in-process Group: Publish just calls Ref.Send on each
// member directly, no network hop.
type localGroup struct {
	name string

	mu      sync.RWMutex
	members map[memberKey]actor.Ref
}

type memberKey struct {
	node actor.NodeID
	pid  actor.Pid
}

func keyOf(r actor.Ref) memberKey { return memberKey{node: r.Node(), pid: r.Pid()} }

// NewLocal returns a new, empty local Group named name.
func NewLocal(name string) Group {
	return &localGroup{name: name, members: make(map[memberKey]actor.Ref)}
}

func (g *localGroup) Name() string { return g.name }

func (g *localGroup) Subscribe(ref actor.Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[keyOf(ref)] = ref
}

func (g *localGroup) Unsubscribe(ref actor.Ref) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, keyOf(ref))
}

func (g *localGroup) Publish(sender actor.Ref, t payload.Tuple) {
	snapshot := g.Members()
	for _, m := range snapshot {
		m.Send(&actor.Envelope{Sender: sender, Receiver: m, Payload: t})
	}
}

func (g *localGroup) Members() []actor.Ref {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]actor.Ref, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m)
	}
	return out
}

// Registry is the spec's GroupRegistry: a name -> Group lookup, creating a
// local Group on first reference. A remote-backed Group (transport.RemoteGroup)
// is registered explicitly by whoever resolves a "name@host:port" address;
// Registry itself has no notion of remoteness.
type Registry struct {
	mu     sync.Mutex
	groups map[string]Group
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]Group)}
}

// Get returns the Group named name, creating a local one if this is the
// first reference (spec §4.6's "Get(name) -> Group, lazily creating").
func (r *Registry) Get(name string) Group {
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.groups[name]; ok {
		return g
	}
	g := NewLocal(name)
	r.groups[name] = g
	return g
}

// Lookup returns the Group registered under name without creating one,
// unlike Get. Used by callers installing remote-backed groups, which must
// not be shadowed by an empty local group minted on a miss.
func (r *Registry) Lookup(name string) (Group, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[name]
	return g, ok
}

// Put registers g under name, overwriting any prior Group there. Used by
// transport to install a RemoteGroup once a remote address is resolved.
func (r *Registry) Put(name string, g Group) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[name] = g
}

// SpawnIn spawns a new Process on sched and subscribes it to g before
// returning its Ref, so no message published immediately after SpawnIn
// returns can race past the new member (spec §4.6's spawn_in_group,
// exercised by the reflector pool in scenario S3 — see DESIGN.md). The
// spawned Process is unsubscribed the moment it exits ("unsubscribe on
// exit", spec §4.6), via a lightweight monitor that does nothing but
// remove it from g's membership; callers never see this watcher.
func SpawnIn(sched *actor.Scheduler, g Group, init func(ctx *actor.Context), opt ...actor.Option) actor.Ref {
	ref := sched.Spawn(init, opt...)
	g.Subscribe(ref)
	ref.Monitor(newLeaveOnExit(g, ref))
	// A Process that exited during init (e.g. by calling Quit) notified its
	// monitors before the watcher above was attached.
	if lr, ok := ref.(actor.LocalRef); ok {
		if _, exited := lr.Process().ExitReason(); exited {
			g.Unsubscribe(ref)
		}
	}
	return ref
}

var watcherSeq uint64

// leaveOnExit is a minimal actor.Ref that exists only to be monitored: its
// sole reaction to NotifyExit is to remove target from g's membership. It
// never appears as a sender or receiver of an ordinary message, so most of
// the Ref capability set is a deliberate no-op.
type leaveOnExit struct {
	id     uint64
	g      Group
	target actor.Ref
}

func newLeaveOnExit(g Group, target actor.Ref) *leaveOnExit {
	return &leaveOnExit{id: atomic.AddUint64(&watcherSeq, 1), g: g, target: target}
}

var _ actor.Ref = (*leaveOnExit)(nil)

func (w *leaveOnExit) Pid() actor.Pid              { return actor.Pid(w.id) }
func (w *leaveOnExit) Node() actor.NodeID           { return actor.NodeID{} }
func (w *leaveOnExit) IsLocal() bool                { return true }
func (w *leaveOnExit) RefString() string            { return "group-leave-watcher" }
func (w *leaveOnExit) WireRef() ([16]byte, uint64)  { return [16]byte{}, w.id }
func (w *leaveOnExit) Send(env *actor.Envelope)     {}
func (w *leaveOnExit) Monitor(observer actor.Ref)   {}
func (w *leaveOnExit) Demonitor(observer actor.Ref) {}
func (w *leaveOnExit) Link(peer actor.Ref)          {}
func (w *leaveOnExit) Unlink(peer actor.Ref)        {}

func (w *leaveOnExit) NotifyExit(from actor.Ref, reason actor.ExitReason, linked bool) {
	w.g.Unsubscribe(w.target)
}

var defaultRegistry = NewRegistry()

// Get resolves name in the process-wide default Registry.
func Get(name string) Group { return defaultRegistry.Get(name) }

// Default returns the process-wide default Registry.
func Default() *Registry { return defaultRegistry }

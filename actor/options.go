package actor

import "runtime"

// MailboxOptions configures a Mailbox[T] (teacher's knob set, kept as-is).
type MailboxOptions struct {
	// UsingChan makes the mailbox a bare buffered channel instead of the
	// deque-backed worker loop; cheap, but Capacity then means "buffered
	// channel size" rather than "soft starting capacity".
	UsingChan bool
	// Capacity is the deque's starting capacity (or channel buffer size
	// when UsingChan is set).
	Capacity int
	// MinCapacity is the deque's floor: it never shrinks below this after
	// growing, trading a little memory for fewer reallocations on actors
	// with bursty mailboxes.
	MinCapacity int
}

// SchedulerOptions configures the cooperative worker pool.
type SchedulerOptions struct {
	// Workers is the number of OS threads in the cooperative pool. Zero
	// means runtime.NumCPU().
	Workers int
}

// SpawnOptions are the recognized options on Spawn (spec §6).
type SpawnOptions struct {
	// Monitored makes the spawning Process implicitly monitor the new one.
	Monitored bool
	// Linked bidirectionally links the spawning Process with the new one.
	Linked bool
	// Detached forces the blocking flavor (its own OS thread) regardless
	// of the Scheduler's default.
	Detached bool
	// Hidden excludes the new Process from AwaitAllOthersDone's count.
	Hidden bool
}

type options struct {
	Mailbox   MailboxOptions
	Scheduler SchedulerOptions
	Spawn     SpawnOptions
	// OnStop, when set, runs once when a low-level Actor primitive (see
	// loop.go) transitions to stopped; used to close channels it owns.
	OnStop func()
}

// Option configures a Mailbox, Scheduler, or spawned Process; which options
// apply depends on which constructor receives it.
type Option func(*options)

func newOptions(opt []Option) options {
	o := options{
		Scheduler: SchedulerOptions{Workers: runtime.NumCPU()},
	}
	for _, fn := range opt {
		fn(&o)
	}
	return o
}

// OptUsingChan selects the bare-channel Mailbox implementation.
func OptUsingChan() Option {
	return func(o *options) { o.Mailbox.UsingChan = true }
}

// OptCapacity sets the mailbox/queue starting capacity.
func OptCapacity(n int) Option {
	return func(o *options) { o.Mailbox.Capacity = n }
}

// OptMinCapacity sets the mailbox/queue's capacity floor.
func OptMinCapacity(n int) Option {
	return func(o *options) { o.Mailbox.MinCapacity = n }
}

// OptWorkers sets the cooperative scheduler's worker pool size.
func OptWorkers(n int) Option {
	return func(o *options) { o.Scheduler.Workers = n }
}

// OptMonitored sets SpawnOptions.Monitored.
func OptMonitored() Option {
	return func(o *options) { o.Spawn.Monitored = true }
}

// OptLinked sets SpawnOptions.Linked.
func OptLinked() Option {
	return func(o *options) { o.Spawn.Linked = true }
}

// OptDetached sets SpawnOptions.Detached.
func OptDetached() Option {
	return func(o *options) { o.Spawn.Detached = true }
}

// OptHidden sets SpawnOptions.Hidden.
func OptHidden() Option {
	return func(o *options) { o.Spawn.Hidden = true }
}

// OptOnStop registers a cleanup callback run once when a low-level Actor
// primitive stops.
func OptOnStop(fn func()) Option {
	return func(o *options) { o.OnStop = fn }
}

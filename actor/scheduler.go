package actor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Scheduler owns every Process spawned on this node: the cooperative
// worker pool that drives EventBased Processes one quantum at a time, the
// Pid allocator, and the bookkeeping AwaitAllOthersDone needs (spec §4.4,
// §6).
type Scheduler struct {
	node   NodeID
	logger zerolog.Logger
	opts   SchedulerOptions

	nextPid uint64 // atomic

	workerWG sync.WaitGroup

	// mu guards the ready queue, the process table, and the running count.
	// The ready queue is deliberately unbounded: a worker that finishes a
	// quantum pushes here and moves on, so the pool can never deadlock on
	// its own hand-off the way a bounded channel of workers feeding workers
	// would.
	mu        sync.Mutex
	ready     *queue[*Process]
	readyCond *sync.Cond
	stopped   bool
	processes map[Pid]*Process
	running   int // live, non-hidden processes
	idleCond  *sync.Cond
}

// NewScheduler starts a cooperative worker pool for node and returns the
// Scheduler that owns it. Call Shutdown when done.
func NewScheduler(node NodeID, logger zerolog.Logger, opt ...Option) *Scheduler {
	o := newOptions(opt)
	s := &Scheduler{
		node:      node,
		logger:    logger,
		opts:      o.Scheduler,
		ready:     newQueue[*Process](0, 0),
		processes: make(map[Pid]*Process),
	}
	s.readyCond = sync.NewCond(&s.mu)
	s.idleCond = sync.NewCond(&s.mu)

	workers := o.Scheduler.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		go s.workerLoop()
	}
	return s
}

func (s *Scheduler) workerLoop() {
	defer s.workerWG.Done()
	for {
		p, ok := s.nextReady()
		if !ok {
			return
		}
		s.runQuantum(p)
	}
}

// nextReady blocks until a Process is ready to run or the Scheduler is
// stopped.
func (s *Scheduler) nextReady() (*Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.ready.IsEmpty() && !s.stopped {
		s.readyCond.Wait()
	}
	if s.stopped {
		return nil, false
	}
	return s.ready.PopFront(), true
}

// pushReady appends p to the ready queue and wakes one worker. Never
// blocks; after Shutdown it is a no-op.
func (s *Scheduler) pushReady(p *Process) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.ready.PushBack(p)
	s.mu.Unlock()
	s.readyCond.Signal()
}

// runQuantum runs one runOnce on p and then releases or keeps its dispatch
// token (spec §4.4's "re-enqueues the actor if it remains runnable").
func (s *Scheduler) runQuantum(p *Process) {
	p.runOnce()
	s.releaseOrRequeue(p)
}

// releaseOrRequeue is the token-handoff at the end of a quantum: if p
// still has work, keep the token and push it straight back onto the ready
// queue; otherwise release the token, then re-check once more (to catch a
// Send that raced with the release) before giving up.
func (s *Scheduler) releaseOrRequeue(p *Process) {
	p.maybeExitInert()
	if !p.isExited() {
		// Going idle with a timeout-bearing behavior starts its timer, so
		// the After clause fires even if no message ever arrives.
		p.ensureBehaviorTimerArmed()
	}
	if p.hasPendingWork() {
		s.pushReady(p)
		return
	}
	atomic.StoreInt32(&p.scheduled, 0)
	if p.hasPendingWork() {
		if atomic.CompareAndSwapInt32(&p.scheduled, 0, 1) {
			s.pushReady(p)
		}
	}
}

// schedule gives p a chance to run, if it isn't already scheduled.
func (s *Scheduler) schedule(p *Process) {
	if atomic.CompareAndSwapInt32(&p.scheduled, 0, 1) {
		s.pushReady(p)
	}
}

func (s *Scheduler) allocatePid() Pid {
	return Pid(atomic.AddUint64(&s.nextPid, 1))
}

// Spawn starts a new Process running init and returns a Ref to it (spec
// §6). init runs once, synchronously, for an EventBased Process (it is
// expected to call ctx.Become to install the first behavior); for a
// Blocking one (OptDetached) init is the whole actor body and typically
// loops calling ctx.Receive itself. After Shutdown, the returned Ref
// points at a Process that has already exited with ExitKilled.
func (s *Scheduler) Spawn(init func(ctx *Context), opt ...Option) Ref {
	o := newOptions(opt)
	return s.spawnWithOptions(init, o, nil)
}

// spawnWithOptions is Spawn plus an optional spawning Process, used by
// Context.Spawn to satisfy OptMonitored/OptLinked relative to the caller.
func (s *Scheduler) spawnWithOptions(init func(ctx *Context), o options, parent *Process) Ref {
	flavor := EventBased
	if o.Spawn.Detached {
		flavor = Blocking
	}
	p := newProcess(s.allocatePid(), s.node, flavor, s, o.Spawn.Hidden, "", s.logger)
	p.current = MustExpression()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		p.setExit(ExitKilled)
		return p.Ref()
	}
	p.registered = true
	s.processes[p.pid] = p
	if !p.hidden {
		s.running++
	}
	s.mu.Unlock()

	self := p.Ref()
	if parent != nil && o.Spawn.Monitored {
		// The spawning Process implicitly monitors the new one.
		p.addMonitor(parent.Ref())
	}
	if parent != nil && o.Spawn.Linked {
		p.addLink(parent.Ref())
		parent.addLink(self)
	}

	if flavor == Blocking {
		go s.runBlocking(p, init)
	} else {
		// Claim the dispatch token before init runs on the caller's
		// goroutine: init may hand this Process's Ref to another actor
		// before returning (e.g. passing ctx.Self() as a message), and a
		// concurrent Send must not be able to push p onto the ready queue
		// while init is still executing — that would let a worker call
		// runOnce concurrently with init, violating single ownership.
		atomic.StoreInt32(&p.scheduled, 1)
		p.runProtected(init)
		s.releaseOrRequeue(p)
	}
	return self
}

func (s *Scheduler) runBlocking(p *Process, init func(ctx *Context)) {
	p.runProtected(init)
	if !p.isExited() {
		p.setExit(ExitNormal)
	}
}

// onExit is called exactly once per Process, from setExit, to retire its
// scheduler bookkeeping.
func (s *Scheduler) onExit(p *Process) {
	s.mu.Lock()
	if p.registered {
		delete(s.processes, p.pid)
		if !p.hidden {
			s.running--
			if s.running <= 0 {
				s.idleCond.Broadcast()
			}
		}
	}
	s.mu.Unlock()
}

// AwaitAllOthersDone blocks until every non-hidden Process on this
// Scheduler has exited (spec §6's await_all_others_done). Processes
// spawned with OptHidden are excluded, matching cppa's "hidden" actors
// that don't participate in shutdown coordination.
func (s *Scheduler) AwaitAllOthersDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.running > 0 {
		s.idleCond.Wait()
	}
}

// Shutdown refuses further spawns and stops the worker pool. It does not
// itself terminate any still-running Process; callers typically
// AwaitAllOthersDone first.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.readyCond.Broadcast()
	s.workerWG.Wait()
}

// Lookup returns the local Process for pid, if it is still live on this
// node. Used by the transport layer to resolve an incoming frame's
// destination.
func (s *Scheduler) Lookup(pid Pid) (Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	if !ok {
		return nil, false
	}
	return p.Ref(), true
}

// Node returns this Scheduler's NodeID.
func (s *Scheduler) Node() NodeID { return s.node }

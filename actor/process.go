package actor

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markInTheAbyss/actorhub/atom"
	"github.com/markInTheAbyss/actorhub/payload"
	"github.com/rs/zerolog"
)

// errProcessExited is returned by blocking operations (Context.Receive,
// Context.AwaitDown) when the Process they run on has already exited.
var errProcessExited = errors.New("actor: process has exited")

// Flavor selects how a Process is driven: cooperatively on the shared
// worker pool, or on its own dedicated goroutine for tight imperative loops
// (spec §4.4).
type Flavor int

const (
	// EventBased processes are driven by the Scheduler's worker pool, one
	// message per quantum, never blocking inside a handler.
	EventBased Flavor = iota
	// Blocking processes run on their own goroutine and may call
	// Context.Receive to block waiting for a specific shape of message.
	Blocking
)

func (f Flavor) String() string {
	if f == Blocking {
		return "blocking"
	}
	return "event_based"
}

var downAtom = atom.Intern("DOWN")
var exitAtom = atom.Intern("EXIT")

type syncWaiter struct {
	expr         *Expression
	continuation func(ctx *Context)
	deadline     time.Time
}

// Process is the spec's Actor: identity, mailbox, current behavior, links,
// monitors, and a terminal exit reason. Everything here except the mailbox
// queue and the link/monitor/sync maps is touched only by the single
// scheduler worker that currently owns the Process (invariant 1), so it
// needs no locking; the maps are touched by arbitrary other Processes
// calling Send/Monitor/Link and so are guarded.
type Process struct {
	pid    Pid
	node   NodeID
	flavor Flavor
	hidden bool
	name   string

	sched  *Scheduler
	logger zerolog.Logger

	// registered is set (under the Scheduler's lock) once this Process has
	// entered the process table; a spawn refused by a stopped Scheduler
	// never sets it, so onExit knows not to decrement anything.
	registered bool

	// scheduled is the dispatch token: only the goroutine that wins the
	// 0->1 CAS may push this Process onto the Scheduler's ready queue,
	// which is what keeps invariant 1 (at most one worker runs a given
	// Process at a time) true even under concurrent Send calls.
	scheduled int32

	// Mailbox: guarded, multi-producer single-consumer (spec §4.2).
	qmu    sync.Mutex
	q      *queue[*Envelope]
	closed bool
	// wakeC wakes a blocking-flavor Process (or a waiting cooperative
	// worker) without requiring it to poll.
	wakeC chan struct{}

	// Single-owner state (no lock: only the owning worker touches these).
	current    *Expression
	exprGen    uint64
	skip       []*Envelope
	skipGen    uint64
	lastSender Ref
	lastMsg    *Envelope
	inHandler  int32 // atomic; asserts invariant 2 in tests
	trapExit   bool

	behaviorTimer    *time.Timer
	behaviorTimerGen uint64
	behaviorDeadline time.Time

	// Sync-request tracking (spec §4.5): guarded, since timers fire on
	// arbitrary goroutines and other Processes' replies arrive
	// concurrently via Send.
	syncMu      sync.Mutex
	pendingSync map[uint64]*syncWaiter
	requestSeq  uint64

	// Links/monitors: guarded, registered by arbitrary other Processes.
	linkMu   sync.Mutex
	links    map[NodeID]map[Pid]Ref
	monitors map[NodeID]map[Pid]Ref

	exitMu     sync.Mutex
	exitReason *ExitReason
	exitCh     chan struct{}
}

func newProcess(pid Pid, node NodeID, flavor Flavor, sched *Scheduler, hidden bool, name string, logger zerolog.Logger) *Process {
	return &Process{
		pid:         pid,
		node:        node,
		flavor:      flavor,
		hidden:      hidden,
		name:        name,
		sched:       sched,
		logger:      logger,
		q:           newQueue[*Envelope](0, 0),
		wakeC:       make(chan struct{}, 1),
		pendingSync: make(map[uint64]*syncWaiter),
		links:       make(map[NodeID]map[Pid]Ref),
		monitors:    make(map[NodeID]map[Pid]Ref),
		exitCh:      make(chan struct{}),
	}
}

// Ref returns a LocalRef to this Process.
func (p *Process) Ref() LocalRef { return LocalRef{p} }

func (p *Process) ctx() *Context { return &Context{p: p} }

// --- mailbox ---

func (p *Process) wake() {
	select {
	case p.wakeC <- struct{}{}:
	default:
	}
}

// wakeForWork nudges p to go check for new work. An EventBased Process is
// driven by the Scheduler's worker pool, so that means pushing its
// dispatch token onto the ready queue; a Blocking Process drives itself
// from its own dedicated goroutine, so scheduling it here would let two
// goroutines call runOnce concurrently — it only needs wakeC poked so its
// own receiveBlocking loop wakes up.
func (p *Process) wakeForWork() {
	if p.flavor == EventBased {
		p.sched.schedule(p)
		return
	}
	p.wake()
}

// deliver implements the spec's Mailbox.enqueue: push env onto the queue,
// waking the Process if it was idle. If the Process has already exited,
// the message is dropped and, if it was a sync request, an error response
// is synthesized back to the sender (spec §4.2 close()).
func (p *Process) deliver(env *Envelope) {
	p.qmu.Lock()
	if p.closed {
		p.qmu.Unlock()
		p.bounceDeadLetter(env)
		return
	}
	wasEmpty := p.q.IsEmpty()
	p.q.PushBack(env)
	p.qmu.Unlock()

	p.wake()
	if wasEmpty && p.flavor == EventBased {
		p.sched.schedule(p)
	}
}

func (p *Process) bounceDeadLetter(env *Envelope) {
	if env.RequestID != 0 && !env.IsSyncResponse && env.Sender != nil {
		reply := &Envelope{
			Sender:         p.Ref(),
			Receiver:       env.Sender,
			Payload:        payload.TupleOf(payload.AtomElement(uint32(atom.Intern("error"))), payload.Element{Kind: payload.KindString, Str: "actor exited"}),
			RequestID:      env.RequestID,
			IsSyncResponse: true,
		}
		env.Sender.Send(reply)
	}
}

func (p *Process) dequeue() (*Envelope, bool) {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	if p.q.IsEmpty() {
		return nil, false
	}
	return p.q.PopFront(), true
}

func (p *Process) mailboxEmpty() bool {
	p.qmu.Lock()
	defer p.qmu.Unlock()
	return p.q.IsEmpty()
}

// hasPendingWork reports whether a future runOnce call on p could do
// anything: used by the Scheduler to decide whether to keep p's dispatch
// token and requeue it, or release the token and go idle.
func (p *Process) hasPendingWork() bool {
	if p.isExited() {
		return false
	}
	if !p.mailboxEmpty() {
		return true
	}
	if len(p.skip) > 0 && p.skipGen != p.exprGen {
		return true
	}
	if p.behaviorTimeoutDue() {
		return true
	}
	return p.hasExpiredSyncTimeout()
}

// maybeExitInert exits an EventBased Process that can never run again:
// its current behavior has no clause and no timeout, and no sync request
// is pending that could still route a response or a timeout to it. This is
// how an event-based actor finishes without an explicit Quit — its init
// (or last handler) simply declines to install a next behavior.
func (p *Process) maybeExitInert() {
	if p.flavor != EventBased || p.isExited() {
		return
	}
	if len(p.current.clauses) > 0 || p.current.timeout != nil {
		return
	}
	p.syncMu.Lock()
	pending := len(p.pendingSync)
	p.syncMu.Unlock()
	if pending > 0 {
		return
	}
	p.setExit(ExitNormal)
}

func (p *Process) hasExpiredSyncTimeout() bool {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	now := time.Now()
	for _, w := range p.pendingSync {
		if !w.deadline.IsZero() && !w.deadline.After(now) {
			return true
		}
	}
	return false
}

func (p *Process) closeMailbox() {
	p.qmu.Lock()
	p.closed = true
	p.q = newQueue[*Envelope](0, 0)
	p.qmu.Unlock()
}

// --- matching / running a quantum ---

// runOnce advances the Process by at most one handler invocation: a sync
// timeout, a skip-buffer replay, a freshly dequeued message, or the current
// expression's own timeout. It returns whether anything ran.
func (p *Process) runOnce() bool {
	if p.isExited() {
		return false
	}

	if th, cont, ok := p.popExpiredSyncTimeout(); ok {
		p.runTimeoutHandler(th, cont)
		return true
	}

	if env, h, bindings, ok := p.tryMatchSkip(); ok {
		p.runHandler(h, env, bindings, nil)
		return true
	}

	for {
		env, hasMail := p.dequeue()
		if !hasMail {
			break
		}
		if p.processEnvelope(env) {
			return true
		}
		p.skip = append(p.skip, env)
	}

	if _, _, hasTimeout := p.current.Timeout(); hasTimeout {
		if p.behaviorTimeoutDue() {
			p.runBehaviorTimeout()
			return true
		}
		p.ensureBehaviorTimerArmed()
	}
	return false
}

// tryMatchSkip replays the skip buffer against the current expression, in
// arrival order, stopping at the first match (spec §4.1's "cached-mismatch
// buffer"). It is a no-op once the whole buffer has already been scanned
// against the current generation with no match.
func (p *Process) tryMatchSkip() (*Envelope, Handler, []payload.Element, bool) {
	if len(p.skip) == 0 || p.skipGen == p.exprGen {
		return nil, nil, nil, false
	}
	for i, env := range p.skip {
		if h, bindings, ok := p.current.Match(env); ok {
			p.skip = append(p.skip[:i:i], p.skip[i+1:]...)
			return env, h, bindings, true
		}
	}
	p.skipGen = p.exprGen
	return nil, nil, nil, false
}

// processEnvelope applies the spec §4.5.4 priority rule: a sync response
// is routed to its pending continuation, never to the current behavior.
// It returns true if env was consumed (matched-and-run, or dropped as an
// unmatched/late sync response); false means the caller should
// skip-buffer it.
func (p *Process) processEnvelope(env *Envelope) bool {
	if env.IsSyncResponse && env.RequestID != 0 {
		w, ok := p.takeSyncWaiter(env.RequestID)
		if !ok {
			return true // late response after timeout: dropped (spec §4.5.5)
		}
		if h, bindings, matched := w.expr.Match(env); matched {
			p.runHandler(h, env, bindings, w.continuation)
			return true
		}
		return true // shape mismatch: drop
	}
	if h, bindings, matched := p.current.Match(env); matched {
		p.runHandler(h, env, bindings, nil)
		return true
	}
	return false
}

func (p *Process) runHandler(h Handler, env *Envelope, bindings []payload.Element, cont func(ctx *Context)) {
	p.lastSender = env.Sender
	p.lastMsg = env
	p.runProtected(func(ctx *Context) { h(ctx, bindings) })
	if cont != nil {
		p.runProtected(cont)
	}
}

func (p *Process) runTimeoutHandler(h TimeoutHandler, cont func(ctx *Context)) {
	p.runProtected(h)
	if cont != nil {
		p.runProtected(cont)
	}
}

func (p *Process) runBehaviorTimeout() {
	_, h, _ := p.current.Timeout()
	p.behaviorDeadline = time.Time{} // fire once per installed behavior
	p.runProtected(h)
}

// runProtected runs fn under the at-most-one-executor accounting and
// recovers a panicking handler into ExitUnhandledException (spec §4.3,
// §7), matching the rule that the runtime never unwinds user code across
// a message boundary.
func (p *Process) runProtected(fn func(ctx *Context)) {
	// The exclusivity check only makes sense for EventBased processes: a
	// Blocking process's own goroutine legitimately re-enters this (e.g.
	// Context.Receive calling runOnce calling runHandler calling
	// runProtected again), and that's the same single owner, not a second
	// worker.
	if p.flavor == EventBased {
		if atomic.AddInt32(&p.inHandler, 1) != 1 {
			panic("actor: invariant violated: two workers entered the same process")
		}
		defer atomic.AddInt32(&p.inHandler, -1)
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Uint64("pid", uint64(p.pid)).Msg("actor: handler panicked")
			p.setExit(ExitUnhandledException)
		}
	}()
	fn(p.ctx())
}

// --- become / timeouts ---

func (p *Process) become(e *Expression) {
	p.current = e
	p.exprGen++
	if p.behaviorTimer != nil {
		p.behaviorTimer.Stop()
		p.behaviorTimer = nil
	}
	p.behaviorDeadline = time.Time{}
}

// receiveBlocking is the engine behind Context.Receive: it installs e as
// the current behavior (like become) and then drives runOnce itself,
// parking the calling goroutine on wakeC between attempts, until a message
// matches or e's own Timeout fires. Only meaningful for a Blocking-flavor
// Process: an EventBased one is driven by the Scheduler's workers instead,
// and blocking here would stall the shared pool.
func (p *Process) receiveBlocking(e *Expression) error {
	if p.isExited() {
		return errProcessExited
	}
	p.become(e)
	for {
		if p.isExited() {
			return errProcessExited
		}
		if p.runOnce() {
			return nil
		}
		var wait <-chan time.Time
		if _, _, ok := e.Timeout(); ok {
			p.ensureBehaviorTimerArmed()
			remaining := time.Until(p.behaviorDeadline)
			if remaining < 0 {
				remaining = 0
			}
			wait = time.After(remaining)
		}
		select {
		case <-p.wakeC:
		case <-wait:
		case <-p.exitCh:
			return errProcessExited
		}
	}
}

func (p *Process) behaviorTimeoutDue() bool {
	if p.behaviorDeadline.IsZero() || p.behaviorTimerGen != p.exprGen {
		return false
	}
	return !time.Now().Before(p.behaviorDeadline)
}

func (p *Process) ensureBehaviorTimerArmed() {
	if p.behaviorTimerGen == p.exprGen && p.behaviorTimer != nil {
		return
	}
	d, _, ok := p.current.Timeout()
	if !ok {
		return
	}
	gen := p.exprGen
	p.behaviorTimerGen = gen
	p.behaviorDeadline = time.Now().Add(d)
	p.behaviorTimer = time.AfterFunc(d, func() {
		if p.isExited() {
			return
		}
		p.wakeForWork()
	})
}

// --- sync requests (spec §4.5) ---

func (p *Process) nextRequestID() uint64 {
	p.requestSeq++
	return p.requestSeq
}

func (p *Process) installSyncWaiter(reqID uint64, expr *Expression, cont func(ctx *Context)) {
	w := &syncWaiter{expr: expr, continuation: cont}
	if d, _, ok := expr.Timeout(); ok {
		w.deadline = time.Now().Add(d)
		time.AfterFunc(d, func() {
			if p.isExited() {
				return
			}
			p.wakeForWork()
		})
	}
	p.syncMu.Lock()
	p.pendingSync[reqID] = w
	p.syncMu.Unlock()
}

func (p *Process) attachContinuation(reqID uint64, cont func(ctx *Context)) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	if w, ok := p.pendingSync[reqID]; ok {
		w.continuation = cont
	}
}

func (p *Process) takeSyncWaiter(reqID uint64) (*syncWaiter, bool) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	w, ok := p.pendingSync[reqID]
	if ok {
		delete(p.pendingSync, reqID)
	}
	return w, ok
}

func (p *Process) popExpiredSyncTimeout() (TimeoutHandler, func(ctx *Context), bool) {
	p.syncMu.Lock()
	defer p.syncMu.Unlock()
	now := time.Now()
	for reqID, w := range p.pendingSync {
		if w.deadline.IsZero() || w.deadline.After(now) {
			continue
		}
		delete(p.pendingSync, reqID)
		if _, th, ok := w.expr.Timeout(); ok {
			return th, w.continuation, true
		}
	}
	return nil, nil, false
}

func (p *Process) failPendingSync() {
	p.syncMu.Lock()
	waiters := p.pendingSync
	p.pendingSync = make(map[uint64]*syncWaiter)
	p.syncMu.Unlock()
	for _, w := range waiters {
		if _, th, ok := w.expr.Timeout(); ok {
			p.runProtected(th)
		}
	}
}

// --- links / monitors (spec §4.3, §8 property 4) ---

func refKey(r Ref) (NodeID, Pid) { return r.Node(), r.Pid() }

func (p *Process) addMonitor(observer Ref) {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	node, pid := refKey(observer)
	if p.monitors[node] == nil {
		p.monitors[node] = make(map[Pid]Ref)
	}
	p.monitors[node][pid] = observer
}

func (p *Process) removeMonitor(observer Ref) {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	node, pid := refKey(observer)
	delete(p.monitors[node], pid)
}

func (p *Process) addLink(peer Ref) {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	node, pid := refKey(peer)
	if p.links[node] == nil {
		p.links[node] = make(map[Pid]Ref)
	}
	p.links[node][pid] = peer
}

func (p *Process) removeLink(peer Ref) {
	p.linkMu.Lock()
	defer p.linkMu.Unlock()
	node, pid := refKey(peer)
	delete(p.links[node], pid)
}

func (p *Process) setTrapExit(v bool) { p.trapExit = v }

// NotifyExit is called on this Process's Ref by a peer that just exited,
// either as a one-way monitor notification (linked=false) or as a link
// (linked=true). It is also the hook transport uses to replay a remote
// peer's exit locally (spec §4.7's "Remote DOWN").
func (p *Process) NotifyExit(from Ref, reason ExitReason, linked bool) {
	if !linked {
		p.deliverControl(downAtom, from, reason)
		return
	}
	if p.trapExit {
		p.deliverControl(exitAtom, from, reason)
		return
	}
	if reason == ExitNormal {
		return
	}
	p.setExit(reason)
}

func (p *Process) deliverControl(tag atom.Atom, from Ref, reason ExitReason) {
	env := &Envelope{
		Sender:   from,
		Receiver: p.Ref(),
		Payload:  payload.TupleOf(payload.AtomElement(uint32(tag)), payload.Element{Kind: payload.KindUint64, Uint64: uint64(reason)}),
	}
	p.deliver(env)
}

// --- exit ---

// isExited reports whether this Process has already terminated.
func (p *Process) isExited() bool {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitReason != nil
}

// ExitReason returns the terminal reason, if the Process has exited.
func (p *Process) ExitReason() (ExitReason, bool) {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	if p.exitReason == nil {
		return 0, false
	}
	return *p.exitReason, true
}

// setExit sets the terminal exit reason exactly once (spec invariant 3),
// closes the mailbox, fails any still-pending sync requests, and notifies
// every monitor and linked peer (spec §4.3, §7).
func (p *Process) setExit(reason ExitReason) bool {
	p.exitMu.Lock()
	if p.exitReason != nil {
		p.exitMu.Unlock()
		return false
	}
	r := reason
	p.exitReason = &r
	p.exitMu.Unlock()
	close(p.exitCh)

	p.closeMailbox()
	p.failPendingSync()
	if p.behaviorTimer != nil {
		p.behaviorTimer.Stop()
	}

	p.linkMu.Lock()
	monitors := flattenRefs(p.monitors)
	links := flattenRefs(p.links)
	p.linkMu.Unlock()

	self := p.Ref()
	for _, m := range monitors {
		m.NotifyExit(self, reason, false)
	}
	for _, l := range links {
		l.NotifyExit(self, reason, true)
	}

	p.logger.Debug().Uint64("pid", uint64(p.pid)).Str("reason", reason.String()).Msg("actor: process exited")
	p.sched.onExit(p)
	return true
}

func flattenRefs(m map[NodeID]map[Pid]Ref) []Ref {
	var out []Ref
	for _, inner := range m {
		for _, r := range inner {
			out = append(out, r)
		}
	}
	return out
}

func (p *Process) String() string {
	return fmt.Sprintf("Process(%s/%d)", p.node, p.pid)
}

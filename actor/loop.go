package actor

import "sync"

// Actor is the teacher's generic cooperative worker-loop primitive: a
// goroutine that repeatedly calls a Worker's DoWork until told to stop. It
// predates and is distinct from a Process (the spec's actor entity,
// process.go) — Actor is the low-level plumbing a Mailbox and a Scheduler
// worker are both built out of. See SPEC_FULL.md §0 for why the name split.
type Actor interface {
	// Stop requests the actor's loop to end and blocks until it has.
	Stop()
	// Done is closed once the loop has ended.
	Done() <-chan struct{}
}

// runContext is the Context a Worker's DoWork sees: its only job is to
// signal when the owning Actor has been asked to stop.
type runContext struct {
	done <-chan struct{}
}

func (c runContext) Done() <-chan struct{} { return c.done }

// WorkerStatus is returned by Worker.DoWork to tell the loop whether to
// call it again.
type WorkerStatus int

const (
	// WorkerContinue means DoWork should be invoked again immediately.
	WorkerContinue WorkerStatus = iota
	// WorkerEnd means the loop should stop; OnStop (if implemented) runs
	// and Done() closes.
	WorkerEnd
)

// Worker is one iteration of a loop-driven Actor's work.
type Worker interface {
	DoWork(c runContext) WorkerStatus
}

// stopper is implemented by Workers that need a chance to clean up
// (e.g. closing channels they own) once the loop has ended.
type stopper interface {
	OnStop()
}

type loopActor struct {
	stopC chan struct{}
	doneC chan struct{}
	once  sync.Once
}

func (a *loopActor) Stop() {
	a.once.Do(func() { close(a.stopC) })
	<-a.doneC
}

func (a *loopActor) Done() <-chan struct{} { return a.doneC }

// New returns an Actor that repeatedly calls w.DoWork until it returns
// WorkerEnd or Stop is called.
func New(w Worker) Actor {
	a := &loopActor{
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go func() {
		defer close(a.doneC)
		ctx := runContext{done: a.stopC}
		for {
			select {
			case <-a.stopC:
				if s, ok := w.(stopper); ok {
					s.OnStop()
				}
				return
			default:
			}
			if w.DoWork(ctx) == WorkerEnd {
				if s, ok := w.(stopper); ok {
					s.OnStop()
				}
				return
			}
		}
	}()
	return a
}

// Idle returns an Actor that does nothing until Stop is called, running the
// options' OnStop callback (if any) exactly once when it does. It backs
// Mailbox's UsingChan mode, where there is no worker loop to drive.
func Idle(opt ...Option) Actor {
	o := newOptions(opt)
	a := &loopActor{
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go func() {
		defer close(a.doneC)
		<-a.stopC
		if o.OnStop != nil {
			o.OnStop()
		}
	}()
	return a
}

// Combine returns a single Actor whose Stop stops every member (in
// parallel) and whose Done closes once all of them have.
func Combine(actors ...Actor) Actor {
	c := &loopActor{
		stopC: make(chan struct{}),
		doneC: make(chan struct{}),
	}
	go func() {
		defer close(c.doneC)
		<-c.stopC
		var wg sync.WaitGroup
		wg.Add(len(actors))
		for _, a := range actors {
			go func(a Actor) {
				defer wg.Done()
				a.Stop()
			}(a)
		}
		wg.Wait()
	}()
	return c
}

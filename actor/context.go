package actor

import (
	"errors"
	"time"

	"github.com/markInTheAbyss/actorhub/actor/pattern"
	"github.com/markInTheAbyss/actorhub/payload"
)

// Context is everything a Handler or TimeoutHandler sees about the Process
// currently running it (spec §6). It is only valid for the duration of the
// handler call that received it; storing one past that call and using it
// later is a bug (there is nothing to enforce this — cppa's self-> has the
// same lifetime rule).
type Context struct {
	p *Process
}

// Spawn starts a new Process from within a handler, with OptMonitored and
// OptLinked (if given) wired relative to the running Process (spec §6).
func (c *Context) Spawn(init func(ctx *Context), opt ...Option) Ref {
	o := newOptions(opt)
	return c.p.sched.spawnWithOptions(init, o, c.p)
}

// Self returns a Ref to the running Process.
func (c *Context) Self() Ref { return c.p.Ref() }

// LastSender returns the sender of the message currently being handled, or
// nil if it had none (e.g. inside a Timeout handler).
func (c *Context) LastSender() Ref { return c.p.lastSender }

// LastDequeued returns the payload of the message currently being handled.
func (c *Context) LastDequeued() payload.Tuple {
	if c.p.lastMsg == nil {
		return payload.Tuple{}
	}
	return c.p.lastMsg.Payload
}

// Become installs e as the Process's new behavior. Any message already
// sitting in the skip buffer is re-tried against e, in arrival order,
// before any message newer than this call (spec §4.1, §5).
func (c *Context) Become(e *Expression) { c.p.become(e) }

// Quit terminates the running Process with reason (spec §4.3). The exit
// takes effect at once: the reason is fixed, the mailbox is closed, and
// monitors and links are notified before Quit returns. The rest of the
// current handler call still runs, but no further message is handled.
func (c *Context) Quit(reason ExitReason) { c.p.setExit(reason) }

// SetTrapExit controls whether an abnormal exit from a linked peer kills
// this Process outright (the default) or is instead delivered as an
// ordinary ("EXIT", reason) message for the current behavior to match
// (spec §4.3's "unless it handled the trap").
func (c *Context) SetTrapExit(trap bool) { c.p.setTrapExit(trap) }

// errNoCurrentMessage is returned by Reply/ReplyTuple/ForwardTo when called
// outside of a message handler (e.g. during Spawn's init, or from a Timeout
// handler, which has no triggering message).
var errNoCurrentMessage = errors.New("actor: no current message to reply to or forward")

// Send packs values into a Tuple and delivers it to target, fire-and-forget.
func (c *Context) Send(target Ref, values ...any) error {
	t, err := payload.New(values...)
	if err != nil {
		return err
	}
	target.Send(&Envelope{Sender: c.p.Ref(), Receiver: target, Payload: t})
	return nil
}

// SendTuple is Send for an already-built Tuple.
func (c *Context) SendTuple(target Ref, t payload.Tuple) {
	target.Send(&Envelope{Sender: c.p.Ref(), Receiver: target, Payload: t})
}

// Reply packs values and sends them back to the sender of the message
// currently being handled, preserving its request id so a pending
// SyncSend's waiter sees it as the response (spec §4.5 step 4).
func (c *Context) Reply(values ...any) error {
	t, err := payload.New(values...)
	if err != nil {
		return err
	}
	return c.ReplyTuple(t)
}

// ReplyTuple is Reply for an already-built Tuple.
func (c *Context) ReplyTuple(t payload.Tuple) error {
	msg := c.p.lastMsg
	if msg == nil || msg.Sender == nil {
		return errNoCurrentMessage
	}
	msg.Sender.Send(&Envelope{
		Sender:         c.p.Ref(),
		Receiver:       msg.Sender,
		Payload:        t,
		RequestID:      msg.RequestID,
		IsSyncResponse: msg.RequestID != 0,
	})
	return nil
}

// ForwardTo re-sends the message currently being handled to other, keeping
// its original sender and request id intact, so a reply other sends lands
// back with the original caller rather than with this Process (spec §4.5
// step 5, "forward_to").
func (c *Context) ForwardTo(other Ref) error {
	msg := c.p.lastMsg
	if msg == nil {
		return errNoCurrentMessage
	}
	other.Send(&Envelope{
		Sender:         msg.Sender,
		Receiver:       other,
		Payload:        msg.Payload,
		RequestID:      msg.RequestID,
		IsSyncResponse: msg.IsSyncResponse,
	})
	return nil
}

// SyncSend packs values and sends them to target as a sync request,
// returning a handle the caller uses to install the expression that
// receives the response (spec §4.5). It is valid from EventBased and
// Blocking Processes alike.
func (c *Context) SyncSend(target Ref, values ...any) (*SyncHandle, error) {
	t, err := payload.New(values...)
	if err != nil {
		return nil, err
	}
	return c.SyncSendTuple(target, t), nil
}

// SyncSendTuple is SyncSend for an already-built Tuple.
func (c *Context) SyncSendTuple(target Ref, t payload.Tuple) *SyncHandle {
	reqID := c.p.nextRequestID()
	target.Send(&Envelope{Sender: c.p.Ref(), Receiver: target, Payload: t, RequestID: reqID})
	return &SyncHandle{p: c.p, requestID: reqID}
}

// Receive is the blocking-flavor primitive (spec §4.4): it installs e as
// the behavior and blocks the calling goroutine until some message matches
// it (or its Timeout fires), running the matched handler before returning.
// Calling it from an EventBased Process is a misuse: there is no dedicated
// goroutine to block on, so it would stall the shared worker pool.
func (c *Context) Receive(e *Expression) error {
	return c.p.receiveBlocking(e)
}

// Monitor registers this Process as a one-way lifetime observer of target:
// when target exits, this Process's behavior receives ("DOWN", reason)
// with LastSender() == target (spec §4.3).
func (c *Context) Monitor(target Ref) { target.Monitor(c.p.Ref()) }

// Demonitor undoes a prior Monitor.
func (c *Context) Demonitor(target Ref) { target.Demonitor(c.p.Ref()) }

// Link bidirectionally couples this Process's lifetime with peer's: if
// either exits abnormally, the other does too, unless it trapped the exit
// (spec §4.3, invariant 4).
func (c *Context) Link(peer Ref) {
	c.p.addLink(peer)
	peer.Link(c.p.Ref())
}

// Unlink undoes a prior Link, on both sides.
func (c *Context) Unlink(peer Ref) {
	c.p.removeLink(peer)
	peer.Unlink(c.p.Ref())
}

// AwaitDown blocks (up to timeout, if non-zero) until target exits,
// returning its ExitReason. It is sugar over Monitor + a blocking Receive,
// supplementing the monitor/DOWN machinery the way libcppa's
// await_all_others_done helper sugars over a raw mailbox loop.
func (c *Context) AwaitDown(target Ref, timeout time.Duration) (ExitReason, error) {
	c.Monitor(target)
	result := make(chan ExitReason, 1)
	downPattern := pattern.New(pattern.AtomEq(uint32(downAtom)), pattern.Type(payload.KindUint64))
	items := []ExprItem{
		On(downPattern, func(ctx *Context, bindings []payload.Element) {
			if len(bindings) == 0 {
				return
			}
			result <- ExitReason(bindings[0].Uint64)
		}),
	}
	if timeout > 0 {
		items = append(items, After(timeout, func(ctx *Context) { result <- ExitReason(0) }))
	}
	expr := MustExpression(items...)
	if err := c.p.receiveBlocking(expr); err != nil {
		return 0, err
	}
	select {
	case r := <-result:
		return r, nil
	default:
		return 0, errNoCurrentMessage
	}
}

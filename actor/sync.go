package actor

// SyncHandle is returned by Context.SyncSend/SyncSendTuple: the caller
// attaches the MatchExpression that receives the eventual response (spec
// §4.5 step 3). Until Then is called, the response (when it arrives) is
// treated as unmatched and dropped.
type SyncHandle struct {
	p         *Process
	requestID uint64
}

// Then installs the expression that handles the response to this sync
// request. items may include an After(...) clause, which bounds how long
// the request waits before that clause's handler runs instead (spec
// §4.5.3); without one the request waits indefinitely, per the spec's
// "absence of such a clause leaves the request pending forever".
func (h *SyncHandle) Then(items ...ExprItem) error {
	expr, err := NewExpression(items...)
	if err != nil {
		return err
	}
	h.p.installSyncWaiter(h.requestID, expr, nil)
	return nil
}

// ContinueWith schedules fn to run, in this Process, immediately after the
// handler installed by Then (whether it matched the real response or the
// After timeout) finishes — libcppa's continue_with (spec §4.5, supplemented
// from original_source/unit_testing/test__sync_send.cpp's continue_with chain since
// the distilled spec only mentions it in passing).
func (h *SyncHandle) ContinueWith(fn func(ctx *Context)) {
	h.p.attachContinuation(h.requestID, fn)
}

// RequestID returns the correlation id this handle's response must carry.
// Exposed for transport, which must thread it through when a sync request
// crosses the network (spec §4.7).
func (h *SyncHandle) RequestID() uint64 { return h.requestID }

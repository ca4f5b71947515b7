package dispatcher

import "github.com/boronkernel/dispatch/ipl"

// terminationPayload backs Thread and Process headers: signalled exactly
// once, permanently, on termination. Any number of waiters may consume it
// without exhausting it (termination is a durable fact, not a count).
type terminationPayload struct {
	kind        ObjectType
	terminated  bool
}

func (t *terminationPayload) Kind() ObjectType       { return t.kind }
func (t *terminationPayload) CanSatisfy(Waiter) bool { return t.terminated }
func (t *terminationPayload) Consume(Waiter) bool    { return false }

// InitializeThreadHeader builds a Header for a new (not yet terminated)
// thread.
func InitializeThreadHeader() *Header {
	return &Header{payload: &terminationPayload{kind: ThreadObject}}
}

// InitializeProcessHeader builds a Header for a new (not yet terminated)
// process.
func InitializeProcessHeader() *Header {
	return &Header{payload: &terminationPayload{kind: ProcessObject}}
}

// SignalTermination marks h terminated, waking every current and future
// waiter permanently. Called once by the thread/process rundown path.
func SignalTermination(g *ipl.Gate, h *Header) {
	old := Lock.Acquire(g)
	h.payload.(*terminationPayload).terminated = true
	wake(h)
	Lock.Release(g, old)
}

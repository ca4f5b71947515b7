package dispatcher

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
)

// eventPayload backs both Synchronization (auto-reset) and Notification
// (manual-reset) events, and both timer flavors (which are events that are
// additionally armed against a scheduler timer — see timer.go).
type eventPayload struct {
	notify bool // true = Notification/manual-reset, false = Synchronization/auto-reset
	state  bool
}

func (e *eventPayload) Kind() ObjectType {
	if e.notify {
		return NotificationEventObject
	}
	return SynchronizationEventObject
}
func (e *eventPayload) CanSatisfy(Waiter) bool { return e.state }
func (e *eventPayload) Consume(Waiter) bool {
	if !e.notify {
		e.state = false
	}
	return false
}

// InitializeEvent builds an event; notify selects Notification
// (manual-reset, all waiters wake and it stays signalled) vs
// Synchronization (auto-reset, exactly one waiter wakes and it resets).
func InitializeEvent(notify bool, signalled bool) *Header {
	return &Header{payload: &eventPayload{notify: notify, state: signalled}}
}

// SetEvent signals h, waking waiters per its reset discipline.
func SetEvent(g *ipl.Gate, h *Header) kstatus.Status {
	old := Lock.Acquire(g)
	e := h.payload.(*eventPayload)
	e.state = true
	wake(h)
	Lock.Release(g, old)
	return kstatus.Success
}

// PulseEvent signals h just long enough to wake whoever is currently
// waiting, then resets it to unsignalled regardless of reset discipline —
// late arrivals never observe the pulse.
func PulseEvent(g *ipl.Gate, h *Header) kstatus.Status {
	old := Lock.Acquire(g)
	e := h.payload.(*eventPayload)
	e.state = true
	wake(h)
	e.state = false
	Lock.Release(g, old)
	return kstatus.Success
}

// ResetEvent clears h without waking anyone.
func ResetEvent(g *ipl.Gate, h *Header) kstatus.Status {
	old := Lock.Acquire(g)
	e := h.payload.(*eventPayload)
	e.state = false
	Lock.Release(g, old)
	return kstatus.Success
}

// ReadEventState reports whether h is currently signalled.
func ReadEventState(g *ipl.Gate, h *Header) bool {
	old := Lock.Acquire(g)
	e := h.payload.(*eventPayload)
	v := e.state
	Lock.Release(g, old)
	return v
}

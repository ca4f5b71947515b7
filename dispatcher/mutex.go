package dispatcher

import (
	"fmt"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
)

// Debug gates the mutex lock-ordering check below. Mirrors the Level field
// in the original's mutex.h, a debug-build-only check: off by default since
// every caller paying for it (tracking LockLevel through acquire/release)
// is opting into it deliberately.
var Debug bool

// mutexPayload supports recursive acquisition by the owning waiter and
// abandonment when the owner terminates while holding it. level is 0 for
// an unleveled mutex (InitializeMutex's default), which the ordering check
// below always exempts.
type mutexPayload struct {
	owner     Waiter
	recursion int
	ownerDied bool
	level     int
}

func (m *mutexPayload) Kind() ObjectType { return MutexObject }

func (m *mutexPayload) CanSatisfy(w Waiter) bool {
	return m.owner == nil || m.owner == w
}

func (m *mutexPayload) Consume(w Waiter) (abandoned bool) {
	if m.owner == w {
		m.recursion++
		return false
	}
	abandoned = m.ownerDied
	m.ownerDied = false
	m.owner = w
	m.recursion = 1
	return abandoned
}

// InitializeMutex builds a new, unowned mutex.
func InitializeMutex() *Header {
	return &Header{payload: &mutexPayload{}}
}

// InitializeLeveledMutex builds a new, unowned mutex assigned the given
// ordering level. In Debug builds, acquiring it out of strictly-increasing
// level order is a contract violation rather than a silent lock-order bug
// — see checkMutexLockOrder.
func InitializeLeveledMutex(level int) *Header {
	return &Header{payload: &mutexPayload{level: level}}
}

// MutexLevel reports h's ordering level, or 0 if h is not a mutex or was
// built with InitializeMutex (unleveled).
func MutexLevel(h *Header) int {
	m, ok := h.payload.(*mutexPayload)
	if !ok {
		return 0
	}
	return m.level
}

// checkMutexLockOrder enforces spec.md §4.2's "locks form a DAG by
// discipline" as a checkable invariant: in Debug builds, acquiring a
// leveled mutex while already holding one at the same or higher level is a
// contract violation. Recursive acquisition by the current owner and
// unleveled mutexes are always exempt.
func checkMutexLockOrder(h *Header, w Waiter) {
	if !Debug || h.Kind() != MutexObject {
		return
	}
	m := h.payload.(*mutexPayload)
	if m.level == 0 || m.owner == w {
		return
	}
	if held := w.LockLevel(); held >= m.level {
		panic(kstatus.Violation("dispatcher: mutex acquired out of level order",
			fmt.Sprintf("waiter already holds level %d, acquiring level %d", held, m.level)))
	}
}

// ReleaseMutex decrements the recursion count; the final release signals
// the mutex, waking the next waiter (if any, via wake). Returns
// InvalidParameter if the calling waiter does not own it.
func ReleaseMutex(g *ipl.Gate, h *Header, w Waiter) kstatus.Status {
	old := Lock.Acquire(g)
	m := h.payload.(*mutexPayload)
	if m.owner != w {
		Lock.Release(g, old)
		return kstatus.InvalidParameter
	}
	m.recursion--
	if m.recursion > 0 {
		Lock.Release(g, old)
		return kstatus.Success
	}
	m.owner = nil
	wake(h)
	Lock.Release(g, old)
	return kstatus.Success
}

// AbandonMutex is called by the thread/process layer when a thread
// terminates while still owning h. The next waiter to acquire it receives
// Abandoned status exactly once, then ownership behaves normally again.
func AbandonMutex(g *ipl.Gate, h *Header) {
	old := Lock.Acquire(g)
	m := h.payload.(*mutexPayload)
	if m.owner != nil {
		m.owner = nil
		m.ownerDied = true
		wake(h)
	}
	Lock.Release(g, old)
}

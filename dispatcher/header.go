// Package dispatcher implements the uniform waitable-object abstraction
// (mutex, semaphore, event, timer, thread, process) and the wait engine:
// multi-object wait, timeouts, alertability, and priority boosting.
//
// Every object's state machine is protected by one package-level spinlock,
// Lock — a single global lock is a pragmatic choice the spec explicitly
// calls out, not an oversight (spec.md §5, §9). The header/payload split
// keeps type-tag dispatch off the hot traversal path, per spec.md §9's
// re-architecture note: the header owns identity and the waiter list, a
// small payload interface owns per-type signal-state semantics.
//
// Grounded on eventloop.promise's settle/registry machinery (a promise is a
// single-object, single-resolution analogue of a dispatcher object),
// generalized here to N-object, re-usable, multi-waiter objects, and on
// eventloop.Loop's mutex-guarded check-then-push pattern for the
// fast-path/slow-path wait split.
package dispatcher

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/boronkernel/dispatch/sched"
	"github.com/boronkernel/dispatch/spinlock"
	"golang.org/x/exp/slices"
)

// MaxWaitObjects bounds how many objects one WaitForMultipleObjects call
// accepts. Wait blocks are allocated by each wait call; threads carry no
// fixed-size wait-block array.
const MaxWaitObjects = 64

// TimeoutInfinite disables a wait's timeout.
const TimeoutInfinite int64 = -1

// defaultBoost is EX_DISPATCH_BOOST from the original header: the priority
// increment applied to a woken waiter for its next quantum.
const defaultBoost = 1

// ObjectType tags a Header's payload kind, for diagnostics only — dispatch
// itself always goes through the payload interface, never a type switch on
// this field.
type ObjectType int

const (
	MutexObject ObjectType = iota
	SemaphoreObject
	SynchronizationEventObject
	NotificationEventObject
	OneShotTimerObject
	PeriodicTimerObject
	ThreadObject
	ProcessObject
)

// WaitType selects whether a multi-object wait is satisfied by any one
// object or requires all of them.
type WaitType int

const (
	WaitAny WaitType = iota
	WaitAll
)

// payload is the per-type signal-state machine. All methods run with Lock
// held.
type payload interface {
	// CanSatisfy reports whether the object would satisfy a wait by w right
	// now (without mutating state).
	CanSatisfy(w Waiter) bool
	// Consume atomically satisfies a wait by w, mutating state. Returns
	// true if the satisfaction came from an abandoned mutex.
	Consume(w Waiter) (abandoned bool)
	Kind() ObjectType
}

// Header is the common part of every dispatcher object: type, signal
// state (via payload), and the list of wait blocks currently registered
// against it.
type Header struct {
	payload payload
	waiters []*WaitBlock
}

// Kind reports the object's type tag.
func (h *Header) Kind() ObjectType { return h.payload.Kind() }

// Waiter is anything that can wait on a dispatcher object. thread.Thread
// implements this without dispatcher importing thread — the same
// structural-interface technique sched.Runnable uses, keeping the import
// graph acyclic (thread depends on dispatcher and sched, not the reverse).
type Waiter interface {
	sched.Runnable
	// ApplyBoost adds amount to the waiter's temporary boost, on top of
	// whatever SetBoost already holds.
	ApplyBoost(amount int)
	// Block parks the calling goroutine until CompleteWait is called for
	// it. Must be called with no locks held.
	Block()
	// CompleteWait delivers the wait outcome and unparks the goroutine
	// blocked in Block. Called at most once per Block call.
	CompleteWait(status kstatus.Status)
	// LastStatus returns the status delivered by the most recent
	// CompleteWait, read after Block returns.
	LastStatus() kstatus.Status
	// SetWaitCancel installs (or, with nil, clears) the callback used to
	// cancel the waiter's current wait early — invoked by the APC layer
	// when an alertable wait should wake with Alerted.
	SetWaitCancel(cancel func(status kstatus.Status))
	// LockLevel reports the highest-leveled mutex this waiter currently
	// holds (0 if none), and SetLockLevel updates it. Only consulted by
	// checkMutexLockOrder when Debug is enabled.
	LockLevel() int
	SetLockLevel(level int)
}

// Lock is the single global dispatcher lock guarding every Header's
// payload and waiter list, and every WaitBlock. A single spinlock is
// sufficient contention-wise for a microkernel of this scale (spec.md §5).
var Lock spinlock.Spin

// WaitBlock links one (waiter, object) pair for the duration of a wait.
// Each wait call allocates its own wait blocks, one per waited object.
type WaitBlock struct {
	waiter   Waiter
	header   *Header
	waitType WaitType
	index    int
	boost    int
	done     bool
	// siblings is the full object set this wait call registered against
	// (shared by every WaitBlock in the same call); nil for single-object
	// waits. Needed so an ALL wait's wake-walk can check every sibling
	// header's CanSatisfy before committing to consume any of them — safe
	// to read/write without extra locking since every Header in siblings
	// shares the one package-level Lock.
	siblings []*WaitBlock
}

func removeWaiter(h *Header, wb *WaitBlock) {
	if i := slices.Index(h.waiters, wb); i >= 0 {
		h.waiters = slices.Delete(h.waiters, i, i+1)
	}
}

func unlinkAll(blocks []*WaitBlock) {
	for _, wb := range blocks {
		removeWaiter(wb.header, wb)
	}
}

func assertWaitIPL(g *ipl.Gate) {
	if g.Get() >= ipl.DPC {
		panic(kstatus.Violation("dispatcher: wait at IPL >= DPC", "blocking calls require IPL <= APC"))
	}
}

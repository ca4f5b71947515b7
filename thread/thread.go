// Package thread implements kernel threads: the entity the scheduler picks
// and the wait engine blocks. Thread implements sched.Runnable and
// dispatcher.Waiter structurally, without sched or dispatcher importing
// this package — the interface-based decoupling spec.md §9 calls for
// ("model per-CPU state... never use process-wide mutable globals") applied
// to the import graph itself.
//
// Context switch is modeled by goroutine parking: each Thread owns one
// goroutine, blocked on its own resume channel when not "running", which is
// the practical Go analogue of "saved machine state at the top of its own
// stack" (spec.md §9's context-switch trait) — see DESIGN.md for why this
// substitution was chosen over any lower-level approach.
package thread

import (
	"sync"
	"sync/atomic"

	"github.com/boronkernel/dispatch/apc"
	"github.com/boronkernel/dispatch/dispatcher"
	"github.com/boronkernel/dispatch/dpc"
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/boronkernel/dispatch/prcb"
	"github.com/boronkernel/dispatch/sched"
)

// Blocks is the process-wide PRCB registry, wired once by the kernel
// package at bring-up. Thread needs it only to resolve a home-CPU index
// into the Block whose IPL gate and DPC queue it should use.
var Blocks *prcb.Registry

// MaxWaitObjects mirrors dispatcher.MaxWaitObjects, the most objects one
// multi-object wait accepts.
const MaxWaitObjects = dispatcher.MaxWaitObjects

// Routine is a thread's body. It should call (*Thread).Checkpoint
// periodically — that's the cooperative stand-in for a hardware timer
// interrupt preempting it mid-quantum, since Go provides no way to
// externally suspend an arbitrary running goroutine at an arbitrary point.
type Routine func(t *Thread)

// Thread is a kernel thread.
type Thread struct {
	ID      uint64
	Process *Process

	priority int32
	boost    atomic.Int32
	state    atomic.Int32
	homeCPU  atomic.Int32
	affinity uint64

	homeBlock *prcb.Block

	apcQueue     apc.Queue
	previousMode ipl.Mode
	alertable    atomic.Bool
	apcDisable   atomic.Int32

	accumulatedTicks atomic.Int64

	Header *dispatcher.Header // waitable: terminated => signalled

	startRoutine Routine
	resume       chan struct{}
	parked       chan struct{}

	cancelMu sync.Mutex
	cancel   func(kstatus.Status)

	lastStatus atomic.Int32 // kstatus.Status, stored as int32

	started atomic.Bool
	refs    atomic.Int32

	rundown func() // run by Release when the last reference goes; New leaves it nil

	ownedMu      sync.Mutex
	ownedMutexes []*dispatcher.Header
	lockLevel    atomic.Int32
}

// New constructs an Initialized thread. affinity is a CPU bitmask (0 means
// any CPU). homeCPU pre-pins the thread to a CPU index, or -1 to let the
// scheduler pick the least loaded CPU on first ReadyThread.
func New(id uint64, p *Process, priority int, affinity uint64, homeCPU int, routine Routine) *Thread {
	t := &Thread{
		ID:           id,
		Process:      p,
		priority:     int32(priority),
		affinity:     affinity,
		startRoutine: routine,
		resume:       make(chan struct{}),
		parked:       make(chan struct{}),
		Header:       dispatcher.InitializeThreadHeader(),
	}
	t.state.Store(int32(sched.Initialized))
	t.homeCPU.Store(int32(homeCPU))
	t.refs.Store(1)
	if homeCPU >= 0 && Blocks != nil {
		t.homeBlock = Blocks.Get(homeCPU)
	}
	return t
}

// --- sched.Runnable ---

func (t *Thread) State() sched.State      { return sched.State(t.state.Load()) }
func (t *Thread) SetState(s sched.State)  { t.state.Store(int32(s)) }
func (t *Thread) Priority() int           { return int(t.priority) }
func (t *Thread) Boost() int              { return int(t.boost.Load()) }
func (t *Thread) SetBoost(b int)          { t.boost.Store(int32(b)) }
func (t *Thread) HomeCPU() int            { return int(t.homeCPU.Load()) }
func (t *Thread) SetHomeCPU(cpu int) {
	t.homeCPU.Store(int32(cpu))
	if Blocks != nil {
		t.homeBlock = Blocks.Get(cpu)
	}
}

// --- dispatcher.Waiter ---

func (t *Thread) ApplyBoost(amount int) { t.boost.Add(int32(amount)) }

// Block parks the calling goroutine (this Thread's own) until CompleteWait
// wakes it. Called by dispatcher with the dispatcher lock already
// released and the thread's state already set to Waiting.
func (t *Thread) Block() { t.relinquish() }

func (t *Thread) CompleteWait(status kstatus.Status) {
	t.lastStatus.Store(int32(status))
	t.resume <- struct{}{}
}

func (t *Thread) LastStatus() kstatus.Status { return kstatus.Status(t.lastStatus.Load()) }

func (t *Thread) SetWaitCancel(cancel func(kstatus.Status)) {
	t.cancelMu.Lock()
	t.cancel = cancel
	t.cancelMu.Unlock()
}

// LockLevel reports the highest-leveled mutex this thread currently owns
// (0 if none or none leveled), consulted only by dispatcher's debug-only
// lock-ordering check.
func (t *Thread) LockLevel() int { return int(t.lockLevel.Load()) }

// SetLockLevel overrides the tracked lock level directly. Normally
// trackOwnedMutex/untrackOwnedMutex keep this in sync automatically;
// exposed on the interface for callers (tests, alternate Waiter
// implementations) that manage ownership bookkeeping themselves.
func (t *Thread) SetLockLevel(level int) { t.lockLevel.Store(int32(level)) }

// Alert delivers ALERTED to the thread's current wait, if it is presently
// both alertable and blocked. A no-op otherwise (the APC stays queued,
// delivered normally at the next alertable checkpoint).
func (t *Thread) Alert() {
	if !t.alertable.Load() {
		return
	}
	t.cancelMu.Lock()
	cancel := t.cancel
	t.cancelMu.Unlock()
	if cancel != nil {
		cancel(kstatus.Alerted)
	}
}

// SetAlertable marks whether the thread's current (or next) wait accepts
// early wake-up from a posted user APC.
func (t *Thread) SetAlertable(v bool) { t.alertable.Store(v) }

// --- lifecycle ---

// Gate returns the IPL gate of the thread's home CPU.
func (t *Thread) Gate() *ipl.Gate { return t.homeBlock.Gate }

// CPU returns the sched.PerCPU of the thread's home CPU.
func (t *Thread) CPU() *sched.PerCPU { return t.homeBlock.Sched }

// Start spins up the thread's goroutine. It parks immediately, waiting for
// the scheduler to pick it for the first time.
func (t *Thread) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		<-t.resume
		if t.startRoutine != nil {
			t.startRoutine(t)
		}
		t.terminate()
		t.parked <- struct{}{}
	}()
}

// relinquish hands control back to whatever goroutine is driving this
// thread's CPU run loop, then blocks until it is handed control again.
func (t *Thread) relinquish() {
	t.parked <- struct{}{}
	<-t.resume
}

// RunOnce hands control to this thread's goroutine and blocks until it
// parks again (by returning from relinquish, or by terminating). Called
// only by the run loop driving this thread's home CPU — never by the
// thread itself.
func (t *Thread) RunOnce() {
	t.resume <- struct{}{}
	<-t.parked
}

// Yield voluntarily gives up the remainder of the current quantum without
// resetting the quantum budget; EndThreadQuantum does the re-queue and next
// pick from the run-loop side.
func (t *Thread) Yield() {
	t.SetState(sched.Ready)
	t.relinquish()
}

// Checkpoint is the cooperative preemption point: thread bodies should call
// it periodically. If the home CPU's pending-events bitmask has
// PENDING_YIELD set (quantum exhausted), it relinquishes the CPU; the
// run-loop driving this CPU sees Ready state and requeues it via
// EndThreadQuantum.
func (t *Thread) Checkpoint() {
	b := t.homeBlock
	if b == nil {
		return
	}
	if b.Pending(prcb.PendingYield) {
		b.ClearPendingYield()
		t.SetState(sched.Ready)
		t.relinquish()
	}
}

// DrainAPC drains the thread's three APC tiers, wired as the home CPU's
// gate's APC drain hook by the kernel package once this thread is current.
func (t *Thread) DrainAPC(g *ipl.Gate) {
	t.apcQueue.Drain(g, t.alertable.Load())
}

// InsertAPC enqueues a into the thread's matching tier, requesting an
// interrupt on its home CPU per the three-way arrival rule. The interrupt
// is delivered as a DPC queued on the home CPU's own block — the self-IPI
// substitute dpc.Queue already provides elsewhere — rather than by raising
// and lowering the home gate directly: a caller on a different CPU than
// the thread's home has no business touching that gate itself, since it
// is touched only by the goroutine currently running on its own CPU.
// Inserting a User-tier APC also alerts the thread's current wait, if that
// wait is alertable (see Alert).
func (t *Thread) InsertAPC(a *apc.APC, arg1, arg2 any) bool {
	g := t.Gate()
	b := t.homeBlock
	inserted := t.apcQueue.Insert(g, a, arg1, arg2, func(apc.Tier) {
		var d dpc.DPC
		dpc.Initialize(&d, func(*dpc.DPC, any, any, any) {
			old := g.RaiseIfNeeded(ipl.APC)
			g.Lower(old)
		}, nil)
		b.DPCQueue.Enqueue(g, &d, nil, nil)
	})
	if inserted && a.Tier() == apc.User {
		t.Alert()
	}
	return inserted
}

// WaitOne is a convenience wrapper around dispatcher.WaitForSingleObject
// bound to this thread's own gate and CPU.
func (t *Thread) WaitOne(h *dispatcher.Header, timeoutMS int64, now int64) kstatus.Status {
	status := dispatcher.WaitForSingleObject(t.Gate(), h, t, t.alertable.Load(), timeoutMS, t.CPU(), now)
	if h.Kind() == dispatcher.MutexObject && (status == kstatus.Success || status == kstatus.Abandoned) {
		t.trackOwnedMutex(h)
	}
	return status
}

// ReleaseMutex releases a mutex this thread owns, untracking it so
// termination won't abandon an already-released object.
func (t *Thread) ReleaseMutex(h *dispatcher.Header) kstatus.Status {
	status := dispatcher.ReleaseMutex(t.Gate(), h, t)
	if status == kstatus.Success {
		t.untrackOwnedMutex(h)
	}
	return status
}

func (t *Thread) trackOwnedMutex(h *dispatcher.Header) {
	t.ownedMu.Lock()
	t.ownedMutexes = append(t.ownedMutexes, h)
	t.recomputeLockLevelLocked()
	t.ownedMu.Unlock()
}

func (t *Thread) untrackOwnedMutex(h *dispatcher.Header) {
	t.ownedMu.Lock()
	for i, x := range t.ownedMutexes {
		if x == h {
			t.ownedMutexes = append(t.ownedMutexes[:i], t.ownedMutexes[i+1:]...)
			break
		}
	}
	t.recomputeLockLevelLocked()
	t.ownedMu.Unlock()
}

// recomputeLockLevelLocked resets lockLevel to the highest MutexLevel
// across every currently-owned mutex. Called with ownedMu held. Tracking
// only the maximum (not the full held set) is sufficient to enforce
// strictly-increasing acquisition order.
func (t *Thread) recomputeLockLevelLocked() {
	max := 0
	for _, h := range t.ownedMutexes {
		if l := dispatcher.MutexLevel(h); l > max {
			max = l
		}
	}
	t.lockLevel.Store(int32(max))
}

// abandonOwnedMutexes releases every mutex still held at termination,
// marking each abandoned for its next owner.
func (t *Thread) abandonOwnedMutexes() {
	t.ownedMu.Lock()
	owned := t.ownedMutexes
	t.ownedMutexes = nil
	t.lockLevel.Store(0)
	t.ownedMu.Unlock()
	g := t.Gate()
	for _, h := range owned {
		dispatcher.AbandonMutex(g, h)
	}
}

// AddRef/Release maintain the thread's manual reference count, which New
// starts at 1 and terminate drops. When the count reaches zero, Release
// runs the rundown callback if one is set; New sets none, and no rundown
// DPC is queued. The Thread struct itself is reclaimed by Go's GC once
// unreferenced.
func (t *Thread) AddRef() { t.refs.Add(1) }

func (t *Thread) Release() {
	if t.refs.Add(-1) == 0 && t.rundown != nil {
		t.rundown()
	}
}

func (t *Thread) terminate() {
	t.SetState(sched.Terminated)
	t.abandonOwnedMutexes()
	if t.Process != nil {
		t.Process.threadExited(t)
	}
	dispatcher.SignalTermination(t.Gate(), t.Header)
	t.Release()
}

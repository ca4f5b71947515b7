package kernel

import (
	"github.com/boronkernel/dispatch/sched"
	"github.com/boronkernel/dispatch/thread"
)

// RunCPU drives one CPU's scheduling loop forever: hand control to the
// picked thread, wait for it to park (by yielding, blocking on a wait, or
// terminating), then decide the next thread the same way a real dispatcher
// would react to a timer interrupt returning from thread context.
//
// Each CPU's RunCPU must run on its own goroutine — it is the Go stand-in
// for that CPU's own instruction stream, matching the teacher's one
// goroutine per eventloop.Loop worker.
func (k *Kernel) RunCPU(cpuID int) {
	next := k.pickThread(cpuID)
	for next != nil {
		next.RunOnce()
		switch next.State() {
		case sched.Terminated, sched.Waiting:
			next = k.pickThread(cpuID)
		default:
			next = k.endQuantum(cpuID)
		}
	}
}

func (k *Kernel) pickThread(cpuID int) *thread.Thread {
	r := k.Scheduler.Pick(cpuID)
	t, _ := r.(*thread.Thread)
	return t
}

func (k *Kernel) endQuantum(cpuID int) *thread.Thread {
	r := k.Scheduler.EndThreadQuantum(cpuID)
	t, _ := r.(*thread.Thread)
	return t
}

// Start launches RunCPU for every CPU on its own goroutine. The kernel is
// live from this call on: idle CPUs sit in IdleWait until a thread is
// readied to them.
func (k *Kernel) Start() {
	for i := 0; i < k.cpuCount; i++ {
		go k.RunCPU(i)
	}
}

// Tick advances cpuID's quantum clock by one tick; once the quantum
// expires, it sets PENDING_YIELD on that CPU's Block so the running
// thread's next Checkpoint call relinquishes the CPU. Intended to be
// driven by the ClockSource collaborator's timer, one call per logical
// clock tick.
func (k *Kernel) Tick(cpuID int) {
	b := k.Blocks.Get(cpuID)
	if b.Sched.Tick() {
		b.SetPendingYield()
	}
	b.Sched.RunExpiredTimers(mustClockTick(k, cpuID))
}

func mustClockTick(k *Kernel, cpuID int) int64 {
	if k.Collaborators.ClockSource != nil {
		return k.Collaborators.ClockSource.NowTick(cpuID)
	}
	return 0
}

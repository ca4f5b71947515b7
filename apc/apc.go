// Package apc implements the per-thread Asynchronous Procedure Call queue:
// three tiers (Special, Kernel, User) of caller-owned callback objects,
// delivered in thread context at well-defined points.
//
// Queue owns no reference to the owning thread — thread.Thread embeds a
// Queue value instead of apc referencing thread.Thread — which keeps this
// package a leaf and avoids an import cycle between apc and thread. The
// three-tier drain discipline is grounded on eventloop's three-queue
// (external/internal/microtask) drain-with-reentrancy-flag shape,
// generalized from "three queues on one loop" to "three tiered queues per
// thread".
package apc

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/spinlock"
)

// Tier is the APC's delivery class.
type Tier int

const (
	Special Tier = iota
	Kernel
	User
	tierCount
)

func (t Tier) String() string {
	switch t {
	case Special:
		return "special"
	case Kernel:
		return "kernel"
	case User:
		return "user"
	default:
		return "invalid"
	}
}

// KernelRoutine runs at IPL APC (Special, Kernel tiers) or at PASSIVE level
// in thread context (User tier).
type KernelRoutine func(a *APC, context, arg1, arg2 any)

// APC is caller-owned memory, enqueued to exactly one thread's queue at a
// time.
type APC struct {
	owner     any
	routine   KernelRoutine
	normal    func(context, arg1, arg2 any)
	context   any
	normalCtx any
	mode      ipl.Mode
	tier      Tier
	enqueued  bool
	arg1, arg2 any
	next      *APC
}

// Initialize infers the tier: no normal routine means Special (kernel-mode
// only); otherwise the tier is Kernel or User per mode.
func Initialize(a *APC, owner any, kernelRoutine KernelRoutine, normalRoutine func(context, arg1, arg2 any), normalContext any, mode ipl.Mode) {
	tier := Special
	if normalRoutine != nil {
		if mode == ipl.UserMode {
			tier = User
		} else {
			tier = Kernel
		}
	}
	*a = APC{
		owner:     owner,
		routine:   kernelRoutine,
		normal:    normalRoutine,
		normalCtx: normalContext,
		mode:      mode,
		tier:      tier,
	}
}

// Tier reports the APC's delivery tier, as inferred by Initialize.
func (a *APC) Tier() Tier { return a.tier }

// Enqueued reports whether a is currently linked into a Queue.
func (a *APC) Enqueued() bool { return a.enqueued }

// Queue is a thread's three tiered APC lists plus per-tier re-entrancy
// gates. Embedded by thread.Thread.
type Queue struct {
	lock    spinlock.Spin
	head    [tierCount]*APC
	tail    [tierCount]*APC
	running [tierCount]bool

	// Disabled counts nested calls to DisableAPCs; Drain is a no-op while
	// Disabled > 0.
	Disabled int32
}

// Insert appends a to its tier's list. It fails (returns false) if a is
// already enqueued. requestInterrupt, if non-nil, is invoked (outside the
// lock) when this arrival should provoke delivery on the owning thread's
// CPU, per the three-way arrival rule: a Special arrives while none is
// running; a Kernel arrives while neither Special nor Kernel is running; a
// User arrives while no APC at all is running.
func (q *Queue) Insert(g *ipl.Gate, a *APC, arg1, arg2 any, requestInterrupt func(Tier)) bool {
	old := q.lock.Acquire(g)
	if a.enqueued {
		q.lock.Release(g, old)
		return false
	}
	a.arg1, a.arg2 = arg1, arg2
	a.enqueued = true
	a.next = nil
	t := a.tier
	if q.tail[t] != nil {
		q.tail[t].next = a
	} else {
		q.head[t] = a
	}
	q.tail[t] = a

	var shouldInterrupt bool
	switch t {
	case Special:
		shouldInterrupt = !q.running[Special]
	case Kernel:
		shouldInterrupt = !q.running[Special] && !q.running[Kernel]
	case User:
		shouldInterrupt = !q.running[Special] && !q.running[Kernel] && !q.running[User]
	}
	q.lock.Release(g, old)

	if shouldInterrupt && requestInterrupt != nil {
		requestInterrupt(t)
	}
	return true
}

// Drain walks tiers Special -> Kernel -> User, running each tier's pending
// APCs subject to its re-entrancy gate. userEligible gates whether the User
// tier is drained at all (only true at an alertable wait or a
// return-to-user checkpoint, per spec).
func (q *Queue) Drain(g *ipl.Gate, userEligible bool) {
	if q.Disabled > 0 {
		return
	}
	q.drainTier(g, Special)
	q.drainTier(g, Kernel)
	if userEligible {
		q.drainTier(g, User)
	}
}

func (q *Queue) drainTier(g *ipl.Gate, t Tier) {
	for {
		old := q.lock.Acquire(g)
		if q.running[t] {
			q.lock.Release(g, old)
			return
		}
		a := q.head[t]
		if a == nil {
			q.lock.Release(g, old)
			return
		}
		q.head[t] = a.next
		if q.head[t] == nil {
			q.tail[t] = nil
		}
		a.next = nil
		a.enqueued = false
		q.running[t] = true
		q.lock.Release(g, old)

		if a.routine != nil {
			a.routine(a, a.context, a.arg1, a.arg2)
		}
		if a.normal != nil {
			a.normal(a.normalCtx, a.arg1, a.arg2)
		}

		old = q.lock.Acquire(g)
		q.running[t] = false
		q.lock.Release(g, old)
	}
}

// Pending reports whether tier t has at least one queued APC.
func (q *Queue) Pending(t Tier) bool { return q.head[t] != nil }

// Package dpc implements the per-CPU Deferred Procedure Call queue: short,
// non-blocking work scheduled from interrupt context and run once IPL drops
// to DPC, before normal thread code resumes.
//
// Queue.Dispatch follows eventloop.ChunkedIngress's pop-under-lock,
// execute-outside-lock split, generalized from a single FIFO chunk list to
// head-or-tail placement driven by the DPC's importance flag.
package dpc

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/spinlock"
)

// Routine is a DPC's deferred work. It must not block and must not lower
// IPL below DPC; doing so is a contract violation enforced by the caller
// (Dispatch asserts IPL == DPC on entry and again after each routine
// returns).
type Routine func(d *DPC, context, arg1, arg2 any)

// DPC is caller-owned memory; the same object may be enqueued, dispatched,
// and re-enqueued indefinitely, but never concurrently enqueued twice.
type DPC struct {
	routine   Routine
	context   any
	important bool
	enqueued  bool
	arg1      any
	arg2      any
	next      *DPC
}

// Initialize arms a caller-owned DPC with its routine and context.
func Initialize(d *DPC, routine Routine, context any) {
	*d = DPC{routine: routine, context: context}
}

// SetImportant tags front-vs-back queue placement. Must be called before
// Enqueue; changing it on an already-enqueued DPC is undefined, per spec.
func (d *DPC) SetImportant(important bool) { d.important = important }

// Enqueued reports whether d is currently linked into a Queue.
func (d *DPC) Enqueued() bool { return d.enqueued }

// Queue is a per-CPU DPC list, embedded in prcb.Block.
type Queue struct {
	lock spinlock.Spin
	head *DPC
	tail *DPC

	// OnEnqueue, if set, is invoked (outside the queue lock) whenever an
	// empty queue receives its first entry — the self-directed wakeup
	// substitute for a self-IPI at DPC level.
	OnEnqueue func()
}

// Enqueue links d into the queue: head if important, tail otherwise. A DPC
// already enqueued is a no-op, reported via the bool return (false, nothing
// happened).
func (q *Queue) Enqueue(g *ipl.Gate, d *DPC, arg1, arg2 any) bool {
	old := q.lock.Acquire(g)
	if d.enqueued {
		q.lock.Release(g, old)
		return false
	}
	d.arg1, d.arg2 = arg1, arg2
	d.enqueued = true
	d.next = nil
	wasEmpty := q.head == nil
	if d.important {
		d.next = q.head
		q.head = d
		if q.tail == nil {
			q.tail = d
		}
	} else {
		if q.tail != nil {
			q.tail.next = d
		} else {
			q.head = d
		}
		q.tail = d
	}
	q.lock.Release(g, old)

	if wasEmpty && q.OnEnqueue != nil {
		q.OnEnqueue()
	}
	return true
}

// Empty reports whether the queue currently has no pending DPCs. Racy by
// nature (another CPU may be enqueuing); used only for diagnostics.
func (q *Queue) Empty() bool {
	return q.head == nil
}

// Dispatch runs at IPL DPC (asserted). It repeatedly pops the head under the
// queue lock, copies out routine/context/args, releases the lock, and
// invokes the routine outside the lock — so enqueues made by the routine
// itself (re-entrant, from a nested Raise/Lower) are picked up in the same
// pass, until the queue is observed empty under the lock.
func (q *Queue) Dispatch(g *ipl.Gate) {
	if g.Get() != ipl.DPC {
		panic("dpc: Dispatch called off IPL DPC")
	}
	for {
		old := q.lock.Acquire(g)
		d := q.head
		if d == nil {
			q.lock.Release(g, old)
			return
		}
		q.head = d.next
		if q.head == nil {
			q.tail = nil
		}
		d.next = nil
		d.enqueued = false
		routine, context, a1, a2 := d.routine, d.context, d.arg1, d.arg2
		q.lock.Release(g, old)

		if routine != nil {
			routine(d, context, a1, a2)
			if g.Get() != ipl.DPC {
				panic("dpc: routine returned off IPL DPC")
			}
		}
	}
}

package dispatcher

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/boronkernel/dispatch/sched"
)

// Scheduler is the single sched.System every woken waiter is handed back
// to. Set once, at kernel construction, the same way Lock is a
// package-level singleton (spec.md §5: the dispatcher lock is global; the
// scheduler it hands waiters to is equally singular at this scale).
var Scheduler *sched.System

// SetScheduler wires the scheduler used by wake to ready woken waiters.
func SetScheduler(s *sched.System) { Scheduler = s }

// wake must be called with Lock held. It walks h's waiter list end to end,
// completing every wait it can now satisfy. WaitAny blocks need only h;
// WaitAll blocks additionally require every sibling header to be
// satisfiable before any of them commit a consume.
func wake(h *Header) {
	i := 0
	for i < len(h.waiters) {
		wb := h.waiters[i]
		if !h.payload.CanSatisfy(wb.waiter) {
			i++
			continue
		}
		if wb.waitType == WaitAny {
			abandoned := h.payload.Consume(wb.waiter)
			removeWaiter(h, wb)
			completeWaitBlock(wb, abandoned)
			continue
		}

		allReady := true
		for _, sib := range wb.siblings {
			if !sib.header.payload.CanSatisfy(sib.waiter) {
				allReady = false
				break
			}
		}
		if !allReady {
			i++
			continue
		}
		abandonedAny := false
		for _, sib := range wb.siblings {
			if sib.header.payload.Consume(sib.waiter) {
				abandonedAny = true
			}
			removeWaiter(sib.header, sib)
		}
		completeWaitBlock(wb, abandonedAny)
	}
}

func completeWaitBlock(wb *WaitBlock, abandoned bool) {
	wb.done = true
	for _, sib := range wb.siblings {
		sib.done = true
	}
	unlinkAll(wb.siblings)
	wb.waiter.ApplyBoost(wb.boost)
	wb.waiter.SetWaitCancel(nil)
	if Scheduler != nil {
		Scheduler.ReadyThread(wb.waiter)
	}

	var status kstatus.Status
	switch {
	case wb.siblings == nil, wb.waitType == WaitAll:
		if abandoned {
			status = kstatus.Abandoned
		} else {
			status = kstatus.Success
		}
	default: // WaitAny, multi-object
		if abandoned {
			status = kstatus.AbandonedWait(wb.index)
		} else {
			status = kstatus.Wait(wb.index)
		}
	}
	wb.waiter.CompleteWait(status)
}

// cancelWaitBlocks aborts an in-flight wait early (timeout or alert),
// unless it has already been completed by wake. Exactly-once with wake is
// enforced by the done flag, both checked and set under Lock.
func cancelWaitBlocks(g *ipl.Gate, blocks []*WaitBlock, w Waiter, status kstatus.Status) {
	old := Lock.Acquire(g)
	if blocks[0].done {
		Lock.Release(g, old)
		return
	}
	for _, wb := range blocks {
		wb.done = true
		removeWaiter(wb.header, wb)
	}
	w.SetWaitCancel(nil)
	Lock.Release(g, old)
	w.CompleteWait(status)
}

func armTimeout(cpu *sched.PerCPU, blocks []*WaitBlock, w Waiter, timeoutMS, now int64) *sched.TimerHandle {
	if timeoutMS == TimeoutInfinite {
		return nil
	}
	return cpu.ScheduleTimer(now+timeoutMS, func() {
		cancelWaitBlocks(cpu.Gate(), blocks, w, kstatus.Timeout)
	})
}

func cancelTimer(h *sched.TimerHandle) {
	if h != nil {
		h.Cancel()
	}
}

// WaitForSingleObject implements spec.md §4.5's two-phase protocol for one
// object: a fast path that consumes the signal immediately if already
// satisfiable, else a slow path that registers a wait block, marks the
// waiter Waiting, optionally arms a timeout, and blocks until woken,
// timed out, or (if alertable) alerted by a posted user APC.
func WaitForSingleObject(g *ipl.Gate, h *Header, w Waiter, alertable bool, timeoutMS int64, cpu *sched.PerCPU, now int64) kstatus.Status {
	assertWaitIPL(g)
	checkMutexLockOrder(h, w)

	old := Lock.Acquire(g)
	if h.payload.CanSatisfy(w) {
		abandoned := h.payload.Consume(w)
		Lock.Release(g, old)
		if abandoned {
			return kstatus.Abandoned
		}
		return kstatus.Success
	}
	if timeoutMS == 0 {
		Lock.Release(g, old)
		return kstatus.Timeout
	}

	wb := &WaitBlock{waiter: w, header: h, waitType: WaitAny, boost: defaultBoost}
	h.waiters = append(h.waiters, wb)
	w.SetState(sched.Waiting)
	blocks := []*WaitBlock{wb}
	if alertable {
		w.SetWaitCancel(func(status kstatus.Status) { cancelWaitBlocks(g, blocks, w, status) })
	}
	Lock.Release(g, old)

	timer := armTimeout(cpu, blocks, w, timeoutMS, now)
	w.Block()
	cancelTimer(timer)
	return w.LastStatus()
}

// WaitForMultipleObjects implements the N-object variant: WaitAny succeeds
// as soon as one object is satisfiable (returning kstatus.Wait(index));
// WaitAll succeeds only once every object is simultaneously satisfiable
// (returning kstatus.Success, consuming all of them atomically under
// Lock).
func WaitForMultipleObjects(g *ipl.Gate, objs []*Header, waitType WaitType, w Waiter, alertable bool, timeoutMS int64, cpu *sched.PerCPU, now int64) kstatus.Status {
	assertWaitIPL(g)

	if len(objs) == 0 || len(objs) > MaxWaitObjects {
		return kstatus.InvalidParameter
	}

	old := Lock.Acquire(g)

	if waitType == WaitAny {
		for i, h := range objs {
			if h.payload.CanSatisfy(w) {
				abandoned := h.payload.Consume(w)
				Lock.Release(g, old)
				if abandoned {
					return kstatus.AbandonedWait(i)
				}
				return kstatus.Wait(i)
			}
		}
	} else {
		allReady := true
		for _, h := range objs {
			if !h.payload.CanSatisfy(w) {
				allReady = false
				break
			}
		}
		if allReady {
			abandonedAny := false
			for _, h := range objs {
				if h.payload.Consume(w) {
					abandonedAny = true
				}
			}
			Lock.Release(g, old)
			if abandonedAny {
				return kstatus.Abandoned
			}
			return kstatus.Success
		}
	}

	if timeoutMS == 0 {
		Lock.Release(g, old)
		return kstatus.Timeout
	}

	blocks := make([]*WaitBlock, len(objs))
	for i, h := range objs {
		wb := &WaitBlock{waiter: w, header: h, waitType: waitType, index: i, boost: defaultBoost}
		blocks[i] = wb
		h.waiters = append(h.waiters, wb)
	}
	for _, wb := range blocks {
		wb.siblings = blocks
	}
	w.SetState(sched.Waiting)
	if alertable {
		w.SetWaitCancel(func(status kstatus.Status) { cancelWaitBlocks(g, blocks, w, status) })
	}
	Lock.Release(g, old)

	timer := armTimeout(cpu, blocks, w, timeoutMS, now)
	w.Block()
	cancelTimer(timer)
	return w.LastStatus()
}

// ReleaseSemaphoreAndWait releases count on sem, then — without dropping
// the dispatcher lock in between — begins a wait on waitObj. Avoids the
// race where another waiter could consume the release and finish before
// this thread registers its own wait. Grounded on the original's
// KeReleaseSemaphoreWait.
func ReleaseSemaphoreAndWait(g *ipl.Gate, sem *Header, count int, waitObj *Header, w Waiter, alertable bool, timeoutMS int64, cpu *sched.PerCPU, now int64) kstatus.Status {
	old := Lock.Acquire(g)
	s := sem.payload.(*semaphorePayload)
	if count <= 0 || s.count+count > s.max {
		Lock.Release(g, old)
		return kstatus.InvalidParameter
	}
	s.count += count
	wake(sem)

	if waitObj.payload.CanSatisfy(w) {
		abandoned := waitObj.payload.Consume(w)
		Lock.Release(g, old)
		if abandoned {
			return kstatus.Abandoned
		}
		return kstatus.Success
	}
	if timeoutMS == 0 {
		Lock.Release(g, old)
		return kstatus.Timeout
	}
	wb := &WaitBlock{waiter: w, header: waitObj, waitType: WaitAny, boost: defaultBoost}
	waitObj.waiters = append(waitObj.waiters, wb)
	w.SetState(sched.Waiting)
	blocks := []*WaitBlock{wb}
	if alertable {
		w.SetWaitCancel(func(status kstatus.Status) { cancelWaitBlocks(g, blocks, w, status) })
	}
	Lock.Release(g, old)

	timer := armTimeout(cpu, blocks, w, timeoutMS, now)
	w.Block()
	cancelTimer(timer)
	return w.LastStatus()
}

// ReleaseMutexAndWait releases m (per the same rules as ReleaseMutex), then
// begins a wait on waitObj without dropping the lock in between. Grounded
// on the original's KeReleaseMutexWait.
func ReleaseMutexAndWait(g *ipl.Gate, m *Header, owner Waiter, waitObj *Header, alertable bool, timeoutMS int64, cpu *sched.PerCPU, now int64) kstatus.Status {
	old := Lock.Acquire(g)
	mp := m.payload.(*mutexPayload)
	if mp.owner != owner {
		Lock.Release(g, old)
		return kstatus.InvalidParameter
	}
	mp.recursion--
	if mp.recursion <= 0 {
		mp.owner = nil
		wake(m)
	}

	if waitObj.payload.CanSatisfy(owner) {
		abandoned := waitObj.payload.Consume(owner)
		Lock.Release(g, old)
		if abandoned {
			return kstatus.Abandoned
		}
		return kstatus.Success
	}
	if timeoutMS == 0 {
		Lock.Release(g, old)
		return kstatus.Timeout
	}
	wb := &WaitBlock{waiter: owner, header: waitObj, waitType: WaitAny, boost: defaultBoost}
	waitObj.waiters = append(waitObj.waiters, wb)
	owner.SetState(sched.Waiting)
	blocks := []*WaitBlock{wb}
	if alertable {
		owner.SetWaitCancel(func(status kstatus.Status) { cancelWaitBlocks(g, blocks, owner, status) })
	}
	Lock.Release(g, old)

	timer := armTimeout(cpu, blocks, owner, timeoutMS, now)
	owner.Block()
	cancelTimer(timer)
	return owner.LastStatus()
}

package sched

import "container/heap"

// timerEntry is one armed timer: fire callback cb once the CPU's logical
// clock reaches expiry. Ties break FIFO by seq, grounded directly on
// eventloop's timerHeap/ScheduleTimer shape.
type timerEntry struct {
	expiry int64
	seq    int64
	cb     func()
	index  int
	cancel bool
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].expiry != h[j].expiry {
		return h[i].expiry < h[j].expiry
	}
	return h[i].seq < h[j].seq
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// TimerHandle cancels an armed timer.
type TimerHandle struct {
	cpu   *PerCPU
	entry *timerEntry
}

// Cancel marks the timer cancelled; its callback will not run if it hasn't
// already fired. Safe to call more than once.
func (h *TimerHandle) Cancel() {
	old := h.cpu.lock.Acquire(h.cpu.gate)
	h.entry.cancel = true
	h.cpu.lock.Release(h.cpu.gate, old)
}

// ScheduleTimer arms cb to run (outside any lock) once the CPU's logical
// clock reaches expiry.
func (cpu *PerCPU) ScheduleTimer(expiry int64, cb func()) *TimerHandle {
	old := cpu.lock.Acquire(cpu.gate)
	cpu.seq++
	e := &timerEntry{expiry: expiry, seq: cpu.seq, cb: cb}
	heap.Push(&cpu.timers, e)
	cpu.lock.Release(cpu.gate, old)
	return &TimerHandle{cpu: cpu, entry: e}
}

// RunExpiredTimers pops and fires every timer whose expiry <= now, in
// expiry order. Called from the clock DPC.
func (cpu *PerCPU) RunExpiredTimers(now int64) {
	for {
		old := cpu.lock.Acquire(cpu.gate)
		if len(cpu.timers) == 0 || cpu.timers[0].expiry > now {
			cpu.lock.Release(cpu.gate, old)
			return
		}
		e := heap.Pop(&cpu.timers).(*timerEntry)
		cpu.lock.Release(cpu.gate, old)

		if !e.cancel && e.cb != nil {
			e.cb()
		}
	}
}

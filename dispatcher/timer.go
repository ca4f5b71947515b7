package dispatcher

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/sched"
)

// Timer wraps a Header with the one-shot/periodic timer semantics: a
// one-shot timer behaves like a manual-reset event once it fires (stays
// signalled until reset); a periodic timer behaves like an auto-reset
// event each period, re-arming itself. Driven by sched's per-CPU timer
// tree via Arm, which the clock DPC's RunExpiredTimers call ultimately
// fires.
type Timer struct {
	Header   *Header
	Periodic bool
	interval int64
	handle   *sched.TimerHandle
	cpu      *sched.PerCPU
}

// InitializeTimer builds a timer, initially unsignalled and unarmed.
func InitializeTimer(periodic bool) *Timer {
	return &Timer{
		Header:   &Header{payload: &eventPayload{notify: !periodic}},
		Periodic: periodic,
	}
}

// Arm schedules the timer to fire at expiryTick (a CPU's logical tick
// count), re-arming every intervalTicks if Periodic. Re-arming an already
// armed timer cancels the previous schedule first.
func (t *Timer) Arm(cpu *sched.PerCPU, expiryTick, intervalTicks int64) {
	if t.handle != nil {
		t.handle.Cancel()
	}
	t.cpu = cpu
	t.interval = intervalTicks
	t.handle = cpu.ScheduleTimer(expiryTick, func() { t.fire(expiryTick) })
}

// Cancel disarms the timer; it will not fire if it hasn't already.
func (t *Timer) Cancel() {
	if t.handle != nil {
		t.handle.Cancel()
		t.handle = nil
	}
}

func (t *Timer) fire(firedAt int64) {
	g := t.cpu.Gate()
	old := Lock.Acquire(g)
	e := t.Header.payload.(*eventPayload)
	e.state = true
	wake(t.Header)
	if !e.notify {
		e.state = false
	}
	Lock.Release(g, old)

	if t.Periodic && t.interval > 0 {
		next := firedAt + t.interval
		t.handle = t.cpu.ScheduleTimer(next, func() { t.fire(next) })
	}
}

// ReadTimerState reports whether the timer's header is currently
// signalled.
func ReadTimerState(g *ipl.Gate, t *Timer) bool { return ReadEventState(g, t.Header) }

// Package sched implements the per-CPU scheduler: eight priority ready
// queues plus a bitmask, quantum accounting, cross-CPU ready-list
// manipulation, and the timer tree driving timed waits.
//
// sched never imports thread or dispatcher: threads participate through the
// Runnable interface defined here, satisfied structurally by thread.Thread.
// That keeps the import graph acyclic — dispatcher and thread both depend
// on sched, not the reverse.
package sched

import (
	"container/list"
	"math/bits"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/sched/internal/ring"
	"github.com/boronkernel/dispatch/spinlock"
)

// PriorityLevels is the fixed number of ready-queue priority levels.
const PriorityLevels = 8

// State is a scheduling entity's lifecycle state.
type State int32

const (
	Initialized State = iota
	Ready
	Running
	Waiting
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// Runnable is anything the scheduler can ready, pick, and run. thread.Thread
// implements this without sched importing thread.
type Runnable interface {
	State() State
	SetState(State)
	Priority() int // base priority, 0..7
	Boost() int
	SetBoost(int)
	HomeCPU() int
	SetHomeCPU(int)
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > PriorityLevels-1 {
		return PriorityLevels - 1
	}
	return p
}

func effectivePriority(r Runnable) int {
	return clampPriority(r.Priority() + r.Boost())
}

// PerCPU is one CPU's scheduler state: ready queues, current/idle thread,
// quantum accounting, and a timer tree.
type PerCPU struct {
	id   int
	gate *ipl.Gate
	lock spinlock.Spin

	queues    [PriorityLevels]list.List
	readyMask uint8
	current   Runnable
	idle      Runnable

	quantumTicks     int32
	quantumRemaining int32

	timers timerHeap
	seq    int64

	load *ring.Buffer
	wake wakeSignal
}

// ID returns the CPU index this PerCPU represents.
func (cpu *PerCPU) ID() int { return cpu.id }

// Gate returns the CPU's IPL gate, for callers that need to assert IPL
// around scheduler operations (e.g. EndThreadQuantum from a DPC).
func (cpu *PerCPU) Gate() *ipl.Gate { return cpu.gate }

// SetIdle installs the CPU's idle thread, picked whenever the ready mask is
// empty. Must be called once during bring-up before Pick.
func (cpu *PerCPU) SetIdle(idle Runnable) { cpu.idle = idle }

// Current returns the thread currently marked Running on this CPU, or nil.
func (cpu *PerCPU) Current() Runnable {
	old := cpu.lock.Acquire(cpu.gate)
	r := cpu.current
	cpu.lock.Release(cpu.gate, old)
	return r
}

// System is the whole-machine scheduler: one PerCPU per CPU.
type System struct {
	cpus []*PerCPU
}

// NewSystem constructs a System with one PerCPU per gate, in the same
// order — gates[i] is CPU i's IPL gate.
func NewSystem(gates []*ipl.Gate, quantumTicks int32) *System {
	s := &System{cpus: make([]*PerCPU, len(gates))}
	for i, g := range gates {
		s.cpus[i] = &PerCPU{
			id:               i,
			gate:             g,
			quantumTicks:     quantumTicks,
			quantumRemaining: quantumTicks,
			load:             ring.New(32),
			wake:             newWakeSignal(),
		}
	}
	return s
}

// CPU returns the PerCPU for the given index.
func (s *System) CPU(id int) *PerCPU { return s.cpus[id] }

// NumCPU returns the CPU count.
func (s *System) NumCPU() int { return len(s.cpus) }

// ReadyThread selects a target CPU (r's home affinity if valid, else the
// least loaded CPU), appends r to that CPU's ready queue at its effective
// priority, and — if the target's running thread has strictly lower
// effective priority — signals the target CPU to reschedule.
func (s *System) ReadyThread(r Runnable) {
	target := r.HomeCPU()
	if target < 0 || target >= len(s.cpus) {
		target = s.leastLoaded()
		r.SetHomeCPU(target)
	}
	cpu := s.cpus[target]

	old := cpu.lock.Acquire(cpu.gate)
	r.SetState(Ready)
	prio := effectivePriority(r)
	cpu.queues[prio].PushBack(r)
	cpu.readyMask |= 1 << uint(prio)
	shouldWake := cpu.current == nil || effectivePriority(cpu.current) < prio
	cpu.lock.Release(cpu.gate, old)

	if shouldWake {
		cpu.wake.Signal()
	}
}

func (s *System) leastLoaded() int {
	best := 0
	var bestSum int64 = -1
	for i, cpu := range s.cpus {
		sum := cpu.load.Sum()
		if bestSum < 0 || sum < bestSum {
			bestSum = sum
			best = i
		}
	}
	return best
}

// Pick takes the highest-priority non-empty queue's head, or the idle
// thread if none are ready, and marks it Running. The pick and the
// Ready->Running transition are atomic under the CPU's lock.
func (s *System) Pick(cpuID int) Runnable {
	cpu := s.cpus[cpuID]
	old := cpu.lock.Acquire(cpu.gate)
	if cpu.readyMask == 0 {
		cpu.current = cpu.idle
		cpu.lock.Release(cpu.gate, old)
		if cpu.idle != nil {
			cpu.idle.SetState(Running)
		}
		return cpu.idle
	}
	prio := PriorityLevels - 1 - bits.LeadingZeros8(cpu.readyMask)
	elem := cpu.queues[prio].Front()
	cpu.queues[prio].Remove(elem)
	if cpu.queues[prio].Len() == 0 {
		cpu.readyMask &^= 1 << uint(prio)
	}
	r := elem.Value.(Runnable)
	r.SetState(Running)
	cpu.current = r
	cpu.lock.Release(cpu.gate, old)
	return r
}

// EndThreadQuantum re-inserts the CPU's current thread at the tail of its
// base-priority queue (zeroing any wake boost, per the one-quantum-boost
// decay policy), then picks a new thread. A thread explicitly yielding goes
// through the same path.
func (s *System) EndThreadQuantum(cpuID int) Runnable {
	cpu := s.cpus[cpuID]
	old := cpu.lock.Acquire(cpu.gate)
	r := cpu.current
	if r != nil && r != cpu.idle {
		r.SetBoost(0)
		r.SetState(Ready)
		prio := clampPriority(r.Priority())
		cpu.queues[prio].PushBack(r)
		cpu.readyMask |= 1 << uint(prio)
	}
	cpu.current = nil
	cpu.lock.Release(cpu.gate, old)
	return s.Pick(cpuID)
}

// Yield is EndThreadQuantum without a quantum-budget reset; the caller is
// responsible for not decrementing the tick budget.
func (s *System) Yield(cpuID int) Runnable { return s.EndThreadQuantum(cpuID) }

// Tick decrements the running thread's quantum budget. Once it reaches
// zero, the budget is reset and Tick reports expired = true; the caller
// (prcb's pending-events bitmask) is responsible for turning that into a
// PENDING_YIELD bit serviced at the next IPL drop to DPC.
func (cpu *PerCPU) Tick() (expired bool) {
	old := cpu.lock.Acquire(cpu.gate)
	cpu.quantumRemaining--
	if cpu.quantumRemaining <= 0 {
		cpu.quantumRemaining = cpu.quantumTicks
		expired = true
	}
	cpu.lock.Release(cpu.gate, old)
	return
}

// RecordLoad feeds one sample (e.g. run duration in ticks) into the CPU's
// recent-load ring, used by leastLoaded.
func (cpu *PerCPU) RecordLoad(v int64) { cpu.load.Add(v) }

// IdleWait blocks the calling goroutine (the CPU's idle thread) until
// ReadyThread signals new work for this CPU, or returns immediately if work
// is already pending. This is the Go substitute for "halt waiting for
// interrupt": a real HLT/MWAIT is per-architecture detail out of scope.
func (cpu *PerCPU) IdleWait() {
	if cpu.readyMask != 0 {
		return
	}
	cpu.wake.Wait()
}

// Package kernel wires the lower-level packages (ipl, spinlock, dpc, apc,
// sched, prcb, dispatcher, thread) into one running machine: one PRCB per
// CPU, a shared scheduler, a shared wait engine, and the collaborator seams
// (page allocation, trap delivery, clock, crash handling) the rest of this
// repo deliberately does not implement.
//
// Grounded on eventloop.New()'s constructor-time wiring style: gather
// collaborators and options, build the owned subsystems, return one handle.
package kernel

import (
	"fmt"

	"github.com/boronkernel/dispatch/dispatcher"
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/klog"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/boronkernel/dispatch/prcb"
	"github.com/boronkernel/dispatch/sched"
	"github.com/boronkernel/dispatch/spinlock"
	"github.com/boronkernel/dispatch/thread"
)

// Version reports a static build version string, the Go stand-in for
// KeGetVersionNumber-style introspection.
func Version() string { return "boron-dispatch/0.1" }

// PageAllocator is the memory-management seam. This repo consumes it but
// never implements it; physical memory management is out of scope.
type PageAllocator interface {
	AllocatePage() (uintptr, error)
	FreePage(uintptr) error
}

// TrapDelivery is the interrupt/exception seam. Real IPI/interrupt delivery
// is out of scope; this repo only needs somewhere to route a clock tick or
// a simulated device interrupt into DPC/APC delivery.
type TrapDelivery interface {
	// RaiseDeviceInterrupt simulates a device raising cpu to the given IPL
	// and queuing fn for execution; the HAL-specific vector assignment is out
	// of scope.
	RaiseDeviceInterrupt(cpu int, level ipl.Level, fn func())
}

// ClockSource feeds tick advancement to a CPU's scheduler and timer tree.
type ClockSource interface {
	// NowTick returns the CPU's current logical tick count.
	NowTick(cpu int) int64
}

// CrashHandler observes contract violations before the kernel panics. The
// default halts; tests may install one that records and lets the test
// harness recover() deterministically.
type CrashHandler func(v any)

// Collaborators bundles every external seam this repo consumes but does
// not implement (spec.md's Non-goals: physical memory, real interrupt
// delivery, real-time clock, defense against malicious callers).
type Collaborators struct {
	PageAllocator PageAllocator
	TrapDelivery  TrapDelivery
	ClockSource   ClockSource
	CrashHandler  CrashHandler
}

// Kernel is the assembled machine: one Block per CPU, a shared scheduler
// and dispatcher wait engine, and the collaborators supplied at New.
type Kernel struct {
	Collaborators Collaborators
	Log           klog.Sink

	Gates     []*ipl.Gate
	Scheduler *sched.System
	Blocks    *prcb.Registry

	cpuCount    int
	quantumTicks int32
}

// New constructs a Kernel with cpuCount CPUs, wiring ipl, sched, prcb, and
// dispatcher together, and installing each CPU's idle thread. Collaborators
// with a nil field get a harmless default (see defaults.go).
func New(cpuCount int, collaborators Collaborators, opts ...Option) *Kernel {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	collaborators = fillCollaboratorDefaults(collaborators)

	gates := make([]*ipl.Gate, cpuCount)
	for i := range gates {
		gates[i] = ipl.New()
	}

	sys := sched.NewSystem(gates, cfg.quantumTicks)

	blocks := make([]*prcb.Block, cpuCount)
	for i := 0; i < cpuCount; i++ {
		blocks[i] = prcb.New(i, uint32(i), gates[i], sys.CPU(i), nil)
	}
	registry := prcb.NewRegistry(blocks)

	dispatcher.SetScheduler(sys)
	thread.Blocks = registry

	spinlock.Sink = cfg.log
	spinlock.Debug = cfg.debugLocks
	dispatcher.Debug = cfg.debugLocks

	k := &Kernel{
		Collaborators: collaborators,
		Log:           cfg.log,
		Gates:         gates,
		Scheduler:     sys,
		Blocks:        registry,
		cpuCount:      cpuCount,
		quantumTicks:  cfg.quantumTicks,
	}

	for i := 0; i < cpuCount; i++ {
		k.bringUp(i, collaborators.CrashHandler)
	}

	return k
}

// bringUp wires one CPU's gate drain hooks and idle thread. The DPC hook is
// always the Block's own queue; the APC hook drains whichever thread is
// currently Running on that CPU's scheduler, since apc.Queue is per-thread,
// not per-CPU (prcb deliberately has no APC queue of its own).
func (k *Kernel) bringUp(cpuID int, crash CrashHandler) {
	b := k.Blocks.Get(cpuID)
	gate := b.Gate

	gate.SetDrainHooks(
		func() { b.DispatchDPCs() },
		func() {
			if r := b.Sched.Current(); r != nil {
				if t, ok := r.(*thread.Thread); ok {
					t.DrainAPC(gate)
				}
			}
		},
	)
	gate.SetCrashHandler(func(v *kstatus.ContractViolation) {
		k.Log.Error("kernel contract violation",
			klog.Str("invariant", v.Invariant),
			klog.Str("detail", v.Detail),
			klog.Int("cpu", cpuID),
		)
		if crash != nil {
			crash(v)
		}
	})

	idle := thread.New(idleThreadID(cpuID), nil, 0, 1<<uint(cpuID), cpuID, idleRoutine)
	b.Sched.SetIdle(idle)
	idle.Start()
}

func idleThreadID(cpu int) uint64 { return ^uint64(0) - uint64(cpu) }

// idleRoutine never returns: the idle thread parks on its CPU's wake
// signal whenever the ready mask is empty, then yields back through the
// normal EndThreadQuantum path once work appears.
func idleRoutine(t *thread.Thread) {
	for {
		t.CPU().IdleWait()
		t.Yield()
	}
}

// String implements fmt.Stringer for diagnostic display.
func (k *Kernel) String() string {
	return fmt.Sprintf("kernel(cpus=%d, quantum=%d)", k.cpuCount, k.quantumTicks)
}

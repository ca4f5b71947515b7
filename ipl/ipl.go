// Package ipl implements the Interrupt Priority Level gate: the ordering
// primitive every other kernel subsystem is built on top of. A Gate is
// per-CPU; raising and lowering it both gates hardware delivery and selects
// which deferred software work (DPCs, APCs) may run.
//
// Gate itself knows nothing about DPCs or APCs — it only tracks the level
// and, on Lower, invokes caller-registered drain hooks when the new level
// crosses below DPC or APC. That keeps this package a leaf: the kernel
// package wires the hooks, at CPU bring-up, to the PRCB's DPC dispatch and
// to the running thread's APC drain.
package ipl

import (
	"fmt"
	"sync/atomic"

	"github.com/boronkernel/dispatch/kstatus"
)

// Level is a small ordered integer. Required symbolic levels per spec: 0, 3,
// 4, device tiers 5..13, 14, 15.
type Level uint8

const (
	Normal       Level = 0
	APC          Level = 3
	DPC          Level = 4
	Device5      Level = 5
	Device6      Level = 6
	Device7      Level = 7
	Device8      Level = 8
	Device9      Level = 9
	Device10     Level = 10
	Device11     Level = 11
	Device12     Level = 12
	Device13     Level = 13
	Clock        Level = 14
	NoInterrupts Level = 15
)

func (l Level) String() string {
	switch l {
	case Normal:
		return "NORMAL"
	case APC:
		return "APC"
	case DPC:
		return "DPC"
	case Clock:
		return "CLOCK"
	case NoInterrupts:
		return "NO_INTERRUPTS"
	default:
		return fmt.Sprintf("Level(%d)", uint8(l))
	}
}

// Mode is the processor mode a thread was in when it entered the kernel.
type Mode uint8

const (
	KernelMode Mode = iota
	UserMode
)

// Gate is one CPU's current IPL, plus hooks invoked by Lower when the new
// level crosses below DPC or APC. Gate is touched only by the goroutine
// currently "running" on its CPU (the worker loop, or the thread it handed
// off to) — the atomic is for cheap cross-CPU diagnostic reads, not mutual
// exclusion.
type Gate struct {
	current atomic.Uint32
	mode    atomic.Uint32

	drainDPC func()
	drainAPC func()
	onCrash  func(*kstatus.ContractViolation)
}

// New constructs a Gate starting at Normal.
func New() *Gate {
	g := &Gate{}
	g.current.Store(uint32(Normal))
	return g
}

// SetDrainHooks wires the DPC/APC drain callbacks. Called once, at CPU
// bring-up, before the Gate is used from more than one goroutine's worth of
// call chain.
func (g *Gate) SetDrainHooks(drainDPC, drainAPC func()) {
	g.drainDPC = drainDPC
	g.drainAPC = drainAPC
}

// SetCrashHandler wires the contract-violation reporter. Defaults to a bare
// panic if never set.
func (g *Gate) SetCrashHandler(f func(*kstatus.ContractViolation)) {
	g.onCrash = f
}

// Get reads the current IPL.
func (g *Gate) Get() Level { return Level(g.current.Load()) }

// GetPreviousMode reads the processor mode recorded for the current call
// chain (set by the thread/trap layer, not by Gate itself).
func (g *Gate) GetPreviousMode() Mode { return Mode(g.mode.Load()) }

// SetPreviousMode records the processor mode for the current call chain.
func (g *Gate) SetPreviousMode(m Mode) { g.mode.Store(uint32(m)) }

// Raise requires new >= current; returns the old level. Raising below the
// current level is a contract violation, not a recoverable error.
func (g *Gate) Raise(new Level) Level {
	old := Level(g.current.Load())
	if new < old {
		g.violate("ipl: raise below current", fmt.Sprintf("raise(%s) while current=%s", new, old))
	}
	g.current.Store(uint32(new))
	return old
}

// RaiseIfNeeded is the idempotent variant: if current already satisfies new,
// it is a no-op that returns current; otherwise it behaves like Raise.
func (g *Gate) RaiseIfNeeded(new Level) Level {
	old := Level(g.current.Load())
	if old >= new {
		return old
	}
	return g.Raise(new)
}

// Lower requires new <= current. If the drop crosses below DPC, it first
// settles at DPC and invokes the DPC drain hook there; if the drop crosses
// below APC, it then settles at APC and invokes the APC drain hook there;
// finally it sets the new level. The hooks thus run in DPC-then-APC order
// (matching delivery order: hardware ISR, then DPCs, then APCs, then thread
// code), each at its own level.
func (g *Gate) Lower(new Level) {
	old := Level(g.current.Load())
	if new > old {
		g.violate("ipl: lower above current", fmt.Sprintf("lower(%s) while current=%s", new, old))
	}
	if new == old {
		return
	}

	crossedDPC := old >= DPC && new < DPC
	crossedAPC := old >= APC && new < APC

	if crossedDPC && g.drainDPC != nil {
		g.current.Store(uint32(DPC))
		g.drainDPC()
	}
	if crossedAPC && g.drainAPC != nil {
		g.current.Store(uint32(APC))
		g.drainAPC()
	}

	g.current.Store(uint32(new))
}

func (g *Gate) violate(invariant, detail string) {
	v := kstatus.Violation(invariant, detail)
	if g.onCrash != nil {
		g.onCrash(v)
	}
	panic(v)
}

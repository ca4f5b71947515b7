// Package prcb implements the per-CPU control block: the bundle of IPL
// gate, DPC queue, scheduler state, TLB-shootdown staging, and
// pending-events bitmask every CPU carries for process-wide lifetime.
//
// Grounded on eventloop.Loop's "one struct per worker" shape, narrowed from
// a single-reactor event loop to a per-CPU bundle of the lower-level
// primitives (ipl, dpc, sched) those packages already provide.
package prcb

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/boronkernel/dispatch/dpc"
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/sched"
	"github.com/boronkernel/dispatch/spinlock"
)

// Pending-events bitmask bits. PENDING_APCS is deliberately absent — per
// spec.md's Open Question, APC dispatch is driven directly from the
// per-thread queue, not from a pending-events hint bit.
const (
	PendingYield uint32 = 1 << iota
	PendingDPCs
)

// tlbShootdownIPL is the IPL a recipient briefly raises to while servicing
// a TLB shootdown broadcast. Picked from the device tier range; the exact
// vector number is architecture HAL detail out of scope.
const tlbShootdownIPL = ipl.Device13

// Block is one CPU's control block.
type Block struct {
	ID         int
	HardwareID uint32
	Bootstrap  bool

	Gate     *ipl.Gate
	DPCQueue dpc.Queue
	Sched    *sched.PerCPU
	HAL      any

	pending atomic.Uint32

	tlbGuard spinlock.Spin
	tlbAddr  uintptr
	tlbLen   uintptr
}

// New constructs a Block wired to the given gate and scheduler PerCPU (both
// normally owned 1:1 with this Block by the kernel package at CPU
// bring-up). The DPC queue's enqueue hook sets PendingDPCs automatically;
// the gate's drain hooks are left for the caller to wire (kernel composes
// the DPC-dispatch hook with an APC-drain hook that needs to know the
// CPU's current thread, which prcb does not track).
func New(id int, hardwareID uint32, gate *ipl.Gate, perCPU *sched.PerCPU, hal any) *Block {
	b := &Block{ID: id, HardwareID: hardwareID, Gate: gate, Sched: perCPU, HAL: hal}
	b.DPCQueue.OnEnqueue = func() { b.SetPendingDPCs() }
	return b
}

func (b *Block) SetPendingDPCs()   { b.pending.Or(PendingDPCs) }
func (b *Block) ClearPendingDPCs() { b.pending.And(^PendingDPCs) }
func (b *Block) SetPendingYield()  { b.pending.Or(PendingYield) }
func (b *Block) ClearPendingYield() {
	b.pending.And(^PendingYield)
}

// Pending reports whether bit is currently set.
func (b *Block) Pending(bit uint32) bool { return b.pending.Load()&bit != 0 }

// DispatchDPCs runs the CPU's DPC queue to empty (asserting IPL DPC) and
// clears PendingDPCs. Intended to be wired as the gate's drainDPC hook.
func (b *Block) DispatchDPCs() {
	b.DPCQueue.Dispatch(b.Gate)
	b.ClearPendingDPCs()
}

// Registry is the process-wide list of PRCBs, used for TLB shootdown and
// any other operation that must reach every CPU.
type Registry struct {
	blocks []*Block
}

// NewRegistry builds a Registry over blocks, which must be indexed by ID.
func NewRegistry(blocks []*Block) *Registry { return &Registry{blocks: blocks} }

// All returns every registered Block.
func (r *Registry) All() []*Block { return r.blocks }

// Get returns the Block for id.
func (r *Registry) Get(id int) *Block { return r.blocks[id] }

// TLBShootdown invalidates [addr, addr+length) on every CPU in the
// registry, following the four-phase protocol: lock every guard in id
// order, broadcast (each recipient invalidates and unlocks its own guard
// in its own CPU context), wait for all recipients, then re-lock every
// guard as a barrier before releasing. invalidate is the
// architecture-specific "flush this range" callback.
//
// Every guard spinlock Acquire/Release below spins on initiator.Gate, not
// the target block's gate: a spinning CPU raises its own IPL while waiting
// on a lock, never a remote one. The broadcast itself is delivered as a DPC
// queued on each target's own block — the self-IPI substitute dpc.Queue
// already provides — so the actual raise to tlbShootdownIPL, the
// invalidate callback, and the guard release all run on that target CPU's
// own goroutine when it next dispatches its queue, never on the
// initiator's.
func (r *Registry) TLBShootdown(initiator *Block, addr, length uintptr, invalidate func(cpu *Block, addr, length uintptr)) {
	old := initiator.Gate.RaiseIfNeeded(ipl.DPC)
	defer initiator.Gate.Lower(old)

	targets := append([]*Block(nil), r.blocks...)
	sort.Slice(targets, func(i, j int) bool { return targets[i].ID < targets[j].ID })

	guardLevels := make([]ipl.Level, len(targets))
	for i, b := range targets {
		guardLevels[i] = b.tlbGuard.Acquire(initiator.Gate)
		b.tlbAddr, b.tlbLen = addr, length
	}

	var wg sync.WaitGroup
	dpcs := make([]dpc.DPC, len(targets))
	for i, b := range targets {
		wg.Add(1)
		b, guardLevel := b, guardLevels[i]
		dpc.Initialize(&dpcs[i], func(*dpc.DPC, any, any, any) {
			defer wg.Done()
			recipOld := b.Gate.RaiseIfNeeded(tlbShootdownIPL)
			if invalidate != nil {
				invalidate(b, addr, length)
			}
			b.Gate.Lower(recipOld)
			b.tlbGuard.Release(b.Gate, guardLevel)
		}, nil)
		b.DPCQueue.Enqueue(initiator.Gate, &dpcs[i], nil, nil)
	}
	// The initiator is its own target too (spec: the issuing CPU also
	// invalidates). That DPC can run right here, on the initiator's own
	// goroutine, rather than waiting on some other driving loop.
	initiator.DispatchDPCs()
	wg.Wait()

	for _, b := range targets {
		l := b.tlbGuard.Acquire(initiator.Gate)
		b.tlbGuard.Release(initiator.Gate, l)
	}
}

// Package kerneltest provides fake collaborator implementations
// (kernel.PageAllocator, kernel.TrapDelivery, kernel.ClockSource,
// kernel.CrashHandler) for this repo's own tests — never meant for
// production use, the same way the teacher's tests build minimal fakes for
// its own external seams rather than pulling in a mocking framework.
package kerneltest

import (
	"sync"
	"sync/atomic"

	"github.com/boronkernel/dispatch/ipl"
)

// PageAllocator hands out sequential fake page addresses, one page apart,
// starting at Base (NewPageAllocator sets Base to one page size, 0x1000 by
// default). Freed addresses are handed out again by later AllocatePage
// calls; no memory is actually allocated — good enough for exercising the
// collaborator seam in tests, not for anything resembling a real allocator.
type PageAllocator struct {
	Base     uintptr
	PageSize uintptr

	mu   sync.Mutex
	next uintptr
	free map[uintptr]bool
}

// NewPageAllocator builds a PageAllocator with the given page size (0
// defaults to 4096).
func NewPageAllocator(pageSize uintptr) *PageAllocator {
	if pageSize == 0 {
		pageSize = 4096
	}
	return &PageAllocator{PageSize: pageSize, Base: pageSize, free: map[uintptr]bool{}}
}

func (p *PageAllocator) AllocatePage() (uintptr, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, ok := range p.free {
		if ok {
			p.free[addr] = false
			return addr, nil
		}
	}
	if p.next == 0 {
		p.next = p.Base
	}
	addr := p.next
	p.next += p.PageSize
	return addr, nil
}

func (p *PageAllocator) FreePage(addr uintptr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free[addr] = true
	return nil
}

// TrapDelivery runs the interrupt callback synchronously and counts how
// many times each IPL level was simulated, so tests can assert dispatch
// actually happened.
type TrapDelivery struct {
	mu     sync.Mutex
	counts map[ipl.Level]int
}

// NewTrapDelivery builds an empty TrapDelivery fake.
func NewTrapDelivery() *TrapDelivery {
	return &TrapDelivery{counts: map[ipl.Level]int{}}
}

func (t *TrapDelivery) RaiseDeviceInterrupt(cpu int, level ipl.Level, fn func()) {
	t.mu.Lock()
	t.counts[level]++
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Count reports how many times level has been simulated.
func (t *TrapDelivery) Count(level ipl.Level) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[level]
}

// ClockSource is a manually-advanced logical clock: tests call Advance to
// move every CPU's tick forward deterministically, instead of sleeping on
// a real timer.
type ClockSource struct {
	tick atomic.Int64
}

func (c *ClockSource) NowTick(int) int64 { return c.tick.Load() }

// Advance moves the clock forward by n ticks and returns the new value.
func (c *ClockSource) Advance(n int64) int64 { return c.tick.Add(n) }

// CrashRecorder is a kernel.CrashHandler that records every contract
// violation instead of halting, so a test can assert a violation happened
// without crashing the test binary.
type CrashRecorder struct {
	mu        sync.Mutex
	Violations []any
}

// Handle implements kernel.CrashHandler.
func (c *CrashRecorder) Handle(v any) {
	c.mu.Lock()
	c.Violations = append(c.Violations, v)
	c.mu.Unlock()
}

// Count returns how many violations have been recorded.
func (c *CrashRecorder) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Violations)
}

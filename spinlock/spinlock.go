// Package spinlock implements the two lock flavors the kernel core runs on:
// a plain test-and-set Spin lock and a fair Ticket lock. Both require the
// caller to be at IPL >= DPC while held, to prevent a deadlock against a DPC
// interrupting the holder on the same CPU — so both take an *ipl.Gate and
// raise/restore it around the critical section, the same calling convention
// as the original KeAcquireSpinLock(&lock, &oldIpl).
//
// Cache-line padding on the contended word follows eventloop.FastState's
// idiom: a single hot atomic surrounded by padding bytes, so adjacent PRCBs'
// locks never share a cache line under SMP contention.
package spinlock

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/klog"
)

const cacheLinePad = 64 - 4 // one uint32 already accounts for 4 bytes

// Debug gates the lock-owner tracking on Spin and Ticket below. Off by
// default — the bookkeeping costs a runtime.Stack call per acquire. Mirrors
// SPINLOCK_TRACK_PC in the original, which was a debug-build-only #define.
var Debug bool

// Sink receives the Warn this package emits when a TryAcquire keeps failing
// past tryAcquireWarnThreshold. A nil Sink is never stored here directly —
// the zero value is klog.NopSink, which discards silently.
var Sink klog.Sink = klog.NopSink{}

// tryAcquireWarnThreshold is how many consecutive failed TryAcquire calls on
// one Spin are tolerated before it's worth a Warn — past this it smells like
// a stuck holder, not ordinary contention.
const tryAcquireWarnThreshold = 1000

// Spin is a single boolean flag, test-and-set acquire, release-semantics
// release.
type Spin struct {
	flag atomic.Uint32
	_    [cacheLinePad]byte

	ownerGoroutine atomic.Uint64
	ownerSite      atomic.Pointer[string]
	failStreak     atomic.Uint32
}

// Acquire raises the gate to at least DPC, spins with cache-friendly
// backoff until the flag is clear, then sets it. Returns the IPL the gate
// was at before raising, for a matching Release.
func (s *Spin) Acquire(g *ipl.Gate) ipl.Level {
	old := g.RaiseIfNeeded(ipl.DPC)
	s.spinAcquire()
	s.recordOwner()
	return old
}

func (s *Spin) spinAcquire() {
	spins := 0
	for !s.flag.CompareAndSwap(0, 1) {
		spins++
		if spins > 64 {
			runtime.Gosched()
			spins = 0
		}
	}
}

// TryAcquire attempts the acquire without spinning on contention. It does
// not raise the gate on failure — only a successful TryAcquire raises it,
// so the caller's Release call always matches an actual raise.
func (s *Spin) TryAcquire(g *ipl.Gate) (old ipl.Level, ok bool) {
	if !s.flag.CompareAndSwap(0, 1) {
		s.recordFailure()
		return 0, false
	}
	s.failStreak.Store(0)
	s.recordOwner()
	return g.RaiseIfNeeded(ipl.DPC), true
}

// Release clears the flag and lowers the gate back to old.
func (s *Spin) Release(g *ipl.Gate, old ipl.Level) {
	s.clearOwner()
	s.flag.Store(0)
	g.Lower(old)
}

func (s *Spin) recordOwner() {
	if !Debug {
		return
	}
	s.ownerGoroutine.Store(getGoroutineID())
	site := callSite(3)
	s.ownerSite.Store(&site)
}

func (s *Spin) clearOwner() {
	if !Debug {
		return
	}
	s.ownerGoroutine.Store(0)
	s.ownerSite.Store(nil)
}

func (s *Spin) recordFailure() {
	if !Debug {
		return
	}
	n := s.failStreak.Add(1)
	if n%tryAcquireWarnThreshold != 0 {
		return
	}
	holderSite := "unknown"
	if site := s.ownerSite.Load(); site != nil {
		holderSite = *site
	}
	Sink.Warn("spinlock: TryAcquire failing repeatedly",
		klog.Any("goroutine", getGoroutineID()),
		klog.Int("streak", int(n)),
		klog.Any("held_by_goroutine", s.ownerGoroutine.Load()),
		klog.Str("held_at", holderSite),
	)
}

// Ticket is a fair, FIFO-under-contention lock: a take-a-number counter on
// entry, spin until served.
type Ticket struct {
	nextNumber atomic.Uint64
	_          [cacheLinePad]byte
	nowServing atomic.Uint64
	_          [cacheLinePad]byte

	ownerGoroutine atomic.Uint64
	ownerSite      atomic.Pointer[string]
}

// Acquire takes a ticket and spins until it is being served.
func (t *Ticket) Acquire(g *ipl.Gate) ipl.Level {
	old := g.RaiseIfNeeded(ipl.DPC)
	my := t.nextNumber.Add(1) - 1
	spins := 0
	for t.nowServing.Load() != my {
		spins++
		if spins > 64 {
			runtime.Gosched()
			spins = 0
		}
	}
	if Debug {
		t.ownerGoroutine.Store(getGoroutineID())
		site := callSite(2)
		t.ownerSite.Store(&site)
	}
	return old
}

// Release advances the serving counter and lowers the gate back to old.
func (t *Ticket) Release(g *ipl.Gate, old ipl.Level) {
	if Debug {
		t.ownerGoroutine.Store(0)
		t.ownerSite.Store(nil)
	}
	t.nowServing.Add(1)
	g.Lower(old)
}

// callSite renders the file:line skip frames above its own call, for
// lock-owner diagnostics. skip follows runtime.Caller's convention relative
// to callSite's own frame.
func callSite(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	return fmt.Sprintf("%s:%d", file, line)
}

// getGoroutineID returns the current goroutine's ID, parsed out of
// runtime.Stack's leading "goroutine N" line. Grounded on
// eventloop.getGoroutineID's identical parse, the only other place in the
// corpus that needs a goroutine identity without plumbing one through by
// hand.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

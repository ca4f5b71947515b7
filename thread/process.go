package thread

import (
	"sync"
	"sync/atomic"

	"github.com/boronkernel/dispatch/dispatcher"
)

// Process groups threads sharing an address space and default scheduling
// parameters. Boron-style kernels keep the address space itself (the page
// map) behind a caller-supplied handle rather than owning memory-management
// policy here — out of scope per spec.md's non-goals.
type Process struct {
	ID              uint64
	PageMap         any // opaque handle into the caller's memory manager
	DefaultPriority int
	Affinity        uint64

	Header *dispatcher.Header // signalled when the last thread exits after Detach

	mu      sync.Mutex
	threads []*Thread

	detach atomic.Bool
}

// NewProcess constructs a process with no threads yet attached.
func NewProcess(id uint64, pageMap any, defaultPriority int, affinity uint64) *Process {
	return &Process{
		ID:              id,
		PageMap:         pageMap,
		DefaultPriority: defaultPriority,
		Affinity:        affinity,
		Header:          dispatcher.InitializeProcessHeader(),
	}
}

// AddThread attaches t to p, for rundown accounting.
func (p *Process) AddThread(t *Thread) {
	p.mu.Lock()
	p.threads = append(p.threads, t)
	p.mu.Unlock()
}

// Threads returns a snapshot of the process's current thread list.
func (p *Process) Threads() []*Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Thread(nil), p.threads...)
}

// Detach marks the process for teardown once its last thread exits: no new
// threads may be added after this point (the caller is responsible for
// enforcing that at the AddThread call site).
func (p *Process) Detach() { p.detach.Store(true) }

// threadExited removes t from the process's thread list and, if that was
// the last one and the process has been detached, signals the process
// header so anyone waiting on process exit wakes.
func (p *Process) threadExited(t *Thread) {
	p.mu.Lock()
	for i, x := range p.threads {
		if x == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			break
		}
	}
	empty := len(p.threads) == 0
	p.mu.Unlock()

	if empty && p.detach.Load() {
		dispatcher.SignalTermination(t.Gate(), p.Header)
	}
}

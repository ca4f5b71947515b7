package dispatcher

import (
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
)

type semaphorePayload struct {
	count int
	max   int
}

func (s *semaphorePayload) Kind() ObjectType       { return SemaphoreObject }
func (s *semaphorePayload) CanSatisfy(Waiter) bool { return s.count > 0 }
func (s *semaphorePayload) Consume(Waiter) bool {
	s.count--
	return false
}

// InitializeSemaphore builds a semaphore with the given initial count and
// maximum count.
func InitializeSemaphore(initial, max int) *Header {
	return &Header{payload: &semaphorePayload{count: initial, max: max}}
}

// ReleaseSemaphore adds count releases, waking up to count waiters. Returns
// InvalidParameter if that would exceed the semaphore's maximum.
func ReleaseSemaphore(g *ipl.Gate, h *Header, count int) kstatus.Status {
	old := Lock.Acquire(g)
	s := h.payload.(*semaphorePayload)
	if count <= 0 || s.count+count > s.max {
		Lock.Release(g, old)
		return kstatus.InvalidParameter
	}
	s.count += count
	wake(h)
	Lock.Release(g, old)
	return kstatus.Success
}

// ReadSemaphoreCount reports the current count, for diagnostics/tests.
func ReadSemaphoreCount(g *ipl.Gate, h *Header) int {
	old := Lock.Acquire(g)
	s := h.payload.(*semaphorePayload)
	v := s.count
	Lock.Release(g, old)
	return v
}

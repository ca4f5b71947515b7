// Package kstatus defines the status-code vocabulary returned by the kernel
// dispatcher core. Status is a small comparable value type, not an error: the
// wait/IPL hot paths return it by value to avoid the allocation an error
// interface would force, the same way the original Boron kernel returns a
// plain BSTATUS integer rather than raising an exception.
//
// Contract violations (IPL ordering, double-enqueue, double-release) are not
// status codes at all — see ContractViolation — because the spec treats them
// as kernel bugs, not conditions a caller can recover from.
package kstatus

import "fmt"

// Status is a kernel operation outcome.
type Status int32

const (
	// Success is the zero sentinel.
	Success Status = 0

	// InvalidParameter indicates a caller bug reachable from user mode: the
	// call is rejected, not crashed.
	InvalidParameter Status = -(iota)
	// Timeout indicates a wait expired before its object(s) signalled.
	Timeout
	// Alerted indicates a wait returned early due to a posted user APC.
	Alerted
	// Waiting is an internal marker for a thread currently blocked; it is
	// never returned to a caller, only used for State inspection.
	Waiting
	// InsufficientResources indicates an allocation was refused.
	InsufficientResources
	// NoRemap indicates an idempotent no-op success (already in the
	// requested state).
	NoRemap
	// Abandoned indicates a single-object mutex wait woke because the owner
	// thread terminated while holding it. Prefer AbandonedWait(i) for
	// WaitForMultipleObjects, which encodes the satisfying index.
	Abandoned
)

// rangeBase separates the fixed sentinels above from the two per-index
// encoded families below (Wait and AbandonedWait), mirroring spec.md's
// RANGE_WAIT(i)/RANGE_ABANDONED_WAIT(i).
const rangeBase = 1 << 16

// Wait encodes a successful WaitForMultipleObjects(ANY) completion, carrying
// the satisfying object's index.
func Wait(index int) Status { return Status(-(rangeBase + index)) }

// AbandonedWait encodes a WaitForMultipleObjects completion where the
// satisfying object was a mutex whose owner thread terminated.
func AbandonedWait(index int) Status { return Status(-(2*rangeBase + index)) }

// Index extracts the object index from a Status built by Wait or
// AbandonedWait. ok is false for any other status.
func (s Status) Index() (index int, ok bool) {
	v := -int(s)
	switch {
	case v >= rangeBase && v < 2*rangeBase:
		return v - rangeBase, true
	case v >= 2*rangeBase && v < 3*rangeBase:
		return v - 2*rangeBase, true
	default:
		return 0, false
	}
}

// IsAbandoned reports whether s was built by AbandonedWait.
func (s Status) IsAbandoned() bool {
	v := -int(s)
	return v >= 2*rangeBase && v < 3*rangeBase
}

// Success reports whether the status is a successful completion, including
// the indexed Wait/AbandonedWait families.
func (s Status) Success() bool {
	if s == Success {
		return true
	}
	_, ok := s.Index()
	return ok
}

// String implements fmt.Stringer.
func (s Status) String() string {
	switch {
	case s == Success:
		return "SUCCESS"
	case s == InvalidParameter:
		return "INVALID_PARAMETER"
	case s == Timeout:
		return "TIMEOUT"
	case s == Alerted:
		return "ALERTED"
	case s == Waiting:
		return "WAITING"
	case s == InsufficientResources:
		return "INSUFFICIENT_RESOURCES"
	case s == NoRemap:
		return "NO_REMAP"
	case s == Abandoned:
		return "ABANDONED"
	}
	if i, ok := s.Index(); ok {
		if s.IsAbandoned() {
			return fmt.Sprintf("ABANDONED(%d)", i)
		}
		return fmt.Sprintf("SUCCESS(%d)", i)
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Error implements error, so a Status can be returned from functions that
// also need to satisfy the error interface at a collaborator boundary (e.g.
// PageAllocator). Success() values still format, but callers should check
// Success() rather than err == nil.
func (s Status) Error() string { return s.String() }

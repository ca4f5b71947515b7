package kernel

import (
	"errors"

	"github.com/boronkernel/dispatch/ipl"
)

// errNoPages is returned by the default PageAllocator, which never has any
// pages to give: physical memory management is out of scope (spec.md's
// Non-goals), so a kernel built without a real PageAllocator collaborator
// can still construct and run, it just can't actually allocate.
var errNoPages = errors.New("kernel: no PageAllocator configured")

type nopPageAllocator struct{}

func (nopPageAllocator) AllocatePage() (uintptr, error) { return 0, errNoPages }
func (nopPageAllocator) FreePage(uintptr) error         { return errNoPages }

type nopTrapDelivery struct{}

func (nopTrapDelivery) RaiseDeviceInterrupt(cpu int, level ipl.Level, fn func()) { fn() }

type tickingClock struct{ tick int64 }

func (c *tickingClock) NowTick(int) int64 {
	c.tick++
	return c.tick
}

func fillCollaboratorDefaults(c Collaborators) Collaborators {
	if c.PageAllocator == nil {
		c.PageAllocator = nopPageAllocator{}
	}
	if c.TrapDelivery == nil {
		c.TrapDelivery = nopTrapDelivery{}
	}
	if c.ClockSource == nil {
		c.ClockSource = &tickingClock{}
	}
	if c.CrashHandler == nil {
		c.CrashHandler = func(v any) { panic(v) }
	}
	return c
}

package thread

import (
	"testing"

	"github.com/boronkernel/dispatch/dispatcher"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAddThreadTracksMembership(t *testing.T) {
	p := NewProcess(1, nil, 4, 0)
	th := New(10, p, 4, 0, -1, func(*Thread) {})
	p.AddThread(th)

	got := p.Threads()
	require.Len(t, got, 1)
	assert.Same(t, th, got[0])
}

func TestProcessThreadsReturnsASnapshot(t *testing.T) {
	p := NewProcess(2, nil, 4, 0)
	th := New(11, p, 4, 0, -1, func(*Thread) {})
	p.AddThread(th)

	snap := p.Threads()
	snap[0] = nil
	assert.NotNil(t, p.Threads()[0], "mutating the returned slice must not affect the process")
}

func TestDetachedProcessSignalsHeaderOnceAllThreadsExit(t *testing.T) {
	_, sys := newTestKernel(t, 1)

	p := NewProcess(3, nil, 3, 0)
	th := New(12, p, 3, 0, 0, func(*Thread) {})
	p.AddThread(th)
	p.Detach()

	th.Start()
	sys.ReadyThread(th)
	runUntilTerminated(t, sys, 0)

	assert.Empty(t, p.Threads())
	assert.Equal(t, kstatus.Success, dispatcher.WaitForSingleObject(th.Gate(), p.Header, th, false, dispatcher.TimeoutInfinite, th.CPU(), 0),
		"waiting on a detached, fully exited process's header must succeed immediately")
}

func TestNonDetachedProcessNeverSignalsHeader(t *testing.T) {
	_, sys := newTestKernel(t, 1)

	p := NewProcess(4, nil, 3, 0)
	th := New(13, p, 3, 0, 0, func(*Thread) {})
	p.AddThread(th)

	th.Start()
	sys.ReadyThread(th)
	runUntilTerminated(t, sys, 0)

	assert.Equal(t, kstatus.Timeout, dispatcher.WaitForSingleObject(th.Gate(), p.Header, th, false, 0, th.CPU(), 0),
		"a process that was never detached must not signal on thread exit")
}

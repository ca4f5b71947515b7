package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/kstatus"
	"github.com/boronkernel/dispatch/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWaiter is a minimal Waiter, standing in for thread.Thread without
// importing it (that import would cycle back into this package).
type fakeWaiter struct {
	state     sched.State
	prio      int
	boost     int
	homeCPU   int
	lockLevel int

	resume     chan struct{}
	lastStatus kstatus.Status

	cancelMu sync.Mutex
	cancel   func(kstatus.Status)

	stateCh chan sched.State
}

func newFakeWaiter() *fakeWaiter {
	return &fakeWaiter{resume: make(chan struct{}, 1), stateCh: make(chan sched.State, 8)}
}

func (w *fakeWaiter) State() sched.State { return w.state }
func (w *fakeWaiter) SetState(s sched.State) {
	w.state = s
	select {
	case w.stateCh <- s:
	default:
	}
}
func (w *fakeWaiter) Priority() int        { return w.prio }
func (w *fakeWaiter) Boost() int           { return w.boost }
func (w *fakeWaiter) SetBoost(b int)       { w.boost = b }
func (w *fakeWaiter) HomeCPU() int         { return w.homeCPU }
func (w *fakeWaiter) SetHomeCPU(c int)     { w.homeCPU = c }
func (w *fakeWaiter) ApplyBoost(amount int) { w.boost += amount }
func (w *fakeWaiter) Block()                { <-w.resume }
func (w *fakeWaiter) CompleteWait(status kstatus.Status) {
	w.lastStatus = status
	w.resume <- struct{}{}
}
func (w *fakeWaiter) LastStatus() kstatus.Status { return w.lastStatus }
func (w *fakeWaiter) SetWaitCancel(cancel func(kstatus.Status)) {
	w.cancelMu.Lock()
	w.cancel = cancel
	w.cancelMu.Unlock()
}
func (w *fakeWaiter) LockLevel() int        { return w.lockLevel }
func (w *fakeWaiter) SetLockLevel(level int) { w.lockLevel = level }

func (w *fakeWaiter) waitForState(t *testing.T, s sched.State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-w.stateCh:
			if got == s {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", s)
		}
	}
}

func newTestCPU(t *testing.T) (*ipl.Gate, *sched.PerCPU) {
	t.Helper()
	g := ipl.New()
	sys := sched.NewSystem([]*ipl.Gate{g}, 4)
	sys.CPU(0).SetIdle(newFakeWaiter())
	SetScheduler(sys)
	return g, sys.CPU(0)
}

func TestMutexFastPathAndRecursion(t *testing.T) {
	g, cpu := newTestCPU(t)
	m := InitializeMutex()
	w := newFakeWaiter()

	status := WaitForSingleObject(g, m, w, false, TimeoutInfinite, cpu, 0)
	assert.Equal(t, kstatus.Success, status)

	status = WaitForSingleObject(g, m, w, false, TimeoutInfinite, cpu, 0)
	assert.Equal(t, kstatus.Success, status, "recursive acquisition by the owner must succeed")

	assert.Equal(t, kstatus.Success, ReleaseMutex(g, m, w))
	assert.Equal(t, kstatus.Success, ReleaseMutex(g, m, w))
	assert.Equal(t, kstatus.InvalidParameter, ReleaseMutex(g, m, w), "releasing an unowned mutex is an error")
}

func TestMutexAbandonment(t *testing.T) {
	g, cpu := newTestCPU(t)
	m := InitializeMutex()
	owner := newFakeWaiter()
	require.Equal(t, kstatus.Success, WaitForSingleObject(g, m, owner, false, TimeoutInfinite, cpu, 0))

	AbandonMutex(g, m)

	next := newFakeWaiter()
	status := WaitForSingleObject(g, m, next, false, TimeoutInfinite, cpu, 0)
	assert.Equal(t, kstatus.Abandoned, status)

	status = WaitForSingleObject(g, m, next, false, TimeoutInfinite, cpu, 0)
	assert.Equal(t, kstatus.Success, status, "abandonment is reported exactly once")
}

func TestSemaphoreBlocksThenWakes(t *testing.T) {
	g, cpu := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	w := newFakeWaiter()

	result := make(chan kstatus.Status, 1)
	go func() {
		result <- WaitForSingleObject(g, sem, w, false, TimeoutInfinite, cpu, 0)
	}()
	w.waitForState(t, sched.Waiting)

	require.Equal(t, kstatus.Success, ReleaseSemaphore(g, sem, 1))

	select {
	case status := <-result:
		assert.Equal(t, kstatus.Success, status)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not complete after release")
	}
	assert.Equal(t, 0, ReadSemaphoreCount(g, sem))
}

func TestSemaphoreOverMaxRejected(t *testing.T) {
	g, _ := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	assert.Equal(t, kstatus.InvalidParameter, ReleaseSemaphore(g, sem, 2))
}

func TestNotificationEventWakesAllWaiters(t *testing.T) {
	g, cpu := newTestCPU(t)
	ev := InitializeEvent(true, false)
	w1, w2 := newFakeWaiter(), newFakeWaiter()

	results := make(chan kstatus.Status, 2)
	go func() { results <- WaitForSingleObject(g, ev, w1, false, TimeoutInfinite, cpu, 0) }()
	w1.waitForState(t, sched.Waiting)
	go func() { results <- WaitForSingleObject(g, ev, w2, false, TimeoutInfinite, cpu, 0) }()
	w2.waitForState(t, sched.Waiting)

	require.Equal(t, kstatus.Success, SetEvent(g, ev))

	for i := 0; i < 2; i++ {
		select {
		case status := <-results:
			assert.Equal(t, kstatus.Success, status)
		case <-time.After(2 * time.Second):
			t.Fatal("notification event did not wake all waiters")
		}
	}
	assert.True(t, ReadEventState(g, ev), "a notification event stays signalled")
}

func TestSynchronizationEventWakesExactlyOne(t *testing.T) {
	g, cpu := newTestCPU(t)
	ev := InitializeEvent(false, false)
	w1, w2 := newFakeWaiter(), newFakeWaiter()

	results := make(chan kstatus.Status, 2)
	go func() { results <- WaitForSingleObject(g, ev, w1, false, TimeoutInfinite, cpu, 0) }()
	w1.waitForState(t, sched.Waiting)
	go func() { results <- WaitForSingleObject(g, ev, w2, false, TimeoutInfinite, cpu, 0) }()
	w2.waitForState(t, sched.Waiting)

	require.Equal(t, kstatus.Success, SetEvent(g, ev))

	select {
	case status := <-results:
		assert.Equal(t, kstatus.Success, status)
	case <-time.After(2 * time.Second):
		t.Fatal("synchronization event must wake exactly one waiter")
	}
	select {
	case <-results:
		t.Fatal("a second waiter must not have woken")
	case <-time.After(100 * time.Millisecond):
	}
	assert.False(t, ReadEventState(g, ev), "auto-reset clears after waking one waiter")
}

func TestWaitForMultipleObjectsAny(t *testing.T) {
	g, cpu := newTestCPU(t)
	a := InitializeSemaphore(0, 1)
	b := InitializeSemaphore(0, 1)
	w := newFakeWaiter()

	result := make(chan kstatus.Status, 1)
	go func() {
		result <- WaitForMultipleObjects(g, []*Header{a, b}, WaitAny, w, false, TimeoutInfinite, cpu, 0)
	}()
	w.waitForState(t, sched.Waiting)

	require.Equal(t, kstatus.Success, ReleaseSemaphore(g, b, 1))

	select {
	case status := <-result:
		assert.Equal(t, kstatus.Wait(1), status)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAny did not complete")
	}
}

func TestWaitForMultipleObjectsAllRequiresEverything(t *testing.T) {
	g, cpu := newTestCPU(t)
	a := InitializeSemaphore(0, 1)
	b := InitializeSemaphore(0, 1)
	w := newFakeWaiter()

	result := make(chan kstatus.Status, 1)
	go func() {
		result <- WaitForMultipleObjects(g, []*Header{a, b}, WaitAll, w, false, TimeoutInfinite, cpu, 0)
	}()
	w.waitForState(t, sched.Waiting)

	require.Equal(t, kstatus.Success, ReleaseSemaphore(g, a, 1))
	select {
	case <-result:
		t.Fatal("WaitAll must not complete until every object is satisfiable")
	case <-time.After(100 * time.Millisecond):
	}

	require.Equal(t, kstatus.Success, ReleaseSemaphore(g, b, 1))
	select {
	case status := <-result:
		assert.Equal(t, kstatus.Success, status)
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAll did not complete once every object became satisfiable")
	}
}

func TestWaitForMultipleObjectsBoundaryChecks(t *testing.T) {
	g, cpu := newTestCPU(t)
	w := newFakeWaiter()

	assert.Equal(t, kstatus.InvalidParameter, WaitForMultipleObjects(g, nil, WaitAny, w, false, TimeoutInfinite, cpu, 0))

	objs := make([]*Header, MaxWaitObjects+1)
	for i := range objs {
		objs[i] = InitializeSemaphore(0, 1)
	}
	assert.Equal(t, kstatus.InvalidParameter, WaitForMultipleObjects(g, objs, WaitAny, w, false, TimeoutInfinite, cpu, 0))
}

func TestZeroTimeoutPolls(t *testing.T) {
	g, cpu := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	w := newFakeWaiter()
	assert.Equal(t, kstatus.Timeout, WaitForSingleObject(g, sem, w, false, 0, cpu, 0))
}

func TestTimeoutFiresAndAborts(t *testing.T) {
	g, cpu := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	w := newFakeWaiter()

	result := make(chan kstatus.Status, 1)
	go func() {
		result <- WaitForSingleObject(g, sem, w, false, 50, cpu, 0)
	}()
	w.waitForState(t, sched.Waiting)

	cpu.RunExpiredTimers(50)

	select {
	case status := <-result:
		assert.Equal(t, kstatus.Timeout, status)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout did not fire")
	}
}

func TestAlertableWaitCancelledByAlert(t *testing.T) {
	g, cpu := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	w := newFakeWaiter()

	result := make(chan kstatus.Status, 1)
	go func() {
		result <- WaitForSingleObject(g, sem, w, true, TimeoutInfinite, cpu, 0)
	}()
	w.waitForState(t, sched.Waiting)

	w.cancelMu.Lock()
	cancel := w.cancel
	w.cancelMu.Unlock()
	require.NotNil(t, cancel)
	cancel(kstatus.Alerted)

	select {
	case status := <-result:
		assert.Equal(t, kstatus.Alerted, status)
	case <-time.After(2 * time.Second):
		t.Fatal("alert did not cancel the wait")
	}
}

func TestReleaseSemaphoreAndWaitAtomicHandoff(t *testing.T) {
	g, cpu := newTestCPU(t)
	sem := InitializeSemaphore(0, 1)
	done := InitializeEvent(true, false)
	w := newFakeWaiter()

	status := ReleaseSemaphoreAndWait(g, sem, 1, done, w, false, 0, cpu, 0)
	assert.Equal(t, kstatus.Timeout, status, "done is not yet signalled, and timeoutMS is 0")
	assert.Equal(t, 1, ReadSemaphoreCount(g, sem), "the semaphore release itself must still have taken effect")
}

func withDebugOn(t *testing.T) {
	t.Helper()
	prev := Debug
	Debug = true
	t.Cleanup(func() { Debug = prev })
}

func TestLeveledMutexUnleveledUnaffectedByDebug(t *testing.T) {
	withDebugOn(t)
	g, cpu := newTestCPU(t)
	m := InitializeMutex()
	w := newFakeWaiter()

	assert.Equal(t, 0, MutexLevel(m))
	assert.Equal(t, kstatus.Success, WaitForSingleObject(g, m, w, false, TimeoutInfinite, cpu, 0))
	assert.Equal(t, 0, w.LockLevel(), "an unleveled mutex never raises LockLevel")
}

func TestLeveledMutexInOrderAcquisitionSucceeds(t *testing.T) {
	withDebugOn(t)
	g, cpu := newTestCPU(t)
	low := InitializeLeveledMutex(1)
	high := InitializeLeveledMutex(2)
	w := newFakeWaiter()

	require.Equal(t, kstatus.Success, WaitForSingleObject(g, low, w, false, TimeoutInfinite, cpu, 0))
	w.SetLockLevel(MutexLevel(low))
	require.Equal(t, kstatus.Success, WaitForSingleObject(g, high, w, false, TimeoutInfinite, cpu, 0))
}

func TestLeveledMutexOutOfOrderAcquisitionPanics(t *testing.T) {
	withDebugOn(t)
	g, cpu := newTestCPU(t)
	high := InitializeLeveledMutex(2)
	low := InitializeLeveledMutex(1)
	w := newFakeWaiter()
	w.SetLockLevel(MutexLevel(high))

	assert.Panics(t, func() {
		WaitForSingleObject(g, low, w, false, TimeoutInfinite, cpu, 0)
	}, "acquiring a lower-or-equal level while already holding a higher one must violate")
}

func TestLeveledMutexRecursiveReacquireByOwnerExempt(t *testing.T) {
	withDebugOn(t)
	g, cpu := newTestCPU(t)
	m := InitializeLeveledMutex(1)
	w := newFakeWaiter()

	require.Equal(t, kstatus.Success, WaitForSingleObject(g, m, w, false, TimeoutInfinite, cpu, 0))
	w.SetLockLevel(MutexLevel(m))
	assert.Equal(t, kstatus.Success, WaitForSingleObject(g, m, w, false, TimeoutInfinite, cpu, 0),
		"recursive acquisition by the current owner is exempt from the level check")
}

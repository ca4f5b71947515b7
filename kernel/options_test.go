package kernel

import (
	"errors"
	"testing"

	"github.com/boronkernel/dispatch/dispatcher"
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/spinlock"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, int32(defaultQuantumTicks), cfg.quantumTicks)
	assert.NotNil(t, cfg.log)
}

func TestWithQuantumTicksOverridesDefault(t *testing.T) {
	cfg := defaultConfig()
	WithQuantumTicks(42)(&cfg)
	assert.Equal(t, int32(42), cfg.quantumTicks)
}

func TestWithLoggerNormalizesNil(t *testing.T) {
	cfg := defaultConfig()
	WithLogger(nil)(&cfg)
	assert.NotNil(t, cfg.log, "WithLogger(nil) must still leave a usable Sink")
}

func TestNewAppliesOptions(t *testing.T) {
	k := New(1, Collaborators{}, WithQuantumTicks(3))
	assert.Equal(t, int32(3), k.quantumTicks)
}

func TestWithDebugLocksSetsConfigFlag(t *testing.T) {
	cfg := defaultConfig()
	assert.False(t, cfg.debugLocks)
	WithDebugLocks()(&cfg)
	assert.True(t, cfg.debugLocks)
}

func TestNewWithDebugLocksWiresSpinlockAndDispatcherDebug(t *testing.T) {
	prevSink := spinlock.Sink
	t.Cleanup(func() {
		spinlock.Debug, dispatcher.Debug = false, false
		spinlock.Sink = prevSink
	})

	New(1, Collaborators{}, WithDebugLocks())
	assert.True(t, spinlock.Debug)
	assert.True(t, dispatcher.Debug)
}

func TestNewWithoutDebugLocksLeavesDebugOff(t *testing.T) {
	t.Cleanup(func() {
		spinlock.Debug, dispatcher.Debug = false, false
	})

	New(1, Collaborators{})
	assert.False(t, spinlock.Debug)
	assert.False(t, dispatcher.Debug)
}

type stubTrapDelivery struct{}

func (stubTrapDelivery) RaiseDeviceInterrupt(int, ipl.Level, func()) {}

func TestFillCollaboratorDefaultsLeavesSuppliedValuesAlone(t *testing.T) {
	trap := stubTrapDelivery{}
	c := fillCollaboratorDefaults(Collaborators{TrapDelivery: trap})
	assert.NotNil(t, c.PageAllocator)
	assert.Equal(t, trap, c.TrapDelivery, "a supplied collaborator must not be overwritten")
	assert.NotNil(t, c.ClockSource)
	assert.NotNil(t, c.CrashHandler)
}

func TestNopPageAllocatorAlwaysFails(t *testing.T) {
	var a nopPageAllocator
	_, err := a.AllocatePage()
	assert.True(t, errors.Is(err, errNoPages))
	assert.True(t, errors.Is(a.FreePage(0), errNoPages))
}

func TestTickingClockAdvancesMonotonically(t *testing.T) {
	c := &tickingClock{}
	first := c.NowTick(0)
	second := c.NowTick(0)
	assert.Equal(t, first+1, second)
}

func TestDefaultCrashHandlerPanics(t *testing.T) {
	c := fillCollaboratorDefaults(Collaborators{})
	assert.Panics(t, func() { c.CrashHandler("boom") })
}

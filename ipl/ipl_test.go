package ipl

import (
	"testing"

	"github.com/boronkernel/dispatch/kstatus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaiseLower(t *testing.T) {
	g := New()
	require.Equal(t, Normal, g.Get())

	old := g.Raise(DPC)
	assert.Equal(t, Normal, old)
	assert.Equal(t, DPC, g.Get())

	g.Lower(Normal)
	assert.Equal(t, Normal, g.Get())
}

func TestRaiseIfNeededIdempotent(t *testing.T) {
	g := New()
	g.Raise(DPC)
	old := g.RaiseIfNeeded(APC)
	assert.Equal(t, DPC, old, "RaiseIfNeeded must not lower when already above the target")
	assert.Equal(t, DPC, g.Get())
}

func TestLowerDrainsDPCThenAPC(t *testing.T) {
	g := New()
	var order []string
	g.SetDrainHooks(
		func() { order = append(order, "dpc") },
		func() { order = append(order, "apc") },
	)
	g.Raise(DPC)
	g.Lower(Normal)
	assert.Equal(t, []string{"dpc", "apc"}, order)
}

func TestLowerAcrossAPCOnlyDrainsAPC(t *testing.T) {
	g := New()
	var order []string
	g.SetDrainHooks(
		func() { order = append(order, "dpc") },
		func() { order = append(order, "apc") },
	)
	g.Raise(APC)
	g.Lower(Normal)
	assert.Equal(t, []string{"apc"}, order)
}

func TestRaiseBelowCurrentViolates(t *testing.T) {
	g := New()
	g.Raise(DPC)
	var got *kstatus.ContractViolation
	g.SetCrashHandler(func(v *kstatus.ContractViolation) { got = v })

	assert.Panics(t, func() { g.Raise(APC) })
	require.NotNil(t, got)
	assert.Contains(t, got.Invariant, "raise below current")
}

func TestLowerAboveCurrentViolates(t *testing.T) {
	g := New()
	assert.Panics(t, func() { g.Lower(DPC) })
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, Normal < APC)
	assert.True(t, APC < DPC)
	assert.True(t, DPC < Device5)
	assert.True(t, Device13 < Clock)
	assert.True(t, Clock < NoInterrupts)
}

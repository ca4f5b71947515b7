package apc

import (
	"testing"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeInfersTier(t *testing.T) {
	var special, kernelAPC, userAPC APC
	Initialize(&special, nil, func(*APC, any, any, any) {}, nil, nil, ipl.KernelMode)
	Initialize(&kernelAPC, nil, func(*APC, any, any, any) {}, func(any, any, any) {}, nil, ipl.KernelMode)
	Initialize(&userAPC, nil, func(*APC, any, any, any) {}, func(any, any, any) {}, nil, ipl.UserMode)

	assert.Equal(t, Special, special.Tier())
	assert.Equal(t, Kernel, kernelAPC.Tier())
	assert.Equal(t, User, userAPC.Tier())
}

func TestDrainRunsTiersInOrder(t *testing.T) {
	g := ipl.New()
	var q Queue
	var order []string

	var s, k, u APC
	Initialize(&s, nil, func(*APC, any, any, any) { order = append(order, "special") }, nil, nil, ipl.KernelMode)
	Initialize(&u, nil, func(*APC, any, any, any) { order = append(order, "user") }, func(any, any, any) {}, nil, ipl.UserMode)
	Initialize(&k, nil, func(*APC, any, any, any) { order = append(order, "kernel") }, func(any, any, any) {}, nil, ipl.KernelMode)

	require.True(t, q.Insert(g, &u, nil, nil, nil))
	require.True(t, q.Insert(g, &k, nil, nil, nil))
	require.True(t, q.Insert(g, &s, nil, nil, nil))

	q.Drain(g, true)

	assert.Equal(t, []string{"special", "kernel", "user"}, order)
}

func TestDrainUserTierGatedByEligibility(t *testing.T) {
	g := ipl.New()
	var q Queue
	ran := false

	var u APC
	Initialize(&u, nil, func(*APC, any, any, any) { ran = true }, func(any, any, any) {}, nil, ipl.UserMode)
	q.Insert(g, &u, nil, nil, nil)

	q.Drain(g, false)
	assert.False(t, ran, "user tier must not drain when userEligible is false")

	q.Drain(g, true)
	assert.True(t, ran)
}

func TestInsertArrivalInterruptRule(t *testing.T) {
	g := ipl.New()
	var q Queue

	var s1, s2 APC
	started := make(chan struct{})
	done := make(chan struct{})
	Initialize(&s1, nil, func(a *APC, _, _, _ any) { close(started); <-done }, nil, nil, ipl.KernelMode)
	Initialize(&s2, nil, func(*APC, any, any, any) {}, nil, nil, ipl.KernelMode)

	interrupts := 0
	q.Insert(g, &s1, nil, nil, func(Tier) { interrupts++ })
	assert.Equal(t, 1, interrupts, "first Special arrival with none running must interrupt")

	go q.drainTier(g, Special)
	<-started // s1's routine is now running[Special] == true
	q.Insert(g, &s2, nil, nil, func(Tier) { interrupts++ })
	assert.Equal(t, 1, interrupts, "arrival while a Special is already running must not interrupt again")
	close(done)
}

func TestPending(t *testing.T) {
	g := ipl.New()
	var q Queue
	assert.False(t, q.Pending(Special))

	var a APC
	Initialize(&a, nil, func(*APC, any, any, any) {}, nil, nil, ipl.KernelMode)
	q.Insert(g, &a, nil, nil, nil)
	assert.True(t, q.Pending(Special))
}

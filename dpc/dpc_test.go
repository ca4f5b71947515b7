package dpc

import (
	"testing"

	"github.com/boronkernel/dispatch/ipl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDispatchFIFO(t *testing.T) {
	g := ipl.New()
	var q Queue
	var order []int

	var d1, d2, d3 DPC
	Initialize(&d1, func(*DPC, any, any, any) { order = append(order, 1) }, nil)
	Initialize(&d2, func(*DPC, any, any, any) { order = append(order, 2) }, nil)
	Initialize(&d3, func(*DPC, any, any, any) { order = append(order, 3) }, nil)

	require.True(t, q.Enqueue(g, &d1, nil, nil))
	require.True(t, q.Enqueue(g, &d2, nil, nil))
	require.True(t, q.Enqueue(g, &d3, nil, nil))

	g.Raise(ipl.DPC)
	q.Dispatch(g)
	g.Lower(ipl.Normal)

	assert.Equal(t, []int{1, 2, 3}, order)
	assert.True(t, q.Empty())
}

func TestImportantDPCJumpsQueue(t *testing.T) {
	g := ipl.New()
	var q Queue
	var order []int

	var normal1, normal2, important DPC
	Initialize(&normal1, func(*DPC, any, any, any) { order = append(order, 1) }, nil)
	Initialize(&normal2, func(*DPC, any, any, any) { order = append(order, 2) }, nil)
	Initialize(&important, func(*DPC, any, any, any) { order = append(order, 3) }, nil)
	important.SetImportant(true)

	q.Enqueue(g, &normal1, nil, nil)
	q.Enqueue(g, &normal2, nil, nil)
	q.Enqueue(g, &important, nil, nil)

	g.Raise(ipl.DPC)
	q.Dispatch(g)
	g.Lower(ipl.Normal)

	assert.Equal(t, []int{3, 1, 2}, order)
}

func TestEnqueueAlreadyEnqueuedFails(t *testing.T) {
	g := ipl.New()
	var q Queue
	var d DPC
	Initialize(&d, func(*DPC, any, any, any) {}, nil)

	assert.True(t, q.Enqueue(g, &d, nil, nil))
	assert.False(t, q.Enqueue(g, &d, nil, nil), "re-enqueuing an already-queued DPC must fail")
}

func TestOnEnqueueFiresOnlyWhenQueueWasEmpty(t *testing.T) {
	g := ipl.New()
	var q Queue
	fired := 0
	q.OnEnqueue = func() { fired++ }

	var d1, d2 DPC
	Initialize(&d1, func(*DPC, any, any, any) {}, nil)
	Initialize(&d2, func(*DPC, any, any, any) {}, nil)

	q.Enqueue(g, &d1, nil, nil)
	q.Enqueue(g, &d2, nil, nil)
	assert.Equal(t, 1, fired)
}

package prcb

import (
	"sync"
	"testing"

	"github.com/boronkernel/dispatch/dpc"
	"github.com/boronkernel/dispatch/ipl"
	"github.com/boronkernel/dispatch/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlocks(n int) []*Block {
	gates := make([]*ipl.Gate, n)
	for i := range gates {
		gates[i] = ipl.New()
	}
	sys := sched.NewSystem(gates, 4)
	blocks := make([]*Block, n)
	for i := 0; i < n; i++ {
		blocks[i] = New(i, uint32(i), gates[i], sys.CPU(i), nil)
	}
	return blocks
}

func TestDPCEnqueueSetsPendingBit(t *testing.T) {
	blocks := newTestBlocks(1)
	b := blocks[0]
	assert.False(t, b.Pending(PendingDPCs))

	ran := false
	var d dpc.DPC
	dpc.Initialize(&d, func(*dpc.DPC, any, any, any) { ran = true }, nil)
	b.DPCQueue.Enqueue(b.Gate, &d, nil, nil)
	assert.True(t, b.Pending(PendingDPCs))

	b.Gate.Raise(ipl.DPC)
	b.DispatchDPCs()
	b.Gate.Lower(ipl.Normal)

	assert.True(t, ran)
	assert.False(t, b.Pending(PendingDPCs))
}

func TestYieldPendingBit(t *testing.T) {
	blocks := newTestBlocks(1)
	b := blocks[0]
	assert.False(t, b.Pending(PendingYield))
	b.SetPendingYield()
	assert.True(t, b.Pending(PendingYield))
	b.ClearPendingYield()
	assert.False(t, b.Pending(PendingYield))
}

// TestTLBShootdownInvalidatesEveryCPU drives each target's own DPC queue
// from a dedicated goroutine, standing in for that CPU's run loop lowering
// its gate below DPC on its own — the shootdown itself never touches a
// target's gate from the initiator's goroutine.
func TestTLBShootdownInvalidatesEveryCPU(t *testing.T) {
	blocks := newTestBlocks(4)
	registry := NewRegistry(blocks)

	stop := make(chan struct{})
	var drivers sync.WaitGroup
	for _, b := range blocks[1:] {
		drivers.Add(1)
		go func(b *Block) {
			defer drivers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				if b.Pending(PendingDPCs) {
					b.Gate.Raise(ipl.DPC)
					b.DispatchDPCs()
					b.Gate.Lower(ipl.Normal)
				}
			}
		}(b)
	}

	var mu sync.Mutex
	invalidated := map[int]bool{}
	registry.TLBShootdown(blocks[0], 0x1000, 0x1000, func(cpu *Block, addr, length uintptr) {
		mu.Lock()
		invalidated[cpu.ID] = true
		mu.Unlock()
	})
	close(stop)
	drivers.Wait()

	for i := 0; i < 4; i++ {
		assert.True(t, invalidated[i], "CPU %d must be invalidated", i)
	}
}

func TestRegistryGetAndAll(t *testing.T) {
	blocks := newTestBlocks(3)
	registry := NewRegistry(blocks)
	require.Len(t, registry.All(), 3)
	assert.Same(t, blocks[1], registry.Get(1))
}

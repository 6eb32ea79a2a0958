// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tspool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleProducerFIFOUnderAtomicPolicy(t *testing.T) {
	p := New(1, Atomic, 0)
	for i := 0; i < 10; i++ {
		p.Enq(0, i)
	}
	for i := 0; i < 10; i++ {
		v, ok := p.Deq(0)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := p.Deq(0)
	require.False(t, ok)
}

func TestAllFourPoliciesDrainEverything(t *testing.T) {
	for _, policy := range []Policy{Atomic, Stutter, CAS, Interval} {
		p := New(4, policy, 1)
		for tid := 0; tid < 4; tid++ {
			for i := 0; i < 10; i++ {
				p.Enq(tid, tid*100+i)
			}
		}
		got := 0
		for {
			_, ok := p.Deq(0)
			if !ok {
				break
			}
			got++
		}
		require.Equal(t, 40, got)
	}
}

func TestConcurrentProducersConsumersNoLoss(t *testing.T) {
	const numThread = 8
	const perThread = 150
	p := New(numThread, Atomic, 0)

	var wg sync.WaitGroup
	for tid := 0; tid < numThread/2; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				p.Enq(tid, i)
			}
		}(tid)
	}
	wg.Wait()

	var mu sync.Mutex
	total := 0
	var cwg sync.WaitGroup
	for tid := numThread / 2; tid < numThread; tid++ {
		cwg.Add(1)
		go func(tid int) {
			defer cwg.Done()
			n := 0
			for {
				_, ok := p.Deq(tid)
				if !ok {
					break
				}
				n++
			}
			mu.Lock()
			total += n
			mu.Unlock()
		}(tid)
	}
	cwg.Wait()

	require.Equal(t, perThread*(numThread/2), total)
}

func TestRelaxationDistanceTracksDequeueCount(t *testing.T) {
	p := New(1, Atomic, 0)
	p.CheckRelaxationDistance()
	for i := 0; i < 6; i++ {
		p.Enq(0, i)
	}
	for i := 0; i < 6; i++ {
		_, ok := p.Deq(0)
		require.True(t, ok)
	}
	numDequeued, _, maxRD := p.GetRelaxationDistance()
	require.Equal(t, 6, numDequeued)
	require.Equal(t, 0, maxRD)
}

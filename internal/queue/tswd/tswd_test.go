// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package tswd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleProducerFIFO(t *testing.T) {
	q := New(1, 4)
	for i := 0; i < 10; i++ {
		q.Enq(0, i)
	}
	for i := 0; i < 10; i++ {
		v, ok := q.Deq(0)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.Deq(0)
	require.False(t, ok)
}

func TestMultiProducerDrainsEverything(t *testing.T) {
	q := New(4, 2)
	for tid := 0; tid < 4; tid++ {
		for i := 0; i < 10; i++ {
			q.Enq(tid, tid*100+i)
		}
	}
	got := 0
	for {
		_, ok := q.Deq(0)
		if !ok {
			break
		}
		got++
	}
	require.Equal(t, 40, got)
}

func TestConcurrentProducersConsumersNoLoss(t *testing.T) {
	const numThread = 8
	const perThread = 150
	q := New(numThread, 4)

	var wg sync.WaitGroup
	for tid := 0; tid < numThread/2; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				q.Enq(tid, i)
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
				_, ok := q.Deq(tid)
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
	q := New(1, 4)
	q.CheckRelaxationDistance()
	for i := 0; i < 6; i++ {
		q.Enq(0, i)
	}
	for i := 0; i < 6; i++ {
		_, ok := q.Deq(0)
		require.True(t, ok)
	}
	numDequeued, _, _ := q.GetRelaxationDistance()
	require.Equal(t, 6, numDequeued)
}

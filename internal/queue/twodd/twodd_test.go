// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package twodd

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleThreadBagEquivalence(t *testing.T) {
	q := New(4, 1, 3)
	for i := 0; i < 30; i++ {
		q.Enq(0, i)
	}
	var got []int
	for {
		v, ok := q.Deq(0)
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Len(t, got, 30)
}

func TestEmptyGridReturnsFalse(t *testing.T) {
	q := New(3, 1, 2)
	_, ok := q.Deq(0)
	require.False(t, ok)
}

func TestConcurrentProducersConsumersNoLoss(t *testing.T) {
	const numThread = 8
	const perThread = 150
	q := New(4, numThread, 4)

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
	q := New(2, 1, 3)
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

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package dqrr

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func drainAll(t *testing.T, d *DQRR, tid int) []int {
	t.Helper()
	var got []int
	for {
		v, ok := d.Deq(tid)
		if !ok {
			break
		}
		got = append(got, v)
	}
	return got
}

func TestRoundRobinBagEquivalence(t *testing.T) {
	d := New(4, 1, 1, RoundRobin)
	for i := 0; i < 20; i++ {
		d.Enq(0, i)
	}
	got := drainAll(t, d, 0)
	sort.Ints(got)
	require.Len(t, got, 20)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLRUSelectorDrainsEverything(t *testing.T) {
	d := New(3, 1, 1, LRU)
	for i := 0; i < 15; i++ {
		d.Enq(0, i)
	}
	got := drainAll(t, d, 0)
	require.Len(t, got, 15)
}

func TestRandomSelectorDrainsEverything(t *testing.T) {
	d := New(5, 1, 1, Random)
	for i := 0; i < 30; i++ {
		d.Enq(0, i)
	}
	got := drainAll(t, d, 0)
	require.Len(t, got, 30)
}

func TestConcurrentProducersConsumersNoLoss(t *testing.T) {
	const numThread = 8
	const perThread = 200
	d := New(4, numThread, numThread, RoundRobin)

	var wg sync.WaitGroup
	for tid := 0; tid < numThread/2; tid++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			for i := 0; i < perThread; i++ {
				d.Enq(tid, i)
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
				_, ok := d.Deq(tid)
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

func TestRelaxationDistanceReportsZeroForUncontendedFIFO(t *testing.T) {
	d := New(1, 1, 1, RoundRobin)
	d.CheckRelaxationDistance()
	for i := 0; i < 10; i++ {
		d.Enq(0, i)
	}
	for i := 0; i < 10; i++ {
		_, ok := d.Deq(0)
		require.True(t, ok)
	}
	numDequeued, _, maxRD := d.GetRelaxationDistance()
	require.Equal(t, 10, numDequeued)
	require.Equal(t, 0, maxRD)
}

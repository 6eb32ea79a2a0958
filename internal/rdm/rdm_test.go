// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rdm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDisabledIsNoOp(t *testing.T) {
	m := New[int]()
	require.False(t, m.Enabled())
	begin := m.LockEnq()
	require.Equal(t, uint64(0), begin)
	m.RecordEnq(begin, 1)
	m.UnlockEnq()
	m.LockDeq()
	m.RecordDeq(1)
	m.UnlockDeq()
	n, sum, max := m.RelaxationDistance()
	require.Zero(t, n)
	require.Zero(t, sum)
	require.Zero(t, max)
}

func TestFIFODequeueHasZeroRelaxationDistance(t *testing.T) {
	m := New[int]()
	m.CheckRelaxationDistance()

	for _, key := range []int{1, 2, 3} {
		b := m.LockEnq()
		m.RecordEnq(b, key)
		m.UnlockEnq()
	}
	for _, key := range []int{1, 2, 3} {
		m.LockDeq()
		m.RecordDeq(key)
		m.UnlockDeq()
	}

	n, sum, max := m.RelaxationDistance()
	require.Equal(t, 3, n)
	require.Equal(t, 0, sum)
	require.Equal(t, 0, max)
}

func TestOutOfOrderDequeueAccumulatesDistance(t *testing.T) {
	m := New[int]()
	m.CheckRelaxationDistance()

	// Three enqueues complete fully, in order, before any dequeue runs: the
	// order counter gives key 1 the interval [0,2), key 2 [2,4), key 3 [4,6).
	for _, key := range []int{1, 2, 3} {
		b := m.LockEnq()
		m.RecordEnq(b, key)
		m.UnlockEnq()
	}

	// Dequeuing key 3 first skips over key 1, which finished strictly before
	// key 3's enqueue began (end 2 < begin 4); key 2's end (4) is not
	// strictly before key 3's begin (4), so it doesn't count as skipped.
	m.LockDeq()
	m.RecordDeq(3)
	m.UnlockDeq()
	// 1 and 2 then drain in their original relative order with no further
	// skips: each is the earliest remaining log entry when it's matched.
	m.LockDeq()
	m.RecordDeq(1)
	m.UnlockDeq()
	m.LockDeq()
	m.RecordDeq(2)
	m.UnlockDeq()

	n, sum, max := m.RelaxationDistance()
	require.Equal(t, 3, n)
	require.Equal(t, 1, sum)
	require.Equal(t, 1, max)
}

func TestUnmatchedDequeueIsCountedButNotDistanced(t *testing.T) {
	m := New[int]()
	m.CheckRelaxationDistance()

	// A dequeue for a key that was never logged as enqueued (e.g. it was
	// enqueued before tracking was turned on) still counts toward
	// numDequeued, matching the original's deq_elements_.size() semantics.
	m.LockDeq()
	m.RecordDeq(99)
	m.UnlockDeq()

	n, sum, max := m.RelaxationDistance()
	require.Equal(t, 1, n)
	require.Equal(t, 0, sum)
	require.Equal(t, 0, max)
}

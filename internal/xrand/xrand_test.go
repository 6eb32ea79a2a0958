// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package xrand

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourceDeterministic(t *testing.T) {
	a := NewSource(42)
	b := NewSource(42)
	for i := 0; i < 100; i++ {
		require.Equal(t, a.Intn(1000), b.Intn(1000))
	}
}

func TestIntRangeBounds(t *testing.T) {
	s := NewSource(1)
	for i := 0; i < 1000; i++ {
		v := s.IntRange(3, 7)
		require.GreaterOrEqual(t, v, 3)
		require.LessOrEqual(t, v, 7)
	}
}

func TestStopwatchMonotonic(t *testing.T) {
	var sw Stopwatch
	sw.Start()
	require.GreaterOrEqual(t, sw.Elapsed(), 0.0)
}

func TestBusyWaitNoPanic(t *testing.T) {
	b := NewBusyWait()
	require.Greater(t, b.opsPerUs, int64(0))
	b.Wait(1)
	b.Wait(0)
}

func TestBackoffCapped(t *testing.T) {
	var b Backoff
	b.Reset()
	for i := 0; i < 20; i++ {
		b.Wait()
	}
	require.LessOrEqual(t, b.cur, backoffMax)
}

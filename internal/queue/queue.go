// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package queue defines the capability interface every k-relaxed FIFO
// algorithm in this module (DQ-RR, CBO, 2Dd, the TS-* family, TSWD)
// implements, so the benchmark driver and worker bodies in internal/bench
// can drive any of them uniformly.
package queue

// Queue is a k-relaxed FIFO: Enq/Deq are linearizable with respect to each
// other, but a Deq may return an element other than the oldest still
// present, bounded by the subject's relaxation parameter.
//
// tid is the caller's thread id, registered once per worker via
// internal/tid.Space.Set/Get. Go has no implicit goroutine-local storage, so
// every operation takes it explicitly rather than recovering it through an
// unsupported runtime hack (see DESIGN.md's tid addendum).
type Queue interface {
	Enq(tid int, v int)
	Deq(tid int) (int, bool)
	CheckRelaxationDistance()
	GetRelaxationDistance() (numDequeued, sumRD, maxRD int)
}

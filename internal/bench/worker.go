// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bench holds the benchmark worker bodies and sweep driver that
// exercise a queue.Queue subject: a microbenchmark op-mix, a prefill pass,
// a macrobenchmark relaxed BFS, and the orchestration that sweeps them
// across thread counts or relaxation bounds and aggregates the results.
package bench

import (
	"runtime"

	"github.com/grailbio/relaxq/internal/graph"
	"github.com/grailbio/relaxq/internal/queue"
	"github.com/grailbio/relaxq/internal/xrand"
)

// TotalNumOp is the total number of microbenchmark operations split across
// every worker thread. Matching the original's threshold, a small machine
// (8 or fewer logical CPUs) runs a much shorter sweep so a full repeat set
// still finishes in reasonable time on a laptop.
func TotalNumOp() int32 {
	if runtime.NumCPU() <= 8 {
		return 360_000
	}
	return 18_000_000
}

// NumPrefill is the number of elements pushed into the subject before a
// microbenchmark run starts timing, so Deq calls in the timed region aren't
// all immediately starved.
const NumPrefill = 100_000

// Microbench runs threadID's share of the op-mix: each iteration draws a
// uniform [0,100) value and enqueues if it's at or below enqRatePercent,
// otherwise dequeues; delayMicroseconds of busy-wait separates consecutive
// ops to model inter-arrival spacing. Values enqueued are uniform over
// [0, 9999], matching the original's MicrobenchmarkFunc.
func Microbench(threadID, numThread int, enqRatePercent, delayMicroseconds float64, subject queue.Queue) {
	rng := xrand.NewSource(xrand.DiversifiedSeed(int64(numThread), threadID))
	bw := xrand.NewBusyWait()
	numOp := int(TotalNumOp()) / numThread

	for i := 0; i < numOp; i++ {
		if rng.Float64In100() <= enqRatePercent {
			subject.Enq(threadID, rng.IntRange(0, 9999))
		} else {
			subject.Deq(threadID)
		}
		bw.Wait(delayMicroseconds)
	}
}

// Prefill pushes threadID's share of NumPrefill uniform [0,65535] values
// into subject, unthrottled, before a microbenchmark run starts timing.
func Prefill(threadID, numThread int, subject queue.Queue) {
	rng := xrand.NewSource(xrand.DiversifiedSeed(int64(numThread)+1, threadID))
	numOp := NumPrefill / numThread

	for i := 0; i < numOp; i++ {
		subject.Enq(threadID, rng.IntRange(0, 65535))
	}
}

// Macrobench drives g's RelaxedBFS through subject: thread 0 seeds the BFS
// source vertex, then every thread races to drain the frontier until one of
// them discovers the destination. outDistance receives this thread's view
// of the winning distance (every thread that didn't win sees
// math.MaxInt32, matching the original's per-thread shortest_dist array
// from which the driver takes the minimum).
func Macrobench(threadID, numThread int, subject queue.Queue, g *graph.Graph, outDistance *int32) {
	if threadID == 0 {
		subject.Enq(threadID, 0)
	}
	*outDistance = g.RelaxedBFS(threadID, numThread, subject)
}

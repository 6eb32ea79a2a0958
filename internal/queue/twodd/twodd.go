// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package twodd implements the 2Dd k-relaxed queue: width independent
// Michael-Scott lanes, bounded by put/get windows that advance depth at a
// time. Enqueue/dequeue probe a handful of
// candidates by hopping across the width (first two hops uniformly random,
// then linear), advancing a shared depth-bounded window once a full lap
// finds nothing inside it. Unlike DQ-RR/CBO, a CAS loss here triggers a
// fresh uniformly-random re-probe on the very next attempt rather than a
// retry against the same candidate — so this package keeps its own node and
// CAS primitives (grounded directly on original_source's twodd.h) instead
// of internal/pqueue's self-contained retry loop, which assumes retrying
// the same queue is always correct.
package twodd

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/cpu"

	"github.com/grailbio/relaxq/internal/ebr"
	"github.com/grailbio/relaxq/internal/rdm"
	"github.com/grailbio/relaxq/internal/xrand"
)

// node is 2Dd's element type: like pqueue.Node, but with a width-local
// monotonic counter (cnt) used both to order a single lane and to detect
// whether a lane has advanced past the caller's depth window.
type node struct {
	next  atomic.Pointer[node]
	epoch uint64
	cnt   uint64
	v     int
}

func (n *node) SetRetireEpoch(e uint64) { n.epoch = e }
func (n *node) RetireEpoch() uint64     { return n.epoch }

type paddedPtr struct {
	ptr atomic.Pointer[node]
	_   cpu.CacheLinePad
}

type window struct {
	max atomic.Uint64
	_   cpu.CacheLinePad
}

func (w *window) cas(expected, desired uint64) bool {
	return w.max.CompareAndSwap(expected, desired)
}

// probeState is the per-thread lane index the original tracks via
// `thread_local int index_`; externalized here per DESIGN.md's Open
// Question decision rather than reached for implicitly.
type probeState struct {
	index int
	_     cpu.CacheLinePad
}

// TwoDd is a bank of width partial queues with depth-sized windows.
type TwoDd struct {
	depth, width uint64
	heads, tails []paddedPtr
	windowGet    window
	windowPut    window
	ebr          *ebr.Manager[*node]
	rdm          *rdm.Manager[*node]
	probes       []probeState
	rng          []*xrand.Source
}

// New constructs a 2Dd grid of width independent lanes, depth-bounded, for
// up to numThread concurrent threads.
func New(width, numThread, depth int) *TwoDd {
	t := &TwoDd{
		depth:  uint64(depth),
		width:  uint64(width),
		heads:  make([]paddedPtr, width),
		tails:  make([]paddedPtr, width),
		ebr:    ebr.New[*node](numThread),
		rdm:    rdm.New[*node](),
		probes: make([]probeState, numThread),
		rng:    make([]*xrand.Source, numThread),
	}
	t.windowGet.max.Store(uint64(depth))
	t.windowPut.max.Store(uint64(depth))
	for i := range t.tails {
		sentinel := &node{}
		t.tails[i].ptr.Store(sentinel)
		t.heads[i].ptr.Store(sentinel)
	}
	for i := range t.rng {
		t.rng[i] = xrand.NewSource(xrand.DiversifiedSeed(1, i))
	}
	return t
}

func (t *TwoDd) CheckRelaxationDistance() {
	t.rdm.CheckRelaxationDistance()
}

func (t *TwoDd) GetRelaxationDistance() (numDequeued, sumRD, maxRD int) {
	return t.rdm.RelaxationDistance()
}

// Stats reports EBR's node-reclaim count; retries always reads 0 (see
// dqrr.DQRR.Stats's doc comment for why).
func (t *TwoDd) Stats() (retries, reclaimed uint64) {
	return 0, t.ebr.Reclaimed()
}

// hop advances the probe: the first two hops per probing run land on a
// uniformly random lane, every hop after that just moves to the next lane.
func (t *TwoDd) hop(tid int, random, hops *uint64) {
	if *random < 2 {
		*random++
		t.probes[tid].index = t.rng[tid].Intn(int(t.width))
	} else {
		*hops++
		t.probes[tid].index = (t.probes[tid].index + 1) % int(t.width)
	}
}

func (t *TwoDd) getTail(tid int, hasContented *bool) *node {
	var hops, random uint64
	locMax := [2]uint64{t.windowPut.max.Load(), 0}

	if *hasContented {
		t.probes[tid].index = t.rng[tid].Intn(int(t.width))
		*hasContented = false
	}

	for {
		idx := t.probes[tid].index
		tail := t.tails[idx].ptr.Load()
		locMax[1] = t.windowPut.max.Load()
		switch {
		case locMax[0] != locMax[1]:
			locMax[0] = locMax[1]
			hops = 0
		case tail.cnt < locMax[1]:
			return tail
		case hops != t.width:
			t.hop(tid, &random, &hops)
		default:
			if locMax[0] == t.windowPut.max.Load() {
				t.windowPut.cas(locMax[0], locMax[0]+t.depth)
			}
			locMax[0] = t.windowPut.max.Load()
			hops = 0
		}
	}
}

func (t *TwoDd) getHead(tid int, hasContented *bool) *node {
	var hops, random, putCnt uint64
	isEmpty := true
	locMax := [2]uint64{t.windowGet.max.Load(), 0}

	if *hasContented {
		t.probes[tid].index = t.rng[tid].Intn(int(t.width))
		*hasContented = false
	}

	for {
		idx := t.probes[tid].index
		head := t.heads[idx].ptr.Load()
		putCnt = t.tails[idx].ptr.Load().cnt

		locMax[1] = t.windowGet.max.Load()
		switch {
		case locMax[0] != locMax[1]:
			locMax[0] = locMax[1]
			hops = 0
			isEmpty = true
		case head.cnt < locMax[1] && putCnt != head.cnt:
			return head
		case hops != t.width:
			if isEmpty && putCnt != head.cnt {
				isEmpty = false
			}
			t.hop(tid, &random, &hops)
		case !isEmpty:
			if locMax[0] == t.windowGet.max.Load() {
				t.windowGet.cas(locMax[0], locMax[0]+t.depth)
			}
			locMax[0] = t.windowGet.max.Load()
			hops = 0
			isEmpty = true
		default:
			return head
		}
	}
}

// Enq publishes v onto whichever lane the windowed probe selects.
func (t *TwoDd) Enq(tid int, v int) {
	if tid < 0 || tid >= len(t.probes) {
		log.Panicf("twodd: tid %d out of range", tid)
	}
	hasContented := false
	t.ebr.StartOp(tid)
	n := &node{v: v}
	for {
		tail := t.getTail(tid, &hasContented)
		n.cnt = tail.cnt + 1
		if tail.next.Load() != nil {
			continue
		}
		idx := t.probes[tid].index

		var begin uint64
		if t.rdm.Enabled() {
			begin = t.rdm.LockEnq()
		}
		if !tail.next.CompareAndSwap(nil, n) {
			if t.rdm.Enabled() {
				t.rdm.UnlockEnq()
			}
			hasContented = true
			continue
		}
		if t.rdm.Enabled() {
			t.rdm.RecordEnq(begin, n)
			t.rdm.UnlockEnq()
		}
		if !t.tails[idx].ptr.CompareAndSwap(tail, n) {
			hasContented = true
		}
		t.ebr.EndOp(tid)
		return
	}
}

// Deq removes and returns a value from whichever lane the windowed probe
// selects, or reports none available once the whole grid is confirmed
// empty within the current window.
func (t *TwoDd) Deq(tid int) (int, bool) {
	if tid < 0 || tid >= len(t.probes) {
		log.Panicf("twodd: tid %d out of range", tid)
	}
	hasContented := false
	t.ebr.StartOp(tid)
	for {
		head := t.getHead(tid, &hasContented)
		idx := t.probes[tid].index
		tail := t.tails[idx].ptr.Load()
		first := head.next.Load()

		if head == tail {
			if first == nil {
				t.ebr.EndOp(tid)
				return 0, false
			}
			if !t.tails[idx].ptr.CompareAndSwap(head, first) {
				hasContented = true
			}
			continue
		}

		if t.rdm.Enabled() {
			t.rdm.LockDeq()
		}
		if !t.heads[idx].ptr.CompareAndSwap(head, first) {
			if t.rdm.Enabled() {
				t.rdm.UnlockDeq()
			}
			hasContented = true
			continue
		}
		if t.rdm.Enabled() {
			t.rdm.RecordDeq(first)
			t.rdm.UnlockDeq()
		}
		t.ebr.Retire(tid, head)
		t.ebr.EndOp(tid)
		return first.v, true
	}
}

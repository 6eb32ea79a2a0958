// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tspool implements the TS-* family of k-relaxed queues: one
// single-producer partial queue per thread, each node stamped with a
// timestamp at enqueue time, and a dequeue that scans every queue's head
// looking for the globally-minimum timestamp. The four original variants
// (ts_atomic.h, ts_stutter.h, ts_cas.h, ts_interval.h) differ only in how
// that timestamp is generated and compared, so they're expressed here as a
// single Policy parameter rather than four packages.
package tspool

import (
	"math"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/cpu"

	"github.com/grailbio/relaxq/internal/ebr"
	"github.com/grailbio/relaxq/internal/rdm"
	"github.com/grailbio/relaxq/internal/xrand"
)

// Policy selects the timestamp scheme, per original_source's four TS-*
// headers.
type Policy int

const (
	// Atomic stamps every enqueue with a single shared fetch-and-add counter
	// (ts_atomic.h): cheapest, but every enqueue serializes on one counter.
	Atomic Policy = iota
	// Stutter gives each thread its own counter, bumped past the current max
	// of all threads' counters on every enqueue (ts_stutter.h): avoids a
	// shared atomic, at the cost of a read of every thread's counter.
	Stutter
	// CAS derives a timestamp interval from a shared counter sampled twice
	// around a fixed delay, CAS-advancing it when uncontended (ts_cas.h).
	CAS
	// Interval derives a timestamp interval directly from wall-clock reads
	// around a fixed delay (ts_interval.h); needs no shared counter at all.
	Interval
)

// timestamp is the interval [t1, t2]; Atomic and Stutter produce degenerate
// intervals with t1 == t2, so the same less-than definition — a ends
// strictly before b begins — works for all four policies uniformly.
type timestamp struct {
	t1, t2 uint64
}

func (a timestamp) lessThan(b timestamp) bool {
	return a.t2 < b.t1
}

var maxTimestamp = timestamp{t1: math.MaxUint64, t2: math.MaxUint64}

type node struct {
	next  atomic.Pointer[node]
	epoch uint64
	ts    timestamp
	v     int
}

func (n *node) SetRetireEpoch(e uint64) { n.epoch = e }
func (n *node) RetireEpoch() uint64     { return n.epoch }

// partialQueue is single-producer: only the owning thread ever appends, so
// tail is a plain field; head is read and CAS-advanced by any dequeuing
// thread and so must be atomic.
type partialQueue struct {
	head atomic.Pointer[node]
	tail *node
	_    cpu.CacheLinePad
}

func newPartialQueue() *partialQueue {
	sentinel := &node{}
	q := &partialQueue{tail: sentinel}
	q.head.Store(sentinel)
	return q
}

func (q *partialQueue) append(n *node) {
	q.tail.next.Store(n)
	q.tail = n
}

func (q *partialQueue) tryDeq(tid int, em *ebr.Manager[*node], rd *rdm.Manager[*node], first *node) (int, bool) {
	locHead := q.head.Load()
	if locHead.next.Load() != first {
		return 0, false
	}
	if rd.Enabled() {
		rd.LockDeq()
	}
	if !q.head.CompareAndSwap(locHead, first) {
		if rd.Enabled() {
			rd.UnlockDeq()
		}
		return 0, false
	}
	if rd.Enabled() {
		rd.RecordDeq(first)
		rd.UnlockDeq()
	}
	em.Retire(tid, locHead)
	return first.v, true
}

type threadCounter struct {
	v atomic.Uint64
	_ cpu.CacheLinePad
}

// TSPool is a bank of one partial queue per thread under the given Policy.
type TSPool struct {
	policy  Policy
	queues  []*partialQueue
	ebr     *ebr.Manager[*node]
	rdm     *rdm.Manager[*node]
	bw      *xrand.BusyWait
	delayUs float64

	atomicCounter  atomic.Uint64 // Atomic
	threadCounters []threadCounter // Stutter
	casCounter     atomic.Uint64 // CAS
	sw             xrand.Stopwatch // Interval
}

// New constructs a TSPool serving numThread threads under policy. delayUs is
// the busy-wait delay (microseconds) used by the CAS and Interval policies
// to widen the sampling window around their two counter/clock reads; it is
// ignored by Atomic and Stutter.
func New(numThread int, policy Policy, delayUs float64) *TSPool {
	t := &TSPool{
		policy:         policy,
		queues:         make([]*partialQueue, numThread),
		ebr:            ebr.New[*node](numThread),
		rdm:            rdm.New[*node](),
		bw:             xrand.NewBusyWait(),
		delayUs:        delayUs,
		threadCounters: make([]threadCounter, numThread),
	}
	t.atomicCounter.Store(1)
	t.casCounter.Store(1)
	for i := range t.threadCounters {
		t.threadCounters[i].v.Store(1)
	}
	for i := range t.queues {
		t.queues[i] = newPartialQueue()
	}
	t.sw.Start()
	return t
}

func (t *TSPool) CheckRelaxationDistance() {
	t.rdm.CheckRelaxationDistance()
}

func (t *TSPool) GetRelaxationDistance() (numDequeued, sumRD, maxRD int) {
	return t.rdm.RelaxationDistance()
}

// Stats reports EBR's node-reclaim count; retries always reads 0 (see
// dqrr.DQRR.Stats's doc comment for why).
func (t *TSPool) Stats() (retries, reclaimed uint64) {
	return 0, t.ebr.Reclaimed()
}

func (t *TSPool) newTimestamp(tid int) timestamp {
	switch t.policy {
	case Stutter:
		var maxCnt uint64
		for i := range t.threadCounters {
			if c := t.threadCounters[i].v.Load(); c > maxCnt {
				maxCnt = c
			}
		}
		ts := maxCnt + 1
		t.threadCounters[tid].v.Store(ts)
		return timestamp{t1: ts, t2: ts}
	case CAS:
		loc1 := t.casCounter.Load()
		t.bw.Wait(t.delayUs)
		loc2 := t.casCounter.Load()
		if loc1 != loc2 {
			return timestamp{t1: loc1, t2: loc2 - 1}
		}
		if t.casCounter.CompareAndSwap(loc1, loc1+1) {
			return timestamp{t1: loc1, t2: loc1}
		}
		return timestamp{t1: loc1, t2: t.casCounter.Load() - 1}
	case Interval:
		t1 := uint64(t.sw.Elapsed() * 1e6)
		t.bw.Wait(t.delayUs)
		t2 := uint64(t.sw.Elapsed() * 1e6)
		return timestamp{t1: t1, t2: t2}
	default: // Atomic
		ts := t.atomicCounter.Add(1) - 1
		return timestamp{t1: ts, t2: ts}
	}
}

// Enq appends v to tid's own partial queue, stamped per Policy.
func (t *TSPool) Enq(tid int, v int) {
	if tid < 0 || tid >= len(t.queues) {
		log.Panicf("tspool: tid %d out of range", tid)
	}
	ts := t.newTimestamp(tid)
	n := &node{v: v, ts: ts}

	var begin uint64
	if t.rdm.Enabled() {
		begin = t.rdm.LockEnq()
	}
	t.queues[tid].append(n)
	if t.rdm.Enabled() {
		t.rdm.RecordEnq(begin, n)
		t.rdm.UnlockEnq()
	}
}

// Deq scans every thread's queue for the head with the globally-minimum
// timestamp, removing and returning it; reports none available once a full
// sweep confirms every queue is still empty.
func (t *TSPool) Deq(tid int) (int, bool) {
	if tid < 0 || tid >= len(t.queues) {
		log.Panicf("tspool: tid %d out of range", tid)
	}
	t.ebr.StartOp(tid)
	id := tid
	for {
		minTS := maxTimestamp
		var youngest *node
		var trg *partialQueue
		oldHeads := make([]*node, len(t.queues))

		for i := 0; i < len(t.queues); i++ {
			head := t.queues[id].head.Load()
			first := head.next.Load()
			if first == nil {
				oldHeads[id] = head
			} else if first.ts.lessThan(minTS) {
				minTS = first.ts
				youngest = first
				trg = t.queues[id]
			}
			id = (id + 1) % len(t.queues)
		}

		if youngest == nil {
			done := true
			for i, oh := range oldHeads {
				if oh.next.Load() != nil {
					id = i
					done = false
					break
				}
			}
			if done {
				t.ebr.EndOp(tid)
				return 0, false
			}
		} else {
			if value, ok := trg.tryDeq(tid, t.ebr, t.rdm, youngest); ok {
				t.ebr.EndOp(tid)
				return value, true
			}
		}
	}
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tswd implements the TSWD (Time-Stamped Window-Decoupled) queue:
// one single-producer partial queue per thread, each node stamped
// relative to a shared "put window", and a dequeue that only considers
// candidates inside a separately-advancing "get window" of the same
// depth. Decoupling the two windows is what lets TSWD bound relaxation
// without the full-bank minimum-scan TS-* family needs on every dequeue.
package tswd

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/cpu"

	"github.com/grailbio/relaxq/internal/ebr"
	"github.com/grailbio/relaxq/internal/rdm"
)

// node mirrors original_source's tswd.h Node: next is read/written across
// threads (the consumer side CASes head forward across queues), so it's an
// atomic.Pointer even though only one thread ever owns the producer side of
// a given queue.
type node struct {
	next  atomic.Pointer[node]
	epoch uint64
	ts    uint64
	v     int
}

func (n *node) SetRetireEpoch(e uint64) { n.epoch = e }
func (n *node) RetireEpoch() uint64     { return n.epoch }

type window struct {
	ts atomic.Uint64
	_  cpu.CacheLinePad
}

func (w *window) cas(expected, desired uint64) bool {
	return w.ts.CompareAndSwap(expected, desired)
}

// partialQueue is single-producer (Enq is a plain append, no CAS needed on
// the producer side) but multi-consumer on the head (TryDeq CASes it), per
// original_source's tswd.h.
type partialQueue struct {
	tail *node // only ever touched by the owning thread
	head atomic.Pointer[node]
	_    cpu.CacheLinePad
}

func newPartialQueue() *partialQueue {
	sentinel := &node{}
	q := &partialQueue{tail: sentinel}
	q.head.Store(sentinel)
	return q
}

func (q *partialQueue) enq(n *node, putTS uint64) {
	ts := putTS
	if tailTS := q.tail.ts; tailTS > ts {
		ts = tailTS
	}
	n.ts = ts + 1
	q.tail.next.Store(n)
	q.tail = n
}

func (q *partialQueue) tailTimeStamp() uint64 {
	return q.tail.ts
}

// deqStatus is the three-way outcome of a bounded dequeue attempt, matching
// tswd.h's `std::pair<std::optional<int>, Node*>` return shape.
type deqStatus int

const (
	deqEmpty deqStatus = iota
	deqRetry
	deqValue
)

// tryDeq attempts one bounded dequeue: deqEmpty means the queue has nothing
// at all (witness is the head sentinel); deqRetry means the head's
// candidate exists but sits past getTS+depth, so the caller should widen
// its window before trying this queue again; deqValue means a node was
// removed.
func (q *partialQueue) tryDeq(tid int, em *ebr.Manager[*node], rd *rdm.Manager[*node], depth int, getTS uint64) (int, *node, deqStatus) {
	for {
		locHead := q.head.Load()
		first := locHead.next.Load()
		if first == nil {
			return 0, locHead, deqEmpty
		}
		if first.ts > getTS+uint64(depth) {
			return 0, nil, deqRetry
		}
		v := first.v
		if rd.Enabled() {
			rd.LockDeq()
		}
		if !q.head.CompareAndSwap(locHead, first) {
			if rd.Enabled() {
				rd.UnlockDeq()
			}
			continue
		}
		if rd.Enabled() {
			rd.RecordDeq(first)
			rd.UnlockDeq()
		}
		em.Retire(tid, locHead)
		return v, nil, deqValue
	}
}

// TSWD is one partial queue per thread plus a shared put/get window.
type TSWD struct {
	depth     int
	queues    []*partialQueue
	ebr       *ebr.Manager[*node]
	rdm       *rdm.Manager[*node]
	windowPut window
	windowGet window
}

// New constructs a TSWD serving numThread threads with the given window
// depth (the k-relaxation bound).
func New(numThread, depth int) *TSWD {
	t := &TSWD{
		depth:  depth,
		queues: make([]*partialQueue, numThread),
		ebr:    ebr.New[*node](numThread),
		rdm:    rdm.New[*node](),
	}
	for i := range t.queues {
		t.queues[i] = newPartialQueue()
	}
	return t
}

func (t *TSWD) CheckRelaxationDistance() {
	t.rdm.CheckRelaxationDistance()
}

func (t *TSWD) GetRelaxationDistance() (numDequeued, sumRD, maxRD int) {
	return t.rdm.RelaxationDistance()
}

// Stats reports EBR's node-reclaim count; retries always reads 0 (see
// dqrr.DQRR.Stats's doc comment for why).
func (t *TSWD) Stats() (retries, reclaimed uint64) {
	return 0, t.ebr.Reclaimed()
}

// Enq appends v to tid's own queue. The linearization point is the read of
// window_put below: unless a dequeue races in while the queue is empty,
// reading it here rather than later doesn't affect linearizability (see
// DESIGN.md's TSWD open-question decision).
func (t *TSWD) Enq(tid int, v int) {
	if tid < 0 || tid >= len(t.queues) {
		log.Panicf("tswd: tid %d out of range", tid)
	}
	n := &node{v: v}

	var begin uint64
	if t.rdm.Enabled() {
		begin = t.rdm.LockEnq()
	}
	putTS := t.windowPut.ts.Load()
	if t.rdm.Enabled() {
		t.rdm.RecordEnq(begin, n)
		t.rdm.UnlockEnq()
	}

	pq := t.queues[tid]
	if pq.tailTimeStamp() >= putTS+uint64(t.depth) {
		t.windowPut.cas(putTS, putTS+uint64(t.depth))
		putTS += uint64(t.depth)
	}
	pq.enq(n, putTS)
}

// Deq sweeps every thread's partial queue starting at tid's own, bounded by
// the current get window, advancing that window by depth whenever a full
// sweep finds every queue either empty or past the window.
func (t *TSWD) Deq(tid int) (int, bool) {
	if tid < 0 || tid >= len(t.queues) {
		log.Panicf("tswd: tid %d out of range", tid)
	}
	t.ebr.StartOp(tid)
	oldHeads := make([]*node, len(t.queues))
	id := tid

	for {
		cntEmpty := 0
		getTS := t.windowGet.ts.Load()
		for i := 0; i < len(t.queues); i++ {
			pq := t.queues[id]
			value, oldHead, status := pq.tryDeq(tid, t.ebr, t.rdm, t.depth, getTS)
			switch status {
			case deqEmpty:
				oldHeads[id] = oldHead
				cntEmpty++
			case deqValue:
				t.ebr.EndOp(tid)
				return value, true
			}
			id = (id + 1) % len(t.queues)
		}

		if cntEmpty == len(t.queues) {
			isEmpty := true
			for i := 1; i < len(t.queues); i++ {
				id = (i + tid) % len(t.queues)
				if oldHeads[id].next.Load() != nil {
					isEmpty = false
					break
				}
			}
			if isEmpty {
				t.ebr.EndOp(tid)
				return 0, false
			}
		} else {
			id = tid
		}

		t.windowGet.cas(getTS, getTS+uint64(t.depth))
	}
}

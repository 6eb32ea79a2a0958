// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package pqueue implements the Michael-Scott lock-free FIFO queue that
// DQ-RR and CBO keep a bank of: DQ-RR picks one by round robin, CBO by
// d-choice. (2Dd, TSWD and the TS-* family keep their own partial-queue
// types.) The CAS-append and CAS-advance-head loops below are shared; what
// differs per algorithm is how a node's Meta value is set at enqueue time
// and compared against a bound at dequeue time, so both are left to the
// caller rather than baked into this package.
package pqueue

import (
	"sync/atomic"

	"github.com/grailbio/relaxq/internal/ebr"
	"github.com/grailbio/relaxq/internal/rdm"
)

// Node is one queued element. Meta carries whatever per-algorithm ordering
// value that algorithm's Enq needs (CBO's stamp); algorithms that don't need
// one (DQ-RR) simply leave it zero.
type Node[V any] struct {
	next  atomic.Pointer[Node[V]]
	epoch uint64
	v     V
	meta  uint64
}

// NewNode allocates a node carrying value v and ordering metadata meta,
// ready to be published with Enq.
func NewNode[V any](v V, meta uint64) *Node[V] {
	return &Node[V]{v: v, meta: meta}
}

// SetRetireEpoch and RetireEpoch satisfy ebr.Reclaimable.
func (n *Node[V]) SetRetireEpoch(e uint64) { n.epoch = e }
func (n *Node[V]) RetireEpoch() uint64     { return n.epoch }

// Meta returns the ordering value this node was constructed with.
func (n *Node[V]) Meta() uint64 { return n.meta }

// Value returns the payload. Only meaningful once the node has been
// dequeued; an un-dequeued node's Value is whatever Enq published.
func (n *Node[V]) Value() V { return n.v }

// Status is the three-way outcome of a bounded dequeue attempt.
type Status int

const (
	// Empty means the partial queue had nothing to offer at all.
	Empty Status = iota
	// Retry means a value exists but falls outside the caller's bound; the
	// caller should try again, possibly after advancing its window, without
	// treating this queue as empty.
	Retry
	// Value means a value was dequeued and removed.
	Value
)

// Queue is one partial queue: a Michael-Scott list with a dummy head node.
type Queue[V any] struct {
	head atomic.Pointer[Node[V]]
	tail atomic.Pointer[Node[V]]
}

// New constructs an empty partial queue.
func New[V any]() *Queue[V] {
	sentinel := &Node[V]{}
	q := &Queue[V]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)
	return q
}

// casAppend is the shared tail-CAS loop: advance the stored tail past any
// node already linked by a racing Enq, then CAS-link n and help advance the
// tail pointer to it. Returns the tail pointer observed just before n was
// linked (used by DQ-RR/CBO's double-collect emptiness check and by
// algorithms whose Meta depends on the previous tail, e.g. CBO's stamp
// chain).
func (q *Queue[V]) casAppend(n *Node[V]) *Node[V] {
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next == nil {
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return tail
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

// Enq publishes n at the tail. When rd is non-nil, the publishing CAS runs
// inside rd's logged enqueue critical section (DESIGN.md's RDM
// serialization-boundary decision), with n itself as the log key. Returns
// the tail observed immediately before n, for callers (CBO) whose Meta
// chains off the previous tail's Meta.
func Enq[V any](q *Queue[V], n *Node[V], rd *rdm.Manager[*Node[V]]) *Node[V] {
	if rd == nil || !rd.Enabled() {
		return q.casAppend(n)
	}
	begin := rd.LockEnq()
	prevTail := q.casAppend(n)
	rd.RecordEnq(begin, n)
	rd.UnlockEnq()
	return prevTail
}

// casAppendChained is casAppend, but re-derives n's Meta from the
// currently-observed tail on every retry before attempting the CAS — used
// by CBO, whose node stamp is defined as "one past whatever the tail's stamp
// was", and so must be recomputed if a racing enqueuer wins the append
// first.
func (q *Queue[V]) casAppendChained(n *Node[V], metaFn func(prevTail *Node[V]) uint64) *Node[V] {
	for {
		tail := q.tail.Load()
		next := tail.next.Load()
		if tail != q.tail.Load() {
			continue
		}
		if next == nil {
			n.meta = metaFn(tail)
			if tail.next.CompareAndSwap(nil, n) {
				q.tail.CompareAndSwap(tail, n)
				return tail
			}
		} else {
			q.tail.CompareAndSwap(tail, next)
		}
	}
}

// EnqChained is Enq, but derives n's Meta from the tail observed at CAS time
// via metaFn rather than from a value fixed before the call. See
// casAppendChained.
func EnqChained[V any](q *Queue[V], n *Node[V], rd *rdm.Manager[*Node[V]], metaFn func(prevTail *Node[V]) uint64) *Node[V] {
	if rd == nil || !rd.Enabled() {
		return q.casAppendChained(n, metaFn)
	}
	begin := rd.LockEnq()
	prevTail := q.casAppendChained(n, metaFn)
	rd.RecordEnq(begin, n)
	rd.UnlockEnq()
	return prevTail
}

// Tail returns the current tail pointer, used by DQ-RR/CBO's double-collect
// protocol to detect whether a queue changed between two sweeps.
func (q *Queue[V]) Tail() *Node[V] { return q.tail.Load() }

// Head returns the current head (sentinel) pointer.
func (q *Queue[V]) Head() *Node[V] { return q.head.Load() }

// TryDeq attempts one unbounded dequeue, used by DQ-RR and CBO: it retries
// internally until either the queue is observed empty or a value is
// removed, never asking the caller to retry. The returned witness, when
// status is Empty, is the tail pointer at the moment of the empty
// observation (DQ-RR's double-collect compares this against a later Tail()
// call to decide whether the queue has since gained an element).
func TryDeq[V any](q *Queue[V], tid int, em *ebr.Manager[*Node[V]], rd *rdm.Manager[*Node[V]]) (value V, witness *Node[V], status Status) {
	for {
		locHead := q.head.Load()
		locTail := q.tail.Load()
		first := locHead.next.Load()
		if locHead != q.head.Load() {
			continue
		}
		if first == nil {
			return value, locTail, Empty
		}
		if locHead == locTail {
			q.tail.CompareAndSwap(locTail, first)
			continue
		}
		v := first.v
		if rd != nil && rd.Enabled() {
			rd.LockDeq()
			if !q.head.CompareAndSwap(locHead, first) {
				rd.UnlockDeq()
				continue
			}
			rd.RecordDeq(first)
			rd.UnlockDeq()
		} else if !q.head.CompareAndSwap(locHead, first) {
			continue
		}
		if em != nil {
			em.Retire(tid, locHead)
		}
		return v, nil, Value
	}
}

// TryDeqBounded attempts one dequeue whose candidate value must satisfy
// first.Meta() <= bound. Unlike TryDeq it reports Retry (rather than
// looping internally) when the head's value exists but falls outside bound;
// a lost CAS race is still retried internally against the new head. On
// Empty, witness is the head sentinel observed, matching the
// original's (nullopt, loc_head) "pq is empty" pair used by the window
// advance/double-collect logic in TSWD::Deq.
func TryDeqBounded[V any](q *Queue[V], tid int, em *ebr.Manager[*Node[V]], rd *rdm.Manager[*Node[V]], bound uint64) (value V, witness *Node[V], status Status) {
	for {
		locHead := q.head.Load()
		first := locHead.next.Load()
		if first == nil {
			return value, locHead, Empty
		}
		if first.meta > bound {
			return value, nil, Retry
		}
		v := first.v
		if rd != nil && rd.Enabled() {
			rd.LockDeq()
			if !q.head.CompareAndSwap(locHead, first) {
				rd.UnlockDeq()
				continue
			}
			rd.RecordDeq(first)
			rd.UnlockDeq()
		} else if !q.head.CompareAndSwap(locHead, first) {
			continue
		}
		if em != nil {
			em.Retire(tid, locHead)
		}
		return v, nil, Value
	}
}

// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package ebr implements epoch-based reclamation for the lock-free partial
// queues in this module: a reclaimer only frees a retired node once no
// thread's in-flight operation could still hold a stale pointer to it.
//
// The per-thread reservation array below follows the same shape as
// encoding/bam.FreePool's poolLocal in the teacher this module was built
// from: one cache-line-padded slot per thread, written only by its owner,
// read by the reclaimer under no lock at all (reservations are monotonic
// per-operation, so a torn read only ever under- or over-estimates safety in
// the reclaimer's favor, never the retiring thread's).
package ebr

import (
	"sync/atomic"

	"github.com/grailbio/base/log"
	"golang.org/x/sys/cpu"
)

// Reclaimable is anything EBR can defer-free; algorithms' sentinel node types
// implement it by embedding retireEpoch bookkeeping.
type Reclaimable interface {
	// SetRetireEpoch stamps the epoch at which this node became unreachable.
	SetRetireEpoch(epoch uint64)
	// RetireEpoch returns the previously stamped epoch.
	RetireEpoch() uint64
}

const notInOp = ^uint64(0)

type reservation struct {
	epoch atomic.Uint64
	_     cpu.CacheLinePad
}

// Manager is an epoch-based reclaimer for up to numThread concurrent
// reader/writer threads. The zero value is not usable; construct with New.
type Manager[T Reclaimable] struct {
	numThread    int
	globalEpoch  atomic.Uint64
	reservations []reservation
	retired      []retiredQueue[T]
	capacity     int
	reclaimed    atomic.Uint64
}

// retiredQueue is a single thread's FIFO of retired-but-not-yet-freed nodes.
// Only the owning thread ever pushes or pops it, so no lock is needed.
type retiredQueue[T Reclaimable] struct {
	items []T
	head  int
	_     cpu.CacheLinePad
}

func (q *retiredQueue[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *retiredQueue[T]) len() int {
	return len(q.items) - q.head
}

func (q *retiredQueue[T]) front() (T, bool) {
	if q.head >= len(q.items) {
		var zero T
		return zero, false
	}
	return q.items[q.head], true
}

func (q *retiredQueue[T]) pop() {
	q.head++
	// Compact occasionally so the backing array doesn't grow unboundedly
	// across a long benchmark run.
	if q.head > 1024 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
}

// New constructs a Manager for numThread threads. The reclaim threshold is
// 60*numThread pending retirements per thread, matching the original's
// EBR::GetCapacity.
func New[T Reclaimable](numThread int) *Manager[T] {
	m := &Manager[T]{
		numThread:    numThread,
		reservations: make([]reservation, numThread),
		retired:      make([]retiredQueue[T], numThread),
		capacity:     numThread * 60,
	}
	for i := range m.reservations {
		m.reservations[i].epoch.Store(notInOp)
	}
	return m
}

// StartOp records that thread tid's current operation began at the current
// global epoch. Must be paired with EndOp.
func (m *Manager[T]) StartOp(tid int) {
	// The epoch bump itself only needs to be relaxed (it's a counter, not a
	// synchronization point); Go's atomic.Uint64 has no relaxed mode, so this
	// uses the same sequentially-consistent Add as everywhere else, which is
	// a valid (merely stronger-than-required) implementation of the spec.
	e := m.globalEpoch.Add(1)
	m.reservations[tid].epoch.Store(e)
}

// EndOp clears thread tid's reservation, signaling no outstanding operation.
func (m *Manager[T]) EndOp(tid int) {
	m.reservations[tid].epoch.Store(notInOp)
}

// Retire hands ptr to thread tid's retired queue, tagged with the current
// global epoch. Once the queue grows past 60*numThread entries, a reclaim
// pass runs inline.
func (m *Manager[T]) Retire(tid int, ptr T) {
	ptr.SetRetireEpoch(m.globalEpoch.Load())
	m.retired[tid].push(ptr)
	if m.retired[tid].len() > m.capacity {
		m.reclaim(tid)
	}
}

func (m *Manager[T]) minReservation() uint64 {
	min := notInOp
	for i := range m.reservations {
		e := m.reservations[i].epoch.Load()
		if e == notInOp {
			continue
		}
		if e < min {
			min = e
		}
	}
	// min stays notInOp (the maximum uint64) when every thread is idle,
	// which permits reclaiming everything retired so far.
	return min
}

func (m *Manager[T]) reclaim(tid int) {
	safe := m.minReservation()
	q := &m.retired[tid]
	n := 0
	for {
		front, ok := q.front()
		if !ok || front.RetireEpoch() >= safe {
			break
		}
		q.pop()
		n++
	}
	if n > 0 {
		m.reclaimed.Add(uint64(n))
		log.Debug.Printf("ebr: thread %d reclaimed %d nodes (safe epoch %d)", tid, n, safe)
	}
}

// Reclaimed returns the total number of nodes freed so far across every
// thread's reclaim pass, exposed for bench.Result's optional instrumentation
// fields (original_source's benchmark_result.h num_reclaimed).
func (m *Manager[T]) Reclaimed() uint64 {
	return m.reclaimed.Load()
}

// Drain frees every node still held in every thread's retired queue,
// unconditionally. Call once at subject teardown, matching the original
// EBR destructor.
func (m *Manager[T]) Drain() {
	for i := range m.retired {
		m.retired[i].items = nil
		m.retired[i].head = 0
	}
}

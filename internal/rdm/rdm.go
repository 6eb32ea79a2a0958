// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package rdm implements the relaxation-distance manager: an optional,
// disabled-by-default instrumentation layer that every algorithm in this
// module threads its enqueue/dequeue critical sections through. When
// disabled it costs a single bool check per call; when enabled it logs
// enough ordering information to compute, after the fact, how many
// enqueues completed strictly before the one a given dequeue returned.
package rdm

import "sync"

// enqLogEntry mirrors the original's RelaxationDistanceLog: the [begin, end)
// order-counter interval during which key's enqueue was in flight.
type enqLogEntry[K comparable] struct {
	begin, end uint64
	key        K
}

// Manager tracks relaxation distance for one subject under test. The zero
// value is usable directly (tracking starts disabled, matching
// spec.md's "enabled by default: no").
type Manager[K comparable] struct {
	enabled bool
	order   uint64 // guarded by whichever of muEnq/muDeq the caller already holds

	muEnq  sync.Mutex
	enqLog []enqLogEntry[K]

	muDeq  sync.Mutex
	deqLog []K
}

// New constructs a disabled Manager; call CheckRelaxationDistance to enable it.
func New[K comparable]() *Manager[K] {
	return &Manager[K]{}
}

// CheckRelaxationDistance turns on tracking. There is no corresponding
// disable: a subject is measured for relaxation distance for its whole
// lifetime or not at all, matching the original's one-way flag.
func (m *Manager[K]) CheckRelaxationDistance() {
	m.enabled = true
}

// Enabled reports whether relaxation-distance tracking is on.
func (m *Manager[K]) Enabled() bool {
	return m.enabled
}

// LockEnq opens an enqueue's logged critical section, returning the begin
// order-counter value to later pass to RecordEnq. The mutex is held from
// this call until the matching UnlockEnq so the CAS that actually publishes
// the node runs inside the same critical section the log entry describes
// (see DESIGN.md's RDM serialization boundary decision). When tracking is
// disabled this is a no-op: no lock is taken and 0 is returned.
func (m *Manager[K]) LockEnq() uint64 {
	if !m.enabled {
		return 0
	}
	m.muEnq.Lock()
	m.order++
	return m.order - 1
}

// RecordEnq logs that key's enqueue, opened at begin, is now visible to
// dequeuers. Must be called between a LockEnq/UnlockEnq pair.
func (m *Manager[K]) RecordEnq(begin uint64, key K) {
	if !m.enabled {
		return
	}
	m.order++
	m.enqLog = append(m.enqLog, enqLogEntry[K]{begin: begin, end: m.order, key: key})
}

// UnlockEnq closes the critical section opened by LockEnq.
func (m *Manager[K]) UnlockEnq() {
	if !m.enabled {
		return
	}
	m.muEnq.Unlock()
}

// LockDeq opens a dequeue's logged critical section. Like LockEnq, the CAS
// that actually removes the node from its partial queue runs while this
// lock is held.
func (m *Manager[K]) LockDeq() {
	if !m.enabled {
		return
	}
	m.muDeq.Lock()
}

// RecordDeq logs that key was the value returned by a dequeue. Must be
// called between a LockDeq/UnlockDeq pair.
func (m *Manager[K]) RecordDeq(key K) {
	if !m.enabled {
		return
	}
	m.deqLog = append(m.deqLog, key)
}

// UnlockDeq closes the critical section opened by LockDeq.
func (m *Manager[K]) UnlockDeq() {
	if !m.enabled {
		return
	}
	m.muDeq.Unlock()
}

// RelaxationDistance drains the dequeue log against the enqueue log via
// destructive pairing: for each dequeued key, in dequeue order, it finds
// that key's matching enqueue log entry and counts how many other still-
// unmatched enqueues had already finished (entry.end < match.begin) before
// that enqueue started — the number of elements this dequeue "skipped over"
// relative to arrival order. Matched entries are removed so no enqueue is
// counted against more than one dequeue.
func (m *Manager[K]) RelaxationDistance() (numDequeued, sumRD, maxRD int) {
	if !m.enabled {
		return 0, 0, 0
	}
	m.muEnq.Lock()
	defer m.muEnq.Unlock()
	m.muDeq.Lock()
	defer m.muDeq.Unlock()

	for _, key := range m.deqLog {
		var prior []enqLogEntry[K]
		matchIdx := -1
		for i, e := range m.enqLog {
			if e.key == key {
				matchIdx = i
				break
			}
			prior = append(prior, e)
		}
		if matchIdx < 0 {
			continue
		}
		matched := m.enqLog[matchIdx]
		skip := 0
		for _, e := range prior {
			if e.end < matched.begin {
				skip++
			}
		}
		m.enqLog = append(m.enqLog[:matchIdx], m.enqLog[matchIdx+1:]...)
		sumRD += skip
		if skip > maxRD {
			maxRD = skip
		}
	}
	numDequeued = len(m.deqLog)
	m.deqLog = m.deqLog[:0]
	return numDequeued, sumRD, maxRD
}

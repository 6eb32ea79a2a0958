// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package tid assigns and validates the small dense worker ids used to index
// every per-thread data structure in this module (EBR reservations, retired
// queues, partial-queue banks, RNG state).
//
// A real thread-local would let each algorithm recover its caller's id
// implicitly, the way the original C++ implementation does via
// thread_local. Go has no portable equivalent, so callers carry their id
// explicitly through the queue.Queue contract; Space exists only to give the
// same "set once, fatal on misuse" guarantee spec.md requires of thread
// identity (see DESIGN.md's tid addendum).
package tid

import "github.com/grailbio/base/log"

// Space tracks which of a fixed range [0, n) of ids have been claimed by a
// worker.
type Space struct {
	claimed []bool
}

// NewSpace allocates a Space for ids in [0, n).
func NewSpace(n int) *Space {
	return &Space{claimed: make([]bool, n)}
}

// Set claims id for the calling worker. It must be called exactly once per
// id, before that id is used anywhere else; a second call is a programmer
// error and is fatal.
func (s *Space) Set(id int) {
	if s.claimed[id] {
		log.Panicf("tid: id %d has already been assigned", id)
	}
	s.claimed[id] = true
}

// Get validates that id was previously claimed via Set and returns it
// unchanged, so call sites can write `tid = ts.Get(tid)` at entry points that
// must not tolerate an unregistered id. Using an id that was never Set is a
// programmer error and is fatal.
func (s *Space) Get(id int) int {
	if !s.claimed[id] {
		log.Panicf("tid: id %d was never registered; call Set first", id)
	}
	return id
}
